//go:build integration

package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/facewatch/internal/config"
)

func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "facewatch_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
		return nil
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	store, err := NewPostgresStore(config.PostgresConfig{
		Host:     host,
		Port:     port.Int(),
		Name:     "facewatch_test",
		User:     "test",
		Password: "test",
		MaxConns: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresPersonLifecycle(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	enc := []float32{0.1, -0.25, 0.5, 0.75}
	p, err := s.CreatePerson(ctx, "alice", enc, json.RawMessage(`{"role":"Employee"}`))
	require.NoError(t, err)
	assert.Equal(t, enc, p.Encoding, "pgvector column must round-trip the encoding")
	assert.Zero(t, p.TotalDetections)

	_, err = s.CreatePerson(ctx, "alice", enc, nil)
	require.ErrorIs(t, err, ErrNameTaken)

	at := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	_, err = s.LogDetection(ctx, p.ID, at, 0.9)
	require.NoError(t, err)
	_, err = s.LogDetection(ctx, p.ID, at.Add(-time.Hour), 0.8)
	require.NoError(t, err)

	got, err := s.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalDetections)
	require.NotNil(t, got.LastSeen)
	assert.True(t, got.LastSeen.Equal(at), "last_seen never moves backwards")

	encs, err := s.ListEncodings(ctx)
	require.NoError(t, err)
	require.Len(t, encs, 1)
	assert.Equal(t, enc, encs[0].Encoding)

	_, err = s.LogDetection(ctx, 9999, at, 0.5)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeletePerson(ctx, p.ID))
	_, total, err := s.ListDetections(ctx, DetectionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "detections are removed with their person")
}

func TestPostgresStats(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	a, err := s.CreatePerson(ctx, "alice", []float32{1, 2}, nil)
	require.NoError(t, err)
	b, err := s.CreatePerson(ctx, "bob", []float32{3, 4}, nil)
	require.NoError(t, err)

	day := time.Date(2026, 8, 18, 9, 0, 0, 0, time.UTC)
	for i := range 3 {
		_, err = s.LogDetection(ctx, a.ID, day.Add(time.Duration(i)*time.Minute), 0.9)
		require.NoError(t, err)
	}
	_, err = s.LogDetection(ctx, b.ID, day.Add(24*time.Hour), 0.7)
	require.NoError(t, err)

	overview, err := s.OverviewStats(ctx, day.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), overview.TotalDetections)
	assert.Equal(t, int64(2), overview.UniquePersons)

	top, err := s.TopPersons(ctx, day.Add(-time.Hour), 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "alice", top[0].Name)

	daily, err := s.DailyCounts(ctx, day.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, "2026-08-18", daily[0].Day)
	assert.Equal(t, int64(3), daily[0].Count)
}
