package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetPerson(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enc := []float32{0.1, -0.25, 0.5}
	meta := json.RawMessage(`{"role":"Employee"}`)
	p, err := s.CreatePerson(ctx, "alice", enc, meta)
	require.NoError(t, err)
	assert.Positive(t, p.ID)
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, enc, p.Encoding, "encoding must round-trip exactly")
	assert.False(t, p.RegisteredAt.IsZero())
	assert.Nil(t, p.LastSeen)
	assert.Zero(t, p.TotalDetections)
	assert.JSONEq(t, `{"role":"Employee"}`, string(p.Metadata))

	got, err := s.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestCreatePersonDefaultsMetadata(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreatePerson(context.Background(), "bob", []float32{1}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(p.Metadata))
}

func TestCreatePersonRejectsDuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreatePerson(ctx, "alice", []float32{1, 2}, nil)
	require.NoError(t, err)
	_, err = s.CreatePerson(ctx, "alice", []float32{3, 4}, nil)
	require.ErrorIs(t, err, ErrNameTaken)
}

func TestCreatePersonRejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreatePerson(ctx, "  ", []float32{1}, nil)
	assert.Error(t, err)
	_, err = s.CreatePerson(ctx, "carol", nil, nil)
	assert.Error(t, err)
}

func TestGetPersonNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetPerson(context.Background(), 12345)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListPersonsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreatePerson(ctx, "aaron", []float32{1}, nil)
	require.NoError(t, err)
	b, err := s.CreatePerson(ctx, "zoe", []float32{2}, nil)
	require.NoError(t, err)
	_, err = s.CreatePerson(ctx, "mallory", []float32{3}, nil)
	require.NoError(t, err)

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	_, err = s.LogDetection(ctx, a.ID, base, 0.9)
	require.NoError(t, err)
	_, err = s.LogDetection(ctx, b.ID, base.Add(time.Hour), 0.9)
	require.NoError(t, err)

	persons, err := s.ListPersons(ctx)
	require.NoError(t, err)
	require.Len(t, persons, 3)
	// Most recently seen first, never-seen last.
	assert.Equal(t, "zoe", persons[0].Name)
	assert.Equal(t, "aaron", persons[1].Name)
	assert.Equal(t, "mallory", persons[2].Name)
}

func TestSearchPersons(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "charlie"} {
		_, err := s.CreatePerson(ctx, name, []float32{1, 2}, nil)
		require.NoError(t, err)
	}

	got, err := s.SearchPersons(ctx, "li")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Name)
	assert.Equal(t, "charlie", got[1].Name)

	got, err = s.SearchPersons(ctx, "AL")
	require.NoError(t, err)
	require.Len(t, got, 1, "name search is case-insensitive")
	assert.Equal(t, "alice", got[0].Name)

	got, err = s.SearchPersons(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpdatePersonPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePerson(ctx, "alice", []float32{0.5, 0.5}, json.RawMessage(`{"role":"Visitor"}`))
	require.NoError(t, err)

	newName := "alice cooper"
	got, err := s.UpdatePerson(ctx, p.ID, &newName, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice cooper", got.Name)
	assert.JSONEq(t, `{"role":"Visitor"}`, string(got.Metadata), "metadata untouched")
	assert.Equal(t, p.Encoding, got.Encoding, "encoding untouched")

	got, err = s.UpdatePerson(ctx, p.ID, nil, json.RawMessage(`{"role":"Employee"}`))
	require.NoError(t, err)
	assert.Equal(t, "alice cooper", got.Name, "name untouched")
	assert.JSONEq(t, `{"role":"Employee"}`, string(got.Metadata))

	got, err = s.UpdatePerson(ctx, p.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice cooper", got.Name)
}

func TestUpdatePersonErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreatePerson(ctx, "alice", []float32{1}, nil)
	require.NoError(t, err)
	p, err := s.CreatePerson(ctx, "bob", []float32{2}, nil)
	require.NoError(t, err)

	name := "alice"
	_, err = s.UpdatePerson(ctx, p.ID, &name, nil)
	require.ErrorIs(t, err, ErrNameTaken)

	name = "ghost"
	_, err = s.UpdatePerson(ctx, 999, &name, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceEncoding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePerson(ctx, "alice", []float32{1, 2}, nil)
	require.NoError(t, err)

	require.NoError(t, s.ReplaceEncoding(ctx, p.ID, []float32{9, 8}))
	got, err := s.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 8}, got.Encoding)

	require.ErrorIs(t, s.ReplaceEncoding(ctx, 999, []float32{1}), ErrNotFound)
}

func TestDeletePersonCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePerson(ctx, "alice", []float32{1, 2}, nil)
	require.NoError(t, err)
	other, err := s.CreatePerson(ctx, "bob", []float32{3, 4}, nil)
	require.NoError(t, err)

	now := time.Now()
	for i := range 3 {
		_, err = s.LogDetection(ctx, p.ID, now.Add(time.Duration(i)*time.Minute), 0.8)
		require.NoError(t, err)
	}
	_, err = s.LogDetection(ctx, other.ID, now, 0.7)
	require.NoError(t, err)

	require.NoError(t, s.DeletePerson(ctx, p.ID))

	_, err = s.GetPerson(ctx, p.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, total, err := s.ListDetections(ctx, DetectionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "only the other person's detection survives")

	require.ErrorIs(t, s.DeletePerson(ctx, p.ID), ErrNotFound)
}

func TestDeletedIDNeverReused(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1, err := s.CreatePerson(ctx, "first", []float32{1}, nil)
	require.NoError(t, err)
	require.NoError(t, s.DeletePerson(ctx, p1.ID))

	p2, err := s.CreatePerson(ctx, "second", []float32{2}, nil)
	require.NoError(t, err)
	assert.Greater(t, p2.ID, p1.ID)
}

func TestLogDetectionBumpsCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePerson(ctx, "alice", []float32{1, 2}, nil)
	require.NoError(t, err)

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		d, err := s.LogDetection(ctx, p.ID, base.Add(time.Duration(i)*time.Minute), 0.9)
		require.NoError(t, err)
		assert.Equal(t, p.ID, d.PersonID)
	}

	got, err := s.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.TotalDetections)
	require.NotNil(t, got.LastSeen)
	assert.Equal(t, base.Add(4*time.Minute), got.LastSeen.UTC())
}

func TestLogDetectionOutOfOrderKeepsNewestLastSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePerson(ctx, "alice", []float32{1}, nil)
	require.NoError(t, err)

	newer := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	_, err = s.LogDetection(ctx, p.ID, newer, 0.9)
	require.NoError(t, err)
	_, err = s.LogDetection(ctx, p.ID, older, 0.9)
	require.NoError(t, err)

	got, err := s.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalDetections)
	assert.Equal(t, newer, got.LastSeen.UTC(), "last_seen never moves backwards")
}

func TestLogDetectionUnknownPerson(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LogDetection(context.Background(), 404, time.Now(), 0.5)
	require.ErrorIs(t, err, ErrNotFound)

	_, total, err := s.ListDetections(context.Background(), DetectionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "rejected detection leaves no row behind")
}

func TestLogDetectionConfidenceRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, err := s.CreatePerson(ctx, "alice", []float32{1}, nil)
	require.NoError(t, err)

	_, err = s.LogDetection(ctx, p.ID, time.Now(), 1.5)
	assert.Error(t, err)
	_, err = s.LogDetection(ctx, p.ID, time.Now(), -0.1)
	assert.Error(t, err)
}

func TestListDetectionsFiltersAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreatePerson(ctx, "alice", []float32{1}, nil)
	require.NoError(t, err)
	b, err := s.CreatePerson(ctx, "bob", []float32{2}, nil)
	require.NoError(t, err)

	base := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)
	for i := range 6 {
		_, err = s.LogDetection(ctx, a.ID, base.Add(time.Duration(i)*time.Hour), 0.9)
		require.NoError(t, err)
	}
	_, err = s.LogDetection(ctx, b.ID, base.Add(30*time.Minute), 0.8)
	require.NoError(t, err)

	// Newest first.
	all, total, err := s.ListDetections(ctx, DetectionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, all, 7)
	assert.Equal(t, base.Add(5*time.Hour), all[0].DetectedAt.UTC())

	// Person filter.
	got, total, err := s.ListDetections(ctx, DetectionFilter{PersonID: &b.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].PersonID)

	// Time window.
	from := base.Add(2 * time.Hour)
	to := base.Add(4 * time.Hour)
	got, total, err = s.ListDetections(ctx, DetectionFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	// Paging.
	got, total, err = s.ListDetections(ctx, DetectionFilter{Limit: 3, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(2*time.Hour), got[0].DetectedAt.UTC())
}

func TestListEncodingsOrderedByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zoe", "alice", "bob"} {
		_, err := s.CreatePerson(ctx, name, []float32{1, 2}, nil)
		require.NoError(t, err)
	}

	encs, err := s.ListEncodings(ctx)
	require.NoError(t, err)
	require.Len(t, encs, 3)
	assert.Equal(t, "zoe", encs[0].Name)
	assert.Equal(t, "alice", encs[1].Name)
	assert.Equal(t, "bob", encs[2].Name)
	for i := 1; i < len(encs); i++ {
		assert.Less(t, encs[i-1].ID, encs[i].ID)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreatePerson(ctx, "alice", []float32{1}, nil)
	require.NoError(t, err)
	b, err := s.CreatePerson(ctx, "bob", []float32{2}, nil)
	require.NoError(t, err)

	day1 := time.Date(2026, 8, 18, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	for i := range 4 {
		_, err = s.LogDetection(ctx, a.ID, day1.Add(time.Duration(i)*time.Minute), 0.9)
		require.NoError(t, err)
	}
	_, err = s.LogDetection(ctx, b.ID, day2, 0.7)
	require.NoError(t, err)

	overview, err := s.OverviewStats(ctx, day1.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), overview.TotalDetections)
	assert.Equal(t, int64(2), overview.UniquePersons)

	// Window that only covers day2.
	overview, err = s.OverviewStats(ctx, day2.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), overview.TotalDetections)
	assert.Equal(t, int64(1), overview.UniquePersons)

	top, err := s.TopPersons(ctx, day1.Add(-time.Hour), 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "alice", top[0].Name)
	assert.Equal(t, int64(4), top[0].Count)
	assert.Equal(t, "bob", top[1].Name)

	top, err = s.TopPersons(ctx, day1.Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	daily, err := s.DailyCounts(ctx, day1.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, "2026-08-18", daily[0].Day)
	assert.Equal(t, int64(4), daily[0].Count)
	assert.Equal(t, "2026-08-19", daily[1].Day)
	assert.Equal(t, int64(1), daily[1].Count)

	sys, err := s.SystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sys.TotalPersons)
	assert.Equal(t, int64(5), sys.TotalDetections)
	assert.Equal(t, "bob", sys.LastPersonName)
	require.NotNil(t, sys.LastDetectedAt)
	assert.Equal(t, day2, sys.LastDetectedAt.UTC())
}

func TestSystemStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	sys, err := s.SystemStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sys.TotalPersons)
	assert.Zero(t, sys.TotalDetections)
	assert.Empty(t, sys.LastPersonName)
	assert.Nil(t, sys.LastDetectedAt)
}
