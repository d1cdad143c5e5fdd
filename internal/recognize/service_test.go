package recognize

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facewatch/internal/config"
	"github.com/your-org/facewatch/internal/match"
	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/registry"
	"github.com/your-org/facewatch/internal/storage"
	"github.com/your-org/facewatch/internal/vision"
)

// fakeProvider returns canned observations, ordered largest face
// first as the Provider contract promises.
type fakeProvider struct {
	obs []vision.Observation
	err error
}

func (f *fakeProvider) Encode(data []byte) ([]vision.Observation, error) {
	return f.obs, f.err
}

func (f *fakeProvider) Close() {}

type captureReporter struct {
	reports []models.DetectionReport
}

func (c *captureReporter) Report(ctx context.Context, rep models.DetectionReport) error {
	c.reports = append(c.reports, rep)
	return nil
}

func obsWith(enc []float32, area float32) vision.Observation {
	return vision.Observation{
		BBox:     [4]float32{0, 0, area, area},
		Score:    0.9,
		Encoding: enc,
	}
}

func newTestService(t *testing.T, p vision.Provider, rep Reporter) (*Service, *storage.SQLiteStore) {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(store, match.New(0), config.IndexLinear)
	require.NoError(t, reg.Refresh(context.Background()))

	return New(store, reg, p, nil, rep), store
}

func TestRegisterThenRecognize(t *testing.T) {
	ctx := context.Background()
	enc := []float32{0.1, 0.2, 0.3}
	provider := &fakeProvider{obs: []vision.Observation{obsWith(enc, 100)}}
	reporter := &captureReporter{}
	svc, store := newTestService(t, provider, reporter)

	person, err := svc.Register(ctx, "alice", []byte("photo"), nil)
	require.NoError(t, err)
	require.NotNil(t, person)

	reports, err := svc.Recognize(ctx, Request{ImageData: []byte("photo")})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	rep := reports[0]
	require.NotNil(t, rep.MatchedPersonID)
	assert.Equal(t, person.ID, *rep.MatchedPersonID)
	assert.Equal(t, "alice", rep.MatchedName)
	assert.Equal(t, float32(0), rep.Distance)
	assert.Equal(t, float32(1), rep.Confidence)

	got, err := store.GetPerson(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalDetections)
	require.NotNil(t, got.LastSeen)

	require.Len(t, reporter.reports, 1)
	assert.Equal(t, rep.JobID, reporter.reports[0].JobID)
}

func TestRegisterNoFace(t *testing.T) {
	svc, _ := newTestService(t, &fakeProvider{}, nil)

	_, err := svc.Register(context.Background(), "ghost", []byte("photo"), nil)
	assert.ErrorIs(t, err, ErrNoFace)
}

func TestRegisterEnrollsLargestFace(t *testing.T) {
	ctx := context.Background()
	large := []float32{1, 0, 0}
	small := []float32{0, 1, 0}
	provider := &fakeProvider{obs: []vision.Observation{
		obsWith(large, 200),
		obsWith(small, 50),
	}}
	svc, store := newTestService(t, provider, nil)

	person, err := svc.Register(ctx, "alice", []byte("group photo"), nil)
	require.NoError(t, err)

	got, err := store.GetPerson(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, large, got.Encoding)
}

func TestRecognizeUnknownFace(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{obs: []vision.Observation{obsWith([]float32{5, 5, 5}, 100)}}
	svc, store := newTestService(t, provider, nil)

	reports, err := svc.Recognize(ctx, Request{ImageData: []byte("photo")})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Nil(t, reports[0].MatchedPersonID)
	assert.Empty(t, reports[0].MatchedName)

	_, total, err := store.ListDetections(ctx, storage.DetectionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRecognizeFillsRequestDefaults(t *testing.T) {
	provider := &fakeProvider{obs: []vision.Observation{obsWith([]float32{5, 5, 5}, 100)}}
	svc, _ := newTestService(t, provider, nil)

	reports, err := svc.Recognize(context.Background(), Request{ImageData: []byte("photo")})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	assert.NotEqual(t, uuid.Nil, reports[0].JobID)
	assert.Equal(t, "api", reports[0].Source)
	assert.WithinDuration(t, time.Now().UTC(), reports[0].CapturedAt, time.Minute)
}

func TestRecognizeMatchesEachFace(t *testing.T) {
	ctx := context.Background()
	encA := []float32{1, 0, 0}
	encB := []float32{0, 1, 0}
	provider := &fakeProvider{obs: []vision.Observation{obsWith(encA, 100)}}
	svc, store := newTestService(t, provider, nil)

	alice, err := svc.Register(ctx, "alice", []byte("a"), nil)
	require.NoError(t, err)

	provider.obs = []vision.Observation{obsWith(encB, 100)}
	bob, err := svc.Register(ctx, "bob", []byte("b"), nil)
	require.NoError(t, err)

	provider.obs = []vision.Observation{obsWith(encA, 120), obsWith(encB, 90)}
	reports, err := svc.Recognize(ctx, Request{ImageData: []byte("both")})
	require.NoError(t, err)
	require.Len(t, reports, 2)

	require.NotNil(t, reports[0].MatchedPersonID)
	require.NotNil(t, reports[1].MatchedPersonID)
	assert.Equal(t, alice.ID, *reports[0].MatchedPersonID)
	assert.Equal(t, bob.ID, *reports[1].MatchedPersonID)

	for _, id := range []int64{alice.ID, bob.ID} {
		p, err := store.GetPerson(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.TotalDetections)
	}
}

func TestRecognizeHandlesStaleRegistry(t *testing.T) {
	ctx := context.Background()
	enc := []float32{0.4, 0.5, 0.6}
	provider := &fakeProvider{obs: []vision.Observation{obsWith(enc, 100)}}
	svc, store := newTestService(t, provider, nil)

	person, err := svc.Register(ctx, "alice", []byte("photo"), nil)
	require.NoError(t, err)

	// Delete behind the registry's back; the cached candidate is stale.
	require.NoError(t, store.DeletePerson(ctx, person.ID))

	reports, err := svc.Recognize(ctx, Request{ImageData: []byte("photo")})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Nil(t, reports[0].MatchedPersonID)

	_, total, err := store.ListDetections(ctx, storage.DetectionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestReplaceEncodingReEnrolls(t *testing.T) {
	ctx := context.Background()
	oldEnc := []float32{1, 0, 0}
	newEnc := []float32{0, 0, 1}
	provider := &fakeProvider{obs: []vision.Observation{obsWith(oldEnc, 100)}}
	svc, _ := newTestService(t, provider, nil)

	person, err := svc.Register(ctx, "alice", []byte("old"), nil)
	require.NoError(t, err)

	provider.obs = []vision.Observation{obsWith(newEnc, 100)}
	updated, err := svc.ReplaceEncoding(ctx, person.ID, []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, newEnc, updated.Encoding)

	reports, err := svc.Recognize(ctx, Request{ImageData: []byte("new")})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].MatchedPersonID)
	assert.Equal(t, person.ID, *reports[0].MatchedPersonID)
}

func TestReplaceEncodingNoFace(t *testing.T) {
	provider := &fakeProvider{obs: []vision.Observation{obsWith([]float32{1, 0, 0}, 100)}}
	svc, _ := newTestService(t, provider, nil)

	person, err := svc.Register(context.Background(), "alice", []byte("photo"), nil)
	require.NoError(t, err)

	provider.obs = nil
	_, err = svc.ReplaceEncoding(context.Background(), person.ID, []byte("empty"))
	assert.ErrorIs(t, err, ErrNoFace)
}

func TestRawEncodingsWorkWithoutProvider(t *testing.T) {
	ctx := context.Background()
	enc := []float32{0.1, 0.2, 0.3}
	svc, store := newTestService(t, nil, nil)

	person, err := svc.RegisterEncoding(ctx, "alice", enc, nil)
	require.NoError(t, err)

	reports, err := svc.Recognize(ctx, Request{Encodings: [][]float32{enc}})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].MatchedPersonID)
	assert.Equal(t, person.ID, *reports[0].MatchedPersonID)
	assert.Equal(t, float32(1), reports[0].Confidence)

	got, err := store.GetPerson(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalDetections)
}

func TestRegisterEncodingRejectsMixedDimensions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.RegisterEncoding(ctx, "alice", []float32{1, 2, 3}, nil)
	require.NoError(t, err)

	_, err = svc.RegisterEncoding(ctx, "bob", []float32{1, 2, 3, 4}, nil)
	assert.ErrorIs(t, err, match.ErrDimensionMismatch)

	_, err = svc.RegisterEncoding(ctx, "carol", nil, nil)
	assert.ErrorIs(t, err, match.ErrDimensionMismatch)
}

func TestImageOperationsRequireProvider(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.Register(ctx, "alice", []byte("photo"), nil)
	assert.ErrorIs(t, err, ErrNoProvider)

	_, err = svc.Recognize(ctx, Request{ImageData: []byte("photo")})
	assert.ErrorIs(t, err, ErrNoProvider)

	_, err = svc.ReplaceEncoding(ctx, 1, []byte("photo"))
	assert.ErrorIs(t, err, ErrNoProvider)
}
