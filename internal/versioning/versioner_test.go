package versioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quakewatch/pipeline/internal/dataset"
	"github.com/quakewatch/pipeline/pkg/fingerprint"
	"github.com/quakewatch/pipeline/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	m.Run()
}

type fakeSink struct {
	name      string
	failWrite bool

	mu     sync.Mutex
	stored map[string]string // key -> fingerprint
	writes int
}

func newFakeSink(name string) *fakeSink {
	return &fakeSink{name: name, stored: make(map[string]string)}
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Write(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWrite {
		return errors.New("backend unavailable")
	}
	s.stored[key] = fingerprint.Sum(data)
	return nil
}

func (s *fakeSink) FingerprintExists(_ context.Context, key, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored[key] == fp, nil
}

func testDataset() *dataset.FeatureDataset {
	return &dataset.FeatureDataset{
		Records: []dataset.FeatureRecord{{ID: "ev1", Magnitude: 4.2}},
		Baseline: &dataset.FeatureBaseline{
			Features: map[string]dataset.FeatureStats{
				"magnitude": {Min: 4.2, Max: 4.2, Mean: 4.2, Count: 1},
			},
			RowCount: 1,
		},
		ExtractedAt: time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC),
	}
}

func TestPersistAllSinksSucceed(t *testing.T) {
	a := newFakeSink("a")
	b := newFakeSink("b")
	v := NewVersioner("features", a, b)

	result, err := v.Persist(context.Background(), testDataset())

	require.NoError(t, err)
	assert.Equal(t, "features/20240510/dataset.json", result.Key)
	assert.Len(t, result.Fingerprint, 64)
	assert.Equal(t, []string{"a", "b"}, result.Outcome.Succeeded())
	assert.Empty(t, result.Outcome.Failed())
}

func TestPersistPartialFailureStillSucceeds(t *testing.T) {
	broken := newFakeSink("broken")
	broken.failWrite = true
	healthy := newFakeSink("healthy")
	v := NewVersioner("features", broken, healthy)

	result, err := v.Persist(context.Background(), testDataset())

	require.NoError(t, err)
	assert.Equal(t, []string{"healthy"}, result.Outcome.Succeeded())
	assert.Equal(t, []string{"broken"}, result.Outcome.Failed())
	assert.Contains(t, result.Outcome["broken"].Error, "broken")
}

func TestPersistAllSinksFailed(t *testing.T) {
	a := newFakeSink("a")
	a.failWrite = true
	b := newFakeSink("b")
	b.failWrite = true
	v := NewVersioner("features", a, b)

	result, err := v.Persist(context.Background(), testDataset())

	require.ErrorIs(t, err, ErrAllSinksFailed)
	require.NotNil(t, result)
	assert.Equal(t, []string{"a", "b"}, result.Outcome.Failed())
}

func TestPersistNoSinksConfigured(t *testing.T) {
	v := NewVersioner("features")

	_, err := v.Persist(context.Background(), testDataset())

	require.Error(t, err)
}

func TestPersistIdempotentSkip(t *testing.T) {
	sink := newFakeSink("a")
	v := NewVersioner("features", sink)
	ds := testDataset()

	first, err := v.Persist(context.Background(), ds)
	require.NoError(t, err)
	assert.False(t, first.Outcome["a"].Skipped)

	second, err := v.Persist(context.Background(), ds)
	require.NoError(t, err)
	assert.True(t, second.Outcome["a"].Skipped)
	assert.True(t, second.Outcome["a"].Succeeded)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 1, sink.writes)
}

func TestPersistChangedContentWritesAgain(t *testing.T) {
	sink := newFakeSink("a")
	v := NewVersioner("features", sink)

	ds := testDataset()
	_, err := v.Persist(context.Background(), ds)
	require.NoError(t, err)

	ds.Records[0].Magnitude = 5.0
	result, err := v.Persist(context.Background(), ds)
	require.NoError(t, err)
	assert.False(t, result.Outcome["a"].Skipped)
	assert.Equal(t, 2, sink.writes)
}

func TestLocalSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink := NewLocalSink(dir)
	v := NewVersioner("features", sink)
	ds := testDataset()

	first, err := v.Persist(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, []string{sink.Name()}, first.Outcome.Succeeded())

	second, err := v.Persist(context.Background(), ds)
	require.NoError(t, err)
	assert.True(t, second.Outcome[sink.Name()].Skipped)
}
