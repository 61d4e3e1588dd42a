package drift

import (
	"fmt"
	"math"
	"sync"

	"github.com/quakewatch/pipeline/internal/dataset"
	"github.com/quakewatch/pipeline/internal/metrics"
)

// ScoringError rejects a single malformed request. It never corrupts the
// shared window or propagates beyond the request.
type ScoringError struct {
	Reason string
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring rejected: %s", e.Reason)
}

// Monitor compares incoming feature vectors against the pipeline's
// FeatureBaseline and tracks the out-of-distribution ratio over a fixed-size
// ring of the most recent requests.
type Monitor struct {
	mu       sync.RWMutex
	baseline *dataset.FeatureBaseline
	k        float64
	ring     []bool
	next     int
	filled   int
	flagged  int
	total    uint64
}

func NewMonitor(baseline *dataset.FeatureBaseline, k float64, windowSize int) *Monitor {
	if k <= 0 {
		k = 3
	}
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Monitor{
		baseline: baseline,
		k:        k,
		ring:     make([]bool, windowSize),
	}
}

// SetBaseline swaps in a newly published baseline. Readers see either the
// old or the new baseline in full, never a partial update.
func (m *Monitor) SetBaseline(baseline *dataset.FeatureBaseline) {
	m.mu.Lock()
	m.baseline = baseline
	m.mu.Unlock()
}

// Score flags the request when any feature falls outside the wider of
// [mean-k*std, mean+k*std] and the baseline's observed [min, max]. The
// bound comparison happens outside the lock; only the ring update holds it.
func (m *Monitor) Score(features map[string]float64) (bool, error) {
	if len(features) == 0 {
		return false, &ScoringError{Reason: "empty feature vector"}
	}
	for name, value := range features {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return false, &ScoringError{Reason: fmt.Sprintf("feature %q is not finite", name)}
		}
	}

	m.mu.RLock()
	baseline := m.baseline
	k := m.k
	m.mu.RUnlock()

	if baseline == nil {
		return false, &ScoringError{Reason: "no baseline loaded"}
	}

	flag := outOfDistribution(baseline, k, features)

	m.mu.Lock()
	if m.filled == len(m.ring) {
		if m.ring[m.next] {
			m.flagged--
		}
	} else {
		m.filled++
	}
	m.ring[m.next] = flag
	m.next = (m.next + 1) % len(m.ring)
	if flag {
		m.flagged++
	}
	m.total++
	ratio := float64(m.flagged) / float64(m.filled)
	m.mu.Unlock()

	metrics.RequestsScored.Inc()
	if flag {
		metrics.RequestsFlagged.Inc()
	}
	metrics.DriftRatio.Set(ratio)

	return flag, nil
}

// Ratio is the flagged fraction over the most recent window of scored
// requests.
func (m *Monitor) Ratio() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.filled == 0 {
		return 0
	}
	return float64(m.flagged) / float64(m.filled)
}

// Total is the lifetime count of scored requests.
func (m *Monitor) Total() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

func (m *Monitor) WindowSize() int {
	return len(m.ring)
}

// outOfDistribution applies the per-feature rule: the statistical band and
// the hard min/max are combined by taking the wider bound on each side, so
// features with naturally tiny variance are not over-flagged. Features the
// baseline has never seen are ignored.
func outOfDistribution(baseline *dataset.FeatureBaseline, k float64, features map[string]float64) bool {
	for name, value := range features {
		stats, ok := baseline.Features[name]
		if !ok {
			continue
		}
		lower := math.Min(stats.Mean-k*stats.Std, stats.Min)
		upper := math.Max(stats.Mean+k*stats.Std, stats.Max)
		if value < lower || value > upper {
			return true
		}
	}
	return false
}
