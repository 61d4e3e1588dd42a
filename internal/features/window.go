package features

import (
	"math"
	"time"
)

// windowAccumulator keeps the (timestamp, value) pairs inside a trailing
// window (t-window, t] and maintains running sums so each record's rolling
// statistics are amortized O(1). Entries are evicted from the head as the
// sweep advances; timestamps arrive in non-decreasing order.
type windowAccumulator struct {
	window time.Duration
	times  []time.Time
	values []float64
	head   int
	sum    float64
	sumSq  float64
}

// evict drops entries whose timestamp falls at or before now-window.
func (a *windowAccumulator) evict(now time.Time) {
	cutoff := now.Add(-a.window)
	for a.head < len(a.times) && !a.times[a.head].After(cutoff) {
		v := a.values[a.head]
		a.sum -= v
		a.sumSq -= v * v
		a.head++
	}
	a.compact()
}

func (a *windowAccumulator) push(t time.Time, v float64) {
	a.times = append(a.times, t)
	a.values = append(a.values, v)
	a.sum += v
	a.sumSq += v * v
}

func (a *windowAccumulator) count() int {
	return len(a.times) - a.head
}

func (a *windowAccumulator) mean() float64 {
	n := a.count()
	if n == 0 {
		return 0
	}
	return a.sum / float64(n)
}

// std is the population standard deviation of the values in the window.
func (a *windowAccumulator) std() float64 {
	n := a.count()
	if n == 0 {
		return 0
	}
	mean := a.sum / float64(n)
	variance := a.sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// compact reclaims evicted head space once it dominates the backing slices.
func (a *windowAccumulator) compact() {
	if a.head < 1024 || a.head < len(a.times)/2 {
		return
	}
	n := copy(a.times, a.times[a.head:])
	copy(a.values, a.values[a.head:])
	a.times = a.times[:n]
	a.values = a.values[:n]
	a.head = 0
}
