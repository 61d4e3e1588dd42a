package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quakewatch/pipeline/internal/dataset"
)

// Window is a trailing time window identified by the name used in feature
// keys (e.g. "24h", "7d").
type Window struct {
	Name     string
	Duration time.Duration
}

// Band is a closed latitude/longitude box. A band whose MinLon is greater
// than its MaxLon wraps across the antimeridian.
type Band struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

type Config struct {
	LagDepths    []int
	MeanWindows  []Window
	CountWindows []Window
	StdWindows   []Window
	ActiveBands  []Band
}

func DefaultConfig() Config {
	return Config{
		LagDepths: []int{1, 2, 3},
		MeanWindows: []Window{
			{Name: "24h", Duration: 24 * time.Hour},
			{Name: "7d", Duration: 7 * 24 * time.Hour},
			{Name: "30d", Duration: 30 * 24 * time.Hour},
		},
		CountWindows: []Window{
			{Name: "24h", Duration: 24 * time.Hour},
			{Name: "7d", Duration: 7 * 24 * time.Hour},
		},
		StdWindows: []Window{
			{Name: "24h", Duration: 24 * time.Hour},
		},
		// Pacific ring, wrapping across the antimeridian.
		ActiveBands: []Band{
			{MinLat: -60, MaxLat: 60, MinLon: 120, MaxLon: -70},
		},
	}
}

// MalformedRecordError reports a raw record missing a required field after
// the quality gate has passed. This indicates an upstream contract
// violation, not bad input data.
type MalformedRecordError struct {
	Index int
	ID    string
	Field string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at index %d (id=%q): required field %q is missing", e.Index, e.ID, e.Field)
}

type Engineer struct {
	cfg Config
}

func NewEngineer(cfg Config) *Engineer {
	defaults := DefaultConfig()
	if len(cfg.LagDepths) == 0 {
		cfg.LagDepths = defaults.LagDepths
	}
	if len(cfg.MeanWindows) == 0 {
		cfg.MeanWindows = defaults.MeanWindows
	}
	if len(cfg.CountWindows) == 0 {
		cfg.CountWindows = defaults.CountWindows
	}
	if len(cfg.StdWindows) == 0 {
		cfg.StdWindows = defaults.StdWindows
	}
	if len(cfg.ActiveBands) == 0 {
		cfg.ActiveBands = defaults.ActiveBands
	}
	sort.Ints(cfg.LagDepths)
	return &Engineer{cfg: cfg}
}

// Transform derives the model-ready feature table plus its baseline from a
// validated raw dataset. The result is deterministic for identical input and
// configuration, and no feature of record i depends on any record with a
// later timestamp.
func (e *Engineer) Transform(ds *dataset.RawDataset) (*dataset.FeatureDataset, error) {
	ordered, err := sortAndDedup(ds.Records)
	if err != nil {
		return nil, err
	}

	accs := e.newAccumulators()

	records := make([]dataset.FeatureRecord, 0, len(ordered))
	magnitudes := make([]float64, 0, len(ordered))
	var prevTime time.Time

	for i, raw := range ordered {
		t := raw.Time()
		mag := *raw.Magnitude
		lat := *raw.Latitude
		lon := *raw.Longitude
		depth := 0.0
		if raw.Depth != nil {
			depth = math.Abs(*raw.Depth)
		}

		rec := dataset.FeatureRecord{
			ID:        raw.ID,
			Time:      t,
			Magnitude: mag,
			Latitude:  lat,
			Longitude: lon,
			Depth:     depth,

			MagLags:      make(map[string]*float64, len(e.cfg.LagDepths)),
			RollingMean:  make(map[string]float64, len(e.cfg.MeanWindows)),
			RollingCount: make(map[string]float64, len(e.cfg.CountWindows)),
			RollingStd:   make(map[string]float64, len(e.cfg.StdWindows)),
		}

		fillCalendar(&rec, t)

		if i == 0 {
			rec.TimeSinceLastHours = 0
		} else {
			rec.TimeSinceLastHours = t.Sub(prevTime).Hours()
		}
		prevTime = t

		for _, depthK := range e.cfg.LagDepths {
			key := fmt.Sprintf("mag_lag%d", depthK)
			if i-depthK >= 0 {
				v := magnitudes[i-depthK]
				rec.MagLags[key] = &v
			} else {
				rec.MagLags[key] = nil
			}
		}

		// Single forward sweep: evict expired entries, read the
		// prior-event count before admitting the current record, then
		// admit it and read the local mean/std.
		for _, acc := range accs {
			acc.evict(t)
		}
		for _, w := range e.cfg.CountWindows {
			rec.RollingCount[w.Name] = float64(accs[w.Duration].count())
		}
		for _, acc := range accs {
			acc.push(t, mag)
		}
		for _, w := range e.cfg.MeanWindows {
			rec.RollingMean[w.Name] = accs[w.Duration].mean()
		}
		for _, w := range e.cfg.StdWindows {
			rec.RollingStd[w.Name] = accs[w.Duration].std()
		}

		rec.AbsLatitude = math.Abs(lat)
		rec.ActiveRegion = 0
		for _, band := range e.cfg.ActiveBands {
			if band.contains(lat, lon) {
				rec.ActiveRegion = 1
				break
			}
		}

		magnitudes = append(magnitudes, mag)
		records = append(records, rec)
	}

	baseline := computeBaseline(records, ds.ExtractedAt)

	return &dataset.FeatureDataset{
		Records:     records,
		Baseline:    baseline,
		ExtractedAt: ds.ExtractedAt,
	}, nil
}

// sortAndDedup orders records by timestamp ascending with ties broken by
// identifier, drops duplicate identifiers (first occurrence wins), and
// rejects records that should never have passed the gate.
func sortAndDedup(input []dataset.RawRecord) ([]dataset.RawRecord, error) {
	ordered := make([]dataset.RawRecord, len(input))
	copy(ordered, input)

	for i := range ordered {
		if field := missingField(ordered[i]); field != "" {
			return nil, &MalformedRecordError{Index: i, ID: ordered[i].ID, Field: field}
		}
	}

	sort.SliceStable(ordered, func(a, b int) bool {
		ta, tb := *ordered[a].TimeMillis, *ordered[b].TimeMillis
		if ta != tb {
			return ta < tb
		}
		return ordered[a].ID < ordered[b].ID
	})

	seen := make(map[string]bool, len(ordered))
	deduped := ordered[:0]
	for _, rec := range ordered {
		if rec.ID != "" && seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		deduped = append(deduped, rec)
	}
	return deduped, nil
}

func missingField(rec dataset.RawRecord) string {
	switch {
	case rec.Magnitude == nil:
		return "magnitude"
	case rec.TimeMillis == nil:
		return "time"
	case rec.Longitude == nil:
		return "longitude"
	case rec.Latitude == nil:
		return "latitude"
	}
	return ""
}

func fillCalendar(rec *dataset.FeatureRecord, t time.Time) {
	rec.Year = t.Year()
	rec.Month = int(t.Month())
	rec.Day = t.Day()
	rec.Hour = t.Hour()
	// 0 = Monday, matching the convention of the persisted feature table.
	rec.DayOfWeek = (int(t.Weekday()) + 6) % 7

	rec.HourSin, rec.HourCos = cyclical(float64(rec.Hour), 24)
	rec.MonthSin, rec.MonthCos = cyclical(float64(rec.Month), 12)
	rec.DayOfWeekSin, rec.DayOfWeekCos = cyclical(float64(rec.DayOfWeek), 7)
}

func cyclical(x, period float64) (s, c float64) {
	angle := 2 * math.Pi * x / period
	return math.Sin(angle), math.Cos(angle)
}

func (b Band) contains(lat, lon float64) bool {
	if lat < b.MinLat || lat > b.MaxLat {
		return false
	}
	if b.MinLon <= b.MaxLon {
		return lon >= b.MinLon && lon <= b.MaxLon
	}
	return lon >= b.MinLon || lon <= b.MaxLon
}

// newAccumulators builds one accumulator per distinct window duration, so a
// duration shared by mean, count and std features is swept only once.
func (e *Engineer) newAccumulators() map[time.Duration]*windowAccumulator {
	accs := make(map[time.Duration]*windowAccumulator)
	for _, group := range [][]Window{e.cfg.MeanWindows, e.cfg.CountWindows, e.cfg.StdWindows} {
		for _, w := range group {
			if _, ok := accs[w.Duration]; !ok {
				accs[w.Duration] = &windowAccumulator{window: w.Duration}
			}
		}
	}
	return accs
}

func computeBaseline(records []dataset.FeatureRecord, extractedAt time.Time) *dataset.FeatureBaseline {
	type agg struct {
		min, max, sum, sumSq float64
		count                int
	}
	aggs := make(map[string]*agg)

	for i := range records {
		for name, value := range records[i].NumericFeatures() {
			a, ok := aggs[name]
			if !ok {
				a = &agg{min: value, max: value}
				aggs[name] = a
			}
			if value < a.min {
				a.min = value
			}
			if value > a.max {
				a.max = value
			}
			a.sum += value
			a.sumSq += value * value
			a.count++
		}
	}

	baseline := &dataset.FeatureBaseline{
		Features:    make(map[string]dataset.FeatureStats, len(aggs)),
		RowCount:    len(records),
		ExtractedAt: extractedAt,
	}
	for name, a := range aggs {
		mean := a.sum / float64(a.count)
		variance := a.sumSq/float64(a.count) - mean*mean
		if variance < 0 {
			variance = 0
		}
		baseline.Features[name] = dataset.FeatureStats{
			Min:   a.min,
			Max:   a.max,
			Mean:  mean,
			Std:   math.Sqrt(variance),
			Count: a.count,
		}
	}
	return baseline
}
