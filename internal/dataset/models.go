package dataset

import (
	"fmt"
	"strings"
	"time"
)

// RawRecord is one observation from the upstream feed. Numeric fields are
// pointers because nulls in the feed are exactly what the quality gate
// measures.
type RawRecord struct {
	ID           string   `json:"id"`
	Magnitude    *float64 `json:"magnitude"`
	TimeMillis   *int64   `json:"time"`
	Longitude    *float64 `json:"longitude"`
	Latitude     *float64 `json:"latitude"`
	Depth        *float64 `json:"depth"`
	Place        string   `json:"place,omitempty"`
	MagType      string   `json:"mag_type,omitempty"`
	Status       string   `json:"status,omitempty"`
	Tsunami      int      `json:"tsunami,omitempty"`
	Significance *float64 `json:"significance,omitempty"`
}

// Time converts the feed's millisecond epoch timestamp. Returns the zero
// time when the field is null.
func (r RawRecord) Time() time.Time {
	if r.TimeMillis == nil {
		return time.Time{}
	}
	return time.UnixMilli(*r.TimeMillis).UTC()
}

// Column returns the numeric value of a named column and whether it is
// non-null. Unknown column names return ok=false with present=false.
func (r RawRecord) Column(name string) (value float64, present bool, known bool) {
	switch name {
	case "magnitude":
		if r.Magnitude != nil {
			return *r.Magnitude, true, true
		}
		return 0, false, true
	case "time":
		if r.TimeMillis != nil {
			return float64(*r.TimeMillis), true, true
		}
		return 0, false, true
	case "longitude":
		if r.Longitude != nil {
			return *r.Longitude, true, true
		}
		return 0, false, true
	case "latitude":
		if r.Latitude != nil {
			return *r.Latitude, true, true
		}
		return 0, false, true
	case "depth":
		if r.Depth != nil {
			return *r.Depth, true, true
		}
		return 0, false, true
	}
	return 0, false, false
}

// RawDataset is the ordered snapshot handed over by the external extractor.
type RawDataset struct {
	Records     []RawRecord `json:"records"`
	ExtractedAt time.Time   `json:"extracted_at"`
}

type Violation struct {
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// QualityVerdict is the quality gate's terminal output for one run.
type QualityVerdict struct {
	Passed     bool               `json:"passed"`
	RowCount   int                `json:"row_count"`
	NullRatios map[string]float64 `json:"null_ratios"`
	Violations []Violation        `json:"violations"`
}

// Summary renders every violation for operator visibility, not just the
// first.
func (v QualityVerdict) Summary() string {
	if v.Passed {
		return fmt.Sprintf("quality gate passed: %d rows", v.RowCount)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "quality gate failed: %d violation(s) over %d rows", len(v.Violations), v.RowCount)
	for i, viol := range v.Violations {
		fmt.Fprintf(&b, "\n  %d. [%s] %s", i+1, viol.Rule, viol.Detail)
	}
	return b.String()
}

// FeatureRecord is one model-ready row. Lag and rolling values carry the
// window or depth in their map keys so the set stays configuration-driven.
// A nil lag means insufficient history.
type FeatureRecord struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Magnitude float64   `json:"magnitude"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Depth     float64   `json:"depth"`

	Year      int `json:"year"`
	Month     int `json:"month"`
	Day       int `json:"day"`
	Hour      int `json:"hour"`
	DayOfWeek int `json:"day_of_week"`

	HourSin      float64 `json:"hour_sin"`
	HourCos      float64 `json:"hour_cos"`
	MonthSin     float64 `json:"month_sin"`
	MonthCos     float64 `json:"month_cos"`
	DayOfWeekSin float64 `json:"day_of_week_sin"`
	DayOfWeekCos float64 `json:"day_of_week_cos"`

	TimeSinceLastHours float64 `json:"time_since_last_hours"`

	MagLags      map[string]*float64 `json:"mag_lags"`
	RollingMean  map[string]float64  `json:"rolling_mean"`
	RollingCount map[string]float64  `json:"rolling_count"`
	RollingStd   map[string]float64  `json:"rolling_std"`

	AbsLatitude  float64 `json:"abs_latitude"`
	ActiveRegion int     `json:"active_region"`
}

// NumericFeatures flattens the record into the feature vector used for
// baseline statistics and drift scoring. Lags with insufficient history are
// omitted rather than imputed.
func (r *FeatureRecord) NumericFeatures() map[string]float64 {
	features := map[string]float64{
		"magnitude":             r.Magnitude,
		"latitude":              r.Latitude,
		"longitude":             r.Longitude,
		"depth":                 r.Depth,
		"hour_sin":              r.HourSin,
		"hour_cos":              r.HourCos,
		"month_sin":             r.MonthSin,
		"month_cos":             r.MonthCos,
		"day_of_week_sin":       r.DayOfWeekSin,
		"day_of_week_cos":       r.DayOfWeekCos,
		"time_since_last_hours": r.TimeSinceLastHours,
		"abs_latitude":          r.AbsLatitude,
		"active_region":         float64(r.ActiveRegion),
	}
	for name, lag := range r.MagLags {
		if lag != nil {
			features[name] = *lag
		}
	}
	for window, mean := range r.RollingMean {
		features["mag_rolling_"+window] = mean
	}
	for window, count := range r.RollingCount {
		features["count_rolling_"+window] = count
	}
	for window, std := range r.RollingStd {
		features["mag_std_"+window] = std
	}
	return features
}

// FeatureStats summarizes one feature's distribution at pipeline time.
// Std is the population standard deviation.
type FeatureStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int     `json:"count"`
}

// FeatureBaseline is computed once per pipeline run and is read-only
// afterward. The serving path compares live feature vectors against it.
type FeatureBaseline struct {
	Features    map[string]FeatureStats `json:"features"`
	RowCount    int                     `json:"row_count"`
	ExtractedAt time.Time               `json:"extracted_at"`
}

// FeatureDataset is the transform output. A new run produces a new dataset;
// no run mutates a prior one.
type FeatureDataset struct {
	Records     []FeatureRecord  `json:"records"`
	Baseline    *FeatureBaseline `json:"baseline"`
	ExtractedAt time.Time        `json:"extracted_at"`
}
