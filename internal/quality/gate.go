package quality

import (
	"fmt"
	"sort"

	"github.com/quakewatch/pipeline/internal/dataset"
)

const (
	RuleRowCount  = "row_count"
	RuleNullRatio = "null_ratio"
	RuleSchema    = "schema"
	RuleRange     = "range"
)

type Range struct {
	Min float64
	Max float64
}

// Rules configures the gate. All thresholds are externally supplied; the
// values below are the documented defaults.
type Rules struct {
	MinRows          int
	NullRatioCeiling float64
	KeyColumns       []string
	RequiredColumns  []string
	Ranges           map[string]Range
}

func DefaultRules() Rules {
	return Rules{
		MinRows:          100,
		NullRatioCeiling: 0.01,
		KeyColumns:       []string{"magnitude", "time", "longitude", "latitude"},
		RequiredColumns:  []string{"magnitude", "time", "longitude", "latitude"},
		Ranges: map[string]Range{
			"magnitude": {Min: 0, Max: 10},
			"latitude":  {Min: -90, Max: 90},
			"longitude": {Min: -180, Max: 180},
		},
	}
}

// Evaluate runs every rule against the dataset and collects all violations
// into one verdict. It is a pure function: no I/O, no side effects. The
// caller must treat Passed == false as fatal for the run.
func Evaluate(ds *dataset.RawDataset, rules Rules) dataset.QualityVerdict {
	verdict := dataset.QualityVerdict{
		RowCount:   len(ds.Records),
		NullRatios: make(map[string]float64),
	}

	checkRowCount(ds, rules, &verdict)
	checkSchema(ds, rules, &verdict)
	checkNullRatios(ds, rules, &verdict)
	checkRanges(ds, rules, &verdict)

	verdict.Passed = len(verdict.Violations) == 0
	return verdict
}

func checkRowCount(ds *dataset.RawDataset, rules Rules, verdict *dataset.QualityVerdict) {
	if len(ds.Records) < rules.MinRows {
		verdict.Violations = append(verdict.Violations, dataset.Violation{
			Rule:   RuleRowCount,
			Detail: fmt.Sprintf("row count (%d) is below minimum threshold (%d)", len(ds.Records), rules.MinRows),
		})
	}
}

func checkSchema(ds *dataset.RawDataset, rules Rules, verdict *dataset.QualityVerdict) {
	probe := dataset.RawRecord{}
	if len(ds.Records) > 0 {
		probe = ds.Records[0]
	}
	for _, col := range rules.RequiredColumns {
		if _, _, known := probe.Column(col); !known {
			verdict.Violations = append(verdict.Violations, dataset.Violation{
				Rule:   RuleSchema,
				Detail: fmt.Sprintf("required column %q is not present in the record schema", col),
			})
		}
	}
}

func checkNullRatios(ds *dataset.RawDataset, rules Rules, verdict *dataset.QualityVerdict) {
	if len(ds.Records) == 0 {
		return
	}
	for _, col := range rules.KeyColumns {
		nulls := 0
		known := true
		for _, rec := range ds.Records {
			_, present, colKnown := rec.Column(col)
			if !colKnown {
				known = false
				break
			}
			if !present {
				nulls++
			}
		}
		if !known {
			// Already reported by the schema check when the column is
			// also required.
			continue
		}
		ratio := float64(nulls) / float64(len(ds.Records))
		verdict.NullRatios[col] = ratio
		if ratio > rules.NullRatioCeiling {
			verdict.Violations = append(verdict.Violations, dataset.Violation{
				Rule: RuleNullRatio,
				Detail: fmt.Sprintf("column %q has %.2f%% null values (threshold: %.2f%%)",
					col, ratio*100, rules.NullRatioCeiling*100),
			})
		}
	}
}

func checkRanges(ds *dataset.RawDataset, rules Rules, verdict *dataset.QualityVerdict) {
	columns := make([]string, 0, len(rules.Ranges))
	for col := range rules.Ranges {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for _, col := range columns {
		bounds := rules.Ranges[col]
		outside := 0
		for _, rec := range ds.Records {
			value, present, known := rec.Column(col)
			if !known || !present {
				continue
			}
			if value < bounds.Min || value > bounds.Max {
				outside++
			}
		}
		if outside > 0 {
			verdict.Violations = append(verdict.Violations, dataset.Violation{
				Rule: RuleRange,
				Detail: fmt.Sprintf("found %d rows with %s outside [%g, %g] range",
					outside, col, bounds.Min, bounds.Max),
			})
		}
	}
}
