package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quakewatch/pipeline/internal/dataset"
	"github.com/quakewatch/pipeline/internal/features"
	"github.com/quakewatch/pipeline/internal/metrics"
	"github.com/quakewatch/pipeline/internal/quality"
	"github.com/quakewatch/pipeline/internal/storage/sqlite"
	"github.com/quakewatch/pipeline/internal/tracking"
	"github.com/quakewatch/pipeline/internal/versioning"
	"github.com/quakewatch/pipeline/pkg/logger"
)

// Stage names the orchestrator's state sequence. The external scheduler only
// needs "run next stage if the previous one succeeded"; retry and backoff
// policy stay outside the core.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageTransform Stage = "transform"
	StagePersist   Stage = "persist"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// ErrQualityGateFailed is terminal for the run: it is not retried
// automatically and requires either new data or relaxed rules.
var ErrQualityGateFailed = errors.New("quality gate failed")

// BaselinePublisher makes the new baseline visible to the serving path.
type BaselinePublisher interface {
	Publish(ctx context.Context, b *dataset.FeatureBaseline, version string) error
}

// RunLedger records run outcomes for operators.
type RunLedger interface {
	InsertRun(run *sqlite.RunRow) error
}

// RunTracker hands a run summary to the experiment-tracking collaborator.
type RunTracker interface {
	EmitRunRecord(ctx context.Context, rec tracking.RunRecord) error
}

// Runner sequences Validate -> Transform -> Persist for one scheduled run,
// short-circuiting on gate failure. Publisher, ledger and tracker may be nil;
// publish and tracking failures are logged, never fatal.
type Runner struct {
	rules     quality.Rules
	engineer  *features.Engineer
	versioner *versioning.Versioner
	publisher BaselinePublisher
	ledger    RunLedger
	tracker   RunTracker
}

func NewRunner(rules quality.Rules, engineer *features.Engineer, versioner *versioning.Versioner,
	publisher BaselinePublisher, ledger RunLedger, tracker RunTracker) *Runner {
	return &Runner{
		rules:     rules,
		engineer:  engineer,
		versioner: versioner,
		publisher: publisher,
		ledger:    ledger,
		tracker:   tracker,
	}
}

type RunResult struct {
	RunID      string
	Stage      Stage
	Verdict    dataset.QualityVerdict
	Dataset    *dataset.FeatureDataset
	Persist    *versioning.Result
	StartedAt  time.Time
	FinishedAt time.Time
}

// Run executes one pipeline run over an already-extracted dataset.
func (r *Runner) Run(ctx context.Context, raw *dataset.RawDataset) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.NewString(),
		Stage:     StageValidate,
		StartedAt: time.Now().UTC(),
	}

	logger.Info("Pipeline run started",
		zap.String("run_id", result.RunID),
		zap.Int("raw_rows", len(raw.Records)),
		zap.Time("extracted_at", raw.ExtractedAt),
	)

	result.Verdict = quality.Evaluate(raw, r.rules)
	metrics.GateViolations.Add(float64(len(result.Verdict.Violations)))

	if !result.Verdict.Passed {
		err := fmt.Errorf("%w: %s", ErrQualityGateFailed, result.Verdict.Summary())
		r.finish(result, StageFailed, "failed_validation", err)
		return result, err
	}

	result.Stage = StageTransform
	fd, err := r.engineer.Transform(raw)
	if err != nil {
		err = fmt.Errorf("transform failed: %w", err)
		r.finish(result, StageFailed, "failed_transform", err)
		return result, err
	}
	result.Dataset = fd
	metrics.DatasetRows.Set(float64(len(fd.Records)))
	metrics.DatasetFeatures.Set(float64(len(fd.Baseline.Features)))

	result.Stage = StagePersist
	persist, err := r.versioner.Persist(ctx, fd)
	result.Persist = persist
	if err != nil {
		err = fmt.Errorf("versioning failed: %w", err)
		r.finish(result, StageFailed, "failed_persist", err)
		return result, err
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, fd.Baseline, persist.Fingerprint); err != nil {
			logger.Warn("Baseline publish failed, serving path keeps previous baseline",
				zap.String("run_id", result.RunID),
				zap.Error(err),
			)
		}
	}

	if r.tracker != nil {
		rec := tracking.RunRecord{
			RunID:           result.RunID,
			RowCount:        len(fd.Records),
			ViolationCount:  len(result.Verdict.Violations),
			FeatureCount:    len(fd.Baseline.Features),
			BaselineSummary: fd.Baseline.Features,
		}
		if err := r.tracker.EmitRunRecord(ctx, rec); err != nil {
			logger.Warn("Tracking emit failed",
				zap.String("run_id", result.RunID),
				zap.Error(err),
			)
		}
	}

	r.finish(result, StageDone, "success", nil)
	return result, nil
}

func (r *Runner) finish(result *RunResult, stage Stage, status string, runErr error) {
	result.Stage = stage
	result.FinishedAt = time.Now().UTC()
	metrics.PipelineRuns.WithLabelValues(status).Inc()

	if runErr != nil {
		logger.Error("Pipeline run failed",
			zap.String("run_id", result.RunID),
			zap.String("status", status),
			zap.Error(runErr),
		)
	} else {
		logger.Info("Pipeline run finished",
			zap.String("run_id", result.RunID),
			zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
		)
	}

	if r.ledger == nil {
		return
	}

	row := &sqlite.RunRow{
		ID:             result.RunID,
		Status:         status,
		RowCount:       result.Verdict.RowCount,
		ViolationCount: len(result.Verdict.Violations),
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
	}
	if result.Dataset != nil {
		row.FeatureCount = len(result.Dataset.Baseline.Features)
	}
	if result.Persist != nil {
		row.Fingerprint = result.Persist.Fingerprint
		row.SinksOK = result.Persist.Outcome.Succeeded()
		row.SinksFailed = result.Persist.Outcome.Failed()
	}
	if runErr != nil {
		row.Detail = runErr.Error()
	}

	if err := r.ledger.InsertRun(row); err != nil {
		logger.Warn("Failed to record run in ledger",
			zap.String("run_id", result.RunID),
			zap.Error(err),
		)
	}
}
