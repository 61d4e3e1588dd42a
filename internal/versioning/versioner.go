package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quakewatch/pipeline/internal/dataset"
	"github.com/quakewatch/pipeline/internal/metrics"
	"github.com/quakewatch/pipeline/pkg/fingerprint"
	"github.com/quakewatch/pipeline/pkg/logger"
)

// Versioner persists a feature dataset (with its baseline) to every
// configured sink. Writes are best-effort across sinks: one failure is a
// warning, the call fails only when every sink fails.
type Versioner struct {
	keyPrefix string
	sinks     []Sink
}

func NewVersioner(keyPrefix string, sinks ...Sink) *Versioner {
	if keyPrefix == "" {
		keyPrefix = "features"
	}
	return &Versioner{keyPrefix: keyPrefix, sinks: sinks}
}

// Result describes one persist call.
type Result struct {
	Key         string
	Fingerprint string
	Outcome     Outcome
}

// Persist serializes the dataset once, fingerprints it, and fans the write
// out to all sinks concurrently. Re-persisting bit-identical content is a
// no-op per sink, detected by the fingerprint before upload.
func (v *Versioner) Persist(ctx context.Context, ds *dataset.FeatureDataset) (*Result, error) {
	if len(v.sinks) == 0 {
		return nil, fmt.Errorf("no sinks configured")
	}

	data, err := json.Marshal(ds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feature dataset: %w", err)
	}

	fp := fingerprint.Sum(data)
	key := fmt.Sprintf("%s/%s/dataset.json", v.keyPrefix, ds.ExtractedAt.UTC().Format("20060102"))

	result := &Result{
		Key:         key,
		Fingerprint: fp,
		Outcome:     make(Outcome, len(v.sinks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, sink := range v.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			sinkResult := v.writeOne(ctx, sink, key, fp, data)
			mu.Lock()
			result.Outcome[sink.Name()] = sinkResult
			mu.Unlock()
		}(sink)
	}
	wg.Wait()

	succeeded := result.Outcome.Succeeded()
	if len(succeeded) == 0 {
		metrics.PipelinePersistFailures.Inc()
		return result, fmt.Errorf("%w: %v", ErrAllSinksFailed, result.Outcome.Failed())
	}

	logger.Info("Feature dataset persisted",
		zap.String("key", key),
		zap.String("fingerprint", fp[:12]),
		zap.Strings("sinks_ok", succeeded),
		zap.Strings("sinks_failed", result.Outcome.Failed()),
	)

	return result, nil
}

func (v *Versioner) writeOne(ctx context.Context, sink Sink, key, fp string, data []byte) SinkResult {
	exists, err := sink.FingerprintExists(ctx, key, fp)
	if err != nil {
		logger.Warn("Sink fingerprint check failed, attempting write",
			zap.String("sink", sink.Name()),
			zap.Error(err),
		)
	}
	if exists {
		logger.Info("Sink already holds identical content, skipping",
			zap.String("sink", sink.Name()),
			zap.String("key", key),
		)
		metrics.SinkWrites.WithLabelValues(sink.Name(), "skipped").Inc()
		return SinkResult{Succeeded: true, Skipped: true}
	}

	if err := sink.Write(ctx, key, data); err != nil {
		writeErr := &SinkWriteError{Sink: sink.Name(), Key: key, Err: err}
		logger.Warn("Sink write failed", zap.Error(writeErr))
		metrics.SinkWrites.WithLabelValues(sink.Name(), "failure").Inc()
		return SinkResult{Succeeded: false, Error: writeErr.Error()}
	}

	metrics.SinkWrites.WithLabelValues(sink.Name(), "success").Inc()
	return SinkResult{Succeeded: true}
}
