package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quakewatch/pipeline/internal/dataset"
	"github.com/quakewatch/pipeline/pkg/logger"
	"github.com/quakewatch/pipeline/pkg/retry"
)

// RunRecord is the structured summary emitted after a successful run for the
// external experiment-tracking collaborator.
type RunRecord struct {
	RunID           string                          `json:"run_id"`
	RowCount        int                             `json:"row_count"`
	ViolationCount  int                             `json:"violation_count"`
	FeatureCount    int                             `json:"feature_count"`
	BaselineSummary map[string]dataset.FeatureStats `json:"baseline_summary"`
}

// Emitter posts run records best-effort: the pipeline never fails because
// the tracking collaborator is unreachable.
type Emitter struct {
	url    string
	client *http.Client
}

func NewEmitter(url string, timeout time.Duration) *Emitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Emitter{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (e *Emitter) EmitRunRecord(ctx context.Context, rec RunRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	cfg := retry.DefaultConfig()
	cfg.Logger = logger.Log

	return retry.Do(ctx, cfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build tracking request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("tracking request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("tracking endpoint returned status %d", resp.StatusCode)
		}
		return nil
	})
}
