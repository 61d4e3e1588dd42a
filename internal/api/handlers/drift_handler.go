package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/quakewatch/pipeline/internal/drift"
	"github.com/quakewatch/pipeline/internal/metrics"
	"github.com/quakewatch/pipeline/pkg/logger"
)

type DriftHandler struct {
	monitor *drift.Monitor
}

func NewDriftHandler(monitor *drift.Monitor) *DriftHandler {
	return &DriftHandler{monitor: monitor}
}

// Score checks one inference request's feature vector against the current
// baseline. A malformed request is rejected on its own; it never affects
// other requests or the drift window.
func (h *DriftHandler) Score(c *fiber.Ctx) error {
	var req struct {
		Features map[string]float64 `json:"features"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse score request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	start := time.Now()
	flagged, err := h.monitor.Score(req.Features)
	latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
	metrics.InferenceLatency.Observe(latencyMS)

	if err != nil {
		var scoringErr *drift.ScoringError
		if errors.As(err, &scoringErr) {
			metrics.ScoringRejections.Inc()
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": scoringErr.Error(),
			})
		}
		logger.Error("Failed to score request", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to score request",
		})
	}

	return c.JSON(fiber.Map{
		"out_of_distribution": flagged,
		"drift_ratio":         h.monitor.Ratio(),
		"latency_ms":          latencyMS,
	})
}

// Stats exposes the windowed drift signal.
func (h *DriftHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"total_scored": h.monitor.Total(),
		"drift_ratio":  h.monitor.Ratio(),
		"window_size":  h.monitor.WindowSize(),
	})
}
