package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/quakewatch/pipeline/internal/baseline"
	"github.com/quakewatch/pipeline/internal/dataset"
	"github.com/quakewatch/pipeline/internal/features"
	"github.com/quakewatch/pipeline/internal/metrics"
	"github.com/quakewatch/pipeline/internal/pipeline"
	"github.com/quakewatch/pipeline/internal/quality"
	"github.com/quakewatch/pipeline/internal/storage/sqlite"
	"github.com/quakewatch/pipeline/internal/tracking"
	"github.com/quakewatch/pipeline/internal/versioning"
	"github.com/quakewatch/pipeline/pkg/config"
	appLogger "github.com/quakewatch/pipeline/pkg/logger"
)

// The external scheduler invokes this binary once per slot and applies its
// own retry policy to non-zero exits.
func main() {
	inputFlag := flag.String("input", "", "path to the extracted GeoJSON snapshot (overrides config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	metrics.Init()

	appLogger.Info("Starting pipeline run")

	ctx := context.Background()

	ledger, err := sqlite.NewClient(cfg.Ledger.Path)
	if err != nil {
		appLogger.Fatal("Failed to open run ledger", zap.Error(err))
	}
	defer ledger.Close()

	if err := ledger.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize ledger schema", zap.Error(err))
	}

	var sinks []versioning.Sink
	if cfg.Versioning.Local.Enabled {
		sinks = append(sinks, versioning.NewLocalSink(cfg.Versioning.Local.Dir))
	}
	if cfg.Versioning.Minio.Enabled {
		minioSink, err := versioning.NewMinioSink(
			cfg.Versioning.Minio.Endpoint,
			cfg.Versioning.Minio.AccessKey,
			cfg.Versioning.Minio.SecretKey,
			cfg.Versioning.Minio.Bucket,
			cfg.Versioning.Minio.Region,
			cfg.Versioning.Minio.UseSSL,
		)
		if err != nil {
			appLogger.Fatal("Failed to create MinIO sink", zap.Error(err))
		}
		if err := minioSink.EnsureBucket(ctx); err != nil {
			appLogger.Warn("MinIO bucket check failed, write may fail", zap.Error(err))
		}
		sinks = append(sinks, minioSink)
	}
	if len(sinks) == 0 {
		appLogger.Fatal("No sinks enabled")
	}

	versioner := versioning.NewVersioner(cfg.Versioning.KeyPrefix, sinks...)

	var publisher pipeline.BaselinePublisher
	if cfg.Redis.Enabled {
		store, err := baseline.NewStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Baseline store unavailable, serving path keeps previous baseline", zap.Error(err))
		} else {
			defer store.Close()
			publisher = store
		}
	}

	var tracker pipeline.RunTracker
	if cfg.Tracking.Enabled {
		tracker = tracking.NewEmitter(cfg.Tracking.URL, time.Duration(cfg.Tracking.TimeoutSec)*time.Second)
	}

	engineer := features.NewEngineer(featuresConfig(cfg))
	runner := pipeline.NewRunner(rulesConfig(cfg), engineer, versioner, publisher, ledger, tracker)

	inputPath := cfg.Pipeline.InputPath
	if *inputFlag != "" {
		inputPath = *inputFlag
	}

	raw, err := dataset.LoadGeoJSON(inputPath)
	if err != nil {
		appLogger.Fatal("Failed to load input snapshot", zap.String("path", inputPath), zap.Error(err))
	}

	result, err := runner.Run(ctx, raw)
	if err != nil {
		// Diagnostics are already logged with full context by the runner.
		appLogger.Sync()
		os.Exit(1)
	}

	appLogger.Info("Pipeline run succeeded",
		zap.String("run_id", result.RunID),
		zap.Int("rows", len(result.Dataset.Records)),
		zap.Int("features", len(result.Dataset.Baseline.Features)),
		zap.String("key", result.Persist.Key),
		zap.Strings("sinks_ok", result.Persist.Outcome.Succeeded()),
	)
}

func rulesConfig(cfg *config.Config) quality.Rules {
	rules := quality.DefaultRules()
	if cfg.Quality.MinRows > 0 {
		rules.MinRows = cfg.Quality.MinRows
	}
	if cfg.Quality.NullRatioCeiling > 0 {
		rules.NullRatioCeiling = cfg.Quality.NullRatioCeiling
	}
	if len(cfg.Quality.KeyColumns) > 0 {
		rules.KeyColumns = cfg.Quality.KeyColumns
	}
	if len(cfg.Quality.RequiredColumns) > 0 {
		rules.RequiredColumns = cfg.Quality.RequiredColumns
	}
	if len(cfg.Quality.Ranges) > 0 {
		rules.Ranges = make(map[string]quality.Range, len(cfg.Quality.Ranges))
		for col, bounds := range cfg.Quality.Ranges {
			if len(bounds) != 2 {
				appLogger.Warn("Ignoring malformed range", zap.String("column", col))
				continue
			}
			rules.Ranges[col] = quality.Range{Min: bounds[0], Max: bounds[1]}
		}
	}
	return rules
}

func featuresConfig(cfg *config.Config) features.Config {
	fc := features.Config{
		LagDepths:    cfg.Features.LagDepths,
		MeanWindows:  parseWindows(cfg.Features.MeanWindows),
		CountWindows: parseWindows(cfg.Features.CountWindows),
		StdWindows:   parseWindows(cfg.Features.StdWindows),
	}
	for _, band := range cfg.Features.ActiveBands {
		fc.ActiveBands = append(fc.ActiveBands, features.Band{
			MinLat: band.MinLat,
			MaxLat: band.MaxLat,
			MinLon: band.MinLon,
			MaxLon: band.MaxLon,
		})
	}
	return fc
}

func parseWindows(windows map[string]string) []features.Window {
	var parsed []features.Window
	for name, spec := range windows {
		duration, err := time.ParseDuration(spec)
		if err != nil {
			appLogger.Warn("Ignoring malformed window",
				zap.String("window", name),
				zap.String("duration", spec),
			)
			continue
		}
		parsed = append(parsed, features.Window{Name: name, Duration: duration})
	}
	return parsed
}
