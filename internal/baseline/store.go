package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quakewatch/pipeline/internal/dataset"
	"github.com/quakewatch/pipeline/pkg/logger"
)

const (
	currentKey    = "baseline:current"
	versionKeyFmt = "baseline:v:%s"
	versionTTL    = 90 * 24 * time.Hour
)

// ErrNoBaseline means no pipeline run has published a baseline yet.
var ErrNoBaseline = errors.New("no baseline published")

// Store publishes FeatureBaselines for the serving path. A publish writes
// the versioned blob first and swaps the current pointer after, so readers
// following the pointer always load a complete baseline.
type Store struct {
	client *redis.Client
}

func NewStore(host string, port int, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Baseline store initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Publish stores the baseline under its version (the dataset fingerprint)
// and then moves the current pointer to it.
func (s *Store) Publish(ctx context.Context, b *dataset.FeatureBaseline, version string) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}

	key := fmt.Sprintf(versionKeyFmt, version)
	if err := s.client.Set(ctx, key, data, versionTTL).Err(); err != nil {
		return fmt.Errorf("failed to store baseline %s: %w", version, err)
	}
	if err := s.client.Set(ctx, currentKey, version, 0).Err(); err != nil {
		return fmt.Errorf("failed to swap current baseline pointer: %w", err)
	}

	logger.Info("Baseline published",
		zap.String("version", version),
		zap.Int("features", len(b.Features)),
	)
	return nil
}

// LoadCurrent follows the current pointer and returns the baseline it names.
func (s *Store) LoadCurrent(ctx context.Context) (*dataset.FeatureBaseline, string, error) {
	version, err := s.client.Get(ctx, currentKey).Result()
	if err == redis.Nil {
		return nil, "", ErrNoBaseline
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read current baseline pointer: %w", err)
	}

	data, err := s.client.Get(ctx, fmt.Sprintf(versionKeyFmt, version)).Bytes()
	if err == redis.Nil {
		return nil, "", fmt.Errorf("baseline %s referenced by pointer is missing", version)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read baseline %s: %w", version, err)
	}

	var b dataset.FeatureBaseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal baseline %s: %w", version, err)
	}

	return &b, version, nil
}
