package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Pipeline   PipelineConfig
	Quality    QualityConfig
	Features   FeaturesConfig
	Versioning VersioningConfig
	Redis      RedisConfig
	Ledger     LedgerConfig
	Tracking   TrackingConfig
	Drift      DriftConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type PipelineConfig struct {
	InputPath string
}

type QualityConfig struct {
	MinRows          int
	NullRatioCeiling float64
	KeyColumns       []string
	RequiredColumns  []string
	Ranges           map[string][]float64
}

type FeaturesConfig struct {
	LagDepths    []int
	MeanWindows  map[string]string
	CountWindows map[string]string
	StdWindows   map[string]string
	ActiveBands  []BandConfig
}

type BandConfig struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

type VersioningConfig struct {
	KeyPrefix string
	Local     LocalSinkConfig
	Minio     MinioSinkConfig
}

type LocalSinkConfig struct {
	Enabled bool
	Dir     string
}

type MinioSinkConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LedgerConfig struct {
	Path string
}

type TrackingConfig struct {
	Enabled    bool
	URL        string
	TimeoutSec int
}

type DriftConfig struct {
	K          float64
	WindowSize int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/quakewatch")

	viper.SetEnvPrefix("QUAKEWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("pipeline.inputPath", "./data/raw/earthquakes_combined.geojson")

	viper.SetDefault("quality.minRows", 100)
	viper.SetDefault("quality.nullRatioCeiling", 0.01)
	viper.SetDefault("quality.keyColumns", []string{"magnitude", "time", "longitude", "latitude"})
	viper.SetDefault("quality.requiredColumns", []string{"magnitude", "time", "longitude", "latitude"})
	viper.SetDefault("quality.ranges", map[string][]float64{
		"magnitude": {0, 10},
		"latitude":  {-90, 90},
		"longitude": {-180, 180},
	})

	viper.SetDefault("features.lagDepths", []int{1, 2, 3})
	viper.SetDefault("features.meanWindows", map[string]string{
		"24h": "24h",
		"7d":  "168h",
		"30d": "720h",
	})
	viper.SetDefault("features.countWindows", map[string]string{
		"24h": "24h",
		"7d":  "168h",
	})
	viper.SetDefault("features.stdWindows", map[string]string{
		"24h": "24h",
	})

	viper.SetDefault("versioning.keyPrefix", "features")
	viper.SetDefault("versioning.local.enabled", true)
	viper.SetDefault("versioning.local.dir", "./data/versioned")
	viper.SetDefault("versioning.minio.enabled", false)
	viper.SetDefault("versioning.minio.endpoint", "localhost:9000")
	viper.SetDefault("versioning.minio.bucket", "earthquake-data")
	viper.SetDefault("versioning.minio.region", "us-east-1")
	viper.SetDefault("versioning.minio.useSSL", false)

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("ledger.path", "./data/quakewatch.db")

	viper.SetDefault("tracking.enabled", false)
	viper.SetDefault("tracking.url", "http://localhost:5000/api/runs")
	viper.SetDefault("tracking.timeoutSec", 10)

	viper.SetDefault("drift.k", 3.0)
	viper.SetDefault("drift.windowSize", 1000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
