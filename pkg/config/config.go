// Package config loads and validates configuration from YAML files with
// environment-variable overrides. It provides typed structs for the search
// core (Search, Spatial, Pivot, Pool) and for the external systems the CLI
// talks to (Postgres, Kafka, Redis, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Search   SearchConfig   `yaml:"search"`
	Spatial  SpatialConfig  `yaml:"spatial"`
	Pivot    PivotConfig    `yaml:"pivot"`
	Pool     PoolConfig     `yaml:"pool"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// SearchConfig holds the per-query knobs shared by every attribute search.
// CandidatePool is the M of a top-k request and must be at least TopK.
type SearchConfig struct {
	TopK          int           `yaml:"topK"`
	CandidatePool int           `yaml:"candidatePool"`
	Decay         float64       `yaml:"decay"`
	BatchSize     int           `yaml:"batchSize"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	Timeout       time.Duration `yaml:"timeout"`
}

// SpatialConfig controls bounding-volume tree construction.
type SpatialConfig struct {
	Fanout int `yaml:"fanout"`
}

// PivotConfig controls pivot selection and scale estimation for the
// multi-metric index.
type PivotConfig struct {
	PivotsPerAttribute int     `yaml:"pivotsPerAttribute"`
	NaNDistance        float64 `yaml:"nanDistance"`
	Seed               int64   `yaml:"seed"`
	Scaling            string  `yaml:"scaling"`
}

// PoolConfig sizes the worker pool that runs attribute tasks.
type PoolConfig struct {
	Size int `yaml:"size"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Emissions string `yaml:"emissions"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging per query.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config suitable for local development.
func Default() *Config {
	return &Config{
		Search: SearchConfig{
			TopK:          10,
			CandidatePool: 50,
			Decay:         0.01,
			BatchSize:     16,
			PollInterval:  0,
			Timeout:       30 * time.Second,
		},
		Spatial: SpatialConfig{
			Fanout: 16,
		},
		Pivot: PivotConfig{
			PivotsPerAttribute: 2,
			NaNDistance:        1.0,
			Seed:               1,
			Scaling:            "knn",
		},
		Pool: PoolConfig{
			Size: 8,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "simsearch",
			User:            "simsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "simsearch-tail",
			Topics: KafkaTopics{
				Emissions: "simsearch.emissions",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate checks the invariants the search packages rely on.
func (c *Config) Validate() error {
	s := c.Search
	switch {
	case s.TopK < 1:
		return apperrors.Newf(apperrors.ErrInvalidConfig, "", "search.topK must be positive, got %d", s.TopK)
	case s.CandidatePool < s.TopK:
		return apperrors.Newf(apperrors.ErrInvalidConfig, "", "search.candidatePool (%d) must be >= search.topK (%d)", s.CandidatePool, s.TopK)
	case s.Decay <= 0:
		return apperrors.Newf(apperrors.ErrInvalidConfig, "", "search.decay must be positive, got %g", s.Decay)
	case s.BatchSize < 1:
		return apperrors.Newf(apperrors.ErrInvalidConfig, "", "search.batchSize must be positive, got %d", s.BatchSize)
	case c.Spatial.Fanout < 2:
		return apperrors.Newf(apperrors.ErrInvalidConfig, "", "spatial.fanout must be >= 2, got %d", c.Spatial.Fanout)
	case c.Pivot.PivotsPerAttribute < 1:
		return apperrors.Newf(apperrors.ErrInvalidConfig, "", "pivot.pivotsPerAttribute must be positive, got %d", c.Pivot.PivotsPerAttribute)
	case c.Pivot.Scaling != "knn" && c.Pivot.Scaling != "maxrange":
		return apperrors.Newf(apperrors.ErrInvalidConfig, "", "pivot.scaling must be knn or maxrange, got %q", c.Pivot.Scaling)
	case c.Pool.Size < 1:
		return apperrors.Newf(apperrors.ErrInvalidConfig, "", "pool.size must be positive, got %d", c.Pool.Size)
	}
	return nil
}

// applyEnvOverrides reads SIMSEARCH_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIMSEARCH_TOPK"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Search.TopK = k
		}
	}
	if v := os.Getenv("SIMSEARCH_CANDIDATE_POOL"); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			cfg.Search.CandidatePool = m
		}
	}
	if v := os.Getenv("SIMSEARCH_DECAY"); v != "" {
		if d, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.Decay = d
		}
	}
	if v := os.Getenv("SIMSEARCH_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Size = n
		}
	}
	if v := os.Getenv("SIMSEARCH_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SIMSEARCH_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SIMSEARCH_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SIMSEARCH_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SIMSEARCH_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SIMSEARCH_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SIMSEARCH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SIMSEARCH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SIMSEARCH_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SIMSEARCH_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SIMSEARCH_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
