// Package config loads process configuration from the environment with an
// optional features.yaml overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the shared configuration for every passage process.
type Config struct {
	Port      int
	AdminPort int
	APIKey    string

	Postgres PostgresConfig
	Redis    RedisConfig
	Embedder EmbedderConfig
	Vector   VectorConfig
	Adapter  AdapterConfig
	Chunking ChunkingConfig
	Sync     SyncConfig
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN renders the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EmbedderConfig struct {
	BaseURL string
	Timeout time.Duration
	// Requests per second admitted to the model server; 0 disables pacing.
	RateLimit float64
}

// VectorConfig describes one or more vector store regions. The first region
// serves queries; persist workers each own one region.
type VectorConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Regions map[string]string // queue name -> base URL
}

type AdapterConfig struct {
	// UseDB persists adapter weights in the document store instead of files.
	UseDB       bool
	StoragePath string
}

// ChunkingConfig carries process-wide chunking defaults; collections override
// them per their settings.
type ChunkingConfig struct {
	DefaultChunkSize    int
	DefaultChunkOverlap int
	MinChunkSize        int
	SemanticMaxInput    int // above this many chars semantic downgrades to recursive
}

type SyncConfig struct {
	Interval time.Duration
}

// Load builds the configuration from the environment, overlaying an optional
// features.yaml named by CONFIG_PATH.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      envInt("PORT", 8080),
		AdminPort: envInt("ADMIN_PORT", 8081),
		APIKey:    os.Getenv("API_KEY"),
		Postgres: PostgresConfig{
			Host:     envStr("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			User:     envStr("POSTGRES_USER", "passage"),
			Password: envStr("POSTGRES_PASSWORD", "passage"),
			Database: envStr("POSTGRES_DB", "passage"),
			SSLMode:  envStr("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     envStr("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Embedder: EmbedderConfig{
			BaseURL:   envStr("EMBEDDER_URL", "http://localhost:8000"),
			Timeout:   envDuration("EMBEDDER_TIMEOUT", 30*time.Second),
			RateLimit: envFloat("EMBEDDER_RATE_LIMIT", 0),
		},
		Vector: VectorConfig{
			URL:     envStr("QDRANT_URL", "http://localhost:6333"),
			APIKey:  os.Getenv("QDRANT_API_KEY"),
			Timeout: envDuration("QDRANT_TIMEOUT", 10*time.Second),
			Regions: map[string]string{
				"qdrant-usa-sync":   envStr("QDRANT_USA_URL", envStr("QDRANT_URL", "http://localhost:6333")),
				"qdrant-india-sync": envStr("QDRANT_INDIA_URL", envStr("QDRANT_URL", "http://localhost:6333")),
			},
		},
		Adapter: AdapterConfig{
			UseDB:       envBool("ADAPTER_USE_DB", false),
			StoragePath: envStr("ADAPTER_STORAGE_PATH", "./adapters"),
		},
		Chunking: ChunkingConfig{
			DefaultChunkSize:    envInt("CHUNK_SIZE", 1000),
			DefaultChunkOverlap: envInt("CHUNK_OVERLAP", 100),
			MinChunkSize:        envInt("MIN_CHUNK_SIZE", 100),
			SemanticMaxInput:    envInt("SEMANTIC_MAX_INPUT", 10000),
		},
		Sync: SyncConfig{
			Interval: envDuration("SYNC_INTERVAL", time.Hour),
		},
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// features captures the optional yaml overlay. Only knobs that operators
// actually tune live here; everything else stays env-only.
type features struct {
	Chunking struct {
		ChunkSize        int `mapstructure:"chunk_size"`
		ChunkOverlap     int `mapstructure:"chunk_overlap"`
		MinChunkSize     int `mapstructure:"min_chunk_size"`
		SemanticMaxInput int `mapstructure:"semantic_max_input"`
	} `mapstructure:"chunking"`
	Sync struct {
		IntervalMinutes int `mapstructure:"interval_minutes"`
	} `mapstructure:"sync"`
}

func (c *Config) overlayFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var f features
	if err := v.Unmarshal(&f); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if f.Chunking.ChunkSize > 0 {
		c.Chunking.DefaultChunkSize = f.Chunking.ChunkSize
	}
	if f.Chunking.ChunkOverlap > 0 {
		c.Chunking.DefaultChunkOverlap = f.Chunking.ChunkOverlap
	}
	if f.Chunking.MinChunkSize > 0 {
		c.Chunking.MinChunkSize = f.Chunking.MinChunkSize
	}
	if f.Chunking.SemanticMaxInput > 0 {
		c.Chunking.SemanticMaxInput = f.Chunking.SemanticMaxInput
	}
	if f.Sync.IntervalMinutes > 0 {
		c.Sync.Interval = time.Duration(f.Sync.IntervalMinutes) * time.Minute
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
