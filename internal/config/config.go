package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvloznov/statement-importer/internal/breaker"
	"github.com/dvloznov/statement-importer/internal/extraction"
	"github.com/dvloznov/statement-importer/internal/sizer"
	"github.com/dvloznov/statement-importer/internal/validator"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreBigQuery = "bigquery"
	StorePostgres = "postgres"
)

// Config holds all service configuration.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Store      StoreConfig
	Storage    StorageConfig
	Gemini     GeminiConfig
	Auth       AuthConfig
	Pipeline   PipelineConfig
	Breaker    breaker.Config
	Sizer      sizer.Config
	Extraction extraction.Config
	Validator  validator.Config
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig selects the relational store backend.
type StoreConfig struct {
	Backend         string
	BigQueryProject string
	BigQueryDataset string
	PostgresDSN     string
	PostgresMaxConn int32
}

type StorageConfig struct {
	Bucket string
}

type GeminiConfig struct {
	Model           string
	OCRModel        string
	MaxOutputTokens int32
	// Provider is "gemini" or "regex".
	Provider string
}

// AuthConfig controls how the caller's user id is resolved.
type AuthConfig struct {
	JWTSecret string
	// AllowHeader accepts X-User-ID without a token (local development).
	AllowHeader bool
}

type PipelineConfig struct {
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration
	LeaseTTL     time.Duration
	PollInterval time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	for _, f := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(f); err == nil {
			break
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Store: StoreConfig{
			Backend:         strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
			BigQueryProject: getEnv("BIGQUERY_PROJECT", ""),
			BigQueryDataset: getEnv("BIGQUERY_DATASET", "imports"),
			PostgresDSN:     getEnv("DATABASE_URL", ""),
			PostgresMaxConn: int32(getEnvAsInt("DATABASE_MAX_CONNS", 10)),
		},
		Storage: StorageConfig{
			Bucket: getEnv("GCS_BUCKET", ""),
		},
		Gemini: GeminiConfig{
			Model:           getEnv("GEMINI_MODEL", extraction.DefaultModelName),
			OCRModel:        getEnv("GEMINI_OCR_MODEL", extraction.DefaultModelName),
			MaxOutputTokens: int32(getEnvAsInt("GEMINI_MAX_OUTPUT_TOKENS", 8192)),
			Provider:        strings.ToLower(getEnv("EXTRACTION_PROVIDER", "gemini")),
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("AUTH_JWT_SECRET", ""),
			AllowHeader: getEnvAsBool("AUTH_ALLOW_HEADER", true),
		},
		Pipeline: PipelineConfig{
			Workers:      getEnvAsInt("PIPELINE_WORKERS", 5),
			QueueSize:    getEnvAsInt("PIPELINE_QUEUE_SIZE", 100),
			JobTimeout:   getEnvAsDuration("PIPELINE_JOB_TIMEOUT", 10*time.Minute),
			LeaseTTL:     getEnvAsDuration("PIPELINE_LEASE_TTL", 15*time.Minute),
			PollInterval: getEnvAsDuration("PIPELINE_POLL_INTERVAL", 10*time.Second),
		},
		Breaker:    loadBreaker(),
		Sizer:      loadSizer(),
		Validator:  loadValidator(),
		Extraction: loadExtraction(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBreaker() breaker.Config {
	d := breaker.DefaultConfig()
	return breaker.Config{
		Name:             getEnv("BREAKER_NAME", d.Name),
		FailureThreshold: uint32(getEnvAsInt("BREAKER_FAILURE_THRESHOLD", int(d.FailureThreshold))),
		Cooldown:         getEnvAsDuration("BREAKER_COOLDOWN", d.Cooldown),
		HalfOpenRequests: uint32(getEnvAsInt("BREAKER_HALF_OPEN_REQUESTS", int(d.HalfOpenRequests))),
	}
}

func loadSizer() sizer.Config {
	d := sizer.DefaultConfig()
	return sizer.Config{
		ChunkPageThreshold:  getEnvAsInt("SIZER_CHUNK_PAGES", d.ChunkPageThreshold),
		ChunkCharThreshold:  getEnvAsInt("SIZER_CHUNK_CHARS", d.ChunkCharThreshold),
		ChunkCountThreshold: getEnvAsInt("SIZER_CHUNK_ESTIMATE", d.ChunkCountThreshold),
		FilterCharThreshold: getEnvAsInt("SIZER_FILTER_CHARS", d.FilterCharThreshold),
		WindowSize:          getEnvAsInt("SIZER_WINDOW_SIZE", d.WindowSize),
		WindowOverlap:       getEnvAsInt("SIZER_WINDOW_OVERLAP", d.WindowOverlap),
	}
}

func loadValidator() validator.Config {
	d := validator.DefaultConfig()
	return validator.Config{
		OutflowMinOverlap:  getEnvAsFloat("VALIDATOR_OUTFLOW_MIN_OVERLAP", d.OutflowMinOverlap),
		OutflowHighOverlap: getEnvAsFloat("VALIDATOR_OUTFLOW_HIGH_OVERLAP", d.OutflowHighOverlap),
		InflowMinOverlap:   getEnvAsFloat("VALIDATOR_INFLOW_MIN_OVERLAP", d.InflowMinOverlap),
		DateWindowDays:     getEnvAsInt("VALIDATOR_DATE_WINDOW_DAYS", d.DateWindowDays),
	}
}

func loadExtraction() extraction.Config {
	d := extraction.DefaultConfig()
	return extraction.Config{
		MaxConcurrency: getEnvAsInt("EXTRACTION_MAX_CONCURRENCY", d.MaxConcurrency),
		MaxOutputChars: getEnvAsInt("EXTRACTION_MAX_OUTPUT_CHARS", d.MaxOutputChars),
	}
}

// Validate checks backend-specific requirements.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StoreBigQuery:
		if c.Store.BigQueryProject == "" {
			return fmt.Errorf("config: BIGQUERY_PROJECT is required for the bigquery store")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Gemini.Provider != "gemini" && c.Gemini.Provider != "regex" {
		return fmt.Errorf("config: unknown EXTRACTION_PROVIDER %q", c.Gemini.Provider)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("config: PIPELINE_WORKERS must be positive")
	}
	if c.Pipeline.LeaseTTL <= c.Pipeline.JobTimeout {
		return fmt.Errorf("config: PIPELINE_LEASE_TTL must exceed PIPELINE_JOB_TIMEOUT")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
