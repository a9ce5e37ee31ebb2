package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "edukg/backend/pkg/errors"
)

// Store backends
const (
	StoreNeo4j  = "neo4j"
	StoreMemory = "memory"
)

// Merge modes
const (
	MergeBinary       = "binary"
	MergeIntersection = "intersection"
)

// Config holds all application configuration. It is built once by Load and
// handed to every component that needs it.
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Graph store
	StoreBackend  string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// AI
	LiteLLMURL     string
	ModelID        string
	APIKey         string
	EmbeddingModel string

	// Paths
	ProcessedDir         string // processed course exports (contains courses/) and mastery tables
	TriplesDir           string // nodes.csv, edges.csv, triples.csv, edutriples.csv, prerequisites, LTI export
	ExportDir            string // recommendations.csv, final_recommendations.csv
	DataDir              string // competencies, skill mapping, cached domain classification
	ModuleEmbeddingsFile string // optional {module_id: [floats]} source

	// Recommendation
	SemanticMinScore       float64
	TopK                   int
	MergeMode              string
	MinDescriptionLength   int
	DescriptionMaxLength   int
	ValidationTimeout      time.Duration
	PrereqMasteryThreshold float64
	InsufficientMastery    float64
	Workers                int

	// Sync
	AutoSyncInterval time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", ""),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", StoreNeo4j)),
		Neo4jURI:      getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", ""),

		LiteLLMURL:     getEnv("LITELLM_URL", "http://localhost:4000"),
		ModelID:        getEnv("MODEL_ID", "gpt-4o-mini"),
		APIKey:         getEnv("OPENAI_API_KEY", ""),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", ""),

		ProcessedDir:         getEnv("KG_PROCESSED_DIR", "data/processed"),
		TriplesDir:           getEnv("KG_OUT_DIR", "data/triples"),
		ExportDir:            getEnv("EXPORT_DIR", "data/exports"),
		DataDir:              getEnv("DATA_DIR", "data"),
		ModuleEmbeddingsFile: getEnv("MODULE_EMBEDDINGS_FILE", ""),

		SemanticMinScore:       getEnvFloat("SEMANTIC_MIN_SCORE", 8.0),
		TopK:                   getEnvInt("RECOMMEND_TOPK", 5),
		MergeMode:              strings.ToLower(getEnv("MERGE_MODE", MergeBinary)),
		MinDescriptionLength:   getEnvInt("MIN_DESCRIPTION_LENGTH", 20),
		DescriptionMaxLength:   getEnvInt("DESCRIPTION_MAX_LENGTH", 300),
		ValidationTimeout:      getEnvDuration("VALIDATION_TIMEOUT", 30*time.Second),
		PrereqMasteryThreshold: getEnvFloat("PREREQ_MASTERY_THRESHOLD", 0),
		InsufficientMastery:    getEnvFloat("INSUFFICIENT_MASTERY", 0.5),
		Workers:                getEnvInt("RECOMMEND_WORKERS", 4),

		AutoSyncInterval: getEnvDuration("AUTO_SYNC_INTERVAL", 2*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied and no
// environment lookups. Useful for tests and the in-memory backend.
func Default() *Config {
	return &Config{
		Port:                   "8080",
		Env:                    "development",
		StoreBackend:           StoreMemory,
		LiteLLMURL:             "http://localhost:4000",
		ModelID:                "gpt-4o-mini",
		ProcessedDir:           "data/processed",
		TriplesDir:             "data/triples",
		ExportDir:              "data/exports",
		DataDir:                "data",
		SemanticMinScore:       8.0,
		TopK:                   5,
		MergeMode:              MergeBinary,
		MinDescriptionLength:   20,
		DescriptionMaxLength:   300,
		ValidationTimeout:      30 * time.Second,
		InsufficientMastery:    0.5,
		Workers:                4,
		AutoSyncInterval:       2 * time.Hour,
		PrereqMasteryThreshold: 0,
	}
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	case StoreMemory:
	default:
		return apperrors.NewConfigValidationFailed("STORE_BACKEND", fmt.Sprintf("unknown backend %q", c.StoreBackend))
	}
	switch c.MergeMode {
	case MergeBinary:
		if c.LiteLLMURL == "" {
			return apperrors.NewConfigMissingRequired("LITELLM_URL")
		}
		if c.ModelID == "" {
			return apperrors.NewConfigMissingRequired("MODEL_ID")
		}
	case MergeIntersection:
	default:
		return apperrors.NewConfigValidationFailed("MERGE_MODE", fmt.Sprintf("unknown mode %q", c.MergeMode))
	}
	if c.TopK < 1 {
		return apperrors.NewConfigValidationFailed("RECOMMEND_TOPK", "must be at least 1")
	}
	if c.Workers < 1 {
		return apperrors.NewConfigValidationFailed("RECOMMEND_WORKERS", "must be at least 1")
	}
	if c.SemanticMinScore < 0 || c.SemanticMinScore > 10 {
		return apperrors.NewConfigValidationFailed("SEMANTIC_MIN_SCORE", "must be within [0, 10]")
	}
	if c.ValidationTimeout <= 0 {
		return apperrors.NewConfigValidationFailed("VALIDATION_TIMEOUT", "must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CoursesDir is the root of the processed course tree.
func (c *Config) CoursesDir() string {
	return filepath.Join(c.ProcessedDir, "courses")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
