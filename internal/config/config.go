// Package config loads service configuration from the environment, with an
// optional YAML overlay for pipeline tuning.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	AIAPIKey   string
	EmbedModel string
	EmbedDim   int
	GenModel   string

	JWTSecret     string
	Port          string
	DeadLetterDir string

	Pipeline PipelineConfig
}

// PipelineConfig tunes the ingestion and query paths. It is the YAML-overlay
// part of the configuration; everything here has a working default.
type PipelineConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	EmbedConcurrency int `yaml:"embed_concurrency"`
	EmbedBatchSize   int `yaml:"embed_batch_size"`

	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	RetryAttempts  int `yaml:"retry_attempts"`
	RetryBaseSecs  int `yaml:"retry_base_secs"`
	RetryEmbedSecs int `yaml:"retry_embed_secs"`

	QueryK           int `yaml:"query_k"`
	HistoryLimit     int `yaml:"history_limit"`
	QueryTimeoutSecs int `yaml:"query_timeout_secs"`
	ExcerptChars     int `yaml:"excerpt_chars"`
}

func defaultPipeline() PipelineConfig {
	return PipelineConfig{
		ChunkSize:        1000,
		ChunkOverlap:     200,
		EmbedConcurrency: 10,
		EmbedBatchSize:   16,
		Workers:          4,
		QueueSize:        64,
		RetryAttempts:    3,
		RetryBaseSecs:    2,
		RetryEmbedSecs:   5,
		QueryK:           5,
		HistoryLimit:     10,
		QueryTimeoutSecs: 30,
		ExcerptChars:     400,
	}
}

// LoadConfig reads the environment (after loading a .env file if present)
// and applies the YAML overlay named by CONFIG_PATH, defaulting to
// config.yaml when that file exists.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		AwsAccessKey:  getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:  getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:     getEnv("AWS_REGION", "ap-southeast-2"),
		BucketName:    getEnv("BUCKET_NAME", "strataline-docs"),
		AIAPIKey:      getEnv("GEMINI_API_KEY", ""),
		EmbedModel:    getEnv("EMBED_MODEL", "gemini-embedding-001"),
		EmbedDim:      getEnvInt("EMBED_DIM", 768),
		GenModel:      getEnv("GEN_MODEL", "gemini-1.5-flash"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		Port:          getEnv("PORT", "8080"),
		DeadLetterDir: getEnv("DEAD_LETTER_DIR", "data/deadletter"),
		Pipeline:      defaultPipeline(),
	}

	path := getEnv("CONFIG_PATH", "config.yaml")
	if err := loadOverlay(path, &cfg.Pipeline); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET not set")
	}
	return cfg, nil
}

// loadOverlay merges a YAML file over the pipeline defaults. A missing file
// is not an error; zero values in the file keep their defaults.
func loadOverlay(path string, p *PipelineConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var overlay PipelineConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	merge(p, overlay)
	return nil
}

func merge(dst *PipelineConfig, src PipelineConfig) {
	set := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	set(&dst.ChunkSize, src.ChunkSize)
	set(&dst.ChunkOverlap, src.ChunkOverlap)
	set(&dst.EmbedConcurrency, src.EmbedConcurrency)
	set(&dst.EmbedBatchSize, src.EmbedBatchSize)
	set(&dst.Workers, src.Workers)
	set(&dst.QueueSize, src.QueueSize)
	set(&dst.RetryAttempts, src.RetryAttempts)
	set(&dst.RetryBaseSecs, src.RetryBaseSecs)
	set(&dst.RetryEmbedSecs, src.RetryEmbedSecs)
	set(&dst.QueryK, src.QueryK)
	set(&dst.HistoryLimit, src.HistoryLimit)
	set(&dst.QueryTimeoutSecs, src.QueryTimeoutSecs)
	set(&dst.ExcerptChars, src.ExcerptChars)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
