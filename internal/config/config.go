package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ModelConfig mirrors the config.json shipped next to the weight artifact.
type ModelConfig struct {
	ImgSize int       `json:"img_size"`
	Mean    []float64 `json:"mean"`
	Std     []float64 `json:"std"`
	Classes []string  `json:"classes"`
}

// LoadModelConfig reads and validates the model configuration file.
func LoadModelConfig(path string) (*ModelConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model config: %w", err)
	}

	var cfg ModelConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse model config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the constraints the pipeline depends on.
func (c *ModelConfig) Validate() error {
	if c.ImgSize <= 0 {
		return fmt.Errorf("img_size must be positive, got %d", c.ImgSize)
	}
	if len(c.Mean) != 3 {
		return fmt.Errorf("mean must have 3 elements, got %d", len(c.Mean))
	}
	if len(c.Std) != 3 {
		return fmt.Errorf("std must have 3 elements, got %d", len(c.Std))
	}
	for i, s := range c.Std {
		if s == 0 {
			return fmt.Errorf("std[%d] must be non-zero", i)
		}
	}
	if len(c.Classes) == 0 {
		return fmt.Errorf("classes must not be empty")
	}
	return nil
}

// ServiceConfig holds process-level settings read from the environment.
type ServiceConfig struct {
	Port        string
	ModelDir    string
	ResultsDir  string
	CORSOrigins []string
	LogLevel    string
	LogFile     string
}

// LoadService reads service settings from the environment. A .env file is
// loaded first if present.
func LoadService() *ServiceConfig {
	_ = godotenv.Load()

	origins := strings.Split(getEnv("CORS_ORIGIN", "http://localhost:5173,http://localhost:3000"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return &ServiceConfig{
		Port:        getEnv("PORT", "8000"),
		ModelDir:    getEnv("MODEL_DIR", "models"),
		ResultsDir:  getEnv("RESULTS_DIR", "results"),
		CORSOrigins: origins,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
