// Package config loads service configuration from a YAML file with
// environment overrides for deployment-specific values and secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     Server     `yaml:"server"`
	Session    Session    `yaml:"session"`
	Graph      Graph      `yaml:"graph"`
	Generation Generation `yaml:"generation"`
	Workflow   Workflow   `yaml:"workflow"`
}

type Server struct {
	Addr string `yaml:"addr" validate:"required"`
}

type Session struct {
	Path string `yaml:"path" validate:"required"`
}

type Graph struct {
	URI      string `yaml:"uri" validate:"required,uri"`
	Database string `yaml:"database" validate:"required"`
}

type Generation struct {
	APIKey            string        `yaml:"api_key" validate:"required"`
	Model             string        `yaml:"model" validate:"required"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gt=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
}

type Workflow struct {
	MaxConcurrentStories int `yaml:"max_concurrent_stories" validate:"gt=0"`
	MaxRetries           int `yaml:"max_retries" validate:"gte=0"`
	LogWindow            int `yaml:"log_window" validate:"gt=0"`
}

func defaults() Config {
	return Config{
		Server:  Server{Addr: ":8080"},
		Session: Session{Path: "loom.db"},
		Graph: Graph{
			URI:      "mongodb://localhost:27017",
			Database: "loom",
		},
		Generation: Generation{
			Model:             "gemini-2.0-flash",
			RequestsPerMinute: 30,
			Timeout:           2 * time.Minute,
		},
		Workflow: Workflow{
			MaxConcurrentStories: 8,
			MaxRetries:           3,
			LogWindow:            25,
		},
	}
}

// Load reads path (optional), applies environment overrides, and validates.
// A .env file in the working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LOOM_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOOM_SESSION_PATH"); v != "" {
		cfg.Session.Path = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Graph.URI = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		cfg.Graph.Database = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Generation.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv("LOOM_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workflow.MaxConcurrentStories = n
		}
	}
}
