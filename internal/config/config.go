// Package config loads the server configuration: a YAML file with
// environment-variable overrides, read once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	API struct {
		Port int `yaml:"port"`
	} `yaml:"api"`

	World struct {
		Seed      int64 `yaml:"seed"`
		MapWidth  int   `yaml:"mapWidth"`
		MapHeight int   `yaml:"mapHeight"`
	} `yaml:"world"`

	LLM struct {
		Model           string `yaml:"model"`
		EmbeddingsModel string `yaml:"embeddingsModel"`
		EmbeddingsURL   string `yaml:"embeddingsUrl"`
	} `yaml:"llm"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// Secrets come from the environment only, never from the file.
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.Database.Path = "data/aitown.db"
	cfg.API.Port = 8080
	cfg.World.MapWidth = 64
	cfg.World.MapHeight = 48
	cfg.LLM.EmbeddingsModel = "text-embedding-3-small"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads the config file (optional) and applies environment
// overrides. The Anthropic API key is required: the agents cannot talk
// without it, so its absence is a startup error with remediation advice.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("AITOWN_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("AITOWN_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid AITOWN_API_PORT %q: %w", v, err)
		}
		cfg.API.Port = port
	}
	if v := os.Getenv("AITOWN_WORLD_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid AITOWN_WORLD_SEED %q: %w", v, err)
		}
		cfg.World.Seed = seed
	}
	if v := os.Getenv("AITOWN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.AnthropicAPIKey == "" {
		return cfg, fmt.Errorf("ANTHROPIC_API_KEY is not set; export it " +
			"(e.g. export ANTHROPIC_API_KEY=sk-ant-...) before starting the town")
	}
	return cfg, nil
}
