package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all synapse configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Engine    EngineConfig    `yaml:"engine"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Provider     string  `yaml:"provider"` // "claude-cli", "anthropic", "ollama"
	Model        string  `yaml:"model"`
	OllamaURL    string  `yaml:"ollama_url"`
	OllamaModel  string  `yaml:"ollama_model"` // e.g. "llama3.2"
	AnthropicKey string  `yaml:"anthropic_key"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`

	// Per-call timeout and retry budget for model calls.
	CallTimeout  time.Duration `yaml:"call_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "ollama", "tfidf"
	OllamaURL string `yaml:"ollama_url"`
	Model     string `yaml:"model"` // e.g. "nomic-embed-text"

	// Per-call timeout and retry budget for embedding calls.
	CallTimeout  time.Duration `yaml:"call_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// EngineConfig tunes the relationship engine.
type EngineConfig struct {
	MinConfidence       float64       `yaml:"min_confidence"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	DuplicateThreshold  float64       `yaml:"duplicate_threshold"`
	DecayFactor         float64       `yaml:"decay_factor"`
	PruneThreshold      float64       `yaml:"prune_threshold"`
	RecentWindow        int           `yaml:"recent_window"`         // entities merged into Incremental runs
	SemanticMaxEntities int           `yaml:"semantic_max_entities"` // entities per model prompt
	NightlyLookback     time.Duration `yaml:"nightly_lookback"`
	Concurrency         int           `yaml:"concurrency"` // strategies run at once in Nightly
	OnDemandScoped      bool          `yaml:"on_demand_scoped"`
}

type ScheduleConfig struct {
	Enabled bool `yaml:"enabled"`
	Hour    int  `yaml:"hour"` // local hour of the daily Nightly run
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider:     "claude-cli",
			Model:        "haiku",
			MaxTokens:    8192,
			Temperature:  0.3,
			CallTimeout:  120 * time.Second,
			MaxAttempts:  3,
			RetryBackoff: 2 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:     "tfidf",
			CallTimeout:  60 * time.Second,
			MaxAttempts:  3,
			RetryBackoff: time.Second,
		},
		Engine: EngineConfig{
			MinConfidence:       0.5,
			SimilarityThreshold: 0.75,
			DuplicateThreshold:  0.95,
			DecayFactor:         0.99,
			PruneThreshold:      0.1,
			RecentWindow:        50,
			SemanticMaxEntities: 20,
			NightlyLookback:     24 * time.Hour,
			Concurrency:         5,
		},
		Schedule: ScheduleConfig{
			Enabled: true,
			Hour:    3,
		},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. Unknown keys are an error. An empty path means defaults plus env.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("SYNAPSE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.AnthropicKey == "" {
		c.LLM.AnthropicKey = key
	}
	if p := os.Getenv("SYNAPSE_DB"); p != "" {
		c.Database.Path = p
	}
}

// Validate checks that engine tuning values are in range.
func (c *Config) Validate() error {
	e := c.Engine
	if e.DecayFactor <= 0 || e.DecayFactor >= 1 {
		return fmt.Errorf("engine.decay_factor must be in (0, 1), got %v", e.DecayFactor)
	}
	if e.MinConfidence < 0 || e.MinConfidence > 1 {
		return fmt.Errorf("engine.min_confidence must be in [0, 1], got %v", e.MinConfidence)
	}
	if e.SimilarityThreshold < 0 || e.SimilarityThreshold > 1 {
		return fmt.Errorf("engine.similarity_threshold must be in [0, 1], got %v", e.SimilarityThreshold)
	}
	if e.PruneThreshold < 0 {
		return fmt.Errorf("engine.prune_threshold must be >= 0, got %v", e.PruneThreshold)
	}
	if e.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be >= 1, got %d", e.Concurrency)
	}
	if c.Schedule.Hour < 0 || c.Schedule.Hour > 23 {
		return fmt.Errorf("schedule.hour must be in [0, 23], got %d", c.Schedule.Hour)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
