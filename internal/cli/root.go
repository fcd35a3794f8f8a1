package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/synapse/internal/config"
	"github.com/lazypower/synapse/internal/engine"
	"github.com/lazypower/synapse/internal/llm"
	"github.com/lazypower/synapse/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "synapse",
	Short:        "Relationship engine for a personal knowledge graph",
	Long:         "Synapse discovers, reinforces, decays and prunes typed edges between the entities of a knowledge graph.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default $SYNAPSE_CONFIG)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(edgesCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(mcpCmd)
}

// openDB loads the config and opens the database it names.
func openDB() (config.Config, *store.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return cfg, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, db, nil
}

// buildEngine wires the language model and embedder into a new Engine.
// A missing language model is not fatal: the semantic strategy then reports
// itself as failed on every run.
func buildEngine(cfg config.Config, db *store.DB) *engine.Engine {
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), semantic detection disabled\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	eng := engine.New(db, client, cfg.Engine)
	eng.SetEmbedder(buildEmbedder(cfg.Embedding))
	return eng
}

// buildEmbedder picks Ollama when configured and reachable, else TF-IDF.
// The TF-IDF vocabulary starts empty; the engine fits it on the graph before
// every similarity pass.
func buildEmbedder(cfg config.EmbeddingConfig) engine.Embedder {
	if cfg.Provider == "ollama" {
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		if engine.ProbeOllama(url, model) {
			fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", model)
			return &engine.RetryingEmbedder{
				Embedder: engine.NewOllamaEmbedder(url, model, 768),
				Policy: llm.RetryPolicy{
					Attempts: cfg.MaxAttempts,
					Backoff:  cfg.RetryBackoff,
					Timeout:  cfg.CallTimeout,
				},
			}
		}
		fmt.Fprintf(os.Stderr, "warning: ollama not reachable at %s, falling back to tfidf\n", url)
	}

	fmt.Fprintln(os.Stderr, "  embedder: tfidf")
	return engine.NewTFIDFEmbedder(nil, 512)
}
