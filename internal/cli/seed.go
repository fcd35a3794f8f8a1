package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/store"
)

// seedFile is a YAML fixture of raw events and the entities extracted from them.
type seedFile struct {
	Events []struct {
		ID      string `yaml:"id"`
		Content string `yaml:"content"`
	} `yaml:"events"`
	Entities []graph.Entity `yaml:"entities"`
}

var seedCmd = &cobra.Command{
	Use:   "seed [file.yaml]",
	Short: "Load events and entities from a YAML fixture",
	Long:  "Load events and entities from a YAML fixture. Existing entities with the same id are replaced.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	seed, err := loadSeed(f)
	if err != nil {
		return err
	}

	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := applySeed(ctx, db, seed); err != nil {
		return err
	}
	fmt.Printf("Seeded %d events and %d entities into %s\n", len(seed.Events), len(seed.Entities), db.Path)
	return nil
}

func loadSeed(r io.Reader) (*seedFile, error) {
	var seed seedFile
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for i, e := range seed.Entities {
		if e.ID == "" || e.Type == "" {
			return nil, fmt.Errorf("seed entity %d: id and type are required", i)
		}
		// Unquoted YAML dates may decode as time.Time.
		for k, v := range e.Metadata {
			if t, ok := v.(time.Time); ok {
				e.Metadata[k] = t.Format("2006-01-02")
			}
		}
	}
	return &seed, nil
}

func applySeed(ctx context.Context, db *store.DB, seed *seedFile) error {
	for _, ev := range seed.Events {
		if err := db.SaveEvent(ctx, ev.ID, ev.Content); err != nil {
			return err
		}
	}
	for i := range seed.Entities {
		if err := db.CreateEntity(ctx, &seed.Entities[i]); err != nil {
			return err
		}
	}
	return nil
}
