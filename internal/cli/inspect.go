package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/store"
)

var (
	edgesEntityID string
	edgesKind     string
	edgesLimit    int
	runsLimit     int
)

var edgesCmd = &cobra.Command{
	Use:   "edges",
	Short: "List edges, heaviest first",
	RunE:  runEdges,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent engine runs",
	RunE:  runRuns,
}

func init() {
	edgesCmd.Flags().StringVar(&edgesEntityID, "entity-id", "", "Only edges touching this entity")
	edgesCmd.Flags().StringVarP(&edgesKind, "kind", "k", "", "Only edges of this kind")
	edgesCmd.Flags().IntVarP(&edgesLimit, "limit", "n", 50, "Maximum number of edges")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs")
}

func runEdges(cmd *cobra.Command, args []string) error {
	f := store.EdgeFilter{EntityID: edgesEntityID, Limit: edgesLimit}
	if edgesKind != "" {
		kind, err := graph.ParseKind(edgesKind)
		if err != nil {
			return err
		}
		f.Kind = kind
	}

	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	edges, err := db.ListEdges(ctx, f)
	if err != nil {
		return fmt.Errorf("list edges: %w", err)
	}
	if len(edges) == 0 {
		fmt.Println("No edges found.")
		return nil
	}

	for _, e := range edges {
		fmt.Printf("%s  [w=%.3f c=%.2f]\n", e.Triple(), e.Weight, e.Confidence)
		if e.Description != "" {
			fmt.Printf("   %s\n", e.Description)
		}
		if e.StartDate != nil || e.EndDate != nil {
			fmt.Printf("   %s .. %s\n", deref(e.StartDate, "?"), deref(e.EndDate, "present"))
		}
		fmt.Printf("   strategy: %s, reinforced %d times, last %s\n",
			e.Metadata.String(graph.MetaSourceStrategy), e.ReinforcementCount(),
			e.LastReinforcedAt.Format(time.RFC3339))
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runs, err := db.RecentRuns(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	for _, r := range runs {
		started := time.UnixMilli(r.StartedAt)
		took := "running"
		if r.EndedAt != nil {
			took = time.UnixMilli(*r.EndedAt).Sub(started).Round(time.Millisecond).String()
		}
		fmt.Printf("%s  %-11s %-9s %s  (%s)\n", r.ID[:8], r.Mode, r.Status, started.Format("2006-01-02 15:04:05"), took)
		fmt.Printf("   created %d, updated %d, pruned %d, entities %d\n",
			r.EdgesCreated, r.EdgesUpdated, r.EdgesPruned, r.EntitiesAnalyzed)
		if r.Error != "" {
			fmt.Printf("   error: %s\n", r.Error)
		}
	}
	return nil
}

func deref(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
