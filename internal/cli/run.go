package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lazypower/synapse/internal/engine"
)

var (
	runEventID   string
	runFullScan  bool
	runEntityIDs []string
	runAll       bool
	runScoped    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relationship engine once",
}

var runIncrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "Detect relationships among the entities of one event",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runEventID == "" {
			return fmt.Errorf("--event-id is required")
		}
		return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) (*engine.RunResult, error) {
			return eng.Incremental(ctx, runEventID)
		})
	},
}

var runNightlyCmd = &cobra.Command{
	Use:   "nightly",
	Short: "Run every strategy, then decay and prune",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) (*engine.RunResult, error) {
			return eng.Nightly(ctx, runFullScan)
		})
	},
}

var runOnDemandCmd = &cobra.Command{
	Use:   "on-demand",
	Short: "Run the engine for specific entities or the whole graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(runEntityIDs) == 0 && !runAll {
			return fmt.Errorf("--entity-ids or --all is required")
		}
		ids := runEntityIDs
		if runAll {
			ids = nil
		}
		req := engine.OnDemandRequest{EntityIDs: ids, Scoped: runScoped}
		return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) (*engine.RunResult, error) {
			return eng.OnDemand(ctx, req)
		})
	},
}

func init() {
	runIncrementalCmd.Flags().StringVar(&runEventID, "event-id", "", "Ingestion event whose entities are analyzed")
	runNightlyCmd.Flags().BoolVar(&runFullScan, "full-scan", false, "Analyze every entity instead of the lookback window")
	runOnDemandCmd.Flags().StringSliceVar(&runEntityIDs, "entity-ids", nil, "Entity ids to analyze (comma separated)")
	runOnDemandCmd.Flags().BoolVar(&runAll, "all", false, "Analyze the whole graph")
	runOnDemandCmd.Flags().BoolVar(&runScoped, "scoped", false, "Restrict detection to the given ids and skip decay and prune")

	runCmd.AddCommand(runIncrementalCmd)
	runCmd.AddCommand(runNightlyCmd)
	runCmd.AddCommand(runOnDemandCmd)
}

// withEngine opens the database, builds an engine, runs fn and prints the
// result as JSON. Failures print the error shape the HTTP API uses.
func withEngine(parent context.Context, fn func(context.Context, *engine.Engine) (*engine.RunResult, error)) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	eng := buildEngine(cfg, db)
	defer eng.Stop()

	res, err := fn(ctx, eng)
	if err != nil {
		printJSON(map[string]string{"status": "error", "error": err.Error()})
		return err
	}
	return printJSON(res)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
