package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	mcpserver "github.com/lazypower/synapse/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the engine as MCP tools over stdio",
	Long:  "Serve run_incremental, run_nightly, run_on_demand and list_edges over stdio. Stdout carries the protocol; status goes to stderr.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eng := buildEngine(cfg, db)
	defer eng.Stop()

	fmt.Fprintf(os.Stderr, "synapse mcp on stdio (db: %s)\n", db.Path)
	return mcpserver.New(db, eng, VersionString()).Run(ctx, &mcp.StdioTransport{})
}
