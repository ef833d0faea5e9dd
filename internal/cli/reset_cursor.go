package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/control"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [source] [block_height]",
	Short: "Reset the cursor of an event source to a given block height",
	Long: `Reset the cursor of an event source. Sources are named <contract>:<kind>;
run "indexer status" to list them. The next tick reads from block_height+1.`,
	Args: cobra.ExactArgs(2),
	Run:  runResetCursor,
}

func init() {
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	source := args[0]
	height, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid block height: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	if sources := control.SourceNames(cfg); !slices.Contains(sources, source) {
		fmt.Printf("Unknown source %q, expected one of %v\n", source, sources)
		os.Exit(1)
	}

	ctx := context.Background()
	cursors, closeDB, err := control.OpenCursors(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open cursors", "error", err)
		os.Exit(1)
	}
	defer closeDB()

	if err := cursors.Reset(ctx, source, height); err != nil {
		slog.Error("Failed to reset cursor", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset cursor for %s to block %d\n", source, height)
}
