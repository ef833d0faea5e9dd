package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cursor and lag of every event source",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	app, err := control.NewService(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize indexer", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	report := app.Health(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintf(w, "HEAD\t%d\t%s\n", report.Head, report.SystemStatus)
	_, _ = fmt.Fprintln(w, "SOURCE\tBLOCK\tLAG\tSTATUS")
	for _, source := range app.Sources() {
		sh := report.Sources[source]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", source, sh.Cursor, sh.BlockLag, sh.Status)
	}
	for name, state := range report.Components {
		_, _ = fmt.Fprintf(w, "%s\t%s\t\t\n", name, state)
	}
	_ = w.Flush()
}
