// Command gaptracker tracks temporal coverage gaps in science data
// collections: it registers collections, maintains their gap sets from
// granule events, and serves gap queries and reports.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/podaac/gaptracker/internal/telemetry"
)

var (
	rootCtx    context.Context
	rootCancel context.CancelFunc

	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:           "gaptracker",
	Short:         "Track temporal coverage gaps in science data collections",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verboseFlag {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	shutdown, err := telemetry.Init(rootCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: telemetry init: %v\n", err)
		os.Exit(1)
	}
	if shutdown != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
