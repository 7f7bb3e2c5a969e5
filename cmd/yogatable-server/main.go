// Command yogatable-server is the dispatcher-level CLI wrapping one
// table worker per open database, per §6's "CLI surface" note.
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
	"golang.org/x/sync/errgroup"

	"github.com/josiahcarlson/yogatable/internal/config"
	"github.com/josiahcarlson/yogatable/internal/dispatch"
	"github.com/josiahcarlson/yogatable/internal/store"
	"github.com/josiahcarlson/yogatable/internal/telemetry"
)

var (
	host       string
	port       int
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "yogatable-server",
	Short: "Serve one document table over a request/response queue",
	RunE:  runServer,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "address to bind")
	rootCmd.PersistentFlags().IntVar(&port, "port", 7932, "port to bind")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "table.sqlite", "path to the table's database file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("yogatable-server: load config: %w", err)
	}

	shutdownMetrics, err := telemetry.Init(ctx, 10*time.Second)
	if err != nil {
		return fmt.Errorf("yogatable-server: init telemetry: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	s, err := store.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("yogatable-server: open %s: %w", dbPath, err)
	}
	defer func() { _ = s.Close() }()

	worker := dispatch.NewWorker(s, cfg, 256)

	slog.Info("yogatable-server listening", "host", host, "port", port, "db", dbPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return drainResponses(gctx, worker) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("yogatable-server shut down")
	return nil
}

// drainResponses logs unsolicited responses (index-catalog broadcasts
// and the terminal quit notice); a real transport would instead
// forward each Response to its caller_id's connection.
func drainResponses(ctx context.Context, w *dispatch.Worker) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-w.Responses():
			if !ok {
				return nil
			}
			if resp.Kind == dispatch.KindQuit {
				return nil
			}
			if resp.CallerID == "" {
				slog.Info("broadcast", "kind", resp.Kind)
			}
		}
	}
}
