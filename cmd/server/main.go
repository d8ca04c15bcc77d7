package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"asyncedit/internal/app"
	"asyncedit/internal/config"
	"asyncedit/internal/engine"
	"asyncedit/internal/logging"
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:          "grid-server",
	Short:        "Serves edit sessions over a voxel grid",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (default)",
	RunE:  runServe,
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Summarize the change journal without starting the server",
	RunE:  runReplay,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (config.Config, *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("config: %v", err)
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		config.Exitf("logging: %v", err)
	}
	slog.SetDefault(logger)
	return cfg, logger
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger := setup()

	// Background components outlive the signal context so sessions can
	// still flush during shutdown.
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.HTTPAddr, "data_dir", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = a.Close(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return a.Close(shutdownCtx)
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, logger := setup()

	muts, err := engine.LoadJournal(cfg.JournalPath(), logger)
	if err != nil {
		return err
	}
	perWorld := make(map[string]int)
	var last uint64
	for _, m := range muts {
		perWorld[m.World]++
		last = max(last, m.Sequence)
	}
	worlds := make([]string, 0, len(perWorld))
	for w := range perWorld {
		worlds = append(worlds, w)
	}
	sort.Strings(worlds)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "journal %s: %d mutations, last sequence %d\n", cfg.JournalPath(), len(muts), last)
	for _, w := range worlds {
		fmt.Fprintf(out, "  %-24s %d\n", w, perWorld[w])
	}
	return nil
}
