package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bingal/rss-reader/internal/api"
	"github.com/bingal/rss-reader/internal/config"
	"github.com/bingal/rss-reader/internal/feed"
	"github.com/bingal/rss-reader/internal/keychain"
	"github.com/bingal/rss-reader/internal/store"
	"github.com/bingal/rss-reader/internal/translate"
	"github.com/bingal/rss-reader/internal/worker"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the reader daemon",
	Long:  "Supervise the backend worker process and serve the control API.",
	RunE:  runDaemon,
}

var (
	apiAddr    string
	configPath string
)

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for API (e.g. 127.0.0.1:7843)")
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Config file (default ~/.rss-reader/config.yaml)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if apiAddr == "" {
		apiAddr = cfg.APIAddr
	}

	if err := os.MkdirAll(config.Dir(), 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = config.DefaultDBPath()
	}

	slog.Info("reader daemon starting", "db", dbPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	sup := worker.New(worker.Config{Binary: cfg.WorkerBinary})
	if port, err := sup.Start(ctx); err != nil {
		// The daemon still serves the API so the worker can be fixed and
		// restarted without bouncing the daemon.
		slog.Error("worker start failed", "error", err)
	} else {
		slog.Info("worker running", "port", port)
	}

	if cfg.WatchBinary {
		go func() {
			if err := sup.WatchBinary(ctx); err != nil {
				slog.Error("binary watcher stopped", "error", err)
			}
		}()
	}

	fetcher := feed.NewFetcher(st)
	if interval := cfg.RefreshInterval.Std(); interval > 0 {
		go refreshLoop(ctx, fetcher, interval)
	}

	translator := translate.NewClient(st, keychain.NewSystemStore())

	srv := api.NewServer(sup, st, fetcher, translator)

	socketPath := config.SocketPath()
	os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()

	if apiAddr != "" {
		go func() {
			if err := srv.ListenTCP(apiAddr); err != nil {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	slog.Info("reader daemon ready")

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("API server error", "error", err)
		}
	}

	cancel()
	srv.Shutdown(context.Background())
	sup.Shutdown()
	os.Remove(socketPath)

	slog.Info("reader daemon stopped")
	return nil
}

func refreshLoop(ctx context.Context, fetcher *feed.Fetcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saved, failed, err := fetcher.RefreshAll(ctx)
			if err != nil {
				slog.Error("scheduled refresh failed", "error", err)
				continue
			}
			slog.Info("scheduled refresh complete", "new_articles", saved, "failed_feeds", failed)
		}
	}
}
