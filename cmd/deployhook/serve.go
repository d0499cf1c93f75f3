package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"deployhook/internal/server"
	"deployhook/internal/settings"
	"deployhook/internal/store"
	"deployhook/internal/telemetry"
	"deployhook/internal/worker"

	"github.com/spf13/cobra"
)

var serveFlags = flagKeys{
	"host":      "server.host",
	"port":      "server.port",
	"log-file":  "log.file",
	"db":        "store.path",
	"apps":      "apps_file",
	"test-mode": "server.test_mode",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server that receives provider notifications.

Apps are imported from the apps file into the configuration store on start
and again on SIGHUP. SIGINT and SIGTERM stop accepting notifications and wait
for queued deployments to finish.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on")
	serveCmd.Flags().String("log-file", "", "Also append logs to this file")
	serveCmd.Flags().String("db", "", "Path to the SQLite configuration store")
	serveCmd.Flags().String("apps", "", "Path to apps.yaml")
	serveCmd.Flags().Bool("test-mode", false, "Disable rate limiting")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd, serveFlags)
	if err != nil {
		return err
	}

	logger, logCloser, err := settings.NewLogger(s.Log, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	logger.Info("starting deployhook", "version", version, "settings", s.Source)

	if s.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer("deployhook", version, os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer shutdown(context.Background())
	}

	trusted, err := server.ParseTrustedProxies(s.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}

	st, err := store.Open(s.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if path := locateAppsFile(s); path != "" {
		apps, err := importApps(ctx, st, path, logger)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", path, err)
		}
		logger.Info("apps imported", "file", path, "apps", len(apps))
	} else {
		logger.Warn("no apps file found, using stored configs", "apps_file", s.AppsFile)
	}

	pipeline, git, err := newPipeline(s, logger)
	if err != nil {
		return err
	}
	w, err := newWorker(ctx, s, st, pipeline, git, logger)
	if err != nil {
		return err
	}
	if len(w.AppNames()) == 0 {
		logger.Warn("no apps configured, notifications will be dropped until apps are added")
	}

	go reloadOnHangup(ctx, s.AppsFile, func(ctx context.Context) error {
		if path := locateAppsFile(s); path != "" {
			if _, err := importApps(ctx, st, path, logger); err != nil {
				return err
			}
		}
		return w.ReloadApps(ctx)
	}, w, logger)

	srv := server.New(w, logger, server.Config{
		RateLimit:      s.Server.RateLimit,
		TestMode:       s.Server.TestMode,
		BindRetries:    s.Server.BindRetries,
		BindRetryDelay: s.Server.BindRetryDelay,
		TrustedProxies: trusted,
	})
	if err := srv.Serve(ctx, s.Server.Addr()); err != nil {
		logger.Error("server failed", "error", err)
		return err
	}
	logger.Info("deployhook stopped")
	return nil
}

func reloadOnHangup(ctx context.Context, appsFile string, reload func(context.Context) error, w *worker.Worker, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading apps", "apps_file", appsFile)
			if err := reload(ctx); err != nil {
				logger.Error("app reload failed", "error", err)
				continue
			}
			logger.Info("apps reloaded", "apps", len(w.AppNames()))
		}
	}
}
