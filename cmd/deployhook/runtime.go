package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"deployhook/internal/app"
	"deployhook/internal/deployment"
	"deployhook/internal/notify"
	"deployhook/internal/security"
	"deployhook/internal/settings"
	"deployhook/internal/store"
	"deployhook/internal/supervisor"
	"deployhook/internal/testengine"
	"deployhook/internal/vcs"
	"deployhook/internal/worker"
	"deployhook/pkg/fileutil"

	"github.com/spf13/cobra"
)

// flagKeys maps command flags to the settings keys they override.
type flagKeys map[string]string

// loadSettings reads settings, letting flags the user actually set win.
func loadSettings(cmd *cobra.Command, keys flagKeys) (*settings.Settings, error) {
	overrides := make(map[string]interface{})
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		switch f.Value.Type() {
		case "int":
			v, err := cmd.Flags().GetInt(flag)
			if err != nil {
				return nil, err
			}
			overrides[key] = v
		case "bool":
			v, err := cmd.Flags().GetBool(flag)
			if err != nil {
				return nil, err
			}
			overrides[key] = v
		default:
			overrides[key] = f.Value.String()
		}
	}
	return settings.Load(configPath, overrides)
}

// cliLogger is used by the one-shot commands, which log to stderr.
func cliLogger(s *settings.Settings) (*slog.Logger, io.Closer, error) {
	log := s.Log
	log.Format = "text"
	return settings.NewLogger(log, os.Stderr)
}

// locateAppsFile finds the apps file named in settings. A bare file name is
// also searched for in the standard config directories.
func locateAppsFile(s *settings.Settings) string {
	if fileutil.FileExists(s.AppsFile) {
		return s.AppsFile
	}
	path, _ := fileutil.First(fileutil.Candidates(s.AppsFile))
	return path
}

// importApps replaces the stored configs with the contents of path.
func importApps(ctx context.Context, st *store.Store, path string, logger *slog.Logger) ([]app.Config, error) {
	warnInsecure(path, logger)
	apps, err := app.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := st.ReplaceAll(ctx, apps); err != nil {
		return nil, fmt.Errorf("failed to store apps: %w", err)
	}
	return apps, nil
}

// newPipeline wires the deployment adapters selected by settings.
func newPipeline(s *settings.Settings, logger *slog.Logger) (*deployment.Pipeline, *vcs.Git, error) {
	sup, err := supervisor.New(s.Supervisor.Kind, s.Supervisor.PM2Bin, s.Supervisor.ReloadSignal)
	if err != nil {
		return nil, nil, err
	}

	git := vcs.NewGit(logger)
	engine := testengine.New(git, s.Tests.Timeout, logger)

	var notifier deployment.Notifier
	if s.Notify.Enabled() {
		slack := notify.NewSlack(notify.SlackConfig{
			URL:     s.Notify.WebhookURL,
			Retries: s.Notify.Retries,
			Timeout: s.Notify.Timeout,
		})
		notifier = notify.NewNotifier(slack, notify.FormatOptions{
			CoverageThreshold: s.Notify.CoverageThreshold,
			Channel:           s.Notify.Channel,
			Username:          s.Notify.Username,
		}, logger)
	} else {
		logger.Info("notifications disabled, no notify.webhook_url set")
	}

	pipeline := deployment.NewPipeline(deployment.PipelineDeps{
		Supervisor: sup,
		Puller:     git,
		Tests:      engine,
		Hooks:      deployment.NewShellHooks(s.Hooks.Timeout, logger),
		Notifier:   notifier,
		Logger:     logger,
	})
	return pipeline, git, nil
}

// newWorker builds the worker around runner, reading apps from st.
func newWorker(ctx context.Context, s *settings.Settings, st *store.Store, runner worker.Runner, versions worker.VersionReader, logger *slog.Logger) (*worker.Worker, error) {
	return worker.New(ctx, worker.Options{
		Store:         st,
		Runner:        runner,
		Versions:      versions,
		DefaultBranch: s.DefaultBranch,
		Logger:        logger,
		OnApps: func(apps []app.Config) {
			logger.Info("app configs published", "apps", len(apps))
		},
		OnQueue: func(state deployment.QueueState) {
			logger.Debug("deploy queue", "pending", state.Pending, "last_id", state.LastID, "last_target", state.LastTarget)
		},
	})
}

// warnInsecure logs apps files that others can read; they hold secrets.
func warnInsecure(path string, logger *slog.Logger) {
	if err := security.ValidateSecurePermissions(path); err != nil {
		logger.Warn("apps file permissions", "error", err, "suggested_mode", fmt.Sprintf("%04o", security.PermConfigFile))
	}
}
