// Package worker is the composition root of a deployhook instance. It owns the
// application configs and the deploy queue, and turns inbound notifications
// into queued deployment requests.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"deployhook/internal/app"
	"deployhook/internal/auth"
	"deployhook/internal/deployment"
	"deployhook/internal/store"
)

var (
	// ErrUnknownApp is returned when a notification names no configured app.
	ErrUnknownApp = errors.New("unknown app")

	// ErrUnknownTarget is returned when branch resolution yields an app that
	// is not configured.
	ErrUnknownTarget = errors.New("unknown target")
)

// ConfigStore persists application configs.
type ConfigStore interface {
	Find(ctx context.Context, q store.Query) ([]app.Config, error)
	Update(ctx context.Context, q store.Query, cfg app.Config, upsert bool) error
}

// Runner executes one deployment request.
type Runner interface {
	Run(ctx context.Context, req *deployment.Request) *deployment.Report
}

// VersionReader reads the checked-out revision of a working copy.
type VersionReader interface {
	Head(ctx context.Context, dir string) (app.VersioningInfo, error)
}

// Options configure a Worker.
type Options struct {
	Store  ConfigStore
	Runner Runner

	// Auth defaults to auth.New().
	Auth *auth.Authenticator

	// Versions fills in versioning for manual triggers. Optional.
	Versions VersionReader

	// DefaultBranch deploys to the requested app itself. Defaults to master.
	DefaultBranch string

	// OnApps is called with the new config set after every reload or upsert.
	OnApps app.Observer

	// OnQueue is called after every finished run.
	OnQueue func(deployment.QueueState)

	Logger *slog.Logger
}

// Worker accepts notifications and feeds a single deploy queue.
type Worker struct {
	store         ConfigStore
	auth          *auth.Authenticator
	versions      VersionReader
	defaultBranch string
	registry      *app.Registry
	queue         *deployment.Queue
	logger        *slog.Logger
}

// New creates a worker and loads the app configs from the store.
func New(ctx context.Context, opts Options) (*Worker, error) {
	if opts.Store == nil {
		return nil, errors.New("worker requires a config store")
	}
	if opts.Runner == nil {
		return nil, errors.New("worker requires a runner")
	}
	if opts.Auth == nil {
		opts.Auth = auth.New()
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = app.DefaultBranch
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	apps, err := opts.Store.Find(ctx, store.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to load apps: %w", err)
	}

	w := &Worker{
		store:         opts.Store,
		auth:          opts.Auth,
		versions:      opts.Versions,
		defaultBranch: opts.DefaultBranch,
		registry:      app.NewRegistry(apps, opts.OnApps),
		logger:        opts.Logger,
	}
	w.queue = deployment.NewQueue(func(ctx context.Context, req *deployment.Request) {
		opts.Runner.Run(ctx, req)
	}, opts.OnQueue, opts.Logger)

	w.logger.Info("worker ready", "apps", w.registry.Count(), "default_branch", w.defaultBranch, "providers", w.auth.Providers())
	return w, nil
}

// HandleRequest authenticates a notification for appName, resolves the
// target app for the pushed branch and enqueues a deployment. It never runs
// the deployment itself.
func (w *Worker) HandleRequest(ctx context.Context, appName string, req *auth.Request) (*deployment.Request, error) {
	cfg, err := w.registry.Get(appName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, appName)
	}

	versioning, err := w.auth.Authenticate(cfg, req)
	if err != nil {
		return nil, err
	}

	target := app.Resolve(w.registry.Snapshot(), appName, versioning.Branch, w.defaultBranch)
	targetCfg, err := w.registry.Get(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (branch %s)", ErrUnknownTarget, target, versioning.Branch)
	}

	dr := deployment.NewRequest(target, targetCfg, versioning, deployment.Options{Notify: true})
	w.logger.Info("notification accepted",
		"app", appName,
		"target", target,
		"branch", versioning.Branch,
		"commit", versioning.ShortCommit(),
		"request_id", dr.ID,
	)
	w.queue.Enqueue(dr)
	return dr, nil
}

// Trigger enqueues a manual run of appName. Without opts.ForceDeploy it is a
// dry run. A zero versioning is read from the app's working copy when possible.
func (w *Worker) Trigger(ctx context.Context, appName string, versioning app.VersioningInfo, opts deployment.Options) (*deployment.Request, error) {
	cfg, err := w.registry.Get(appName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, appName)
	}

	if versioning.Commit == "" && cfg.CWD != "" && w.versions != nil {
		head, err := w.versions.Head(ctx, cfg.CWD)
		if err != nil {
			w.logger.Warn("could not read working copy revision", "app", appName, "error", err)
		} else {
			versioning = head
		}
	}

	opts.Manual = true
	dr := deployment.NewRequest(appName, cfg, versioning, opts)
	w.logger.Info("manual run queued", "target", appName, "deploy", opts.ForceDeploy, "request_id", dr.ID)
	w.queue.Enqueue(dr)
	return dr, nil
}

// ReloadApps replaces the config set wholesale with the store's contents.
// Queued requests keep the config they were created with.
func (w *Worker) ReloadApps(ctx context.Context) error {
	apps, err := w.store.Find(ctx, store.Query{})
	if err != nil {
		return fmt.Errorf("failed to reload apps: %w", err)
	}
	w.registry.Replace(apps)
	w.logger.Info("apps reloaded", "apps", len(apps))
	return nil
}

// UpsertAppConfig validates cfg, stores it (appending a new app) and reloads.
func (w *Worker) UpsertAppConfig(ctx context.Context, cfg app.Config) error {
	cfg = app.Normalize(cfg)
	if problems := app.Validate(cfg); len(problems) > 0 {
		return fmt.Errorf("invalid config for app '%s':\n%s", cfg.Name, strings.Join(problems, "\n"))
	}

	if err := w.store.Update(ctx, store.Query{Name: cfg.Name}, cfg, true); err != nil {
		return fmt.Errorf("failed to store app '%s': %w", cfg.Name, err)
	}
	return w.ReloadApps(ctx)
}

// Apps returns the current configs in order. The slice must not be modified.
func (w *Worker) Apps() []app.Config {
	return w.registry.Snapshot()
}

// AppNames returns the configured app names in order.
func (w *Worker) AppNames() []string {
	return w.registry.List()
}

// QueueState reports the deploy queue.
func (w *Worker) QueueState() deployment.QueueState {
	return w.queue.State()
}

// Wait blocks until every queued deployment has finished.
func (w *Worker) Wait() {
	w.queue.Wait()
}
