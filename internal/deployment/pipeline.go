package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"deployhook/internal/supervisor"
	"deployhook/internal/testengine"
	"deployhook/pkg/cmdutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "deployhook/internal/deployment"

// Puller updates a working copy to the latest upstream revision.
type Puller interface {
	Update(ctx context.Context, dir string) error
}

// TestEngine runs an app's tests.
type TestEngine interface {
	Run(ctx context.Context, opts testengine.Options) (*testengine.Result, error)
}

// HookRunner runs a hook command and returns its combined output.
type HookRunner interface {
	Run(ctx context.Context, appName, dir, command string) (string, error)
}

// Notifier delivers the report of a finished run.
type Notifier interface {
	Notify(ctx context.Context, report *Report) error
}

// PipelineDeps are the collaborators a Pipeline calls into.
type PipelineDeps struct {
	Supervisor supervisor.Supervisor
	Puller     Puller
	Tests      TestEngine
	Hooks      HookRunner
	Notifier   Notifier
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// Pipeline runs the phases of one deployment.
type Pipeline struct {
	deps   PipelineDeps
	phases []phase
}

// pipelineContext is the state threaded through the phases of one run.
type pipelineContext struct {
	req     *Request
	logger  *slog.Logger
	cwd     string
	tests   *testengine.Result
	outcome Outcome
}

type phase struct {
	name Phase

	// deploy phases are skipped on dry runs.
	deploy bool
	run    func(ctx context.Context, pc *pipelineContext) error
}

// NewPipeline creates a pipeline. Logger and Tracer default to slog's and
// the global OpenTelemetry provider's.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}

	p := &Pipeline{deps: deps}
	p.phases = []phase{
		{name: PhaseResolveCWD, run: p.resolveCWD},
		{name: PhaseTests, run: p.runTests},
		{name: PhasePull, deploy: true, run: p.pull},
		{name: PhasePreHook, deploy: true, run: p.preHook},
		{name: PhaseReload, deploy: true, run: p.reload},
		{name: PhasePostHook, deploy: true, run: p.postHook},
	}
	return p
}

// Run executes every phase for req, stopping at the first fatal error, then
// notifies. It never returns an error or panics; the result is in the Report.
func (p *Pipeline) Run(ctx context.Context, req *Request) *Report {
	start := time.Now()
	pc := &pipelineContext{
		req:    req,
		logger: p.deps.Logger.With("request_id", req.ID, "target", req.Target),
	}

	ctx, span := p.deps.Tracer.Start(ctx, "deployment.run", trace.WithAttributes(
		attribute.String("deployment.id", req.ID),
		attribute.String("deployment.target", req.Target),
		attribute.String("deployment.branch", req.Versioning.Branch),
		attribute.Bool("deployment.dry_run", req.Options.DryRun()),
	))
	defer span.End()

	pc.logger.Info("deployment started",
		"branch", req.Versioning.Branch,
		"commit", req.Versioning.ShortCommit(),
		"manual", req.Options.Manual,
		"dry_run", req.Options.DryRun(),
	)

	for _, ph := range p.phases {
		if ph.deploy && req.Options.DryRun() {
			pc.logger.Debug("phase skipped for dry run", "phase", ph.name)
			continue
		}
		if err := p.runPhase(ctx, pc, ph); err != nil {
			pc.outcome.Err = &FatalError{Phase: ph.name, Err: err}
			break
		}
	}

	report := &Report{
		Request:  req,
		CWD:      pc.cwd,
		Tests:    pc.tests,
		Outcome:  pc.outcome,
		Duration: time.Since(start),
	}

	if report.Outcome.Err != nil {
		span.SetStatus(codes.Error, report.Outcome.Err.Error())
		pc.logger.Error("deployment failed",
			"error", report.Outcome.Err,
			"pulled", report.Outcome.Pulled,
			"reloaded", report.Outcome.Reloaded,
			"duration", report.Duration.Round(time.Millisecond).String(),
		)
	} else {
		pc.logger.Info("deployment finished",
			"pulled", report.Outcome.Pulled,
			"reloaded", report.Outcome.Reloaded,
			"duration", report.Duration.Round(time.Millisecond).String(),
		)
	}

	p.notify(ctx, pc, report)
	return report
}

func (p *Pipeline) runPhase(ctx context.Context, pc *pipelineContext, ph phase) (err error) {
	ctx, span := p.deps.Tracer.Start(ctx, "deployment."+string(ph.name))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	pc.logger.Debug("phase started", "phase", ph.name)
	start := time.Now()
	err = ph.run(ctx, pc)
	pc.logger.Debug("phase finished", "phase", ph.name, "duration", time.Since(start).Round(time.Millisecond).String(), "error", err)
	return err
}

// notify runs in its own failure domain: errors and panics are logged and
// never change the report.
func (p *Pipeline) notify(ctx context.Context, pc *pipelineContext, report *Report) {
	if !report.Request.Options.Notify || p.deps.Notifier == nil {
		return
	}

	ctx, span := p.deps.Tracer.Start(ctx, "deployment."+string(PhaseNotify))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			pc.logger.Error("notification panicked", "phase", PhaseNotify, "panic", fmt.Sprint(r))
		}
	}()

	if err := p.deps.Notifier.Notify(ctx, report); err != nil {
		span.RecordError(err)
		pc.logger.Warn("notification failed", "phase", PhaseNotify, "error", err)
	}
}

func (p *Pipeline) resolveCWD(ctx context.Context, pc *pipelineContext) error {
	if pc.req.Config.CWD != "" {
		pc.cwd = pc.req.Config.CWD
		return nil
	}
	if p.deps.Supervisor == nil {
		return errors.New("no working directory configured and no supervisor to ask")
	}

	inst, err := p.deps.Supervisor.Describe(ctx, pc.req.Target)
	if err != nil {
		return err
	}
	if inst.CWD == "" {
		return fmt.Errorf("supervisor reported no working directory for %s", pc.req.Target)
	}
	pc.cwd = inst.CWD
	pc.logger.Info("working directory resolved", "cwd", pc.cwd, "pid", inst.PID)
	return nil
}

func (p *Pipeline) runTests(ctx context.Context, pc *pipelineContext) error {
	cfg := pc.req.Config
	if !cfg.Tests.Enabled() {
		return nil
	}
	if p.deps.Tests == nil {
		return errors.New("tests configured but no test engine available")
	}

	result, err := p.deps.Tests.Run(ctx, testengine.Options{
		Dir:        pc.cwd,
		App:        pc.req.Target,
		Versioning: pc.req.Versioning,
		Tests:      cfg.Tests,
		Manual:     pc.req.Options.Manual,
	})
	if err != nil {
		return fmt.Errorf("tests could not run: %w", err)
	}
	pc.tests = result

	if result.Passed {
		return nil
	}

	failure := &TestFailureError{
		Commit:   result.Commit.ShortID,
		TimedOut: result.TimedOut,
	}
	if failure.Commit == "" {
		failure.Commit = pc.req.Versioning.ShortCommit()
	}
	if result.Bisect != nil {
		failure.BadCommit = result.Bisect.Commit.ShortID
	}

	if !cfg.Tests.DeployOnFailure {
		return failure
	}
	pc.logger.Warn("tests failed, deploying anyway", "error", failure.Error())
	return nil
}

func (p *Pipeline) pull(ctx context.Context, pc *pipelineContext) error {
	if err := p.deps.Puller.Update(ctx, pc.cwd); err != nil {
		return err
	}
	pc.outcome.Pulled = true
	return nil
}

func (p *Pipeline) preHook(ctx context.Context, pc *pipelineContext) error {
	out, err := p.runHook(ctx, pc, pc.req.Config.PreHook)
	pc.outcome.PreHookOutput = out
	return err
}

func (p *Pipeline) reload(ctx context.Context, pc *pipelineContext) error {
	if pc.req.Config.SkipReload {
		pc.logger.Info("supervisor reload skipped")
		return nil
	}
	if err := p.deps.Supervisor.GracefulReload(ctx, pc.req.Target); err != nil {
		return err
	}
	pc.outcome.Reloaded = true
	return nil
}

func (p *Pipeline) postHook(ctx context.Context, pc *pipelineContext) error {
	out, err := p.runHook(ctx, pc, pc.req.Config.PostHook)
	pc.outcome.PostHookOutput = out
	return err
}

func (p *Pipeline) runHook(ctx context.Context, pc *pipelineContext, command string) (*string, error) {
	if command == "" {
		return nil, nil
	}

	out, err := p.deps.Hooks.Run(ctx, pc.req.Target, pc.cwd, command)
	secrets := []string{pc.req.Config.Secret, pc.req.Config.Tests.Token}
	sanitized := string(cmdutil.SanitizeOutput([]byte(out), secrets))
	return &sanitized, err
}
