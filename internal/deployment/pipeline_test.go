package deployment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"deployhook/internal/app"
	"deployhook/internal/supervisor"
	"deployhook/internal/testengine"
)

// recorder collects the order in which collaborators are called.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeSupervisor struct {
	rec         *recorder
	cwd         string
	describeErr error
	reloadErr   error
}

func (f *fakeSupervisor) Describe(ctx context.Context, name string) (*supervisor.Instance, error) {
	f.rec.add("describe:" + name)
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &supervisor.Instance{Name: name, PID: 42, CWD: f.cwd, Status: "online"}, nil
}

func (f *fakeSupervisor) GracefulReload(ctx context.Context, name string) error {
	f.rec.add("reload:" + name)
	return f.reloadErr
}

type fakePuller struct {
	rec   *recorder
	err   error
	panic bool
}

func (f *fakePuller) Update(ctx context.Context, dir string) error {
	f.rec.add("pull:" + dir)
	if f.panic {
		panic("pull exploded")
	}
	return f.err
}

type fakeTests struct {
	rec    *recorder
	result *testengine.Result
	err    error
	got    testengine.Options
}

func (f *fakeTests) Run(ctx context.Context, opts testengine.Options) (*testengine.Result, error) {
	f.rec.add("tests:" + opts.App)
	f.got = opts
	return f.result, f.err
}

type fakeHooks struct {
	rec    *recorder
	output string
	failOn string
}

func (f *fakeHooks) Run(ctx context.Context, appName, dir, command string) (string, error) {
	f.rec.add("hook:" + command)
	if command == f.failOn {
		return f.output, &HookError{Command: command, ExitCode: 1}
	}
	return f.output, nil
}

type fakeNotifier struct {
	rec     *recorder
	err     error
	panic   bool
	reports []*Report
}

func (f *fakeNotifier) Notify(ctx context.Context, report *Report) error {
	f.rec.add("notify:" + report.Request.Target)
	f.reports = append(f.reports, report)
	if f.panic {
		panic("notifier exploded")
	}
	return f.err
}

type fixture struct {
	rec      *recorder
	sup      *fakeSupervisor
	puller   *fakePuller
	tests    *fakeTests
	hooks    *fakeHooks
	notifier *fakeNotifier
	pipeline *Pipeline
}

func newFixture() *fixture {
	rec := &recorder{}
	f := &fixture{
		rec:      rec,
		sup:      &fakeSupervisor{rec: rec, cwd: "/srv/svc"},
		puller:   &fakePuller{rec: rec},
		tests:    &fakeTests{rec: rec, result: &testengine.Result{Passed: true}},
		hooks:    &fakeHooks{rec: rec, output: "hook ok\n"},
		notifier: &fakeNotifier{rec: rec},
	}
	f.pipeline = f.build()
	return f
}

func (f *fixture) build() *Pipeline {
	return NewPipeline(PipelineDeps{
		Supervisor: f.sup,
		Puller:     f.puller,
		Tests:      f.tests,
		Hooks:      f.hooks,
		Notifier:   f.notifier,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func svcRequest(cfg app.Config, opts Options) *Request {
	if cfg.Name == "" {
		cfg.Name = "svc"
	}
	opts.Notify = true
	return NewRequest(cfg.Name, cfg, app.VersioningInfo{Commit: "abc123", Branch: "master"}, opts)
}

func assertEvents(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v\nwant     %v", got, want)
	}
}

func TestPipeline_FullDeploy(t *testing.T) {
	f := newFixture()
	cfg := app.Config{PreHook: "npm ci", PostHook: "npm run warm"}

	report := f.pipeline.Run(context.Background(), svcRequest(cfg, Options{}))

	if report.Outcome.Err != nil {
		t.Fatalf("Outcome.Err = %v", report.Outcome.Err)
	}
	if !report.Outcome.Pulled || !report.Outcome.Reloaded {
		t.Errorf("Outcome = %+v, want pulled and reloaded", report.Outcome)
	}
	if report.Outcome.PreHookOutput == nil || *report.Outcome.PreHookOutput != "hook ok\n" {
		t.Errorf("PreHookOutput = %v", report.Outcome.PreHookOutput)
	}
	if report.Outcome.PostHookOutput == nil {
		t.Error("PostHookOutput = nil")
	}
	if report.CWD != "/srv/svc" {
		t.Errorf("CWD = %q, want supervisor cwd", report.CWD)
	}
	assertEvents(t, f.rec.list(),
		"describe:svc", "pull:/srv/svc", "hook:npm ci", "reload:svc", "hook:npm run warm", "notify:svc")
}

func TestPipeline_ConfiguredCWDSkipsSupervisor(t *testing.T) {
	f := newFixture()
	report := f.pipeline.Run(context.Background(), svcRequest(app.Config{CWD: "/opt/svc"}, Options{}))

	if report.CWD != "/opt/svc" {
		t.Errorf("CWD = %q", report.CWD)
	}
	assertEvents(t, f.rec.list(), "pull:/opt/svc", "reload:svc", "notify:svc")
}

func TestPipeline_DryRun(t *testing.T) {
	f := newFixture()
	cfg := app.Config{PreHook: "npm ci", PostHook: "npm run warm", Tests: app.TestConfig{Command: "npm test"}}

	report := f.pipeline.Run(context.Background(), svcRequest(cfg, Options{Manual: true}))

	if report.Outcome.Err != nil {
		t.Fatalf("Outcome.Err = %v", report.Outcome.Err)
	}
	if report.Outcome.Pulled || report.Outcome.Reloaded || report.Outcome.PreHookOutput != nil || report.Outcome.PostHookOutput != nil {
		t.Errorf("Outcome = %+v, want no deploy side effects", report.Outcome)
	}
	if report.Tests == nil || !report.Tests.Passed {
		t.Errorf("Tests = %+v, want passing result", report.Tests)
	}
	if !f.tests.got.Manual || f.tests.got.Dir != "/srv/svc" || f.tests.got.Versioning.Commit != "abc123" {
		t.Errorf("test engine options = %+v", f.tests.got)
	}
	assertEvents(t, f.rec.list(), "describe:svc", "tests:svc", "notify:svc")
}

func TestPipeline_ManualForceDeploy(t *testing.T) {
	f := newFixture()
	report := f.pipeline.Run(context.Background(), svcRequest(app.Config{}, Options{Manual: true, ForceDeploy: true}))

	if !report.Outcome.Pulled || !report.Outcome.Reloaded {
		t.Errorf("Outcome = %+v, want a full deploy", report.Outcome)
	}
}

func TestPipeline_TestFailure(t *testing.T) {
	failing := &testengine.Result{
		Passed: false,
		Commit: testengine.Commit{ShortID: "abc123"},
		Bisect: &testengine.Result{Commit: testengine.Commit{ShortID: "bad0001"}},
	}

	t.Run("without override", func(t *testing.T) {
		f := newFixture()
		f.tests.result = failing
		cfg := app.Config{PreHook: "npm ci", Tests: app.TestConfig{Command: "npm test"}}

		report := f.pipeline.Run(context.Background(), svcRequest(cfg, Options{}))

		var fatal *FatalError
		if !errors.As(report.Outcome.Err, &fatal) || fatal.Phase != PhaseTests {
			t.Fatalf("Outcome.Err = %v, want fatal tests error", report.Outcome.Err)
		}
		var testErr *TestFailureError
		if !errors.As(report.Outcome.Err, &testErr) {
			t.Fatalf("Outcome.Err = %v, want TestFailureError", report.Outcome.Err)
		}
		if testErr.Commit != "abc123" || testErr.BadCommit != "bad0001" {
			t.Errorf("TestFailureError = %+v", testErr)
		}
		if report.Outcome.Pulled || report.Outcome.Reloaded {
			t.Errorf("Outcome = %+v, want nothing deployed", report.Outcome)
		}
		if !report.TestsFailed() {
			t.Error("TestsFailed() = false")
		}
		assertEvents(t, f.rec.list(), "describe:svc", "tests:svc", "notify:svc")
	})

	t.Run("with override", func(t *testing.T) {
		f := newFixture()
		f.tests.result = failing
		cfg := app.Config{Tests: app.TestConfig{Command: "npm test", DeployOnFailure: true}}

		report := f.pipeline.Run(context.Background(), svcRequest(cfg, Options{}))

		if report.Outcome.Err != nil {
			t.Fatalf("Outcome.Err = %v, want none", report.Outcome.Err)
		}
		if !report.Outcome.Pulled || !report.Outcome.Reloaded {
			t.Errorf("Outcome = %+v, want pulled and reloaded", report.Outcome)
		}
		if !report.TestsFailed() {
			t.Error("TestsFailed() = false, want the failed result kept")
		}
	})
}

func TestPipeline_FatalPhases(t *testing.T) {
	pullErr := errors.New("not a fast-forward")

	tests := []struct {
		name       string
		setup      func(f *fixture)
		cfg        app.Config
		wantPhase  Phase
		wantTarget error
		wantEvents []string
	}{
		{
			"application not running",
			func(f *fixture) { f.sup.describeErr = supervisor.ErrNotRunning },
			app.Config{},
			PhaseResolveCWD,
			supervisor.ErrNotRunning,
			[]string{"describe:svc", "notify:svc"},
		},
		{
			"test engine error",
			func(f *fixture) { f.tests.err = errors.New("no worktree") },
			app.Config{Tests: app.TestConfig{Command: "npm test"}},
			PhaseTests,
			nil,
			[]string{"describe:svc", "tests:svc", "notify:svc"},
		},
		{
			"pull failure",
			func(f *fixture) { f.puller.err = pullErr },
			app.Config{PreHook: "npm ci"},
			PhasePull,
			pullErr,
			[]string{"describe:svc", "pull:/srv/svc", "notify:svc"},
		},
		{
			"prehook failure",
			func(f *fixture) { f.hooks.failOn = "npm ci" },
			app.Config{PreHook: "npm ci", PostHook: "npm run warm"},
			PhasePreHook,
			nil,
			[]string{"describe:svc", "pull:/srv/svc", "hook:npm ci", "notify:svc"},
		},
		{
			"reload failure",
			func(f *fixture) { f.sup.reloadErr = errors.New("pm2 down") },
			app.Config{PostHook: "npm run warm"},
			PhaseReload,
			nil,
			[]string{"describe:svc", "pull:/srv/svc", "reload:svc", "notify:svc"},
		},
		{
			"posthook failure",
			func(f *fixture) { f.hooks.failOn = "npm run warm" },
			app.Config{PostHook: "npm run warm"},
			PhasePostHook,
			nil,
			[]string{"describe:svc", "pull:/srv/svc", "reload:svc", "hook:npm run warm", "notify:svc"},
		},
		{
			"panicking phase",
			func(f *fixture) { f.puller.panic = true },
			app.Config{},
			PhasePull,
			nil,
			[]string{"describe:svc", "pull:/srv/svc", "notify:svc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			report := f.pipeline.Run(context.Background(), svcRequest(tt.cfg, Options{}))

			var fatal *FatalError
			if !errors.As(report.Outcome.Err, &fatal) {
				t.Fatalf("Outcome.Err = %v, want FatalError", report.Outcome.Err)
			}
			if fatal.Phase != tt.wantPhase {
				t.Errorf("Phase = %s, want %s", fatal.Phase, tt.wantPhase)
			}
			if tt.wantTarget != nil && !errors.Is(report.Outcome.Err, tt.wantTarget) {
				t.Errorf("Outcome.Err = %v, want it to wrap %v", report.Outcome.Err, tt.wantTarget)
			}
			assertEvents(t, f.rec.list(), tt.wantEvents...)
		})
	}
}

func TestPipeline_HookFailureKeepsOutput(t *testing.T) {
	f := newFixture()
	f.hooks.failOn = "npm ci"
	f.hooks.output = "npm ERR! missing script\n"

	report := f.pipeline.Run(context.Background(), svcRequest(app.Config{PreHook: "npm ci"}, Options{}))

	if report.Outcome.PreHookOutput == nil || !strings.Contains(*report.Outcome.PreHookOutput, "missing script") {
		t.Errorf("PreHookOutput = %v, want captured output", report.Outcome.PreHookOutput)
	}
	var hookErr *HookError
	if !errors.As(report.Outcome.Err, &hookErr) || hookErr.ExitCode != 1 {
		t.Errorf("Outcome.Err = %v, want HookError", report.Outcome.Err)
	}
}

func TestPipeline_HookOutputRedactsSecrets(t *testing.T) {
	f := newFixture()
	f.hooks.output = "using token s3cr3t-value\n"

	cfg := app.Config{Secret: "s3cr3t-value", PreHook: "env"}
	report := f.pipeline.Run(context.Background(), svcRequest(cfg, Options{}))

	if got := *report.Outcome.PreHookOutput; strings.Contains(got, "s3cr3t-value") {
		t.Errorf("PreHookOutput = %q, secret not redacted", got)
	}
}

func TestPipeline_SkipReload(t *testing.T) {
	f := newFixture()
	report := f.pipeline.Run(context.Background(), svcRequest(app.Config{SkipReload: true, PostHook: "make"}, Options{}))

	if !report.Outcome.Pulled || report.Outcome.Reloaded {
		t.Errorf("Outcome = %+v, want pulled without reload", report.Outcome)
	}
	assertEvents(t, f.rec.list(), "describe:svc", "pull:/srv/svc", "hook:make", "notify:svc")
}

func TestPipeline_NotifyFailureDomain(t *testing.T) {
	tests := []struct {
		name  string
		setup func(n *fakeNotifier)
	}{
		{"error", func(n *fakeNotifier) { n.err = errors.New("slack down") }},
		{"panic", func(n *fakeNotifier) { n.panic = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f.notifier)

			report := f.pipeline.Run(context.Background(), svcRequest(app.Config{}, Options{}))

			if report.Outcome.Err != nil {
				t.Errorf("Outcome.Err = %v, notification failure must not fail the deployment", report.Outcome.Err)
			}
			if !report.Outcome.Pulled || !report.Outcome.Reloaded {
				t.Errorf("Outcome = %+v", report.Outcome)
			}
		})
	}
}

func TestPipeline_NotifyDisabled(t *testing.T) {
	f := newFixture()
	req := NewRequest("svc", app.Config{Name: "svc"}, app.VersioningInfo{}, Options{Manual: true})

	f.pipeline.Run(context.Background(), req)

	if len(f.notifier.reports) != 0 {
		t.Error("notifier called although Notify is false")
	}
}

func TestPipeline_SnapshotIsolation(t *testing.T) {
	f := newFixture()
	cfg := app.Config{Name: "svc", Branches: []string{"beta"}, PreHook: "old"}
	req := svcRequest(cfg, Options{})

	// Mutating the caller's config after enqueue must not leak into the run.
	cfg.PreHook = "new"
	cfg.Branches[0] = "qa"

	f.pipeline.Run(context.Background(), req)

	if req.Config.Branches[0] != "beta" {
		t.Error("request shares Branches with the caller")
	}
	assertEvents(t, f.rec.list(), "describe:svc", "pull:/srv/svc", "hook:old", "reload:svc", "notify:svc")
}
