// Package testengine runs an application's test command against a pushed
// revision and bisects failures back to the first bad commit.
package testengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"deployhook/internal/app"
	"deployhook/internal/githubapi"
	"deployhook/internal/security"
	"deployhook/internal/vcs"
	"deployhook/pkg/cmdutil"
)

const defaultTimeout = 10 * time.Minute

// CommitLookup enriches commit descriptors from the hosting provider.
type CommitLookup interface {
	Commit(ctx context.Context, repoURL, sha string) (*githubapi.CommitInfo, error)
}

// Options describes one test run.
type Options struct {
	// Dir is the application working copy; tests run in a detached worktree of it.
	Dir        string
	App        string
	Versioning app.VersioningInfo
	Tests      app.TestConfig
	Manual     bool
}

// Engine runs test commands.
type Engine struct {
	Git *vcs.Git

	// Timeout bounds a test run when the app config sets none.
	Timeout time.Duration
	Logger  *slog.Logger

	// NewLookup builds a CommitLookup for a provider token. Defaults to the GitHub API.
	NewLookup func(token string) CommitLookup
}

// New creates an engine with the given default timeout.
func New(git *vcs.Git, timeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Git: git, Timeout: timeout, Logger: logger}
}

// Run checks out the requested revision into a temporary worktree, runs the
// test command there and, when it fails and a last known good commit is
// configured, bisects. A failing suite is reported through Result, not error;
// errors mean the run could not be set up.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	if !opts.Tests.Enabled() {
		return nil, errors.New("no test command configured")
	}

	rev := opts.Versioning.Commit
	if rev == "" {
		rev = "HEAD"
	} else if err := security.ValidateCommitID(rev); err != nil {
		return nil, err
	}

	if rev != "HEAD" && !e.Git.HasCommit(ctx, opts.Dir, rev) {
		if _, err := e.Git.Run(ctx, opts.Dir, "fetch", "--quiet", "origin"); err != nil {
			e.Logger.Warn("fetch before tests failed", "app", opts.App, "error", err)
		}
	}

	worktree, cleanup, err := e.addWorktree(ctx, opts.Dir, rev)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	result := e.runSuite(ctx, worktree, opts)
	result.Commit = e.describe(ctx, worktree, "HEAD", opts)

	if !result.Passed && !result.TimedOut && opts.Tests.LastGoodCommit != "" {
		bisect, err := e.bisect(ctx, worktree, opts)
		if err != nil {
			e.Logger.Warn("bisect failed", "app", opts.App, "error", err)
		} else {
			result.Bisect = bisect
		}
	}

	return result, nil
}

func (e *Engine) timeout(tests app.TestConfig) time.Duration {
	if tests.Timeout > 0 {
		return time.Duration(tests.Timeout) * time.Second
	}
	if e.Timeout > 0 {
		return e.Timeout
	}
	return defaultTimeout
}

func (e *Engine) env(opts Options) []string {
	return []string{
		"DEPLOYHOOK_APP=" + opts.App,
		"DEPLOYHOOK_APP_DIR=" + opts.Dir,
		"DEPLOYHOOK_COMMIT=" + opts.Versioning.Commit,
		"DEPLOYHOOK_BRANCH=" + opts.Versioning.Branch,
	}
}

func (e *Engine) runSuite(ctx context.Context, dir string, opts Options) *Result {
	start := time.Now()
	res, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:            dir,
		Timeout:        e.timeout(opts.Tests),
		ExtraEnv:       e.env(opts),
		CombinedOutput: true,
	}, cmdutil.Shell(opts.Tests.Command))

	output := string(cmdutil.SanitizeOutput(res.Output, []string{opts.Tests.Token}))
	result := &Result{
		Passed:   err == nil && res.OK(),
		TimedOut: res.TimedOut,
		Output:   tail(output),
	}

	if report := parseTAP(output); report != nil {
		report.URL = expandURL(opts.Tests.ReportURL, opts.App, opts.Versioning.Commit)
		result.Report = report
	}
	if pct, ok := parseCoverage(output); ok {
		result.Coverage = &Coverage{
			Percentage: pct,
			URL:        expandURL(opts.Tests.CoverageURL, opts.App, opts.Versioning.Commit),
		}
	}

	e.Logger.Info("tests finished",
		"app", opts.App,
		"passed", result.Passed,
		"timed_out", result.TimedOut,
		"exit_code", res.ExitCode,
		"manual", opts.Manual,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return result
}

func (e *Engine) bisect(ctx context.Context, dir string, opts Options) (*Result, error) {
	good := opts.Tests.LastGoodCommit
	if err := security.ValidateCommitID(good); err != nil {
		return nil, fmt.Errorf("last good commit: %w", err)
	}

	bisectGit := *e.Git
	bisectGit.Timeout = e.timeout(opts.Tests) * 4

	if _, err := bisectGit.Run(ctx, dir, "bisect", "start", "HEAD", good); err != nil {
		return nil, err
	}
	defer func() {
		if _, err := bisectGit.Run(context.WithoutCancel(ctx), dir, "bisect", "reset"); err != nil {
			e.Logger.Warn("bisect reset failed", "app", opts.App, "error", err)
		}
	}()

	// git bisect run exits non-zero when the test command cannot decide.
	out, err := bisectGit.Run(ctx, dir, "bisect", "run", "sh", "-c", opts.Tests.Command)
	bad := parseFirstBad(out)
	if bad == "" {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("bisect did not name a first bad commit")
	}

	return &Result{
		Passed: false,
		Commit: e.describe(ctx, dir, bad, opts),
	}, nil
}

func (e *Engine) addWorktree(ctx context.Context, dir, rev string) (string, func(), error) {
	tmp, err := os.MkdirTemp("", "deployhook-tests-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating test worktree: %w", err)
	}

	if _, err := e.Git.Run(ctx, dir, "worktree", "add", "--detach", "--force", tmp, rev); err != nil {
		os.RemoveAll(tmp)
		return "", nil, fmt.Errorf("checking out %s for tests: %w", rev, err)
	}

	cleanup := func() {
		ctx := context.WithoutCancel(ctx)
		if _, err := e.Git.Run(ctx, dir, "worktree", "remove", "--force", tmp); err != nil {
			e.Logger.Warn("removing test worktree failed", "dir", tmp, "error", err)
			os.RemoveAll(tmp)
			e.Git.Run(ctx, dir, "worktree", "prune")
		}
	}
	return tmp, cleanup, nil
}

func (e *Engine) describe(ctx context.Context, dir, rev string, opts Options) Commit {
	commit := Commit{Branch: opts.Versioning.Branch}

	logged, err := e.Git.Log(ctx, dir, rev)
	if err != nil {
		e.Logger.Warn("describing commit failed", "app", opts.App, "rev", rev, "error", err)
		commit.SHA = opts.Versioning.Commit
		commit.ShortID = opts.Versioning.ShortCommit()
		return commit
	}
	commit.SHA = logged.SHA
	commit.ShortID = logged.ShortID
	commit.Message = logged.Message
	commit.Author = logged.Author
	commit.URL = commitURL(opts.Versioning.RepositoryURL, logged.SHA)

	if lookup := e.lookup(opts.Tests.Token); lookup != nil && opts.Versioning.RepositoryURL != "" {
		info, err := lookup.Commit(ctx, opts.Versioning.RepositoryURL, logged.SHA)
		if err != nil {
			e.Logger.Warn("commit lookup failed", "app", opts.App, "error", err)
			return commit
		}
		commit.URL = info.URL
		if info.Author != "" {
			commit.Author = info.Author
		}
	}
	return commit
}

func (e *Engine) lookup(token string) CommitLookup {
	if token == "" {
		return nil
	}
	if e.NewLookup != nil {
		return e.NewLookup(token)
	}
	if c := githubapi.NewClient(token); c != nil {
		return c
	}
	return nil
}

// commitURL guesses the web URL of sha from an https clone URL.
func commitURL(repoURL, sha string) string {
	if !strings.HasPrefix(repoURL, "https://") && !strings.HasPrefix(repoURL, "http://") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git") + "/commit/" + sha
}
