// Package vcs updates application working copies with git.
package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"deployhook/internal/app"
	"deployhook/internal/security"
	"deployhook/pkg/cmdutil"
)

const defaultTimeout = 5 * time.Minute

// Git drives the git binary inside a working copy.
type Git struct {
	Bin     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewGit returns a Git using the git binary on PATH.
func NewGit(logger *slog.Logger) *Git {
	return &Git{Bin: "git", Timeout: defaultTimeout, Logger: logger}
}

// Commit is what `git log` reports about one revision.
type Commit struct {
	SHA     string
	ShortID string
	Message string
	Author  string
}

// Run executes git with args in dir and returns trimmed combined output.
func (g *Git) Run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := g.Bin
	if bin == "" {
		bin = "git"
	}
	timeout := g.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	cmd := append([]string{bin}, args...)
	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:            dir,
		Timeout:        timeout,
		CombinedOutput: true,
		// Never block on a credential prompt.
		ExtraEnv: []string{"GIT_TERMINAL_PROMPT=0"},
	}, cmd)
	output := strings.TrimSpace(string(result.Output))
	if err != nil {
		if output != "" {
			return output, fmt.Errorf("%s: %w: %s", cmdutil.FormatCommand(cmd), err, output)
		}
		return output, fmt.Errorf("%s: %w", cmdutil.FormatCommand(cmd), err)
	}
	return output, nil
}

// Update discards local modifications and fast-forwards dir to its upstream.
func (g *Git) Update(ctx context.Context, dir string) error {
	if _, err := security.SanitizePath(dir); err != nil {
		return fmt.Errorf("invalid working directory: %w", err)
	}

	if _, err := g.Run(ctx, dir, "reset", "--hard", "HEAD"); err != nil {
		return fmt.Errorf("git reset failed: %w", err)
	}
	output, err := g.Run(ctx, dir, "pull", "--ff-only")
	if err != nil {
		return fmt.Errorf("git pull failed: %w", err)
	}

	if g.Logger != nil {
		g.Logger.Info("working copy updated", "dir", dir, "output", output)
	}
	return nil
}

// Head describes the commit checked out in dir.
func (g *Git) Head(ctx context.Context, dir string) (app.VersioningInfo, error) {
	out, err := g.Run(ctx, dir, "rev-parse", "HEAD", "HEAD^{tree}")
	if err != nil {
		return app.VersioningInfo{}, fmt.Errorf("reading HEAD: %w", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		return app.VersioningInfo{}, fmt.Errorf("unexpected rev-parse output %q", out)
	}

	info := app.VersioningInfo{
		Commit: strings.TrimSpace(lines[0]),
		Tree:   strings.TrimSpace(lines[1]),
	}

	if branch, err := g.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && branch != "HEAD" {
		info.Branch = branch
	}
	// A working copy without a remote is still describable.
	if remote, err := g.Run(ctx, dir, "remote", "get-url", "origin"); err == nil {
		info.RepositoryURL = remote
	}

	return info, nil
}

// Log describes rev.
func (g *Git) Log(ctx context.Context, dir, rev string) (Commit, error) {
	if rev == "" || strings.HasPrefix(rev, "-") {
		return Commit{}, fmt.Errorf("invalid revision %q", rev)
	}
	out, err := g.Run(ctx, dir, "log", "-1", "--format=%H%x1f%h%x1f%s%x1f%an", rev, "--")
	if err != nil {
		return Commit{}, err
	}

	fields := strings.Split(out, "\x1f")
	if len(fields) != 4 {
		return Commit{}, fmt.Errorf("unexpected git log output %q", out)
	}
	return Commit{SHA: fields[0], ShortID: fields[1], Message: fields[2], Author: fields[3]}, nil
}

// HasCommit reports whether rev names a commit in dir.
func (g *Git) HasCommit(ctx context.Context, dir, rev string) bool {
	if rev == "" || strings.HasPrefix(rev, "-") {
		return false
	}
	_, err := g.Run(ctx, dir, "cat-file", "-e", rev+"^{commit}")
	return err == nil
}
