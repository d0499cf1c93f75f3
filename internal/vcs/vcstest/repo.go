// Package vcstest builds throwaway git repositories for tests.
package vcstest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Repo is an upstream repository living in a temp directory.
type Repo struct {
	Dir string
}

// RequireGit skips the test when git is not installed.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// NewRepo creates an empty repository on branch master.
func NewRepo(t testing.TB) *Repo {
	t.Helper()
	RequireGit(t)

	r := &Repo{Dir: t.TempDir()}
	Git(t, r.Dir, "init", "-q")
	Git(t, r.Dir, "symbolic-ref", "HEAD", "refs/heads/master")
	return r
}

// Commit writes content to file and commits it, returning the new sha.
func (r *Repo) Commit(t testing.TB, file, content, message string) string {
	t.Helper()
	path := filepath.Join(r.Dir, file)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("write %s: %v", file, err)
	}
	Git(t, r.Dir, "add", file)
	Git(t, r.Dir, "commit", "-q", "-m", message)
	return Git(t, r.Dir, "rev-parse", "HEAD")
}

// Clone clones the repository into a new temp directory.
func (r *Repo) Clone(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clone")
	Git(t, "", "clone", "-q", r.Dir, dir)
	return dir
}

// Git runs git in dir with a fixed identity and returns trimmed output.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Dana Example",
		"GIT_AUTHOR_EMAIL=dana@example.com",
		"GIT_COMMITTER_NAME=Dana Example",
		"GIT_COMMITTER_EMAIL=dana@example.com",
		"GIT_CONFIG_NOSYSTEM=1",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}
