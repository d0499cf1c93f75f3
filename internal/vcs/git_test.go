package vcs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deployhook/internal/vcs/vcstest"
)

func TestGit_Update(t *testing.T) {
	upstream := vcstest.NewRepo(t)
	upstream.Commit(t, "app.txt", "v1\n", "first")
	clone := upstream.Clone(t)

	// Local edits are discarded by the update.
	if err := os.WriteFile(filepath.Join(clone, "app.txt"), []byte("dirty\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	second := upstream.Commit(t, "app.txt", "v2\n", "second")

	g := NewGit(nil)
	if err := g.Update(context.Background(), clone); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(clone, "app.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "v2\n" {
		t.Errorf("app.txt = %q, want v2", data)
	}

	head, err := g.Head(context.Background(), clone)
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Commit != second {
		t.Errorf("Head().Commit = %s, want %s", head.Commit, second)
	}
	if head.Branch != "master" {
		t.Errorf("Head().Branch = %q, want master", head.Branch)
	}
	if head.Tree == "" || head.RepositoryURL != upstream.Dir {
		t.Errorf("Head() = %+v, want tree and origin URL", head)
	}
}

func TestGit_UpdateErrors(t *testing.T) {
	vcstest.RequireGit(t)
	g := NewGit(nil)

	if err := g.Update(context.Background(), "relative/dir"); err == nil {
		t.Error("Update() should reject a relative directory")
	}

	notRepo := t.TempDir()
	err := g.Update(context.Background(), notRepo)
	if err == nil {
		t.Fatal("Update() should fail outside a git repository")
	}
	if !strings.Contains(err.Error(), "git reset failed") {
		t.Errorf("Update() error = %v, want reset failure", err)
	}
}

func TestGit_Log(t *testing.T) {
	upstream := vcstest.NewRepo(t)
	sha := upstream.Commit(t, "README", "hello\n", "Add readme\n\nbody text")

	g := NewGit(nil)
	commit, err := g.Log(context.Background(), upstream.Dir, sha)
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if commit.SHA != sha || !strings.HasPrefix(sha, commit.ShortID) {
		t.Errorf("Log() ids = %s/%s, want %s", commit.SHA, commit.ShortID, sha)
	}
	if commit.Message != "Add readme" || commit.Author != "Dana Example" {
		t.Errorf("Log() = %+v", commit)
	}

	if _, err := g.Log(context.Background(), upstream.Dir, "--all"); err == nil {
		t.Error("Log() should reject option-like revisions")
	}
	if !g.HasCommit(context.Background(), upstream.Dir, sha) {
		t.Error("HasCommit() = false for existing commit")
	}
	if g.HasCommit(context.Background(), upstream.Dir, "0123456789abcdef0123456789abcdef01234567") {
		t.Error("HasCommit() = true for unknown commit")
	}
}
