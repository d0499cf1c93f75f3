package deployment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestShellHooks_Run(t *testing.T) {
	dir := t.TempDir()
	h := NewShellHooks(0, quietLogger())

	out, err := h.Run(context.Background(), "svc", dir, `echo "$DEPLOYHOOK_APP in $(pwd)"; echo oops >&2`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "svc in ") || !strings.Contains(out, "oops") {
		t.Errorf("output = %q, want stdout and stderr combined", out)
	}
	if h.Running("svc") {
		t.Error("hook still tracked after it finished")
	}
}

func TestShellHooks_NonZeroExit(t *testing.T) {
	h := NewShellHooks(0, quietLogger())

	out, err := h.Run(context.Background(), "svc", t.TempDir(), "echo failing; exit 3")

	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("error = %v, want HookError", err)
	}
	if hookErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", hookErr.ExitCode)
	}
	if !strings.Contains(out, "failing") {
		t.Errorf("output = %q, want output kept on failure", out)
	}
}

func TestShellHooks_Timeout(t *testing.T) {
	h := NewShellHooks(100*time.Millisecond, quietLogger())

	start := time.Now()
	_, err := h.Run(context.Background(), "svc", t.TempDir(), "sleep 10")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("hook was not stopped at its timeout")
	}
}

func TestShellHooks_KillsLeftoversOfTimedOutHook(t *testing.T) {
	dir := t.TempDir()
	h := NewShellHooks(200*time.Millisecond, quietLogger())

	// The background subshell outlives the shell that the timeout kills.
	_, err := h.Run(context.Background(), "svc", dir, "(sleep 1; touch survived) >/dev/null 2>&1 & wait")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !h.Running("svc") {
		t.Fatal("timed out hook with live children is not tracked")
	}

	if _, err := h.Run(context.Background(), "svc", dir, "true"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.Running("svc") {
		t.Error("hook still tracked after the next hook finished")
	}

	time.Sleep(1500 * time.Millisecond)
	if _, err := os.Stat(filepath.Join(dir, "survived")); err == nil {
		t.Error("leftover of the timed out hook was not killed")
	}
}

func TestShellHooks_OtherAppsLeftoversUntouched(t *testing.T) {
	dir := t.TempDir()
	h := NewShellHooks(200*time.Millisecond, quietLogger())

	if _, err := h.Run(context.Background(), "svc", dir, "(sleep 1; touch survived) >/dev/null 2>&1 & wait"); err == nil {
		t.Fatal("expected timeout error")
	}
	if _, err := h.Run(context.Background(), "api", dir, "true"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !h.Running("svc") {
		t.Error("a hook for another app released the tracked group")
	}

	time.Sleep(1500 * time.Millisecond)
	if _, err := os.Stat(filepath.Join(dir, "survived")); err != nil {
		t.Errorf("leftover of svc was killed by a hook for api: %v", err)
	}
}

func TestShellHooks_BackgroundProcessOfFinishedHookSurvives(t *testing.T) {
	dir := t.TempDir()
	h := NewShellHooks(0, quietLogger())

	if _, err := h.Run(context.Background(), "svc", dir, "(sleep 0.3; touch started) >/dev/null 2>&1 &"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.Running("svc") {
		t.Fatal("finished hook is still tracked")
	}
	if _, err := h.Run(context.Background(), "svc", dir, "true"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(dir, "started")); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("background process started by a finished hook was killed")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
