package deployment

import (
	"fmt"
	"strings"
)

// Phase names a pipeline step.
type Phase string

const (
	PhaseResolveCWD Phase = "resolve_cwd"
	PhaseTests      Phase = "tests"
	PhasePull       Phase = "pull"
	PhasePreHook    Phase = "prehook"
	PhaseReload     Phase = "reload"
	PhasePostHook   Phase = "posthook"
	PhaseNotify     Phase = "notify"
)

// FatalError ends a pipeline run. It is reported through the notification only.
type FatalError struct {
	Phase Phase
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// TestFailureError stops a deployment whose tests failed.
type TestFailureError struct {
	Commit    string
	BadCommit string
	TimedOut  bool
}

func (e *TestFailureError) Error() string {
	var b strings.Builder
	if e.TimedOut {
		b.WriteString("tests timed out")
	} else {
		b.WriteString("tests failed")
	}
	if e.Commit != "" {
		fmt.Fprintf(&b, " at %s", e.Commit)
	}
	if e.BadCommit != "" {
		fmt.Fprintf(&b, "; first bad commit %s", e.BadCommit)
	}
	return b.String()
}

// HookError is returned when a hook command exits non-zero.
type HookError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *HookError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("hook %q exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("hook %q failed: %v", e.Command, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
