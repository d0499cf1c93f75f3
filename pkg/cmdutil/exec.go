package cmdutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

const waitDelay = 2 * time.Second

// ExecOptions configures command execution.
type ExecOptions struct {
	// Dir is the working directory for the command.
	Dir string

	// Timeout is the maximum execution time.
	// If zero, no timeout is applied.
	Timeout time.Duration

	// Env replaces the environment of the command when non-nil.
	// Each entry should be in the form "KEY=value".
	Env []string

	// ExtraEnv is appended to the current process environment.
	// Ignored when Env is set.
	ExtraEnv []string

	// CombinedOutput determines if stdout and stderr are combined.
	CombinedOutput bool

	// OnStart is called with the started process before waiting on it.
	OnStart func(*os.Process)

	// ProcessGroup starts the command as the leader of a new process group,
	// so KillGroup can reach children it leaves behind.
	ProcessGroup bool
}

// Result contains the result of a command execution.
type Result struct {
	// Stdout is the standard output (only if CombinedOutput is false).
	Stdout []byte

	// Stderr is the standard error (only if CombinedOutput is false).
	Stderr []byte

	// Output is the combined stdout and stderr (only if CombinedOutput is true).
	Output []byte

	// ExitCode is the exit code of the command, -1 if it never ran or was killed.
	ExitCode int

	// Duration is how long the command took to execute.
	Duration time.Duration

	// TimedOut is set when the timeout (or the context deadline) stopped the command.
	TimedOut bool
}

// OK reports whether the command exited with code 0.
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0
}

// Run executes a command with the given options.
// The command is provided as a slice of arguments (command and its arguments).
// A non-nil Result is always returned, even alongside an error.
func Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
	result := &Result{ExitCode: -1}
	if len(cmdParts) == 0 {
		return result, fmt.Errorf("empty command")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cmdParts[0], cmdParts[1:]...)
	cmd.Dir = opts.Dir
	// Shell children can outlive a killed sh and hold the output pipe open.
	cmd.WaitDelay = waitDelay
	if opts.ProcessGroup {
		setProcessGroup(cmd)
	}
	switch {
	case opts.Env != nil:
		cmd.Env = opts.Env
	case len(opts.ExtraEnv) > 0:
		cmd.Env = append(os.Environ(), opts.ExtraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if opts.CombinedOutput {
		cmd.Stderr = &stdout
	} else {
		cmd.Stderr = &stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("command failed to start: %w", err)
	}
	if opts.OnStart != nil {
		opts.OnStart(cmd.Process)
	}

	err := cmd.Wait()
	result.Duration = time.Since(start)

	if opts.CombinedOutput {
		result.Output = stdout.Bytes()
	} else {
		result.Stdout = stdout.Bytes()
		result.Stderr = stderr.Bytes()
	}

	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
	}

	if err != nil {
		if result.TimedOut {
			return result, fmt.Errorf("command timed out after %s: %w", result.Duration.Round(time.Millisecond), err)
		}
		return result, fmt.Errorf("command failed: %w", err)
	}

	return result, nil
}

// Shell wraps a command line so it is interpreted by /bin/sh.
// Hooks and test commands are user-authored shell snippets (pipes, &&, env
// assignments), so they are not split into argv.
func Shell(command string) []string {
	return []string{"sh", "-c", command}
}

// ParseCommandString parses a shell-quoted command string into parts.
//
// Example:
//
//	"npx pm2 --no-color" -> ["npx", "pm2", "--no-color"]
func ParseCommandString(cmdStr string) ([]string, error) {
	parts, err := shellquote.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command string: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command string")
	}
	return parts, nil
}

// FormatCommand formats command parts into a readable string for logging.
// Example: ["git", "commit", "-m", "my message"] -> "git commit -m 'my message'"
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if strings.ContainsAny(part, " \t\n\"'") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}

// SanitizeOutput removes sensitive information from command output.
// Hook output ends up in chat notifications, so app secrets are redacted first.
func SanitizeOutput(output []byte, secrets []string) []byte {
	sanitized := string(output)
	for _, secret := range secrets {
		if secret != "" {
			sanitized = strings.ReplaceAll(sanitized, secret, "***REDACTED***")
		}
	}
	return []byte(sanitized)
}
