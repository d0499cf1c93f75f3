package deployment

import (
	"context"
	"log/slog"
	"os"
	"time"

	"deployhook/pkg/cmdutil"
)

const defaultHookTimeout = 5 * time.Minute

// ShellHooks runs pre/post hook commands with sh -c, each in its own process
// group.
//
// A hook cut short by its timeout or a cancelled context only loses its
// shell; anything the shell started keeps running. Such a group stays
// tracked per app and is killed before the next hook for that app starts.
// Hooks that finish on their own are forgotten, so background processes they
// launch on purpose survive. The map is only touched from the queue's run
// loop, which never runs two pipelines at once, so it has no lock.
type ShellHooks struct {
	Timeout time.Duration
	Logger  *slog.Logger

	// running maps app name to the process group of its unfinished hook.
	running map[string]int
}

// NewShellHooks creates a hook runner. A zero timeout uses the default.
func NewShellHooks(timeout time.Duration, logger *slog.Logger) *ShellHooks {
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellHooks{
		Timeout: timeout,
		Logger:  logger,
		running: make(map[string]int),
	}
}

// Run executes command in dir and returns its combined output.
func (h *ShellHooks) Run(ctx context.Context, appName, dir, command string) (string, error) {
	h.killSuperseded(appName)

	var pgid int
	res, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:            dir,
		Timeout:        h.Timeout,
		ExtraEnv:       []string{"DEPLOYHOOK_APP=" + appName, "DEPLOYHOOK_DIR=" + dir},
		CombinedOutput: true,
		ProcessGroup:   true,
		OnStart: func(p *os.Process) {
			pgid = p.Pid
		},
	}, cmdutil.Shell(command))

	cutShort := res.TimedOut || ctx.Err() != nil
	if cutShort && pgid > 0 && cmdutil.GroupAlive(pgid) {
		h.Logger.Warn("hook left processes behind", "app", appName, "pgid", pgid)
		h.running[appName] = pgid
	}

	output := string(res.Output)
	if err != nil {
		return output, &HookError{Command: command, ExitCode: res.ExitCode, Err: err}
	}
	return output, nil
}

func (h *ShellHooks) killSuperseded(appName string) {
	pgid, ok := h.running[appName]
	if !ok {
		return
	}
	delete(h.running, appName)

	h.Logger.Warn("killing superseded hook", "app", appName, "pgid", pgid)
	if err := cmdutil.KillGroup(pgid); err != nil {
		h.Logger.Debug("superseded hook already gone", "app", appName, "error", err)
	}
}

// Running reports whether an unfinished hook for appName is being tracked.
func (h *ShellHooks) Running(appName string) bool {
	_, ok := h.running[appName]
	return ok
}
