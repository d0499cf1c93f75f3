package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

var signals = map[string]syscall.Signal{
	"SIGHUP":  syscall.SIGHUP,
	"SIGINT":  syscall.SIGINT,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGTERM": syscall.SIGTERM,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

// ProcessTable finds applications in the OS process table and reloads them
// by signal.
type ProcessTable struct {
	Signal syscall.Signal
}

// NewProcessTable returns a ProcessTable sending signalName on reload (default SIGUSR2).
func NewProcessTable(signalName string) (*ProcessTable, error) {
	if signalName == "" {
		signalName = "SIGUSR2"
	}
	sig, ok := signals[strings.ToUpper(signalName)]
	if !ok {
		return nil, fmt.Errorf("unsupported reload signal '%s'", signalName)
	}
	return &ProcessTable{Signal: sig}, nil
}

// Describe finds the oldest process whose name, or any command line
// argument's base name, equals name.
func (pt *ProcessTable) Describe(ctx context.Context, name string) (*Instance, error) {
	proc, err := pt.find(ctx, name)
	if err != nil {
		return nil, err
	}

	inst := &Instance{Name: name, PID: proc.Pid}
	if cwd, err := proc.CwdWithContext(ctx); err == nil {
		inst.CWD = cwd
	}
	if status, err := proc.StatusWithContext(ctx); err == nil && len(status) > 0 {
		inst.Status = status[0]
	}
	return inst, nil
}

// GracefulReload signals the process found by Describe.
func (pt *ProcessTable) GracefulReload(ctx context.Context, name string) error {
	proc, err := pt.find(ctx, name)
	if err != nil {
		return err
	}
	if err := proc.SendSignalWithContext(ctx, pt.Signal); err != nil {
		return fmt.Errorf("signalling pid %d: %w", proc.Pid, err)
	}
	return nil
}

func (pt *ProcessTable) find(ctx context.Context, name string) (*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var (
		found   *process.Process
		created int64
	)
	for _, p := range procs {
		if !matches(ctx, p, name) {
			continue
		}
		ct, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			continue
		}
		if found == nil || ct < created {
			found, created = p, ct
		}
	}

	if found == nil {
		return nil, notRunning(name)
	}
	return found, nil
}

func matches(ctx context.Context, p *process.Process, name string) bool {
	if pname, err := p.NameWithContext(ctx); err == nil && pname == name {
		return true
	}
	args, err := p.CmdlineSliceWithContext(ctx)
	if err != nil {
		return false
	}
	for _, arg := range args {
		if arg == name || filepath.Base(arg) == name {
			return true
		}
	}
	return false
}
