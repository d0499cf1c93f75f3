// Package supervisor talks to whatever keeps the managed applications
// running: pm2, or plain processes found in the OS process table.
package supervisor

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotRunning is returned when no running instance matches an app name.
var ErrNotRunning = errors.New("application not running")

// Instance describes one running application.
type Instance struct {
	Name   string
	PID    int32
	CWD    string
	Status string
}

// Supervisor describes and reloads running applications.
type Supervisor interface {
	Describe(ctx context.Context, name string) (*Instance, error)
	GracefulReload(ctx context.Context, name string) error
}

// New returns the supervisor for kind ("pm2" or "process").
func New(kind, pm2Bin, reloadSignal string) (Supervisor, error) {
	switch kind {
	case "", "pm2":
		pm2, err := NewPM2(pm2Bin)
		if err != nil {
			return nil, err
		}
		return pm2, nil
	case "process":
		pt, err := NewProcessTable(reloadSignal)
		if err != nil {
			return nil, err
		}
		return pt, nil
	default:
		return nil, fmt.Errorf("unknown supervisor kind '%s'", kind)
	}
}

func notRunning(name string) error {
	return fmt.Errorf("%w: %s", ErrNotRunning, name)
}
