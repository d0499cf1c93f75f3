package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deployhook/pkg/cmdutil"
)

const pm2Timeout = 2 * time.Minute

// PM2 drives the pm2 CLI.
type PM2 struct {
	// Command is the pm2 invocation, e.g. ["npx", "pm2"].
	Command []string
	Timeout time.Duration
}

type pm2Process struct {
	Name   string `json:"name"`
	PID    int32  `json:"pid"`
	PM2Env struct {
		CWD    string `json:"pm_cwd"`
		Status string `json:"status"`
	} `json:"pm2_env"`
}

// NewPM2 parses bin as a shell-quoted command line. Empty means "pm2".
func NewPM2(bin string) (*PM2, error) {
	if strings.TrimSpace(bin) == "" {
		bin = "pm2"
	}
	parts, err := cmdutil.ParseCommandString(bin)
	if err != nil {
		return nil, fmt.Errorf("invalid pm2 command: %w", err)
	}
	return &PM2{Command: parts, Timeout: pm2Timeout}, nil
}

func (p *PM2) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := append(append([]string{}, p.Command...), args...)
	res, err := cmdutil.Run(ctx, cmdutil.ExecOptions{Timeout: p.Timeout}, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", cmdutil.FormatCommand(cmd), err, strings.TrimSpace(string(res.Stderr)))
	}
	return res.Stdout, nil
}

// Describe finds name in `pm2 jlist`. Stopped or errored processes count as not running.
func (p *PM2) Describe(ctx context.Context, name string) (*Instance, error) {
	out, err := p.run(ctx, "jlist")
	if err != nil {
		return nil, err
	}

	procs, err := parseJList(out)
	if err != nil {
		return nil, err
	}

	for _, proc := range procs {
		if proc.Name != name {
			continue
		}
		if proc.PM2Env.Status != "online" {
			continue
		}
		return &Instance{
			Name:   proc.Name,
			PID:    proc.PID,
			CWD:    proc.PM2Env.CWD,
			Status: proc.PM2Env.Status,
		}, nil
	}
	return nil, notRunning(name)
}

// GracefulReload runs `pm2 reload <name>`.
func (p *PM2) GracefulReload(ctx context.Context, name string) error {
	if _, err := p.run(ctx, "reload", name); err != nil {
		return fmt.Errorf("pm2 reload failed: %w", err)
	}
	return nil
}

// parseJList decodes pm2 jlist output. pm2 may print banner lines before the JSON.
func parseJList(out []byte) ([]pm2Process, error) {
	start := strings.IndexByte(string(out), '[')
	if start < 0 {
		return nil, fmt.Errorf("pm2 jlist printed no process list")
	}

	var procs []pm2Process
	if err := json.Unmarshal(out[start:], &procs); err != nil {
		return nil, fmt.Errorf("parsing pm2 jlist: %w", err)
	}
	return procs, nil
}
