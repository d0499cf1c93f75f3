package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"
)

// BindError is returned when the listen address could not be bound.
type BindError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s after %d attempt(s): %v", e.Addr, e.Attempts, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Binder opens the listening socket. While the address is in use it retries
// exactly Retries times, waiting Delay before each retry. Any other error
// fails immediately.
type Binder struct {
	Retries int
	Delay   time.Duration
	Logger  *slog.Logger

	// Listen and Sleep default to net.Listen and a context-aware sleep.
	Listen func(network, addr string) (net.Listener, error)
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Bind listens on addr over TCP.
func (b *Binder) Bind(ctx context.Context, addr string) (net.Listener, error) {
	listen := b.Listen
	if listen == nil {
		listen = net.Listen
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attempts := 0
	for {
		attempts++
		ln, err := listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) || attempts > b.Retries {
			return nil, &BindError{Addr: addr, Attempts: attempts, Err: err}
		}

		logger.Warn("address in use, retrying", "addr", addr, "attempt", attempts, "retries", b.Retries, "delay", b.Delay.String())
		if err := sleep(ctx, b.Delay); err != nil {
			return nil, &BindError{Addr: addr, Attempts: attempts, Err: err}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
