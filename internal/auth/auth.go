// Package auth verifies inbound deploy notifications. Each provider is a
// Strategy registered under its name; Authenticate dispatches on the
// provider configured for the app.
package auth

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"

	"deployhook/internal/app"
)

// ErrUnknownProvider is wrapped by the Error returned for an unregistered provider.
var ErrUnknownProvider = errors.New("unknown provider")

// Error is returned when a notification cannot be authenticated.
type Error struct {
	Provider string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(provider, format string, args ...interface{}) *Error {
	return &Error{Provider: provider, Reason: fmt.Sprintf(format, args...)}
}

// Request is the raw inbound notification.
type Request struct {
	Header http.Header
	Body   []byte

	// RemoteIP is the caller's address, with or without a port.
	RemoteIP string
}

// Strategy verifies notifications from one provider.
type Strategy interface {
	// Verify authenticates req for cfg and extracts the pushed revision.
	Verify(cfg app.Config, req *Request) (app.VersioningInfo, error)

	// Describe summarises what Verify checks, for operators.
	Describe() string
}

// Authenticator dispatches to the strategy registered for an app's provider.
type Authenticator struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// New returns an Authenticator with every built-in provider registered.
func New() *Authenticator {
	a := &Authenticator{strategies: make(map[string]Strategy)}
	a.Register(app.ProviderGitHub, GitHub{})
	a.Register(app.ProviderGitLab, GitLab{})
	a.Register(app.ProviderDroneCI, DroneCI{})
	a.Register(app.ProviderJenkins, Jenkins{})
	a.Register(app.ProviderBitbucket, Bitbucket{})
	return a
}

// Register adds or replaces the strategy for provider.
func (a *Authenticator) Register(provider string, s Strategy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.strategies[strings.ToLower(provider)] = s
}

// Providers lists registered provider names, sorted.
func (a *Authenticator) Providers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.strategies))
	for name := range a.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the strategy description for provider.
func (a *Authenticator) Describe(provider string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if s, ok := a.strategies[strings.ToLower(provider)]; ok {
		return s.Describe()
	}
	return ErrUnknownProvider.Error()
}

// Authenticate verifies req against cfg. It has no side effects; any failure
// is an *Error.
func (a *Authenticator) Authenticate(cfg app.Config, req *Request) (app.VersioningInfo, error) {
	provider := cfg.ProviderName()

	a.mu.RLock()
	s, ok := a.strategies[provider]
	a.mu.RUnlock()
	if !ok {
		return app.VersioningInfo{}, &Error{Provider: provider, Reason: ErrUnknownProvider.Error(), Err: ErrUnknownProvider}
	}
	if req == nil {
		return app.VersioningInfo{}, fail(provider, "empty request")
	}

	info, err := s.Verify(cfg, req)
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) {
			return app.VersioningInfo{}, err
		}
		return app.VersioningInfo{}, &Error{Provider: provider, Reason: err.Error(), Err: err}
	}
	return info, nil
}

// BranchFromRef returns everything after the second '/' of a git ref, so
// "refs/heads/feature-x" yields "feature-x". Refs with fewer than three
// segments are returned unchanged.
func BranchFromRef(ref string) string {
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) < 3 || parts[2] == "" {
		return ref
	}
	return parts[2]
}

// hostIP strips an optional port from a remote address.
func hostIP(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return strings.Trim(remote, "[]")
}
