package deployment

import (
	"time"

	"deployhook/internal/app"
	"deployhook/internal/testengine"

	"github.com/google/uuid"
)

// Options control how far a deployment goes.
type Options struct {
	// Manual marks a trigger that did not come from a provider notification.
	Manual bool

	// ForceDeploy makes a manual trigger pull, run hooks and reload.
	ForceDeploy bool

	// Notify sends the chat notification at the end of the run.
	Notify bool
}

// DryRun reports whether only working directory resolution and tests run.
func (o Options) DryRun() bool {
	return o.Manual && !o.ForceDeploy
}

// Request is one accepted deployment. It is immutable once enqueued and
// carries its own config snapshot, so reloading apps never affects it.
type Request struct {
	ID         string
	Target     string
	Config     app.Config
	Versioning app.VersioningInfo
	Options    Options
	EnqueuedAt time.Time
}

// NewRequest builds a request for target with a fresh ID.
func NewRequest(target string, cfg app.Config, versioning app.VersioningInfo, opts Options) *Request {
	return &Request{
		ID:         uuid.NewString(),
		Target:     target,
		Config:     cfg.Clone(),
		Versioning: versioning,
		Options:    opts,
		EnqueuedAt: time.Now(),
	}
}

// Outcome records which deploy side effects happened.
type Outcome struct {
	Pulled         bool
	PreHookOutput  *string
	Reloaded       bool
	PostHookOutput *string

	// Err is the fatal error that ended the run, if any.
	Err error
}

// Report is everything known about a finished run.
type Report struct {
	Request  *Request
	CWD      string
	Tests    *testengine.Result
	Outcome  Outcome
	Duration time.Duration
}

// TestsFailed reports whether a test result exists and did not pass.
func (r *Report) TestsFailed() bool {
	return r.Tests != nil && !r.Tests.Passed
}
