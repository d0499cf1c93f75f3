package notify

import (
	"errors"
	"fmt"
	"strings"

	"deployhook/internal/deployment"
	"deployhook/internal/testengine"
)

// Attachment colors understood by Slack-compatible webhooks.
const (
	ColorGood    = "good"
	ColorDanger  = "danger"
	ColorWarning = "warning"
)

// DefaultCoverageThreshold is the coverage percentage below which a passing
// run is shown as a warning.
const DefaultCoverageThreshold = 80

// Message is a formatted notification.
type Message struct {
	Headline    string       `json:"text"`
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is one block of a Message.
type Attachment struct {
	Fallback string   `json:"fallback"`
	Text     string   `json:"text"`
	Color    string   `json:"color,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
}

// Action is a link button.
type Action struct {
	Type string `json:"type"`
	Text string `json:"text"`
	URL  string `json:"url"`
}

// FormatOptions tune Format.
type FormatOptions struct {
	CoverageThreshold float64
	Channel           string
	Username          string
}

// Format builds the notification for a finished run.
func Format(report *deployment.Report, opts FormatOptions) Message {
	if opts.CoverageThreshold <= 0 {
		opts.CoverageThreshold = DefaultCoverageThreshold
	}

	req := report.Request
	msg := Message{
		Headline: headline(report),
		Channel:  opts.Channel,
		Username: opts.Username,
	}
	if req.Config.Channel != "" {
		msg.Channel = req.Config.Channel
	}

	if report.Tests != nil {
		msg.Attachments = append(msg.Attachments, testAttachment(report, opts.CoverageThreshold))
		if a, ok := bisectAttachment(report.Tests); ok {
			msg.Attachments = append(msg.Attachments, a)
		}
	}
	if a, ok := deployAttachment(report); ok {
		msg.Attachments = append(msg.Attachments, a)
	}
	return msg
}

func headline(report *deployment.Report) string {
	req := report.Request

	var b strings.Builder
	b.WriteString(req.Target)
	b.WriteString(": ")
	branch := req.Versioning.Branch
	if branch == "" {
		branch = "unknown"
	}
	b.WriteString(branch)
	if short := req.Versioning.ShortCommit(); short != "" {
		b.WriteString("@")
		b.WriteString(short)
	}

	switch {
	case req.Options.DryRun():
		b.WriteString(" (dry run)")
	case req.Options.Manual:
		b.WriteString(" (manual)")
	}
	return b.String()
}

func testAttachment(report *deployment.Report, threshold float64) Attachment {
	res := report.Tests

	var text string
	switch {
	case res.TimedOut:
		text = "Tests timed out"
	case res.Report == nil || res.Report.AllSkipped():
		text = "Tests could not run"
	default:
		r := res.Report
		text = fmt.Sprintf("%d passed, %d failed, %d pending, %d skipped", r.Passed, r.Failed, r.Pending, r.Skipped)
		if res.Coverage != nil {
			text += fmt.Sprintf(", coverage %.1f%%", res.Coverage.Percentage)
		}
	}

	color := ColorGood
	switch {
	case !res.Passed:
		color = ColorDanger
	case res.Coverage != nil && res.Coverage.Percentage < threshold:
		color = ColorWarning
	}

	a := Attachment{Fallback: text, Text: text, Color: color}
	if url := report.Request.Versioning.CompareURL; url != "" {
		a.Actions = append(a.Actions, link("View diff", url))
	}
	if res.Report != nil && res.Report.URL != "" {
		a.Actions = append(a.Actions, link("Test report", res.Report.URL))
	}
	if res.Coverage != nil && res.Coverage.URL != "" {
		a.Actions = append(a.Actions, link("Coverage report", res.Coverage.URL))
	}
	return a
}

func bisectAttachment(res *testengine.Result) (Attachment, bool) {
	if res.Passed || res.Bisect == nil || res.Bisect.Commit.ShortID == "" {
		return Attachment{}, false
	}

	c := res.Bisect.Commit
	text := "First bad commit " + c.ShortID
	if c.Message != "" {
		text += ": " + firstLine(c.Message)
	}
	if c.Author != "" {
		text += " (" + c.Author + ")"
	}

	a := Attachment{Fallback: text, Text: text, Color: ColorDanger}
	if c.URL != "" {
		a.Actions = append(a.Actions, link("View commit", c.URL))
	}
	return a, true
}

func deployAttachment(report *deployment.Report) (Attachment, bool) {
	out := report.Outcome
	target := report.Request.Target

	var testErr *deployment.TestFailureError
	switch {
	case out.Err != nil && errors.As(out.Err, &testErr):
		return newAttachment("Not deployed: tests failed", ColorDanger), true
	case out.Err != nil:
		return newAttachment("Deploy encountered an error: "+out.Err.Error(), ColorDanger), true
	case out.Pulled && out.Reloaded:
		return newAttachment("Pulled and reloaded "+target, ColorGood), true
	case out.Pulled:
		return newAttachment("Pulled "+target+", supervisor reload skipped", ColorGood), true
	}
	return Attachment{}, false
}

func newAttachment(text, color string) Attachment {
	return Attachment{Fallback: text, Text: text, Color: color}
}

func link(text, url string) Action {
	return Action{Type: "button", Text: text, URL: url}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
