package testengine

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// Commit describes the revision a test run (or bisect) points at.
type Commit struct {
	SHA     string
	ShortID string
	URL     string
	Branch  string
	Message string
	Author  string
}

// Report holds TAP counts for one run.
type Report struct {
	URL        string
	Passed     int
	Failed     int
	Pending    int
	Skipped    int
	Registered int
}

// AllSkipped reports whether nothing registered actually ran.
func (r *Report) AllSkipped() bool {
	return r.Registered > 0 && r.Skipped >= r.Registered
}

// Coverage is the line coverage printed by the test command.
type Coverage struct {
	Percentage float64
	URL        string
}

// Result is the outcome of one test run.
type Result struct {
	Passed   bool
	TimedOut bool
	Commit   Commit
	Report   *Report
	Coverage *Coverage

	// Bisect identifies the first bad commit when a failing run was bisected.
	Bisect *Result

	// Output is the tail of the combined test output.
	Output string
}

var (
	tapPlan    = regexp.MustCompile(`^1\.\.(\d+)`)
	tapLine    = regexp.MustCompile(`^(not ok|ok)\b(.*)$`)
	tapSkip    = regexp.MustCompile(`(?i)#\s*skip`)
	tapTodo    = regexp.MustCompile(`(?i)#\s*todo`)
	coverageRe = regexp.MustCompile(`(?i)coverage:\s*([0-9]+(?:\.[0-9]+)?)\s*%`)
	firstBadRe = regexp.MustCompile(`(?m)^([0-9a-f]{40}) is the first bad commit`)
)

const maxTailSize = 4096

// parseTAP counts top-level TAP test points. Returns nil when output has no TAP.
func parseTAP(output string) *Report {
	var (
		report  Report
		plan    = -1
		matched bool
	)

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if m := tapPlan.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				plan = n
				matched = true
			}
			continue
		}

		m := tapLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		matched = true
		ok := m[1] == "ok"
		rest := m[2]

		switch {
		case tapTodo.MatchString(rest):
			report.Pending++
		case ok && tapSkip.MatchString(rest):
			report.Skipped++
		case ok:
			report.Passed++
		default:
			report.Failed++
		}
	}

	if !matched {
		return nil
	}

	report.Registered = report.Passed + report.Failed + report.Pending + report.Skipped
	if plan > report.Registered {
		report.Registered = plan
	}
	return &report
}

// parseCoverage returns the last coverage percentage in output.
func parseCoverage(output string) (float64, bool) {
	matches := coverageRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, false
	}
	pct, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// parseFirstBad extracts the sha git bisect blamed.
func parseFirstBad(output string) string {
	if m := firstBadRe.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	return ""
}

func tail(output string) string {
	if len(output) <= maxTailSize {
		return output
	}
	return output[len(output)-maxTailSize:]
}

// expandURL substitutes {app} and {commit} in a configured URL template.
func expandURL(template, appName, commit string) string {
	if template == "" {
		return ""
	}
	return strings.NewReplacer("{app}", appName, "{commit}", commit).Replace(template)
}
