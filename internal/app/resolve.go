package app

import "strings"

// Resolve picks the application that a notification for requested on
// branch should deploy. The default branch always maps to requested. An
// entry named "requested-branch" wins next. Otherwise entries whose name
// starts with requested are scanned in order: the first one listing branch
// explicitly wins, and the last one listing the wildcard is used if no
// explicit match exists. Falls back to requested.
//
// The caller must still check that the returned name exists.
func Resolve(apps []Config, requested, branch, defaultBranch string) string {
	if defaultBranch == "" {
		defaultBranch = DefaultBranch
	}
	if branch == defaultBranch {
		return requested
	}

	variant := requested + "-" + branch
	for _, cfg := range apps {
		if cfg.Name == variant {
			return variant
		}
	}

	target := ""
	for _, cfg := range apps {
		if !strings.HasPrefix(cfg.Name, requested) {
			continue
		}
		if cfg.AcceptsBranch(branch) {
			target = cfg.Name
			break
		}
		if cfg.AcceptsAnyBranch() {
			target = cfg.Name
		}
	}

	if target == "" {
		return requested
	}
	return target
}
