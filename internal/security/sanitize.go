package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	ownerRepoPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+/[a-zA-Z0-9_.-]+$`)
	branchPattern    = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	appPattern       = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	commitPattern    = regexp.MustCompile(`^[0-9a-fA-F]{4,64}$`)
)

// ValidateBranchName ensures branch name is safe for git operations.
// Prevents command injection through branch names.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateAppName ensures an app name is safe for use in URLs, process
// supervisor lookups and hook bookkeeping.
func ValidateAppName(name string) error {
	if name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("app name cannot start with '-' or '.'")
	}
	if !appPattern.MatchString(name) {
		return fmt.Errorf("app name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ValidateCommitID ensures a commit id is a plain hex object name before it
// is handed to git as an argument.
func ValidateCommitID(id string) error {
	if !commitPattern.MatchString(id) {
		return fmt.Errorf("commit id %q is not a hex object name", id)
	}
	return nil
}

// ValidateOwnerRepo checks a GitHub "owner/repo" pair.
func ValidateOwnerRepo(ownerRepo string) (owner, repo string, err error) {
	if !ownerRepoPattern.MatchString(ownerRepo) {
		return "", "", fmt.Errorf("expected owner/repo, got %q", ownerRepo)
	}
	owner, repo, _ = strings.Cut(ownerRepo, "/")
	return owner, strings.TrimSuffix(repo, ".git"), nil
}

// SanitizePath ensures a path is absolute and doesn't contain traversal attempts.
func SanitizePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be absolute: %s", path)
	}

	// Check for .. before cleaning (filepath.Clean removes them)
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path contains traversal elements: %s", path)
	}

	return filepath.Clean(path), nil
}
