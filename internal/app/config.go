package app

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"deployhook/internal/security"

	"gopkg.in/yaml.v3"
)

// ForbiddenSecrets are placeholder values copied from documentation.
var ForbiddenSecrets = map[string]bool{
	"replace-with-secret":     true,
	"github-webhook-password": true,
	"topsecret":               true,
	"secret":                  true,
	"password":                true,
	"changeme":                true,
}

var knownProviders = map[string]bool{
	ProviderGitHub:    true,
	ProviderGitLab:    true,
	ProviderDroneCI:   true,
	ProviderJenkins:   true,
	ProviderBitbucket: true,
}

// File is the root of apps.yaml. Apps is a list because the target
// resolver depends on configuration order.
type File struct {
	Apps []Config `yaml:"apps"`
}

// LoadFile loads and validates application configs from a YAML file.
func LoadFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read apps file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates application configs from YAML.
func Parse(data []byte) ([]Config, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML apps file: %w", err)
	}

	seen := make(map[string]bool, len(file.Apps))
	apps := make([]Config, 0, len(file.Apps))
	for i, cfg := range file.Apps {
		cfg = Normalize(cfg)
		if errs := Validate(cfg); len(errs) > 0 {
			label := cfg.Name
			if label == "" {
				label = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("invalid configuration for app '%s':\n%s", label, strings.Join(errs, "\n"))
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate app name '%s'", cfg.Name)
		}
		seen[cfg.Name] = true
		apps = append(apps, cfg)
	}

	return apps, nil
}

// Normalize applies defaults and trims whitespace.
func Normalize(cfg Config) Config {
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = ProviderGitHub
	}
	if cfg.CWD != "" {
		cfg.CWD = filepath.Clean(cfg.CWD)
	}
	return cfg
}

// Validate checks a single application config and returns every problem found.
func Validate(cfg Config) []string {
	var errs []string

	if err := security.ValidateAppName(cfg.Name); err != nil {
		errs = append(errs, fmt.Sprintf("  - name: %v", err))
	}

	provider := cfg.ProviderName()
	if !knownProviders[provider] {
		errs = append(errs, fmt.Sprintf("  - provider: unknown provider '%s'", provider))
	}

	switch provider {
	case ProviderGitHub, ProviderGitLab, ProviderDroneCI:
		if cfg.Secret == "" {
			errs = append(errs, fmt.Sprintf("  - secret: required for provider '%s'", provider))
		} else if ForbiddenSecrets[strings.ToLower(cfg.Secret)] {
			errs = append(errs, "  - secret: appears to be a placeholder value, replace with real secret")
		}
	case ProviderBitbucket:
		if cfg.AllowedIP != "" {
			if _, _, err := net.ParseCIDR(cfg.AllowedIP); err != nil {
				errs = append(errs, fmt.Sprintf("  - allowed_ip: bitbucket requires a CIDR range, got '%s'", cfg.AllowedIP))
			}
		}
	}

	if cfg.CWD != "" && !filepath.IsAbs(cfg.CWD) {
		errs = append(errs, fmt.Sprintf("  - cwd: must be absolute, got '%s'", cfg.CWD))
	}

	for i, branch := range cfg.Branches {
		if branch == WildcardBranch {
			continue
		}
		if err := security.ValidateBranchName(branch); err != nil {
			errs = append(errs, fmt.Sprintf("  - branches[%d]: %v", i, err))
		}
	}

	if cfg.Tests.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("  - tests.timeout: must be a positive integer, got %d", cfg.Tests.Timeout))
	}
	if cfg.Tests.LastGoodCommit != "" && strings.HasPrefix(cfg.Tests.LastGoodCommit, "-") {
		errs = append(errs, "  - tests.last_good_commit: cannot start with '-'")
	}

	return errs
}
