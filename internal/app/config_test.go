package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validAppsYAML = `
apps:
  - name: svc
    secret: 8f2b1c9e4d7a6b3c
    cwd: /srv/svc/
    prehook: npm ci
    posthook: ./scripts/warm-cache.sh
    tests:
      command: npm test
      last_good_commit: 1a2b3c4d
      timeout: 120
      report_url: https://ci.example.com/{app}/{commit}
  - name: svc-beta
    secret: 8f2b1c9e4d7a6b3c
    branches: [beta]
  - name: builds
    provider: Jenkins
    allowed_ip: 10.0.0.0/8
    branch_filter: release
`

func TestParse(t *testing.T) {
	apps, err := Parse([]byte(validAppsYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(apps) != 3 {
		t.Fatalf("Parse() returned %d apps, want 3", len(apps))
	}

	names := []string{apps[0].Name, apps[1].Name, apps[2].Name}
	if strings.Join(names, ",") != "svc,svc-beta,builds" {
		t.Errorf("order = %v, want file order", names)
	}

	svc := apps[0]
	if svc.ProviderName() != ProviderGitHub {
		t.Errorf("default provider = %q, want github", svc.ProviderName())
	}
	if svc.CWD != "/srv/svc" {
		t.Errorf("CWD = %q, want cleaned path", svc.CWD)
	}
	if !svc.Tests.Enabled() || svc.Tests.Timeout != 120 {
		t.Errorf("Tests = %+v, want enabled with timeout 120", svc.Tests)
	}
	if apps[2].Provider != ProviderJenkins {
		t.Errorf("provider = %q, want lowercased jenkins", apps[2].Provider)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"invalid yaml",
			"apps: [",
			"failed to parse YAML",
		},
		{
			"duplicate names",
			"apps:\n  - {name: svc, secret: abcdef123}\n  - {name: svc, secret: abcdef123}\n",
			"duplicate app name 'svc'",
		},
		{
			"missing secret",
			"apps:\n  - {name: svc}\n",
			"secret: required for provider 'github'",
		},
		{
			"placeholder secret",
			"apps:\n  - {name: svc, secret: ChangeMe}\n",
			"placeholder",
		},
		{
			"unknown provider",
			"apps:\n  - {name: svc, provider: svn, secret: abcdef123}\n",
			"unknown provider 'svn'",
		},
		{
			"bitbucket needs cidr",
			"apps:\n  - {name: svc, provider: bitbucket, allowed_ip: 104.192.143.1}\n",
			"requires a CIDR range",
		},
		{
			"relative cwd",
			"apps:\n  - {name: svc, secret: abcdef123, cwd: srv/svc}\n",
			"cwd: must be absolute",
		},
		{
			"bad branch",
			"apps:\n  - {name: svc-x, secret: abcdef123, branches: ['beta; rm -rf /']}\n",
			"branches[0]",
		},
		{
			"unnamed app",
			"apps:\n  - {secret: abcdef123}\n",
			"app '#0'",
		},
		{
			"negative test timeout",
			"apps:\n  - {name: svc, secret: abcdef123, tests: {command: make test, timeout: -1}}\n",
			"tests.timeout",
		},
		{
			"option-like last good commit",
			"apps:\n  - {name: svc, secret: abcdef123, tests: {command: make test, last_good_commit: --all}}\n",
			"last_good_commit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_WildcardBranch(t *testing.T) {
	cfg := Config{Name: "svc-canary", Secret: "abcdef123", Branches: []string{"*", "qa"}}
	if errs := Validate(Normalize(cfg)); len(errs) > 0 {
		t.Errorf("Validate() errors = %v, want wildcard accepted", errs)
	}
}

func TestValidate_IPProvidersNeedNoSecret(t *testing.T) {
	for _, provider := range []string{ProviderJenkins, ProviderBitbucket} {
		cfg := Normalize(Config{Name: "svc", Provider: provider})
		if errs := Validate(cfg); len(errs) > 0 {
			t.Errorf("Validate(%s) errors = %v, want none", provider, errs)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yaml")
	if err := os.WriteFile(path, []byte(validAppsYAML), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	apps, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(apps) != 3 {
		t.Errorf("LoadFile() returned %d apps, want 3", len(apps))
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
}

func TestConfigClone(t *testing.T) {
	orig := Config{Name: "svc", Branches: []string{"beta"}}
	clone := orig.Clone()
	clone.Branches[0] = "qa"

	if orig.Branches[0] != "beta" {
		t.Error("Clone() shares the Branches slice")
	}
}

func TestShortCommit(t *testing.T) {
	if got := (VersioningInfo{Commit: "abc123def456"}).ShortCommit(); got != "abc123d" {
		t.Errorf("ShortCommit() = %q, want abc123d", got)
	}
	if got := (VersioningInfo{Commit: "abc123"}).ShortCommit(); got != "abc123" {
		t.Errorf("ShortCommit() = %q, want abc123", got)
	}
}
