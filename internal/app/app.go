package app

import "strings"

// Provider names accepted in Config.Provider.
const (
	ProviderGitHub    = "github"
	ProviderGitLab    = "gitlab"
	ProviderDroneCI   = "droneci"
	ProviderJenkins   = "jenkins"
	ProviderBitbucket = "bitbucket"
)

// WildcardBranch in Config.Branches accepts any branch.
const WildcardBranch = "*"

// DefaultBranch is the branch that always deploys the requested app itself.
const DefaultBranch = "master"

// Config is one managed application. Configs are treated as immutable
// values: the registry replaces them wholesale and deploy requests carry
// their own copy.
type Config struct {
	Name     string `yaml:"name" json:"name"`
	Secret   string `yaml:"secret" json:"secret"`
	Provider string `yaml:"provider" json:"provider,omitempty"`

	// CWD is discovered from the process supervisor when empty.
	CWD string `yaml:"cwd" json:"cwd,omitempty"`

	PreHook    string `yaml:"prehook" json:"prehook,omitempty"`
	PostHook   string `yaml:"posthook" json:"posthook,omitempty"`
	SkipReload bool   `yaml:"skip_reload" json:"skip_reload,omitempty"`

	// BranchFilter is a substring the reported branch must contain
	// (jenkins and bitbucket only).
	BranchFilter string `yaml:"branch_filter" json:"branch_filter,omitempty"`

	// Branches lists the branches this entry deploys when it is a
	// branch variant ("app-beta"). May contain WildcardBranch.
	Branches []string `yaml:"branches" json:"branches,omitempty"`

	// AllowedIP is a substring or CIDR the caller's IP must match
	// (jenkins and bitbucket only).
	AllowedIP string `yaml:"allowed_ip" json:"allowed_ip,omitempty"`

	Tests   TestConfig `yaml:"tests" json:"tests,omitempty"`
	Channel string     `yaml:"channel" json:"channel,omitempty"`
}

// TestConfig controls the test phase of a deployment.
type TestConfig struct {
	Command         string `yaml:"command" json:"command,omitempty"`
	LastGoodCommit  string `yaml:"last_good_commit" json:"last_good_commit,omitempty"`
	DeployOnFailure bool   `yaml:"deploy_on_failure" json:"deploy_on_failure,omitempty"`
	Token           string `yaml:"token" json:"token,omitempty"`

	// ReportURL and CoverageURL are templates; {app} and {commit} are substituted.
	ReportURL   string `yaml:"report_url" json:"report_url,omitempty"`
	CoverageURL string `yaml:"coverage_url" json:"coverage_url,omitempty"`

	// Timeout in seconds, zero uses the engine default.
	Timeout int `yaml:"timeout" json:"timeout,omitempty"`
}

// Enabled reports whether a test command is configured.
func (t TestConfig) Enabled() bool {
	return strings.TrimSpace(t.Command) != ""
}

// ProviderName returns the provider, defaulting to github.
func (c Config) ProviderName() string {
	if c.Provider == "" {
		return ProviderGitHub
	}
	return c.Provider
}

// AcceptsBranch reports whether branch is listed explicitly.
func (c Config) AcceptsBranch(branch string) bool {
	for _, b := range c.Branches {
		if b == branch {
			return true
		}
	}
	return false
}

// AcceptsAnyBranch reports whether Branches contains the wildcard.
func (c Config) AcceptsAnyBranch() bool {
	return c.AcceptsBranch(WildcardBranch)
}

// Clone returns a deep copy so callers can hold a snapshot.
func (c Config) Clone() Config {
	if c.Branches != nil {
		c.Branches = append([]string(nil), c.Branches...)
	}
	return c
}

// VersioningInfo describes the revision a notification points at.
type VersioningInfo struct {
	Commit        string `json:"commit"`
	Tree          string `json:"tree,omitempty"`
	CompareURL    string `json:"compare_url,omitempty"`
	RepositoryURL string `json:"repository_url,omitempty"`
	Branch        string `json:"branch"`
}

// ShortCommit returns the first seven characters of the commit id.
func (v VersioningInfo) ShortCommit() string {
	if len(v.Commit) > 7 {
		return v.Commit[:7]
	}
	return v.Commit
}
