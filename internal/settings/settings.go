// Package settings loads deployhook's process settings from defaults, an
// optional YAML file and DEPLOYHOOK_ environment variables.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"deployhook/pkg/fileutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix starts every environment override. Levels are separated by
	// a double underscore: DEPLOYHOOK_SERVER__PORT=9000.
	EnvPrefix = "DEPLOYHOOK_"

	// FileName is the settings file looked up when none is given.
	FileName = "deployhook.yaml"
)

type Settings struct {
	Server        ServerSettings     `koanf:"server"`
	Log           LogSettings        `koanf:"log"`
	Store         StoreSettings      `koanf:"store"`
	AppsFile      string             `koanf:"apps_file"`
	DefaultBranch string             `koanf:"default_branch"`
	Supervisor    SupervisorSettings `koanf:"supervisor"`
	Notify        NotifySettings     `koanf:"notify"`
	GitHub        GitHubSettings     `koanf:"github"`
	Tracing       TracingSettings    `koanf:"tracing"`
	Hooks         TimeoutSettings    `koanf:"hooks"`
	Tests         TimeoutSettings    `koanf:"tests"`

	// Source is the settings file that was loaded, if any.
	Source string `koanf:"-"`
}

type ServerSettings struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	BindRetries    int           `koanf:"bind_retries"`
	BindRetryDelay time.Duration `koanf:"bind_retry_delay"`

	// RateLimit is the per-IP webhook budget per minute. 0 disables it.
	RateLimit int  `koanf:"rate_limit"`
	TestMode  bool `koanf:"test_mode"`

	// TrustedProxies lists proxy addresses or CIDR ranges allowed to set
	// the caller IP through forwarding headers.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// Addr returns host:port.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogSettings struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

type StoreSettings struct {
	Path string `koanf:"path"`
}

type SupervisorSettings struct {
	Kind         string `koanf:"kind"`
	PM2Bin       string `koanf:"pm2_bin"`
	ReloadSignal string `koanf:"reload_signal"`
}

type NotifySettings struct {
	WebhookURL        string        `koanf:"webhook_url"`
	Channel           string        `koanf:"channel"`
	Username          string        `koanf:"username"`
	CoverageThreshold float64       `koanf:"coverage_threshold"`
	Retries           int           `koanf:"retries"`
	Timeout           time.Duration `koanf:"timeout"`
}

// Enabled reports whether a webhook URL is configured.
func (n NotifySettings) Enabled() bool {
	return n.WebhookURL != ""
}

type GitHubSettings struct {
	Token string `koanf:"token"`

	// APIURL overrides the REST API root, for GitHub Enterprise.
	APIURL string `koanf:"api_url"`
}

type TracingSettings struct {
	Enabled bool `koanf:"enabled"`
}

type TimeoutSettings struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Defaults are applied to every key the file and environment leave unset.
var Defaults = map[string]interface{}{
	"server.host":               "127.0.0.1",
	"server.port":               8888,
	"server.bind_retries":       5,
	"server.bind_retry_delay":   2 * time.Second,
	"server.rate_limit":         30,
	"log.format":                "json",
	"log.level":                 "info",
	"store.path":                "./deployhook.db",
	"apps_file":                 "apps.yaml",
	"default_branch":            "master",
	"supervisor.kind":           "pm2",
	"supervisor.pm2_bin":        "pm2",
	"supervisor.reload_signal":  "SIGUSR2",
	"notify.username":           "deployhook",
	"notify.coverage_threshold": 80.0,
	"notify.retries":            2,
	"notify.timeout":            10 * time.Second,
	"hooks.timeout":             300 * time.Second,
	"tests.timeout":             600 * time.Second,
}

// Load reads settings. path may be empty, in which case deployhook.yaml is
// searched for and skipped when absent. overrides win over every source;
// the CLI passes explicitly set flags through it.
func Load(path string, overrides map[string]interface{}) (*Settings, error) {
	k := koanf.New(".")

	source, err := fileutil.Resolve(path, FileName)
	if err != nil {
		return nil, fmt.Errorf("settings file: %w", err)
	}
	if source != "" {
		if err := k.Load(file.Provider(source), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", source, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("override %s: %w", key, err)
		}
	}

	for key, value := range Defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, err
			}
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.Source = source

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate reports every invalid setting at once.
func (s *Settings) Validate() error {
	var errs []error

	if s.Server.Port < 1 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: must be between 1 and 65535, got %d", s.Server.Port))
	}
	if s.Server.BindRetries < 0 {
		errs = append(errs, fmt.Errorf("server.bind_retries: must not be negative, got %d", s.Server.BindRetries))
	}
	if s.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit: must not be negative, got %d", s.Server.RateLimit))
	}
	switch s.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be json or text, got '%s'", s.Log.Format))
	}
	if _, err := ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch s.Supervisor.Kind {
	case "pm2", "process":
	default:
		errs = append(errs, fmt.Errorf("supervisor.kind: must be pm2 or process, got '%s'", s.Supervisor.Kind))
	}
	if s.Notify.CoverageThreshold < 0 || s.Notify.CoverageThreshold > 100 {
		errs = append(errs, fmt.Errorf("notify.coverage_threshold: must be a percentage, got %v", s.Notify.CoverageThreshold))
	}
	if s.Store.Path == "" {
		errs = append(errs, errors.New("store.path: required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}

// GitHubToken returns the configured token, falling back to GITHUB_TOKEN.
func (s *Settings) GitHubToken() string {
	if s.GitHub.Token != "" {
		return s.GitHub.Token
	}
	return os.Getenv("GITHUB_TOKEN")
}
