// Package templates renders the service files deployhook ships with. Built-in
// templates can be overridden by files in ./templates, ./config/templates or
// /etc/deployhook/templates.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/template"
)

// Template names
const (
	NginxSite      = "nginx-site"
	SystemdService = "systemd-service"
)

//go:embed defaults/*.template
var defaults embed.FS

// SearchDirs are checked in order for override templates.
var SearchDirs = []string{
	filepath.Join(".", "templates"),
	filepath.Join(".", "config", "templates"),
	filepath.Join("/etc", "deployhook", "templates"),
}

// SystemdData fills the systemd-service template.
type SystemdData struct {
	User       string
	Group      string
	WorkingDir string
	Binary     string
	ConfigPath string
	EnvFile    string
}

// NginxData fills the nginx-site template.
type NginxData struct {
	Domain   string
	Upstream string
}

// GetTemplatePaths returns the override paths for a template, in search order.
func GetTemplatePaths(name string) []string {
	filename := name + ".template"
	paths := make([]string, 0, len(SearchDirs))
	for _, dir := range SearchDirs {
		paths = append(paths, filepath.Join(dir, filename))
	}
	return paths
}

// GetTemplate returns the raw template content by name, preferring an
// override file over the built-in template.
func GetTemplate(name string) (string, error) {
	if !ValidateTemplate(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	for _, path := range GetTemplatePaths(name) {
		content, err := os.ReadFile(path)
		if err == nil {
			return string(content), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to read template %s: %w", path, err)
		}
	}

	content, err := defaults.ReadFile("defaults/" + name + ".template")
	if err != nil {
		return "", fmt.Errorf("built-in template %s: %w", name, err)
	}
	return string(content), nil
}

// Render executes the named template with data. Missing fields are errors.
func Render(name string, data interface{}) (string, error) {
	content, err := GetTemplate(name)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// RenderSystemdService renders the systemd unit.
func RenderSystemdService(data SystemdData) (string, error) {
	if data.User == "" || data.Binary == "" || data.ConfigPath == "" {
		return "", errors.New("systemd unit requires user, binary and config path")
	}
	if data.Group == "" {
		data.Group = data.User
	}
	if data.WorkingDir == "" {
		data.WorkingDir = filepath.Dir(data.ConfigPath)
	}
	return Render(SystemdService, data)
}

// RenderNginxSite renders a reverse proxy site exposing only the webhook
// and health endpoints.
func RenderNginxSite(data NginxData) (string, error) {
	if data.Domain == "" || data.Upstream == "" {
		return "", errors.New("nginx site requires domain and upstream")
	}
	return Render(NginxSite, data)
}

// ListTemplates returns the available template names.
func ListTemplates() []string {
	names := []string{NginxSite, SystemdService}
	sort.Strings(names)
	return names
}

// ValidateTemplate checks if a template name is valid.
func ValidateTemplate(name string) bool {
	switch name {
	case NginxSite, SystemdService:
		return true
	}
	return false
}
