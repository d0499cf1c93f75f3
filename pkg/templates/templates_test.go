package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// emptyWorkdir moves the test into a directory without override templates.
func emptyWorkdir(t *testing.T) string {
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeOverride(t *testing.T, dir, name, content string) {
	t.Helper()
	templatesDir := filepath.Join(dir, "templates")
	if err := os.MkdirAll(templatesDir, 0755); err != nil {
		t.Fatalf("Failed to create templates directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(templatesDir, name+".template"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func TestGetTemplate(t *testing.T) {
	emptyWorkdir(t)

	tests := []struct {
		name         string
		templateName string
		wantErr      bool
		contains     string
	}{
		{"nginx site template", NginxSite, false, "server_name"},
		{"systemd service template", SystemdService, false, "[Unit]"},
		{"unknown template", "invalid-template", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetTemplate(tt.templateName)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetTemplate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !strings.Contains(got, tt.contains) {
				t.Errorf("GetTemplate() should contain %q", tt.contains)
			}
		})
	}
}

func TestGetTemplate_Override(t *testing.T) {
	dir := emptyWorkdir(t)
	writeOverride(t, dir, NginxSite, "# custom\nserver_name {{.Domain}};\n")

	rendered, err := RenderNginxSite(NginxData{Domain: "deploy.example.com", Upstream: "127.0.0.1:8888"})
	if err != nil {
		t.Fatalf("RenderNginxSite() error = %v", err)
	}
	if !strings.HasPrefix(rendered, "# custom") {
		t.Errorf("override not used, got: %s", rendered)
	}
	if !strings.Contains(rendered, "server_name deploy.example.com;") {
		t.Errorf("rendered = %s", rendered)
	}
}

func TestRender_UnknownField(t *testing.T) {
	dir := emptyWorkdir(t)
	writeOverride(t, dir, NginxSite, "server_name {{.Hostname}};")

	if _, err := Render(NginxSite, NginxData{Domain: "x"}); err == nil {
		t.Error("expected error for a field the data does not have")
	}
}

func TestRenderNginxSite(t *testing.T) {
	emptyWorkdir(t)

	rendered, err := RenderNginxSite(NginxData{Domain: "deploy.example.com", Upstream: "127.0.0.1:8888"})
	if err != nil {
		t.Fatalf("RenderNginxSite() error = %v", err)
	}

	for _, want := range []string{
		"server_name deploy.example.com;",
		"location /in/ {",
		"proxy_pass http://127.0.0.1:8888;",
		"location = /health {",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("RenderNginxSite() should contain %q", want)
		}
	}

	if _, err := RenderNginxSite(NginxData{Domain: "deploy.example.com"}); err == nil {
		t.Error("expected error without upstream")
	}
}

func TestRenderSystemdService(t *testing.T) {
	emptyWorkdir(t)

	rendered, err := RenderSystemdService(SystemdData{
		User:       "deploy",
		Binary:     "/usr/local/bin/deployhook",
		ConfigPath: "/etc/deployhook/deployhook.yaml",
	})
	if err != nil {
		t.Fatalf("RenderSystemdService() error = %v", err)
	}

	for _, want := range []string{
		"User=deploy",
		"Group=deploy",
		"WorkingDirectory=/etc/deployhook",
		"ExecStart=/usr/local/bin/deployhook serve --config /etc/deployhook/deployhook.yaml",
		"ExecReload=/bin/kill -HUP $MAINPID",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("RenderSystemdService() should contain %q, got:\n%s", want, rendered)
		}
	}
	if strings.Contains(rendered, "EnvironmentFile") {
		t.Error("EnvironmentFile should be omitted when empty")
	}
}

func TestRenderSystemdService_EnvFile(t *testing.T) {
	emptyWorkdir(t)

	rendered, err := RenderSystemdService(SystemdData{
		User:       "deploy",
		Group:      "www-data",
		Binary:     "/usr/local/bin/deployhook",
		ConfigPath: "/etc/deployhook/deployhook.yaml",
		EnvFile:    "/etc/deployhook/.env",
	})
	if err != nil {
		t.Fatalf("RenderSystemdService() error = %v", err)
	}
	if !strings.Contains(rendered, "Group=www-data") {
		t.Error("explicit group not kept")
	}
	if !strings.Contains(rendered, "\nEnvironmentFile=/etc/deployhook/.env\n") {
		t.Errorf("EnvironmentFile missing, got:\n%s", rendered)
	}
}

func TestRenderSystemdService_Required(t *testing.T) {
	if _, err := RenderSystemdService(SystemdData{User: "deploy"}); err == nil {
		t.Error("expected error without binary and config path")
	}
}

func TestListTemplates(t *testing.T) {
	templates := ListTemplates()
	if len(templates) != 2 {
		t.Fatalf("ListTemplates() returned %d templates, want 2", len(templates))
	}
	for _, name := range templates {
		if !ValidateTemplate(name) {
			t.Errorf("ListTemplates() returned invalid template %q", name)
		}
	}
}

func TestValidateTemplate(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{NginxSite, true},
		{SystemdService, true},
		{"nginx-laravel-site", false},
		{"", false},
		{"../etc/passwd", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateTemplate(tt.name); got != tt.want {
				t.Errorf("ValidateTemplate(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
