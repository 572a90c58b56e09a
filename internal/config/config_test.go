package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error
	// (Save and restore CWD to avoid finding the repo's config.yaml)
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("anthropic:\n  api_key: ${MCPKIT_TEST_KEY}\n"), 0600)
	os.Setenv("MCPKIT_TEST_KEY", "secret123")
	defer os.Unsetenv("MCPKIT_TEST_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Anthropic.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Anthropic.APIKey, "secret123")
	}
}

func TestLoad_InlineSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("openai:\n  api_key: sk-test-key\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-test-key" {
		t.Errorf("api_key = %q, want %q", cfg.OpenAI.APIKey, "sk-test-key")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("log_level: debug\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("listen.port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Chat.MaxTurns != 3 {
		t.Errorf("chat.max_turns = %d, want 3", cfg.Chat.MaxTurns)
	}
}

func TestLoad_ServerProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
servers:
  - name: search
    type: sse
    url: https://example.com/mcp/sse
    headers:
      Authorization: Bearer token123
  - name: files
    type: stdio
    command: mcpkit-demo-server
    args: ["-root", "/tmp"]
`
	os.WriteFile(path, []byte(data), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(cfg.Servers))
	}
	if cfg.Servers[0].Type != "sse" || cfg.Servers[0].URL != "https://example.com/mcp/sse" {
		t.Errorf("unexpected sse profile: %+v", cfg.Servers[0])
	}
	if cfg.Servers[1].Command != "mcpkit-demo-server" {
		t.Errorf("command = %q, want mcpkit-demo-server", cfg.Servers[1].Command)
	}
}

func TestLoad_InvalidServerProfile(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "servers:\n  - type: sse\n    url: http://x\n"},
		{"stdio without command", "servers:\n  - name: a\n    type: stdio\n"},
		{"sse without url", "servers:\n  - name: a\n    type: sse\n"},
		{"unknown type", "servers:\n  - name: a\n    type: grpc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			os.WriteFile(path, []byte(tt.yaml), 0600)

			if _, err := Load(path); err == nil {
				t.Errorf("Load accepted invalid profile: %s", tt.yaml)
			}
		})
	}
}
