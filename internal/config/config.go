// Package config handles mcp-toolkit configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/mcpkit/config.yaml, /etc/mcpkit/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcpkit", "config.yaml"))
	}

	paths = append(paths, "/etc/mcpkit/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all mcp-toolkit configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Store     StoreConfig     `yaml:"store"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Chat      ChatConfig      `yaml:"chat"`
	Servers   []ServerConfig  `yaml:"servers"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// StoreConfig defines server-profile persistence settings.
type StoreConfig struct {
	// Path is the SQLite database file. If empty, profiles configured
	// in the `servers` section are the only ones available.
	Path string `yaml:"path"`
}

// OpenAIConfig defines OpenAI API settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // Override for OpenAI-compatible gateways
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// ChatConfig defines chat adapter defaults.
type ChatConfig struct {
	Provider     string `yaml:"provider"` // openai or anthropic
	Model        string `yaml:"model"`
	MaxTurns     int    `yaml:"max_turns"`  // tool-call iteration cap (default 3)
	MaxTokens    int    `yaml:"max_tokens"` // per-response token limit (Anthropic)
	SystemPrompt string `yaml:"system_prompt"`
	// ToolTimeoutSec bounds a single tool invocation (default 60).
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
}

// ServerConfig defines one MCP server connection profile.
type ServerConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // stdio, sse, or http

	// URL is the endpoint for sse and http servers.
	URL string `yaml:"url"`
	// Headers are sent with every request to sse/http servers.
	Headers map[string]string `yaml:"headers"`

	// Command, Args, and Env describe stdio servers.
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`

	// IncludeTools and ExcludeTools filter which of the server's tools
	// are exposed to the chat adapter. Include wins when both are set.
	IncludeTools []string `yaml:"include_tools"`
	ExcludeTools []string `yaml:"exclude_tools"`

	// Inactive disables the profile without deleting it.
	Inactive bool `yaml:"inactive"`
}

// Validate checks a server profile for the fields its type requires.
func (s *ServerConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("server profile missing name")
	}
	switch s.Type {
	case "stdio":
		if s.Command == "" {
			return fmt.Errorf("server %q: stdio profile requires a command", s.Name)
		}
	case "sse", "http":
		if s.URL == "" {
			return fmt.Errorf("server %q: %s profile requires a url", s.Name, s.Type)
		}
	default:
		return fmt.Errorf("server %q: unknown type %q (valid: stdio, sse, http)", s.Name, s.Type)
	}
	return nil
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Servers {
		if err := cfg.Servers[i].Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Chat: ChatConfig{
			Provider:       "openai",
			Model:          "gpt-4o",
			MaxTurns:       3,
			MaxTokens:      4096,
			ToolTimeoutSec: 60,
		},
	}
}
