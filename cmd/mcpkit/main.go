// Mcpkit is an MCP client toolkit daemon and CLI.
//
// It connects to configured MCP servers over stdio, SSE, or streamable
// HTTP, bridges their tools into a registry, and drives LLM
// conversations that can call those tools. The serve command exposes an
// HTTP API with SSE and websocket chat streaming plus server profile
// management. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	mcpkit serve                              Start the API server
//	mcpkit tools <server>                     List a server's tools
//	mcpkit call <server> <tool> [json-args]   Call one tool directly
//	mcpkit chat <prompt>                      One-shot chat with tools
//	mcpkit version                            Print build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Uttam1728/mcp-toolkit/internal/api"
	"github.com/Uttam1728/mcp-toolkit/internal/buildinfo"
	"github.com/Uttam1728/mcp-toolkit/internal/chat"
	"github.com/Uttam1728/mcp-toolkit/internal/config"
	"github.com/Uttam1728/mcp-toolkit/internal/llm"
	"github.com/Uttam1728/mcp-toolkit/internal/mcp"
	"github.com/Uttam1728/mcp-toolkit/internal/store"
	"github.com/Uttam1728/mcp-toolkit/internal/tools"
)

// main constructs the OS-level environment and delegates to run so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments by hand. The flag package relies on
// package-level globals, which interferes with calling run concurrently
// from tests, and the argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "tools":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: mcpkit tools <server>")
		}
		return runTools(ctx, stdout, configPath, cmdArgs[0])
	case "call":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: mcpkit call <server> <tool> [json-args]")
		}
		argsJSON := "{}"
		if len(cmdArgs) > 2 {
			argsJSON = cmdArgs[2]
		}
		return runCall(ctx, stdout, configPath, cmdArgs[0], cmdArgs[1], argsJSON)
	case "chat":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: mcpkit chat <prompt>")
		}
		return runChat(ctx, stdout, stderr, configPath, strings.Join(cmdArgs, " "))
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "mcpkit - MCP client toolkit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: mcpkit [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                            Start the API server")
	fmt.Fprintln(w, "  tools <server>                   List a server's tools")
	fmt.Fprintln(w, "  call <server> <tool> [json]      Call one tool directly")
	fmt.Fprintln(w, "  chat <prompt>                    One-shot chat with tools")
	fmt.Fprintln(w, "  version                          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/mcpkit/config.yaml, /etc/mcpkit/config.yaml")
	return nil
}

func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	info := buildinfo.Info()
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.LogLevel != "" {
		if parsed, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	return config.NewLogger(w, level)
}

// endpoint converts a config server profile into a session endpoint.
func endpoint(sc config.ServerConfig) mcp.ServerEndpoint {
	return mcp.ServerEndpoint{
		Name:    sc.Name,
		Kind:    mcp.TransportKind(sc.Type),
		URL:     sc.URL,
		Headers: sc.Headers,
		Command: sc.Command,
		Args:    sc.Args,
		Env:     sc.Env,
	}
}

// profileEndpoint converts a stored server profile into an endpoint.
func profileEndpoint(p *store.Profile) mcp.ServerEndpoint {
	return mcp.ServerEndpoint{
		Name:    p.Name,
		Kind:    mcp.TransportKind(p.Type),
		URL:     p.SSEURL,
		Command: p.Command,
		Args:    p.Args,
		Env:     p.Env,
	}
}

// connectServers initializes sessions for every active server profile.
// Individual connection failures are logged and skipped so one dead
// server does not take the whole process down.
func connectServers(ctx context.Context, manager *mcp.Manager, endpoints []mcp.ServerEndpoint, logger *slog.Logger) {
	for _, ep := range endpoints {
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := manager.AddEndpoint(connectCtx, ep)
		cancel()
		if err != nil {
			logger.Error("MCP server connection failed", "server", ep.Name, "error", err)
			continue
		}
		logger.Info("MCP server connected", "server", ep.Name, "transport", ep.Kind)
	}
}

// buildLLMClient assembles the provider client from config. Both
// providers are registered when keys are present; the configured
// default provider is the fallback for unknown models.
func buildLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	var openaiClient, anthropicClient llm.Client

	if cfg.OpenAI.APIKey != "" {
		c := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger)
		if cfg.Chat.MaxTokens > 0 {
			c.SetMaxTokens(cfg.Chat.MaxTokens)
		}
		openaiClient = c
	}
	if cfg.Anthropic.APIKey != "" {
		c := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
		if cfg.Chat.MaxTokens > 0 {
			c.SetMaxTokens(cfg.Chat.MaxTokens)
		}
		anthropicClient = c
	}

	var fallback llm.Client
	switch cfg.Chat.Provider {
	case "openai":
		fallback = openaiClient
	case "anthropic":
		fallback = anthropicClient
	default:
		return nil, fmt.Errorf("unknown chat provider %q (valid: openai, anthropic)", cfg.Chat.Provider)
	}
	if fallback == nil {
		return nil, fmt.Errorf("chat provider %q has no API key configured", cfg.Chat.Provider)
	}

	multi := llm.NewMultiClient(fallback)
	if openaiClient != nil {
		multi.AddProvider("openai", openaiClient)
	}
	if anthropicClient != nil {
		multi.AddProvider("anthropic", anthropicClient)
	}
	multi.AddModel(cfg.Chat.Model, cfg.Chat.Provider)
	return multi, nil
}

// buildAdapter connects MCP servers, bridges their tools into a
// registry, and wires the chat adapter on top. The returned cleanup
// closes all sessions.
func buildAdapter(ctx context.Context, cfg *config.Config, endpoints []mcp.ServerEndpoint, logger *slog.Logger) (*chat.Adapter, *mcp.Manager, func(), error) {
	manager := mcp.NewManager(logger)
	connectServers(ctx, manager, endpoints, logger)

	registry := tools.NewRegistry()
	for _, name := range manager.ServerNames() {
		session := manager.Session(name)
		filters := serverFilters(cfg, name)

		bridgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		count, err := mcp.BridgeTools(bridgeCtx, session, registry, filters.include, filters.exclude, logger)
		cancel()
		if err != nil {
			logger.Error("tool bridging failed", "server", name, "error", err)
			continue
		}
		logger.Info("tools bridged", "server", name, "count", count)
	}

	client, err := buildLLMClient(cfg, logger)
	if err != nil {
		manager.Close()
		return nil, nil, nil, err
	}

	adapter := chat.New(client, registry, chat.Config{
		Model:        cfg.Chat.Model,
		SystemPrompt: cfg.Chat.SystemPrompt,
		MaxTurns:     cfg.Chat.MaxTurns,
		ToolTimeout:  time.Duration(cfg.Chat.ToolTimeoutSec) * time.Second,
		Logger:       logger,
	})

	cleanup := func() {
		if err := manager.Close(); err != nil {
			logger.Error("session close failed", "error", err)
		}
	}
	return adapter, manager, cleanup, nil
}

type toolFilters struct {
	include []string
	exclude []string
}

func serverFilters(cfg *config.Config, name string) toolFilters {
	for _, sc := range cfg.Servers {
		if sc.Name == name {
			return toolFilters{include: sc.IncludeTools, exclude: sc.ExcludeTools}
		}
	}
	return toolFilters{}
}

// activeEndpoints merges config-file servers with stored profiles.
// Config-file entries win on name collisions.
func activeEndpoints(cfg *config.Config, profiles *store.Store, logger *slog.Logger) []mcp.ServerEndpoint {
	var endpoints []mcp.ServerEndpoint
	seen := make(map[string]bool)

	for _, sc := range cfg.Servers {
		if sc.Inactive {
			continue
		}
		endpoints = append(endpoints, endpoint(sc))
		seen[sc.Name] = true
	}

	if profiles != nil {
		stored, err := profiles.List("default", true)
		if err != nil {
			logger.Error("stored profile listing failed", "error", err)
			return endpoints
		}
		for _, p := range stored {
			if seen[p.Name] {
				logger.Warn("stored profile shadowed by config file", "server", p.Name)
				continue
			}
			endpoints = append(endpoints, profileEndpoint(p))
		}
	}
	return endpoints
}

// runServe is the primary operating mode: connect MCP servers, wire
// the chat adapter, start the HTTP API, and block until SIGINT or
// SIGTERM triggers graceful shutdown.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)
	logger.Info("starting mcpkit", "version", buildinfo.Version, "config", cfgPath)

	var profiles *store.Store
	if cfg.Store.Path != "" {
		profiles, err = store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open profile store %s: %w", cfg.Store.Path, err)
		}
		defer profiles.Close()
		logger.Info("profile store opened", "path", cfg.Store.Path)
	}

	adapter, manager, cleanup, err := buildAdapter(ctx, cfg, activeEndpoints(cfg, profiles, logger), logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, adapter, manager, profiles, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// connectOne opens a session for a single named server from config.
func connectOne(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) (*mcp.Session, error) {
	for _, sc := range cfg.Servers {
		if sc.Name != name {
			continue
		}
		session, err := mcp.NewSession(endpoint(sc), mcp.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := session.Initialize(initCtx); err != nil {
			session.Close()
			return nil, fmt.Errorf("initialize %s: %w", name, err)
		}
		return session, nil
	}
	return nil, fmt.Errorf("server %q not found in config", name)
}

func runTools(ctx context.Context, stdout io.Writer, configPath, serverName string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(io.Discard, cfg)

	session, err := connectOne(ctx, cfg, serverName, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	list, err := session.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}

	name, version := session.ServerInfo()
	fmt.Fprintf(stdout, "%s (%s %s): %d tools\n\n", serverName, name, version, len(list))
	for _, tool := range list {
		fmt.Fprintf(stdout, "  %-24s %s\n", tool.Name, tool.Description)
	}
	return nil
}

func runCall(ctx context.Context, stdout io.Writer, configPath, serverName, toolName, argsJSON string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(io.Discard, cfg)

	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Errorf("parse arguments: %w", err)
	}

	session, err := connectOne(ctx, cfg, serverName, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	result, err := session.CallTool(ctx, toolName, args)
	if err != nil {
		return fmt.Errorf("call %s: %w", toolName, err)
	}
	fmt.Fprintln(stdout, result)
	return nil
}

// runChat boots the full adapter for a single prompt, streaming tokens
// to stdout and tool activity to stderr.
func runChat(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, prompt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(io.Discard, cfg)

	adapter, _, cleanup, err := buildAdapter(ctx, cfg, activeEndpoints(cfg, nil, logger), logger)
	if err != nil {
		return err
	}
	defer cleanup()

	messages := []llm.Message{{Role: "user", Content: prompt}}
	for chunk := range adapter.Stream(ctx, "", messages) {
		switch chunk.Kind {
		case chat.ChunkToken:
			fmt.Fprint(stdout, chunk.Token)
		case chat.ChunkToolCall:
			fmt.Fprintf(stderr, "[tool] %s\n", chunk.ToolName)
		case chat.ChunkToolResult:
			if chunk.ToolError != "" {
				fmt.Fprintf(stderr, "[tool] %s failed: %s\n", chunk.ToolName, chunk.ToolError)
			}
		case chat.ChunkDone:
			fmt.Fprintln(stdout)
			return nil
		case chat.ChunkError:
			return chunk.Err
		}
	}
	return nil
}
