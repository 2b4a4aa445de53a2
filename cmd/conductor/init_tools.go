package main

import (
	"context"
	"fmt"
	"log/slog"

	"conductor-ai/internal/adapter/embedding"
	"conductor-ai/internal/adapter/sandbox"
	"conductor-ai/internal/adapter/search"
	"conductor-ai/internal/adapter/tool"
	"conductor-ai/internal/domain"
	"conductor-ai/internal/infra/config"
)

// ToolComponents holds the constructed tools and the shared backends
// behind them. Every tool lives in the registry, which wraps it with
// schema validation on registration.
type ToolComponents struct {
	Registry *tool.Registry

	// Generic tools the orchestrator may call directly, without
	// delegating to a sub-agent.
	Generic []domain.Tool

	Index     *search.Index
	Rescanner *search.Rescanner
}

// Lookup returns the named tool as a one-element slice, or nil when
// the backend behind it is disabled.
func (c *ToolComponents) Lookup(name string) []domain.Tool {
	t, err := c.Registry.Get(name)
	if err != nil {
		return nil
	}
	return []domain.Tool{t}
}

// initTools builds every tool backend the config enables. The returned
// cleanup releases pools, browser contexts, and database handles.
func initTools(ctx context.Context, cfg *config.Config, llmComp *LLMComponents,
	bus domain.EventBus, log *slog.Logger) (*ToolComponents, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	comp := &ToolComponents{Registry: tool.NewRegistry(log)}

	// GitHub.
	var ghBackend tool.GitHubBackend
	if cfg.Tools.GitHubBackend == "rest" {
		ghBackend = tool.NewRESTGitHubBackend(cfg.Tools.GitHubBaseURL, cfg.Tools.GitHubToken,
			cfg.Tools.GitHubTimeout, log)
	}
	if err := comp.Registry.Register(tool.NewGitHubTool(ghBackend, cfg.Tools.GitHubCacheTTL,
		cfg.Tools.GitHubRateLimit, log)); err != nil {
		cleanup()
		return nil, nil, err
	}

	// Email.
	var emailBackend tool.EmailBackend
	switch cfg.Tools.EmailBackend {
	case "smtp":
		smtpBackend, err := tool.NewSMTPEmailBackend(tool.SMTPConfig{
			Addr:     cfg.Tools.SMTPAddr,
			From:     cfg.Tools.SMTPFrom,
			Username: cfg.Tools.SMTPUsername,
			Password: cfg.Tools.SMTPPassword,
			Timeout:  cfg.Tools.EmailTimeout,
		}, log)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("smtp backend: %w", err)
		}
		emailBackend = smtpBackend
	default:
		emailBackend = tool.NewMockEmailBackend()
	}
	if err := comp.Registry.Register(tool.NewEmailTool(emailBackend, cfg.Tools.EmailSendsPerHour,
		cfg.Tools.EmailAllowedDomains, log)); err != nil {
		cleanup()
		return nil, nil, err
	}

	// Scrape.
	var scrapeBackend tool.ScrapeBackend
	if cfg.Tools.ScrapeBackend == "chromedp" {
		cdp := tool.NewChromedpScrapeBackend(tool.ChromedpScrapeConfig{
			Timeout: cfg.Tools.ScrapeTimeout,
		}, log)
		cleanups = append(cleanups, cdp.Close)
		scrapeBackend = cdp
	} else {
		scrapeBackend = tool.NewHTTPScrapeBackend(tool.HTTPScrapeConfig{
			Timeout:      cfg.Tools.ScrapeTimeout,
			MaxBodyBytes: cfg.Tools.ScrapeMaxBodyBytes,
			MaxRedirects: cfg.Tools.ScrapeMaxRedirects,
		}, log)
	}
	if err := comp.Registry.Register(tool.NewScrapeTool(scrapeBackend, log)); err != nil {
		cleanup()
		return nil, nil, err
	}

	// Code index + search tool.
	if cfg.Index.Enabled {
		embedder := embedding.NewCachedEmbedder(
			embedding.NewOllamaProvider(
				embedding.WithOllamaBaseURL(cfg.Index.Embedding.BaseURL),
				embedding.WithOllamaModel(cfg.Index.Embedding.Model),
			),
			cfg.Index.Embedding.CacheSize,
		)
		idx, err := search.New(search.Config{
			SourceDir:    cfg.Index.SourceDir,
			DBPath:       cfg.Index.Path,
			ChunkLines:   cfg.Index.ChunkLines,
			ChunkOverlap: cfg.Index.ChunkOverlap,
		}, embedder, log)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("code index: %w", err)
		}
		cleanups = append(cleanups, func() { _ = idx.Close() })
		comp.Index = idx
		if err := comp.Registry.Register(tool.NewCodeSearchTool(idx, log)); err != nil {
			cleanup()
			return nil, nil, err
		}

		// Initial scan happens in the background so a large tree does
		// not delay startup.
		go func() {
			if err := idx.Reindex(ctx); err != nil {
				log.Warn("initial index scan failed", "error", err)
			}
		}()

		if cfg.Index.RescanCron != "" {
			rescanner, err := search.NewRescanner(idx, cfg.Index.RescanCron, bus, log)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("index rescan: %w", err)
			}
			comp.Rescanner = rescanner
		}
	}

	// Sandbox pool + run_code tool.
	if cfg.Sandbox.Backend != "" {
		backend, languages, err := buildSandboxBackend(cfg.Sandbox, log)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("sandbox: %w", err)
		}
		pool := sandbox.NewPool(backend, cfg.Sandbox.IdleTimeout, log)
		cleanups = append(cleanups, pool.Close)
		if err := comp.Registry.Register(tool.NewRunCodeTool(pool, languages, log)); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	// Generic orchestrator tools: structured LLM sub-tasks and any
	// configured MCP servers.
	llmTask := tool.NewLLMTaskTool(llmComp.DefaultLLM, llmComp.Registry,
		tool.LLMTaskConfig{
			DefaultModel: llmComp.DefaultModel,
			MaxTokens:    cfg.Tools.LLMTaskMaxTokens,
			Timeout:      cfg.Tools.LLMTaskTimeout,
		}, log)
	if err := comp.Registry.Register(llmTask); err != nil {
		cleanup()
		return nil, nil, err
	}
	comp.Generic = comp.Lookup(llmTask.Name())

	if len(cfg.Tools.MCPServers) > 0 {
		bridge, err := tool.NewMCPBridge(ctx, cfg.Tools.MCPServers, log)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("mcp bridge: %w", err)
		}
		cleanups = append(cleanups, bridge.Close)
		for _, t := range bridge.Tools() {
			if err := comp.Registry.Register(t); err != nil {
				log.Warn("mcp tool skipped", "tool", t.Name(), "error", err)
				continue
			}
			comp.Generic = append(comp.Generic, comp.Lookup(t.Name())...)
		}
	}

	return comp, cleanup, nil
}

// buildSandboxBackend constructs the configured execution backend and
// reports which languages it accepts.
func buildSandboxBackend(cfg config.SandboxConfig, log *slog.Logger) (sandbox.Backend, []string, error) {
	switch cfg.Backend {
	case "wasm":
		backend, err := sandbox.NewWASMBackend(sandbox.WASMConfig{
			ModulePath:  cfg.WASMModule,
			MaxPages:    cfg.WASMMaxPages,
			ExecTimeout: cfg.ExecTimeout,
			MaxOutputKB: cfg.MaxOutputKB,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return backend, []string{"wasm"}, nil
	case "process":
		interpreters := make(map[string]string, len(cfg.Interpreters))
		for _, name := range cfg.Interpreters {
			interpreters[name] = name
		}
		if len(interpreters) == 0 {
			for name, bin := range sandbox.DefaultInterpreters {
				interpreters[name] = bin
			}
		}
		backend, err := sandbox.NewProcessBackend(sandbox.ProcessConfig{
			Interpreters: interpreters,
			Workspace:    cfg.Workspace,
			ExecTimeout:  cfg.ExecTimeout,
			MaxOutputKB:  cfg.MaxOutputKB,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		languages := make([]string, 0, len(interpreters))
		for name := range interpreters {
			languages = append(languages, name)
		}
		return backend, languages, nil
	default:
		return nil, nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}
