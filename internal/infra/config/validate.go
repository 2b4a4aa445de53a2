package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors so a bad file
// reports every problem at once.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateGateway(cfg, ve)
	validateLLM(cfg, ve)
	validateOrchestrator(cfg, ve)
	validateAgents(cfg, ve)
	validateTools(cfg, ve)
	validateIndex(cfg, ve)
	validateSandbox(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr must not be empty")
	}
	if cfg.Gateway.RequestsPerMin <= 0 {
		ve.Add("gateway.requests_per_min must be > 0")
	}
	if cfg.Gateway.Burst <= 0 {
		ve.Add("gateway.burst must be > 0")
	}
	if cfg.Gateway.MaxBodyBytes <= 0 {
		ve.Add("gateway.max_body_bytes must be > 0")
	}
}

var validProviderTypes = map[string]bool{
	"openai": true,
	"ollama": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must not be empty")
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, ollama)", i, p.Type)
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.Type == "openai" && p.APIKey == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (use a ${VAR} reference)", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	if cfg.Orchestrator.MaxRounds <= 0 {
		ve.Add("orchestrator.max_rounds must be > 0")
	}
	if cfg.Orchestrator.TokenBudget < 0 {
		ve.Add("orchestrator.token_budget must be >= 0")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	seenID := make(map[string]bool)
	seenTool := make(map[string]bool)
	for i, a := range cfg.Agents {
		if a.ID == "" {
			ve.Add("agents[%d].id must not be empty", i)
			continue
		}
		if seenID[a.ID] {
			ve.Add("agents[%d]: duplicate agent id %q", i, a.ID)
		}
		seenID[a.ID] = true

		if a.DisplayName == "" {
			ve.Add("agents[%d] (%s): display_name must not be empty", i, a.ID)
		}
		tool := a.RoutingTool
		if tool == "" {
			tool = "delegate_to_" + a.ID
		}
		if seenTool[tool] {
			ve.Add("agents[%d] (%s): duplicate routing tool %q", i, a.ID, tool)
		}
		seenTool[tool] = true

		if a.MaxIter < 0 {
			ve.Add("agents[%d] (%s): max_iter must be >= 0", i, a.ID)
		}
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	switch cfg.Tools.GitHubBackend {
	case "rest", "mock":
	default:
		ve.Add("tools.github_backend %q is invalid (want: rest, mock)", cfg.Tools.GitHubBackend)
	}
	if cfg.Tools.GitHubBackend == "rest" && cfg.Tools.GitHubToken == "" {
		ve.Add("tools.github_token is required for the rest backend")
	}

	switch cfg.Tools.EmailBackend {
	case "smtp", "mock":
	default:
		ve.Add("tools.email_backend %q is invalid (want: smtp, mock)", cfg.Tools.EmailBackend)
	}
	if cfg.Tools.EmailBackend == "smtp" {
		if cfg.Tools.SMTPAddr == "" {
			ve.Add("tools.smtp_addr is required for the smtp backend")
		}
		if cfg.Tools.SMTPFrom == "" {
			ve.Add("tools.smtp_from is required for the smtp backend")
		}
	}
	if cfg.Tools.EmailSendsPerHour <= 0 {
		ve.Add("tools.email_sends_per_hour must be > 0")
	}

	switch cfg.Tools.ScrapeBackend {
	case "http", "chromedp":
	default:
		ve.Add("tools.scrape_backend %q is invalid (want: http, chromedp)", cfg.Tools.ScrapeBackend)
	}
	if cfg.Tools.ScrapeMaxBodyBytes <= 0 {
		ve.Add("tools.scrape_max_body_bytes must be > 0")
	}

	for i, s := range cfg.Tools.MCPServers {
		if s.Name == "" {
			ve.Add("tools.mcp_servers[%d].name must not be empty", i)
		}
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				ve.Add("tools.mcp_servers[%d] (%s): command is required for stdio transport", i, s.Name)
			}
		case "http":
			if s.URL == "" {
				ve.Add("tools.mcp_servers[%d] (%s): url is required for http transport", i, s.Name)
			}
		default:
			ve.Add("tools.mcp_servers[%d].transport %q is invalid (want: stdio, http)", i, s.Transport)
		}
	}
}

func validateIndex(cfg *Config, ve *ValidationError) {
	if !cfg.Index.Enabled {
		return
	}
	if cfg.Index.SourceDir == "" {
		ve.Add("index.source_dir must not be empty when the index is enabled")
	}
	if cfg.Index.Path == "" {
		ve.Add("index.path must not be empty when the index is enabled")
	}
	if cfg.Index.ChunkLines <= 0 {
		ve.Add("index.chunk_lines must be > 0")
	}
	if cfg.Index.ChunkOverlap < 0 || cfg.Index.ChunkOverlap >= cfg.Index.ChunkLines {
		ve.Add("index.chunk_overlap must be >= 0 and < chunk_lines")
	}
	if cfg.Index.Embedding.Model == "" {
		ve.Add("index.embedding.model must not be empty when the index is enabled")
	}
}

func validateSandbox(cfg *Config, ve *ValidationError) {
	switch cfg.Sandbox.Backend {
	case "process", "wasm":
	default:
		ve.Add("sandbox.backend %q is invalid (want: process, wasm)", cfg.Sandbox.Backend)
	}
	if cfg.Sandbox.Backend == "process" && len(cfg.Sandbox.Interpreters) == 0 {
		ve.Add("sandbox.interpreters must not be empty for the process backend")
	}
	if cfg.Sandbox.Backend == "wasm" && cfg.Sandbox.WASMModule == "" {
		ve.Add("sandbox.wasm_module is required for the wasm backend")
	}
	if cfg.Sandbox.ExecTimeout <= 0 {
		ve.Add("sandbox.exec_timeout must be > 0")
	}
	if cfg.Sandbox.IdleTimeout <= 0 {
		ve.Add("sandbox.idle_timeout must be > 0")
	}
	if cfg.Sandbox.MaxOutputKB <= 0 {
		ve.Add("sandbox.max_output_kb must be > 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
}
