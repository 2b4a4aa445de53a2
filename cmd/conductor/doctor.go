package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"conductor-ai/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM provider", Fn: checkProvider},
		{Name: "LLM connectivity", Fn: checkProviderConnectivity},
		{Name: "Sandbox interpreters", Fn: checkInterpreters},
		{Name: "History store", Fn: checkHistoryStore},
		{Name: "Code index", Fn: checkCodeIndex},
		{Name: "Email backend", Fn: checkEmailBackend},
	}

	fmt.Println("conductor doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, built-in defaults apply", cfgPath),
				Fix:     "Copy configs/config.example.yaml to config.yaml and adjust",
			}
		}
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config parse error: %v", cfgErr),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

func checkProvider(cfg *config.Config) CheckResult {
	if cfg == nil {
		cfg = config.Defaults()
	}
	for _, p := range cfg.LLM.Providers {
		if p.Name == cfg.LLM.DefaultProvider {
			msg := fmt.Sprintf("%s (%s, model %s)", p.Name, p.Type, p.Model)
			if p.Type == "openai" && p.APIKey == "" {
				return CheckResult{
					Status:  StatusWarn,
					Message: msg + " has no API key",
					Fix:     "Set llm.providers[].api_key or reference it with ${VAR}",
				}
			}
			return CheckResult{Status: StatusPass, Message: msg}
		}
	}
	return CheckResult{
		Status:  StatusFail,
		Message: fmt.Sprintf("default provider %q not in llm.providers", cfg.LLM.DefaultProvider),
	}
}

func checkProviderConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		cfg = config.Defaults()
	}
	var base string
	for _, p := range cfg.LLM.Providers {
		if p.Name == cfg.LLM.DefaultProvider {
			base = p.BaseURL
		}
	}
	if base == "" {
		return CheckResult{Status: StatusWarn, Message: "no base URL to probe"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("bad base URL %q: %v", base, err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", base, err),
			Fix:     "Start the provider (e.g. 'ollama serve') or fix llm.providers[].base_url",
		}
	}
	resp.Body.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("reached %s", base)}
}

func checkInterpreters(cfg *config.Config) CheckResult {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if cfg.Sandbox.Backend == "wasm" {
		if _, err := os.Stat(cfg.Sandbox.WASMModule); err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("wasm module %s not readable: %v", cfg.Sandbox.WASMModule, err),
			}
		}
		return CheckResult{Status: StatusPass, Message: "wasm module present"}
	}

	var found, missing []string
	for _, name := range cfg.Sandbox.Interpreters {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		} else {
			found = append(found, name)
		}
	}
	if len(found) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no configured interpreters on PATH: " + strings.Join(missing, ", "),
			Fix:     "Install the interpreters or trim sandbox.interpreters",
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("available: [%s]; missing: [%s]", strings.Join(found, ", "), strings.Join(missing, ", ")),
		}
	}
	return CheckResult{Status: StatusPass, Message: "all interpreters on PATH: " + strings.Join(found, ", ")}
}

func checkHistoryStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if !cfg.History.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}
	if cfg.History.Encrypt && os.Getenv("CONDUCTOR_HISTORY_KEY") == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "history.encrypt is on but CONDUCTOR_HISTORY_KEY is unset",
			Fix:     "Export CONDUCTOR_HISTORY_KEY before starting the daemon",
		}
	}
	dir := filepath.Dir(cfg.History.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot create %s: %v", dir, err),
		}
	}
	return CheckResult{Status: StatusPass, Message: "store directory writable: " + dir}
}

func checkCodeIndex(cfg *config.Config) CheckResult {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if !cfg.Index.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}
	info, err := os.Stat(cfg.Index.SourceDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("source_dir %s is not a directory", cfg.Index.SourceDir),
		}
	}
	return CheckResult{Status: StatusPass, Message: "source tree present: " + cfg.Index.SourceDir}
}

func checkEmailBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if cfg.Tools.EmailBackend != "smtp" {
		return CheckResult{Status: StatusPass, Message: "mock backend, no delivery configured"}
	}
	if cfg.Tools.SMTPAddr == "" || cfg.Tools.SMTPFrom == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "smtp backend selected but smtp_addr or smtp_from is empty",
		}
	}
	if len(cfg.Tools.EmailAllowedDomains) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no email_allowed_domains set, every recipient domain is allowed",
		}
	}
	return CheckResult{Status: StatusPass, Message: "smtp delivery to " + cfg.Tools.SMTPAddr}
}
