// Package config loads and validates the YAML configuration for the
// conductor daemon. Values may reference environment variables with
// ${VAR} placeholders; unset variables expand to the empty string.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Agents       []AgentConfig      `yaml:"agents,omitempty"` // empty = built-in agent set
	Tools        ToolsConfig        `yaml:"tools"`
	Index        IndexConfig        `yaml:"index"`
	History      HistoryConfig      `yaml:"history"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Includes     []string           `yaml:"includes,omitempty"`
}

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	Addr            string        `yaml:"addr"`
	RequestsPerMin  int           `yaml:"requests_per_min"`
	Burst           int           `yaml:"burst"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LLMConfig holds reasoning provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "openai" or "ollama"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// OrchestratorConfig holds settings for the root coordination loop.
type OrchestratorConfig struct {
	MaxRounds    int    `yaml:"max_rounds"`
	SystemPrompt string `yaml:"system_prompt"`
	TokenBudget  int    `yaml:"token_budget"` // 0 disables history trimming
}

// AgentConfig defines a single delegatable sub-agent instance.
// When the agents list is empty the daemon registers its built-in set.
type AgentConfig struct {
	ID           string `yaml:"id"`
	DisplayName  string `yaml:"display_name"`
	RoutingTool  string `yaml:"routing_tool,omitempty"` // default "delegate_to_<id>"
	TaskPrefix   string `yaml:"task_prefix,omitempty"`
	SystemPrompt string `yaml:"system_prompt"`
	Provider     string `yaml:"provider,omitempty"` // default llm.default_provider
	MaxIter      int    `yaml:"max_iter,omitempty"`
}

// ToolsConfig holds per-tool backend settings.
type ToolsConfig struct {
	// GitHub tool.
	GitHubBackend    string        `yaml:"github_backend"` // "rest" or "mock"
	GitHubToken      string        `yaml:"github_token"`
	GitHubBaseURL    string        `yaml:"github_base_url"`
	GitHubTimeout    time.Duration `yaml:"github_timeout"`
	GitHubRateLimit  int           `yaml:"github_rate_limit"` // requests per minute
	GitHubCacheTTL   time.Duration `yaml:"github_cache_ttl"`

	// Email tool.
	EmailBackend        string        `yaml:"email_backend"` // "mock" or "smtp"
	SMTPAddr            string        `yaml:"smtp_addr"`
	SMTPFrom            string        `yaml:"smtp_from"`
	SMTPUsername        string        `yaml:"smtp_username"`
	SMTPPassword        string        `yaml:"smtp_password"`
	EmailSendsPerHour   int           `yaml:"email_sends_per_hour"`
	EmailAllowedDomains []string      `yaml:"email_allowed_domains"`
	EmailTimeout        time.Duration `yaml:"email_timeout"`

	// Scrape tool.
	ScrapeBackend      string        `yaml:"scrape_backend"` // "http" or "chromedp"
	ScrapeTimeout      time.Duration `yaml:"scrape_timeout"`
	ScrapeMaxBodyBytes int64         `yaml:"scrape_max_body_bytes"`
	ScrapeMaxRedirects int           `yaml:"scrape_max_redirects"`

	// llm_task tool.
	LLMTaskMaxTokens int           `yaml:"llm_task_max_tokens"`
	LLMTaskTimeout   time.Duration `yaml:"llm_task_timeout"`

	// MCP bridge.
	MCPServers []MCPServerConfig `yaml:"mcp_servers,omitempty"`
}

// MCPServerConfig configures one MCP server connection.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// IndexConfig holds code index settings.
type IndexConfig struct {
	Enabled      bool            `yaml:"enabled"`
	SourceDir    string          `yaml:"source_dir"`
	Path         string          `yaml:"path"` // sqlite database file
	ChunkLines   int             `yaml:"chunk_lines"`
	ChunkOverlap int             `yaml:"chunk_overlap"`
	RescanCron   string          `yaml:"rescan_cron,omitempty"` // empty = no periodic rescan
	Embedding    EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// HistoryConfig holds session transcript store settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // sqlite database file
	Encrypt bool   `yaml:"encrypt"`
	// Passphrase is read from CONDUCTOR_HISTORY_KEY, never from the file.
}

// SandboxConfig holds code execution pool settings.
type SandboxConfig struct {
	Backend       string        `yaml:"backend"` // "process" or "wasm"
	Workspace     string        `yaml:"workspace"`
	Interpreters  []string      `yaml:"interpreters"`
	ExecTimeout   time.Duration `yaml:"exec_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	MaxOutputKB   int           `yaml:"max_output_kb"`
	WASMModule    string        `yaml:"wasm_module,omitempty"`
	WASMMaxPages  int           `yaml:"wasm_max_pages,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns the persistent data directory under
// $HOME/.conductor. Falls back to "./data" when $HOME is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".conductor")
}

// Defaults returns a Config with sensible defaults. The default provider
// targets a local Ollama server, which is the expected deployment.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Gateway: GatewayConfig{
			Addr:            ":8090",
			RequestsPerMin:  120,
			Burst:           30,
			MaxBodyBytes:    1 << 20, // 1 MiB
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "ollama",
			Providers: []ProviderConfig{
				{
					Name:    "ollama",
					Type:    "ollama",
					BaseURL: "http://localhost:11434",
					Model:   "qwen2.5:7b",
				},
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Orchestrator: OrchestratorConfig{
			MaxRounds:   6,
			TokenBudget: 16000,
		},
		Tools: ToolsConfig{
			GitHubBackend:      "mock",
			GitHubBaseURL:      "https://api.github.com",
			GitHubTimeout:      15 * time.Second,
			GitHubRateLimit:    30,
			GitHubCacheTTL:     time.Minute,
			EmailBackend:       "mock",
			EmailSendsPerHour:  10,
			EmailTimeout:       30 * time.Second,
			ScrapeBackend:      "http",
			ScrapeTimeout:      20 * time.Second,
			ScrapeMaxBodyBytes: 1 << 20, // 1 MiB
			ScrapeMaxRedirects: 5,
			LLMTaskMaxTokens:   2048,
			LLMTaskTimeout:     60 * time.Second,
		},
		Index: IndexConfig{
			Enabled:      false,
			SourceDir:    ".",
			Path:         filepath.Join(dataDir, "index.db"),
			ChunkLines:   40,
			ChunkOverlap: 10,
			Embedding: EmbeddingConfig{
				BaseURL:   "http://localhost:11434",
				Model:     "nomic-embed-text",
				CacheSize: 512,
			},
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "history.db"),
		},
		Sandbox: SandboxConfig{
			Backend:      "process",
			Workspace:    filepath.Join(dataDir, "workspace"),
			Interpreters: []string{"python3", "node"},
			ExecTimeout:  30 * time.Second,
			IdleTimeout:  5 * time.Minute,
			MaxOutputKB:  256,
			WASMMaxPages: 1024, // 64 MiB
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// envRef matches ${VAR} placeholders. Bare $VAR is left alone so cron
// expressions and shell snippets survive untouched.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${VAR} references in raw YAML with the value of the
// named environment variable. Unset variables expand to "".
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads a YAML config file, expands ${ENV} references, applies env
// overrides and validates the result. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	data = ExpandEnv(data)

	// First pass picks up the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
		// Second pass so the main file wins over included fragments.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps CONDUCTOR_* env vars onto config fields. These
// take precedence over file values so deployments can retune a shared
// config without editing it.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONDUCTOR_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("CONDUCTOR_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("CONDUCTOR_OLLAMA_BASE_URL"); v != "" {
		for i := range cfg.LLM.Providers {
			if cfg.LLM.Providers[i].Type == "ollama" {
				cfg.LLM.Providers[i].BaseURL = v
			}
		}
	}
	if v := os.Getenv("CONDUCTOR_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CONDUCTOR_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CONDUCTOR_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CONDUCTOR_SANDBOX_WORKSPACE"); v != "" {
		cfg.Sandbox.Workspace = v
	}
	if v := os.Getenv("CONDUCTOR_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
}

// validatePermissions rejects group/world-writable config files. API keys
// and SMTP credentials live here.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
