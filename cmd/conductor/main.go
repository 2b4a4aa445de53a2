package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"conductor-ai/internal/adapter/gateway"
	"conductor-ai/internal/adapter/history"
	"conductor-ai/internal/infra/config"
	"conductor-ai/internal/infra/logger"
	"conductor-ai/internal/infra/tracer"
	"conductor-ai/internal/usecase/eventbus"
	"conductor-ai/internal/usecase/orchestrate"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "doctor":
			if err := runDoctor(); err != nil {
				fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`conductor - multi-agent orchestration daemon

USAGE:
    conductor [COMMAND] [FLAGS]

COMMANDS:
    doctor      Run health checks against the configured backends

    (no command) - Start the daemon with existing config

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: CONDUCTOR_* variables override config

EXAMPLES:
    conductor                              # Run with ./config.yaml
    conductor --config /etc/conductor.yaml
    conductor doctor                       # Check providers and stores`)
}

// configPath extracts --config from os.Args, defaulting to
// ./config.yaml.
func configPath() string {
	for i := 1; i < len(os.Args); i++ {
		if os.Args[i] == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(os.Args[i], "--config=") {
			return strings.TrimPrefix(os.Args[i], "--config=")
		}
	}
	return "config.yaml"
}

func loadConfig() (*config.Config, error) {
	cfgPath := configPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.Defaults()
		config.ApplyEnvOverrides(cfg)
		return cfg, nil
	}
	return config.Load(cfgPath)
}

func run() error {
	// 1. Config
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. LLM providers
	llmComp, err := initLLM(cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 4. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 5. Tool backends (sandbox pool, code index, scrapers, mail)
	tools, toolsCleanup, err := initTools(ctx, cfg, llmComp, bus, log)
	if err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	defer toolsCleanup()

	// 6. Session history
	var hist gateway.HistoryStore
	if cfg.History.Enabled {
		passphrase := ""
		if cfg.History.Encrypt {
			passphrase = os.Getenv("CONDUCTOR_HISTORY_KEY")
			if passphrase == "" {
				return fmt.Errorf("history: encryption enabled but CONDUCTOR_HISTORY_KEY is unset")
			}
		}
		store, err := history.New(cfg.History.Path, passphrase, log)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer store.Close()
		hist = store
	}

	// 7. Agent registry, orchestrator graph, run service
	registry := orchestrate.NewRegistry(log)
	if err := registerAgents(cfg, llmComp, tools, registry, log); err != nil {
		return fmt.Errorf("agents: %w", err)
	}

	orchGraph, err := orchestrate.BuildOrchestrator(orchestrate.OrchestratorConfig{
		SystemPrompt: cfg.Orchestrator.SystemPrompt,
		Provider:     llmComp.DefaultLLM,
		Model:        llmComp.DefaultModel,
		Registry:     registry,
		GenericTools: tools.Generic,
		MaxRounds:    cfg.Orchestrator.MaxRounds,
		Budget:       orchestrate.NewBudget(llmComp.DefaultModel, cfg.Orchestrator.TokenBudget, log),
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	svc := orchestrate.NewService(orchGraph, registry, bus, log)

	// 8. Periodic index rescan
	if tools.Rescanner != nil {
		tools.Rescanner.Start()
		defer tools.Rescanner.Stop()
	}

	// 9. Gateway
	srv := gateway.NewServer(cfg.Gateway, svc, registry, hist, bus, log)
	log.Info("starting daemon",
		"addr", cfg.Gateway.Addr,
		"agents", registry.Len(),
		"provider", cfg.LLM.DefaultProvider,
	)
	return srv.Start(ctx)
}
