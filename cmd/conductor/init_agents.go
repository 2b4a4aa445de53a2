package main

import (
	"fmt"
	"log/slog"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/infra/config"
	"conductor-ai/internal/usecase/orchestrate"
)

// builtinAgent describes one member of the default capability set.
type builtinAgent struct {
	id          string
	displayName string
	toolDesc    string
	taskPrefix  string
	prompt      string
	toolNames   []string
}

var builtinAgents = []builtinAgent{
	{
		id:          "github",
		displayName: "GitHub Agent",
		toolDesc:    "Delegate repository work: list repos, read and create issues, inspect pull requests, search code on GitHub.",
		taskPrefix:  "GitHub task: ",
		prompt: "You are a GitHub specialist. Use the github tool to answer questions about " +
			"repositories, issues, and pull requests. Report exact numbers, titles, and URLs " +
			"from tool results; never invent repository data.",
		toolNames: []string{"github"},
	},
	{
		id:          "email",
		displayName: "Email Agent",
		toolDesc:    "Delegate email work: draft, review, and send messages.",
		taskPrefix:  "Email task: ",
		prompt: "You are an email assistant. Draft messages with the email tool and only send " +
			"after the draft content matches the request. Confirm recipients before sending.",
		toolNames: []string{"email"},
	},
	{
		id:          "scraper",
		displayName: "Web Scraper Agent",
		toolDesc:    "Delegate web research: fetch a page and extract its text, title, or links.",
		taskPrefix:  "Web task: ",
		prompt: "You are a web research specialist. Fetch pages with the scrape tool and " +
			"answer from the extracted content. Quote the page when the wording matters and " +
			"always mention the source URL.",
		toolNames: []string{"scrape"},
	},
	{
		id:          "codesearch",
		displayName: "Code Search Agent",
		toolDesc:    "Delegate codebase questions: find relevant functions, types, and files in the indexed source tree.",
		taskPrefix:  "Code question: ",
		prompt: "You are a codebase navigator. Use the code_search tool to locate relevant " +
			"source and answer with file paths and line ranges from the results.",
		toolNames: []string{"code_search"},
	},
	{
		id:          "sandbox",
		displayName: "Code Execution Agent",
		toolDesc:    "Delegate computation: write and run short programs in an isolated sandbox and report their output.",
		taskPrefix:  "Computation: ",
		prompt: "You are a computation specialist. Solve tasks by writing short programs and " +
			"running them with the run_code tool. Show the program output, not your own " +
			"arithmetic.",
		toolNames: []string{"run_code"},
	},
}

// registerAgents populates the capability registry. An explicit agents
// list in the config replaces the built-in set; built-in ids keep
// their toolsets when redeclared.
func registerAgents(cfg *config.Config, llmComp *LLMComponents, tools *ToolComponents,
	registry *orchestrate.Registry, log *slog.Logger) error {
	if len(cfg.Agents) == 0 {
		return registerBuiltins(llmComp, tools, registry, log)
	}

	byID := make(map[string]builtinAgent, len(builtinAgents))
	for _, b := range builtinAgents {
		byID[b.id] = b
	}

	for _, ac := range cfg.Agents {
		var agentTools []domain.Tool
		prompt := ac.SystemPrompt
		taskPrefix := ac.TaskPrefix
		if b, ok := byID[ac.ID]; ok {
			for _, name := range b.toolNames {
				agentTools = append(agentTools, tools.Lookup(name)...)
			}
			if prompt == "" {
				prompt = b.prompt
			}
			if taskPrefix == "" {
				taskPrefix = b.taskPrefix
			}
		}

		provider := llmComp.DefaultLLM
		model := llmComp.DefaultModel
		if ac.Provider != "" {
			p, err := llmComp.Registry.Get(ac.Provider)
			if err != nil {
				return fmt.Errorf("agent %s: %w", ac.ID, err)
			}
			provider = p
			model = llmComp.ModelFor(ac.Provider)
		}

		g, err := orchestrate.BuildWorker(orchestrate.WorkerConfig{
			ID:            ac.ID,
			DisplayName:   ac.DisplayName,
			SystemPrompt:  prompt,
			Provider:      provider,
			Model:         model,
			Tools:         agentTools,
			MaxIterations: ac.MaxIter,
			Logger:        log,
		})
		if err != nil {
			return fmt.Errorf("agent %s: %w", ac.ID, err)
		}

		routingTool := ac.RoutingTool
		if routingTool == "" {
			routingTool = "delegate_to_" + ac.ID
		}
		toolDesc := "Delegate tasks to the " + ac.DisplayName + "."
		if b, ok := byID[ac.ID]; ok {
			toolDesc = b.toolDesc
		}
		registry.Register(orchestrate.AgentDescriptor{
			ID:              ac.ID,
			DisplayName:     ac.DisplayName,
			RoutingToolName: routingTool,
			RoutingToolDesc: toolDesc,
			TaskPrefix:      taskPrefix,
			Graph:           g,
		})
	}
	return nil
}

func registerBuiltins(llmComp *LLMComponents, tools *ToolComponents,
	registry *orchestrate.Registry, log *slog.Logger) error {
	for _, b := range builtinAgents {
		var agentTools []domain.Tool
		for _, name := range b.toolNames {
			agentTools = append(agentTools, tools.Lookup(name)...)
		}
		if len(agentTools) == 0 {
			log.Info("built-in agent skipped, backend disabled", "agent_id", b.id)
			continue
		}
		g, err := orchestrate.BuildWorker(orchestrate.WorkerConfig{
			ID:           b.id,
			DisplayName:  b.displayName,
			SystemPrompt: b.prompt,
			Provider:     llmComp.DefaultLLM,
			Model:        llmComp.DefaultModel,
			Tools:        agentTools,
			Logger:       log,
		})
		if err != nil {
			return fmt.Errorf("agent %s: %w", b.id, err)
		}
		registry.Register(orchestrate.AgentDescriptor{
			ID:              b.id,
			DisplayName:     b.displayName,
			RoutingToolName: "delegate_to_" + b.id,
			RoutingToolDesc: b.toolDesc,
			TaskPrefix:      b.taskPrefix,
			Graph:           g,
		})
	}
	return nil
}
