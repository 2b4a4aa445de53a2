package orchestrate

import (
	"context"
	"encoding/json"
	"testing"
)

func TestDelegationToolEchoesTask(t *testing.T) {
	reg := testRegistry(t, "github")
	tool := NewDelegationTool(reg.ByID("github"))

	if tool.Name() != "delegate_to_github" {
		t.Errorf("Name() = %q", tool.Name())
	}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"task":"list open PRs"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Error("delegation echo must not be an error result")
	}
	want := "Delegating to github Agent: list open PRs"
	if res.Content != want {
		t.Errorf("Content = %q, want %q", res.Content, want)
	}
}

func TestDelegationToolDefaultTask(t *testing.T) {
	reg := testRegistry(t, "email")
	tool := NewDelegationTool(reg.ByID("email"))

	for _, args := range []string{``, `{}`, `{"task":""}`, `not json`} {
		res, err := tool.Execute(context.Background(), json.RawMessage(args))
		if err != nil {
			t.Fatalf("Execute(%q): %v", args, err)
		}
		want := "Delegating to email Agent: Help with email Agent"
		if res.Content != want {
			t.Errorf("Execute(%q) = %q, want %q", args, res.Content, want)
		}
	}
}

func TestDelegationToolSchemaRequiresTask(t *testing.T) {
	reg := testRegistry(t, "github")
	schema := NewDelegationTool(reg.ByID("github")).Schema()

	if schema.Name != "delegate_to_github" {
		t.Errorf("schema name = %q", schema.Name)
	}

	var params struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(schema.Parameters, &params); err != nil {
		t.Fatalf("schema parameters are not valid JSON: %v", err)
	}
	if params.Type != "object" {
		t.Errorf("schema type = %q, want object", params.Type)
	}
	if _, ok := params.Properties["task"]; !ok {
		t.Error("schema is missing the task property")
	}
	if len(params.Required) != 1 || params.Required[0] != "task" {
		t.Errorf("schema required = %v, want [task]", params.Required)
	}
}

func TestDelegationToolsFollowRegistrationOrder(t *testing.T) {
	reg := testRegistry(t, "scraper", "github", "email")

	tools := DelegationTools(reg)
	if len(tools) != 3 {
		t.Fatalf("DelegationTools returned %d tools, want 3", len(tools))
	}
	want := []string{"delegate_to_scraper", "delegate_to_github", "delegate_to_email"}
	for i, tool := range tools {
		if tool.Name() != want[i] {
			t.Errorf("tools[%d] = %q, want %q", i, tool.Name(), want[i])
		}
	}
}
