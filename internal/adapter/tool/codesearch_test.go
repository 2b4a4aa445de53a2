package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conductor-ai/internal/adapter/search"
	"conductor-ai/internal/domain"
)

// newTestIndex builds a keyword-only index over a tiny source tree.
func newTestIndex(t *testing.T) *search.Index {
	t.Helper()
	src := t.TempDir()
	code := `package payments

// ChargeCard bills the customer's card through the gateway.
func ChargeCard(amount int) error {
	return nil
}
`
	if err := os.WriteFile(filepath.Join(src, "payments.go"), []byte(code), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	idx, err := search.New(search.Config{
		SourceDir: src,
		DBPath:    filepath.Join(t.TempDir(), "index.db"),
	}, nil, newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	if err := idx.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	return idx
}

func execCodeSearch(t *testing.T, tool *CodeSearchTool, params any) *domain.ToolResult {
	t.Helper()
	data, _ := json.Marshal(params)
	result, err := tool.Execute(context.Background(), data)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return result
}

func TestCodeSearchToolName(t *testing.T) {
	tool := NewCodeSearchTool(newTestIndex(t), newTestLogger())
	if tool.Name() != "code_search" {
		t.Errorf("got %q, want %q", tool.Name(), "code_search")
	}
}

func TestCodeSearchToolSchema(t *testing.T) {
	tool := NewCodeSearchTool(newTestIndex(t), newTestLogger())
	var params map[string]any
	if err := json.Unmarshal(tool.Schema().Parameters, &params); err != nil {
		t.Fatalf("invalid schema JSON: %v", err)
	}
}

func TestCodeSearchToolFindsChunk(t *testing.T) {
	tool := NewCodeSearchTool(newTestIndex(t), newTestLogger())
	result := execCodeSearch(t, tool, map[string]any{"query": "ChargeCard"})
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "payments.go") {
		t.Errorf("expected file path in output: %s", result.Content)
	}
	if !strings.Contains(result.Content, "ChargeCard") {
		t.Errorf("expected chunk content in output: %s", result.Content)
	}
}

func TestCodeSearchToolNoMatches(t *testing.T) {
	tool := NewCodeSearchTool(newTestIndex(t), newTestLogger())
	result := execCodeSearch(t, tool, map[string]any{"query": "zzz-no-such-symbol"})
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "No matches") {
		t.Errorf("expected empty message: %s", result.Content)
	}
}

func TestCodeSearchToolMissingQuery(t *testing.T) {
	tool := NewCodeSearchTool(newTestIndex(t), newTestLogger())
	result := execCodeSearch(t, tool, map[string]any{})
	if !result.IsError {
		t.Error("expected error for missing query")
	}
}

func TestCodeSearchToolInvalidJSON(t *testing.T) {
	tool := NewCodeSearchTool(newTestIndex(t), newTestLogger())
	result, err := tool.Execute(context.Background(), []byte(`{invalid`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error for invalid JSON")
	}
}

func TestFormatChunksNumbersResults(t *testing.T) {
	out := formatChunks([]search.Chunk{
		{Path: "a.go", StartLine: 1, EndLine: 2, Content: "line1\nline2"},
		{Path: "b.go", StartLine: 10, EndLine: 10, Content: "x"},
	})
	if !strings.Contains(out, "1. a.go:1-2") {
		t.Errorf("missing first header: %s", out)
	}
	if !strings.Contains(out, "2. b.go:10-10") {
		t.Errorf("missing second header: %s", out)
	}
	if !strings.Contains(out, "   line1") {
		t.Errorf("content not indented: %s", out)
	}
}
