package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"conductor-ai/internal/domain"
)

func newTestEmailTool(sendsPerHour int, allowedDomains []string) *EmailTool {
	return NewEmailTool(nil, sendsPerHour, allowedDomains, newTestLogger())
}

func execEmailTool(t *testing.T, tool *EmailTool, params any) *domain.ToolResult {
	t.Helper()
	data, _ := json.Marshal(params)
	result, err := tool.Execute(context.Background(), data)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return result
}

func TestEmailToolName(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	if tool.Name() != "email" {
		t.Errorf("got %q, want %q", tool.Name(), "email")
	}
}

func TestEmailToolSchema(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	schema := tool.Schema()
	var params map[string]any
	if err := json.Unmarshal(schema.Parameters, &params); err != nil {
		t.Fatalf("invalid schema JSON: %v", err)
	}
}

func TestEmailToolListInbox(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{"action": "list"})
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "msg-001") {
		t.Errorf("expected canned inbox message: %s", result.Content)
	}
}

func TestEmailToolListSentEmpty(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{"action": "list", "folder": "sent"})
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "No emails") {
		t.Errorf("expected empty message: %s", result.Content)
	}
}

func TestEmailToolRead(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{"action": "read", "id": "msg-001"})
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "nightly build failed") {
		t.Errorf("expected message body: %s", result.Content)
	}
}

func TestEmailToolReadNotFound(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{"action": "read", "id": "nope"})
	if !result.IsError {
		t.Error("expected error for unknown message id")
	}
}

func TestEmailToolReadMissingID(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{"action": "read"})
	if !result.IsError {
		t.Error("expected error for missing id")
	}
}

func TestEmailToolSearch(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{"action": "search", "query": "standup"})
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "msg-002") {
		t.Errorf("expected matching message: %s", result.Content)
	}
}

func TestEmailToolSearchNoMatch(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{"action": "search", "query": "zzz-nomatch"})
	if !strings.Contains(result.Content, "No emails match") {
		t.Errorf("expected empty message: %s", result.Content)
	}
}

func TestEmailToolDraft(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{
		"action": "draft", "to": "a@example.com", "subject": "hi", "body": "text",
	})
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "draft-") {
		t.Errorf("expected draft id: %s", result.Content)
	}
}

func TestEmailToolSendRequiresConfirm(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{
		"action": "send", "to": "a@example.com", "subject": "hi", "body": "text",
	})
	if !result.IsError {
		t.Error("expected error without confirm")
	}
	if !strings.Contains(result.Content, "confirm") {
		t.Errorf("expected confirm hint: %s", result.Content)
	}
}

func TestEmailToolSendConfirmed(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{
		"action": "send", "to": "a@example.com", "subject": "hi", "body": "text",
		"confirm": true,
	})
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "sent") {
		t.Errorf("expected sent status: %s", result.Content)
	}
}

func TestEmailToolSendDomainAllowlist(t *testing.T) {
	tool := newTestEmailTool(10, []string{"example.com"})

	result := execEmailTool(t, tool, map[string]any{
		"action": "send", "to": "a@example.com", "subject": "hi", "body": "text",
		"confirm": true,
	})
	if result.IsError {
		t.Fatalf("allowed domain should succeed: %s", result.Content)
	}

	result = execEmailTool(t, tool, map[string]any{
		"action": "send", "to": "a@evil.com", "subject": "hi", "body": "text",
		"confirm": true,
	})
	if !result.IsError {
		t.Error("expected error for blocked domain")
	}
}

func TestEmailToolSendBlockedCC(t *testing.T) {
	tool := newTestEmailTool(10, []string{"example.com"})
	result := execEmailTool(t, tool, map[string]any{
		"action": "send", "to": "a@example.com", "cc": []string{"b@evil.com"},
		"subject": "hi", "body": "text", "confirm": true,
	})
	if !result.IsError {
		t.Error("expected error for blocked cc domain")
	}
}

func TestEmailToolSendRateLimit(t *testing.T) {
	tool := newTestEmailTool(1, nil)
	params := map[string]any{
		"action": "send", "to": "a@example.com", "subject": "hi", "body": "text",
		"confirm": true,
	}
	if result := execEmailTool(t, tool, params); result.IsError {
		t.Fatalf("first send should succeed: %s", result.Content)
	}
	result := execEmailTool(t, tool, params)
	if !result.IsError {
		t.Error("expected rate limit error on second send")
	}
	if !strings.Contains(result.Content, "send limit") {
		t.Errorf("expected send limit message: %s", result.Content)
	}
}

func TestEmailToolReplyRequiresConfirm(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{
		"action": "reply", "message_id": "msg-001", "body": "ack",
	})
	if !result.IsError {
		t.Error("expected error without confirm")
	}
}

func TestEmailToolReplyConfirmed(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{
		"action": "reply", "message_id": "msg-001", "body": "ack", "confirm": true,
	})
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
}

func TestEmailToolUnknownAction(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{"action": "forward"})
	if !result.IsError {
		t.Error("expected error for unknown action")
	}
}

func TestEmailToolSubjectTooLong(t *testing.T) {
	tool := newTestEmailTool(10, nil)
	result := execEmailTool(t, tool, map[string]any{
		"action": "send", "to": "a@example.com",
		"subject": strings.Repeat("x", 201), "body": "text", "confirm": true,
	})
	if !result.IsError {
		t.Error("expected error for oversized subject")
	}
}
