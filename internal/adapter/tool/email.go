package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"conductor-ai/internal/domain"
)

// ListEmailsOpts controls email listing.
type ListEmailsOpts struct {
	Folder  string `json:"folder,omitempty"` // "inbox" or "sent"
	Page    int    `json:"page,omitempty"`
	PerPage int    `json:"per_page,omitempty"`
}

// EmailSummary describes a message without its full body.
type EmailSummary struct {
	ID      string   `json:"id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Date    string   `json:"date"`
	Snippet string   `json:"snippet"`
}

// EmailMessage is a full message with body.
type EmailMessage struct {
	ID      string   `json:"id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Date    string   `json:"date"`
}

// EmailDraft is a saved draft.
type EmailDraft struct {
	ID      string   `json:"id"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// EmailSendResult reports a delivery attempt.
type EmailSendResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// EmailBackend abstracts the mail provider.
type EmailBackend interface {
	List(ctx context.Context, opts ListEmailsOpts) ([]EmailSummary, error)
	Read(ctx context.Context, id string) (*EmailMessage, error)
	Search(ctx context.Context, query string, limit int) ([]EmailSummary, error)
	Draft(ctx context.Context, to, subject, body string, cc []string) (*EmailDraft, error)
	Send(ctx context.Context, to, subject, body string, cc []string) (*EmailSendResult, error)
	Reply(ctx context.Context, messageID, body string) (*EmailSendResult, error)
}

// MockEmailBackend serves a small canned inbox and records sends in
// memory, so the tool is demonstrable without SMTP configuration.
type MockEmailBackend struct {
	inbox  []EmailMessage
	sent   []EmailMessage
	nextID int
}

func NewMockEmailBackend() *MockEmailBackend {
	return &MockEmailBackend{
		inbox: []EmailMessage{
			{
				ID:      "msg-001",
				From:    "ops@example.com",
				To:      []string{"agent@example.com"},
				Subject: "Mock inbox: nightly build failed",
				Body:    "Mock message. Configure tools.smtp_addr to enable real delivery.",
				Date:    "2025-01-06T08:00:00Z",
			},
			{
				ID:      "msg-002",
				From:    "team@example.com",
				To:      []string{"agent@example.com"},
				Subject: "Mock inbox: standup notes",
				Body:    "Mock message. Sends are recorded in memory only.",
				Date:    "2025-01-06T09:15:00Z",
			},
		},
		nextID: 1,
	}
}

func summarize(m EmailMessage) EmailSummary {
	return EmailSummary{
		ID: m.ID, From: m.From, To: m.To, Subject: m.Subject, Date: m.Date,
		Snippet: truncate(m.Body, 80),
	}
}

func (m *MockEmailBackend) List(_ context.Context, opts ListEmailsOpts) ([]EmailSummary, error) {
	source := m.inbox
	if opts.Folder == "sent" {
		source = m.sent
	}
	out := make([]EmailSummary, 0, len(source))
	for _, msg := range source {
		out = append(out, summarize(msg))
	}
	return out, nil
}

func (m *MockEmailBackend) Read(_ context.Context, id string) (*EmailMessage, error) {
	for _, msg := range m.inbox {
		if msg.ID == id {
			return &msg, nil
		}
	}
	for _, msg := range m.sent {
		if msg.ID == id {
			return &msg, nil
		}
	}
	return nil, fmt.Errorf("message %q: %w", id, domain.ErrNotFound)
}

func (m *MockEmailBackend) Search(_ context.Context, query string, limit int) ([]EmailSummary, error) {
	q := strings.ToLower(query)
	var out []EmailSummary
	for _, msg := range m.inbox {
		if strings.Contains(strings.ToLower(msg.Subject), q) ||
			strings.Contains(strings.ToLower(msg.Body), q) ||
			strings.Contains(strings.ToLower(msg.From), q) {
			out = append(out, summarize(msg))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockEmailBackend) Draft(_ context.Context, to, subject, body string, cc []string) (*EmailDraft, error) {
	id := fmt.Sprintf("draft-%d", m.nextID)
	m.nextID++
	return &EmailDraft{ID: id, To: []string{to}, CC: cc, Subject: subject, Body: body}, nil
}

func (m *MockEmailBackend) Send(_ context.Context, to, subject, body string, cc []string) (*EmailSendResult, error) {
	id := fmt.Sprintf("msg-out-%d", m.nextID)
	m.nextID++
	m.sent = append(m.sent, EmailMessage{
		ID: id, From: "agent@example.com", To: []string{to}, CC: cc,
		Subject: subject, Body: body,
		Date: time.Now().UTC().Format(time.RFC3339),
	})
	return &EmailSendResult{MessageID: id, Status: "sent"}, nil
}

func (m *MockEmailBackend) Reply(_ context.Context, messageID, body string) (*EmailSendResult, error) {
	id := messageID + "-reply"
	m.sent = append(m.sent, EmailMessage{
		ID: id, From: "agent@example.com", Body: body,
		Date: time.Now().UTC().Format(time.RFC3339),
	})
	return &EmailSendResult{MessageID: id, Status: "sent"}, nil
}

// EmailTool exposes mailbox operations to a graph. Outbound actions
// sit behind an explicit confirm flag, an hourly send cap, and an
// optional recipient domain allowlist.
type EmailTool struct {
	backend        EmailBackend
	logger         *slog.Logger
	sendLimiter    *RateLimiter
	allowedDomains []string
}

// NewEmailTool creates an email tool. A nil backend falls back to the
// in-memory mock.
func NewEmailTool(backend EmailBackend, sendsPerHour int, allowedDomains []string, logger *slog.Logger) *EmailTool {
	if backend == nil {
		backend = NewMockEmailBackend()
	}
	return &EmailTool{
		backend:        backend,
		logger:         logger,
		sendLimiter:    NewRateLimiter(sendsPerHour, time.Hour),
		allowedDomains: allowedDomains,
	}
}

func (t *EmailTool) Name() string { return "email" }
func (t *EmailTool) Description() string {
	return "Manage email: list inbox, read messages, search, draft, send, and reply. " +
		"Send and reply require explicit confirmation (confirm: true)."
}

func (t *EmailTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {
					"type": "string",
					"enum": ["list", "read", "search", "draft", "send", "reply"],
					"description": "The email action to perform"
				},
				"id": {
					"type": "string",
					"description": "Message ID (for read action)"
				},
				"to": {
					"type": "string",
					"description": "Recipient email address"
				},
				"cc": {
					"type": "array",
					"items": {"type": "string"},
					"description": "CC recipients"
				},
				"subject": {
					"type": "string",
					"description": "Email subject"
				},
				"body": {
					"type": "string",
					"description": "Email body text"
				},
				"query": {
					"type": "string",
					"description": "Search query"
				},
				"message_id": {
					"type": "string",
					"description": "Message ID to reply to"
				},
				"confirm": {
					"type": "boolean",
					"description": "Must be true to send/reply (safety gate)"
				},
				"folder": {
					"type": "string",
					"description": "Folder to list (inbox or sent)"
				},
				"limit": {
					"type": "integer",
					"description": "Max results for search"
				},
				"page": {
					"type": "integer",
					"description": "Page number for list"
				},
				"per_page": {
					"type": "integer",
					"description": "Results per page"
				}
			},
			"required": ["action"]
		}`),
	}
}

type emailParams struct {
	Action    string   `json:"action"`
	ID        string   `json:"id,omitempty"`
	To        string   `json:"to,omitempty"`
	CC        []string `json:"cc,omitempty"`
	Subject   string   `json:"subject,omitempty"`
	Body      string   `json:"body,omitempty"`
	Query     string   `json:"query,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	Confirm   bool     `json:"confirm,omitempty"`
	Folder    string   `json:"folder,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Page      int      `json:"page,omitempty"`
	PerPage   int      `json:"per_page,omitempty"`
}

func (t *EmailTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.email", t.logger, params,
		Dispatch(func(p emailParams) string { return p.Action }, ActionMap[emailParams]{
			"list":   t.handleList,
			"read":   t.handleRead,
			"search": t.handleSearch,
			"draft":  t.handleDraft,
			"send":   t.handleSend,
			"reply":  t.handleReply,
		}),
	)
}

// checkRecipients verifies every recipient address against the domain
// allowlist. An empty allowlist permits any recipient.
func (t *EmailTool) checkRecipients(to string, cc []string) error {
	if len(t.allowedDomains) == 0 {
		return nil
	}
	for _, addr := range append([]string{to}, cc...) {
		parts := strings.SplitN(addr, "@", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid email address %q", addr)
		}
		dom := strings.ToLower(parts[1])
		allowed := false
		for _, d := range t.allowedDomains {
			if strings.ToLower(d) == dom {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%q: %w", addr, domain.ErrRecipientBlocked)
		}
	}
	return nil
}

func (t *EmailTool) handleList(ctx context.Context, p emailParams) (any, error) {
	emails, err := t.backend.List(ctx, ListEmailsOpts{
		Folder: p.Folder, Page: p.Page, PerPage: p.PerPage,
	})
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return TextResult("No emails found."), nil
	}
	return emails, nil
}

func (t *EmailTool) handleRead(ctx context.Context, p emailParams) (any, error) {
	if err := RequireField("id", p.ID); err != nil {
		return nil, err
	}
	return t.backend.Read(ctx, p.ID)
}

func (t *EmailTool) handleSearch(ctx context.Context, p emailParams) (any, error) {
	if err := RequireField("query", p.Query); err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	results, err := t.backend.Search(ctx, p.Query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return TextResult("No emails match the search query."), nil
	}
	return results, nil
}

func (t *EmailTool) handleDraft(ctx context.Context, p emailParams) (any, error) {
	if err := ValidateAll(
		RequireFields("to", p.To, "subject", p.Subject, "body", p.Body),
		ValidateMaxLength("subject", p.Subject, 200),
	); err != nil {
		return nil, err
	}
	if err := t.checkRecipients(p.To, p.CC); err != nil {
		return nil, err
	}
	return t.backend.Draft(ctx, p.To, p.Subject, p.Body, p.CC)
}

func (t *EmailTool) handleSend(ctx context.Context, p emailParams) (any, error) {
	if !p.Confirm {
		return nil, fmt.Errorf("set confirm to true to deliver mail: %w", domain.ErrSendNotConfirmed)
	}
	if err := ValidateAll(
		RequireFields("to", p.To, "subject", p.Subject, "body", p.Body),
		ValidateMaxLength("subject", p.Subject, 200),
	); err != nil {
		return nil, err
	}
	if err := t.checkRecipients(p.To, p.CC); err != nil {
		return nil, err
	}
	if !t.sendLimiter.Allow() {
		return nil, fmt.Errorf("hourly send limit of %d reached: %w", t.sendLimiter.limit, domain.ErrLimitReached)
	}
	t.logger.Info("sending email", "to", p.To, "subject", p.Subject)
	return t.backend.Send(ctx, p.To, p.Subject, p.Body, p.CC)
}

func (t *EmailTool) handleReply(ctx context.Context, p emailParams) (any, error) {
	if !p.Confirm {
		return nil, fmt.Errorf("set confirm to true to deliver mail: %w", domain.ErrSendNotConfirmed)
	}
	if err := RequireFields("message_id", p.MessageID, "body", p.Body); err != nil {
		return nil, err
	}
	if !t.sendLimiter.Allow() {
		return nil, fmt.Errorf("hourly send limit of %d reached: %w", t.sendLimiter.limit, domain.ErrLimitReached)
	}
	t.logger.Info("replying to email", "message_id", p.MessageID)
	return t.backend.Reply(ctx, p.MessageID, p.Body)
}
