package tool

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"conductor-ai/internal/domain"
)

// SMTPConfig configures outbound delivery.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPEmailBackend delivers mail over SMTP. Mailbox reads are not
// available on this backend: list/read/search report that plainly so
// the reasoning step can tell the user instead of retrying.
type SMTPEmailBackend struct {
	cfg    SMTPConfig
	logger *slog.Logger

	mu     sync.Mutex
	drafts map[string]EmailDraft
	nextID int

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPEmailBackend validates the config and returns the backend.
func NewSMTPEmailBackend(cfg SMTPConfig, logger *slog.Logger) (*SMTPEmailBackend, error) {
	if cfg.Addr == "" || cfg.From == "" {
		return nil, domain.NewDomainError("email.smtp", domain.ErrInvalidInput,
			"smtp_addr and smtp_from are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPEmailBackend{
		cfg:    cfg,
		logger: logger,
		drafts: make(map[string]EmailDraft),
		nextID: 1,
		send:   smtp.SendMail,
	}, nil
}

var errNoMailbox = domain.NewDomainError("email.smtp", domain.ErrInvalidInput,
	"this deployment is send-only; reading mail is not configured")

func (b *SMTPEmailBackend) List(context.Context, ListEmailsOpts) ([]EmailSummary, error) {
	return nil, errNoMailbox
}

func (b *SMTPEmailBackend) Read(context.Context, string) (*EmailMessage, error) {
	return nil, errNoMailbox
}

func (b *SMTPEmailBackend) Search(context.Context, string, int) ([]EmailSummary, error) {
	return nil, errNoMailbox
}

func (b *SMTPEmailBackend) Draft(_ context.Context, to, subject, body string, cc []string) (*EmailDraft, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := fmt.Sprintf("draft-%d", b.nextID)
	b.nextID++
	d := EmailDraft{ID: id, To: []string{to}, CC: cc, Subject: subject, Body: body}
	b.drafts[id] = d
	return &d, nil
}

func (b *SMTPEmailBackend) Send(ctx context.Context, to, subject, body string, cc []string) (*EmailSendResult, error) {
	recipients := append([]string{to}, cc...)
	msg := buildMIME(b.cfg.From, to, cc, subject, body)

	var auth smtp.Auth
	if b.cfg.Username != "" {
		host := b.cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", b.cfg.Username, b.cfg.Password, host)
	}

	// net/smtp has no context support; run it under a deadline and
	// abandon the attempt on timeout (the connection dies with the
	// process, not gracefully).
	done := make(chan error, 1)
	go func() { done <- b.send(b.cfg.Addr, auth, b.cfg.From, recipients, msg) }()

	timer := time.NewTimer(b.cfg.Timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return nil, domain.WrapOp("email.send", err)
		}
	case <-timer.C:
		return nil, domain.NewDomainError("email.send", domain.ErrTimeout, b.cfg.Addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b.logger.Info("email sent", "to", to, "subject", subject)
	return &EmailSendResult{
		MessageID: fmt.Sprintf("smtp-%d", time.Now().UnixMilli()),
		Status:    "sent",
	}, nil
}

func (b *SMTPEmailBackend) Reply(ctx context.Context, messageID, body string) (*EmailSendResult, error) {
	// Without mailbox access the original message is unknown; replies
	// only work from a draft id recorded in this process.
	b.mu.Lock()
	d, ok := b.drafts[messageID]
	b.mu.Unlock()
	if !ok {
		return nil, domain.NewDomainError("email.reply", domain.ErrNotFound, messageID)
	}
	return b.Send(ctx, d.To[0], "Re: "+d.Subject, body, d.CC)
}

// buildMIME assembles a minimal RFC 5322 message.
func buildMIME(from, to string, cc []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	if len(cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

var _ EmailBackend = (*SMTPEmailBackend)(nil)
