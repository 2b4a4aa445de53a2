package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/security"
)

// ScrapePage is the extracted content of one fetched page.
type ScrapePage struct {
	URL        string   `json:"url"`
	Title      string   `json:"title,omitempty"`
	Text       string   `json:"text"`
	Links      []string `json:"links,omitempty"`
	StatusCode int      `json:"status_code,omitempty"`
	Truncated  bool     `json:"truncated,omitempty"`
}

// ScrapeBackend fetches and extracts a page. Implementations must
// refuse private-network targets.
type ScrapeBackend interface {
	Fetch(ctx context.Context, url string, includeLinks bool) (*ScrapePage, error)
	Name() string
}

// HTTPScrapeConfig tunes the plain HTTP backend.
type HTTPScrapeConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	MaxRedirects int
}

// HTTPScrapeBackend fetches pages with a plain SSRF-safe HTTP client
// and strips markup to text. Good enough for static pages; use the
// chromedp backend for script-rendered ones.
type HTTPScrapeBackend struct {
	client       *http.Client
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewHTTPScrapeBackend builds the backend; every redirect hop is
// re-validated against private address ranges.
func NewHTTPScrapeBackend(cfg HTTPScrapeConfig, logger *slog.Logger) *HTTPScrapeBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	return &HTTPScrapeBackend{
		client: &http.Client{
			Transport: security.NewSSRFSafeTransport(),
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= cfg.MaxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return security.ValidateURL(req.URL.String())
			},
		},
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       logger,
	}
}

func (b *HTTPScrapeBackend) Name() string { return "http" }

// Fetch implements ScrapeBackend.
func (b *HTTPScrapeBackend) Fetch(ctx context.Context, url string, includeLinks bool) (*ScrapePage, error) {
	if err := security.ValidateURL(url); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %v", err)
	}
	req.Header.Set("User-Agent", "conductor-scraper/1.0")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %v", err)
	}
	truncated := int64(len(body)) > b.maxBodyBytes
	if truncated {
		body = body[:b.maxBodyBytes]
	}

	html := string(body)
	page := &ScrapePage{
		URL:        url,
		Title:      extractTitle(html),
		Text:       stripHTML(html),
		StatusCode: resp.StatusCode,
		Truncated:  truncated,
	}
	if includeLinks {
		page.Links = extractLinks(html)
	}
	return page, nil
}

var (
	titleRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	hrefRe   = regexp.MustCompile(`(?i)<a[^>]+href="(https?://[^"]+)"`)
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	linesRe  = regexp.MustCompile(`\n{3,}`)
)

func extractTitle(html string) string {
	if m := titleRe.FindStringSubmatch(html); m != nil {
		return strings.TrimSpace(htmlUnescape(m[1]))
	}
	return ""
}

func extractLinks(html string) []string {
	seen := make(map[string]bool)
	var links []string
	for _, m := range hrefRe.FindAllStringSubmatch(html, 100) {
		if !seen[m[1]] {
			seen[m[1]] = true
			links = append(links, m[1])
		}
	}
	return links
}

// stripHTML reduces markup to readable text.
func stripHTML(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	text = htmlUnescape(text)
	text = spaceRe.ReplaceAllString(text, " ")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return linesRe.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
}

var htmlEscapes = strings.NewReplacer(
	"&amp;", "&", "&lt;", "<", "&gt;", ">",
	"&quot;", `"`, "&#39;", "'", "&nbsp;", " ",
)

func htmlUnescape(s string) string { return htmlEscapes.Replace(s) }

// ScrapeTool exposes page fetching to an agent.
type ScrapeTool struct {
	backend ScrapeBackend
	logger  *slog.Logger
}

// NewScrapeTool wraps a backend as the "scrape" tool.
func NewScrapeTool(backend ScrapeBackend, logger *slog.Logger) *ScrapeTool {
	return &ScrapeTool{backend: backend, logger: logger}
}

func (t *ScrapeTool) Name() string { return "scrape" }
func (t *ScrapeTool) Description() string {
	return "Fetch a web page and extract its readable text. Actions: fetch (text only), extract (text plus outbound links)."
}

func (t *ScrapeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["fetch", "extract"], "description": "fetch = text only, extract = text plus links"},
				"url": {"type": "string", "description": "The page URL (http or https)"}
			},
			"required": ["action", "url"]
		}`),
	}
}

type scrapeParams struct {
	Action string `json:"action"`
	URL    string `json:"url"`
}

func (t *ScrapeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.scrape", t.logger, params,
		Dispatch(func(p scrapeParams) string { return p.Action }, ActionMap[scrapeParams]{
			"fetch":   t.handleFetch,
			"extract": t.handleExtract,
		}),
	)
}

func (t *ScrapeTool) handleFetch(ctx context.Context, p scrapeParams) (any, error) {
	if err := ValidateURL("url", p.URL); err != nil {
		return nil, err
	}
	return t.backend.Fetch(ctx, p.URL, false)
}

func (t *ScrapeTool) handleExtract(ctx context.Context, p scrapeParams) (any, error) {
	if err := ValidateURL("url", p.URL); err != nil {
		return nil, err
	}
	return t.backend.Fetch(ctx, p.URL, true)
}

var _ domain.Tool = (*ScrapeTool)(nil)
