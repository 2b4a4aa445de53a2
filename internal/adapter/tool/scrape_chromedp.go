package tool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/security"
)

// ChromedpScrapeConfig tunes the headless-browser backend.
type ChromedpScrapeConfig struct {
	// RemoteURL is a CDP websocket endpoint; empty launches a local
	// headless Chrome.
	RemoteURL string
	Timeout   time.Duration
}

// ChromedpScrapeBackend renders pages in a headless browser before
// extraction, for sites that assemble their content with scripts. The
// browser context is created lazily on first use and shared across
// calls under a mutex, since one graph run scrapes sequentially.
type ChromedpScrapeBackend struct {
	cfg    ChromedpScrapeConfig
	logger *slog.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
}

// NewChromedpScrapeBackend creates the backend without starting a
// browser yet.
func NewChromedpScrapeBackend(cfg ChromedpScrapeConfig, logger *slog.Logger) *ChromedpScrapeBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ChromedpScrapeBackend{cfg: cfg, logger: logger}
}

func (b *ChromedpScrapeBackend) Name() string { return "chromedp" }

// ensureBrowser starts (or reuses) the browser context. Caller holds
// mu.
func (b *ChromedpScrapeBackend) ensureBrowser() error {
	if b.browserCtx != nil && b.browserCtx.Err() == nil {
		return nil
	}
	b.teardownLocked()

	var allocCtx context.Context
	if b.cfg.RemoteURL != "" {
		allocCtx, b.allocCancel = chromedp.NewRemoteAllocator(context.Background(), b.cfg.RemoteURL)
		b.logger.Info("connecting to remote browser", "url", b.cfg.RemoteURL)
	} else {
		opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(opts, chromedp.DefaultExecAllocatorOptions[:])
		opts = append(opts,
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(1280, 720),
		)
		allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	b.browserCtx, b.browserStop = chromedp.NewContext(allocCtx)

	// Launch eagerly so a missing Chrome binary fails here, not on an
	// arbitrary later navigation.
	if err := chromedp.Run(b.browserCtx); err != nil {
		b.teardownLocked()
		return domain.WrapOp("scrape.browser", err)
	}
	return nil
}

func (b *ChromedpScrapeBackend) teardownLocked() {
	if b.browserStop != nil {
		b.browserStop()
		b.browserStop = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.browserCtx = nil
}

// Fetch implements ScrapeBackend: navigate, wait for the body, read
// the rendered DOM.
func (b *ChromedpScrapeBackend) Fetch(ctx context.Context, url string, includeLinks bool) (*ScrapePage, error) {
	if err := security.ValidateURL(url); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureBrowser(); err != nil {
		return nil, err
	}

	tabCtx, cancel := context.WithTimeout(b.browserCtx, b.cfg.Timeout)
	defer cancel()

	var title, html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.ActionFunc(func(ctx context.Context) error {
			root, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(root.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		// A dead browser poisons every later call; drop it so the next
		// fetch relaunches.
		b.teardownLocked()
		return nil, domain.WrapOp("scrape.navigate", err)
	}
	// Honor the caller's deadline even if chromedp returned late.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	page := &ScrapePage{
		URL:   url,
		Title: title,
		Text:  stripHTML(html),
	}
	if includeLinks {
		page.Links = extractLinks(html)
	}
	return page, nil
}

// Close shuts the browser down.
func (b *ChromedpScrapeBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked()
}

var _ ScrapeBackend = (*ChromedpScrapeBackend)(nil)
var _ ScrapeBackend = (*HTTPScrapeBackend)(nil)
