package linkhealth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// HeadlessConfig controls the browser-backed fetcher.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	// IdleTimeout bounds the wait for network idle before falling back to
	// DOM ready.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	UserAgent   string        `mapstructure:"-"`
}

// HeadlessFetcher renders pages in headless Chrome so client-rendered
// destinations expose their real title.
type HeadlessFetcher struct {
	cfg         HeadlessConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	// domReady is the fallback wait used when the page never goes idle.
	domReady func(ctx context.Context) error
}

// NewHeadlessFetcher starts a Chrome allocator for rendering.
func NewHeadlessFetcher(cfg HeadlessConfig) (*HeadlessFetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 8 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &HeadlessFetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		domReady:    chromedp.WaitReady("body", chromedp.ByQuery).Do,
	}, nil
}

// Close shuts the browser down.
func (f *HeadlessFetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to rawURL and returns the rendered DOM. It waits for network
// idle first and settles for DOM ready if the page never goes idle.
func (f *HeadlessFetcher) Fetch(ctx context.Context, rawURL string) (FetchOutcome, error) {
	if err := f.acquire(ctx); err != nil {
		return FetchOutcome{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavTimeout)
	defer cancel()
	stopOnParent := context.AfterFunc(ctx, cancel)
	defer stopOnParent()

	tracker := newNavTracker()
	chromedp.ListenTarget(taskCtx, tracker.captureEvent)

	start := time.Now()
	var html, finalURL string
	err := chromedp.Run(taskCtx,
		f.setupAction(),
		chromedp.Navigate(rawURL),
		f.waitAction(tracker),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return FetchOutcome{}, fmt.Errorf("headless fetch: %w", err)
	}

	status, chain := tracker.snapshot()
	status, finalURL = renderedFallbacks(status, finalURL, rawURL)
	return FetchOutcome{
		RequestedURL:  rawURL,
		FinalURL:      finalURL,
		StatusCode:    status,
		RedirectChain: chain,
		Header:        http.Header{},
		Body:          []byte(html),
		Duration:      time.Since(start),
		Rendered:      true,
	}, nil
}

func (f *HeadlessFetcher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *HeadlessFetcher) waitAction(tracker *navTracker) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		idleCtx, cancel := context.WithTimeout(ctx, f.cfg.IdleTimeout)
		defer cancel()
		select {
		case <-tracker.idle:
			return nil
		case <-idleCtx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return fmt.Errorf("wait for network idle: %w", ctx.Err())
			}
		}
		if err := f.domReady(ctx); err != nil {
			return fmt.Errorf("wait for dom ready: %w", err)
		}
		return nil
	})
}

// renderedFallbacks fills in what the browser did not report: a missing
// document status means the page loaded, and a missing location means no
// navigation away from rawURL.
func renderedFallbacks(status int, finalURL, rawURL string) (int, string) {
	if status == 0 {
		status = http.StatusOK
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return status, finalURL
}

func (f *HeadlessFetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *HeadlessFetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// navTracker records the document's status, its redirect hops, and when
// the page reaches network idle.
type navTracker struct {
	mu       sync.Mutex
	status   int
	chain    []string
	idle     chan struct{}
	idleOnce sync.Once
}

func newNavTracker() *navTracker {
	return &navTracker{idle: make(chan struct{})}
}

func (t *navTracker) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Type != network.ResourceTypeDocument || e.RedirectResponse == nil || e.Request == nil {
			return
		}
		t.mu.Lock()
		t.chain = append(t.chain, e.Request.URL)
		t.mu.Unlock()
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		t.mu.Lock()
		t.status = int(e.Response.Status)
		t.mu.Unlock()
	case *page.EventLifecycleEvent:
		if e.Name == "networkIdle" {
			t.idleOnce.Do(func() { close(t.idle) })
		}
	}
}

func (t *navTracker) snapshot() (int, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, append([]string{}, t.chain...)
}
