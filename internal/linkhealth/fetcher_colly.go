package linkhealth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher issues plain HTTP GETs through a Colly collector.
type CollyFetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewCollyFetcher builds a fetcher sharing one pooled transport across calls.
func NewCollyFetcher(cfg Config) *CollyFetcher {
	return &CollyFetcher{
		cfg:       cfg.WithDefaults(),
		transport: newHTTPTransport(),
	}
}

// Fetch performs a single GET, following up to MaxRedirects redirects and
// recording every hop's destination in the redirect chain.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (FetchOutcome, error) {
	var (
		outcome  = FetchOutcome{RequestedURL: rawURL}
		fetchErr error
		chain    = &redirectRecorder{max: f.cfg.MaxRedirects}
	)
	start := time.Now()
	collector := f.buildCollector(ctx, chain)
	f.configureHooks(collector, start, &outcome, &fetchErr)

	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return FetchOutcome{}, err
	}
	outcome.RedirectChain = chain.hops()
	if n := len(outcome.RedirectChain); n > 0 {
		outcome.FinalURL = outcome.RedirectChain[n-1]
	} else if outcome.FinalURL == "" {
		outcome.FinalURL = rawURL
	}
	return outcome, nil
}

func (f *CollyFetcher) buildCollector(ctx context.Context, chain *redirectRecorder) *colly.Collector {
	// A fresh collector per call keeps the redirect handler, which lives on
	// the collector's http.Client, private to this fetch.
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
		colly.UserAgent(f.cfg.UserAgent),
		colly.StdlibContext(ctx),
	)
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(f.cfg.RequestTimeout)
	collector.SetRedirectHandler(chain.follow)
	return collector
}

func (f *CollyFetcher) configureHooks(
	hooks collectorHooks,
	start time.Time,
	outcome *FetchOutcome,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		outcome.StatusCode = r.StatusCode
		outcome.Body = append([]byte(nil), r.Body...)
		outcome.Duration = time.Since(start)
		if r.Headers != nil {
			outcome.Header = r.Headers.Clone()
		}
		if r.Request != nil && r.Request.URL != nil {
			outcome.FinalURL = r.Request.URL.String()
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// Error statuses are parsed as responses; only transport failures land here.
		if r != nil && r.StatusCode > 0 {
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		// The request carries ctx, so Visit returns promptly; waiting keeps
		// the hooks from writing after Fetch has returned.
		<-done
		return fmt.Errorf("link fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("link fetch failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("link fetch failed: %w", *fetchErr)
		}
		return nil
	}
}

// redirectRecorder is installed as the http.Client redirect policy.
type redirectRecorder struct {
	mu    sync.Mutex
	max   int
	chain []string
}

func (r *redirectRecorder) follow(req *http.Request, via []*http.Request) error {
	if r.max > 0 && len(via) > r.max {
		return http.ErrUseLastResponse
	}
	r.mu.Lock()
	r.chain = append(r.chain, req.URL.String())
	r.mu.Unlock()
	return nil
}

func (r *redirectRecorder) hops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.chain...)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
