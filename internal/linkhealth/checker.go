package linkhealth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/events-linkhealth/internal/metrics"
)

// ErrInvalidURL is reported for candidate URLs that are not absolute http(s).
var ErrInvalidURL = errors.New("invalid url")

// Fetcher retrieves a URL once, following redirects.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchOutcome, error)
}

// Checker combines a Fetcher with the pure scoring rules.
type Checker struct {
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger
}

// NewChecker builds a Checker. Zero-valued config knobs fall back to defaults.
func NewChecker(fetcher Fetcher, cfg Config, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		fetcher: fetcher,
		cfg:     cfg.WithDefaults(),
		logger:  logger,
	}
}

// Config returns the effective policy.
func (c *Checker) Config() Config {
	return c.cfg
}

// CheckURL fetches rawURL and scores it against keywords. Transport failures
// are reported in Result.Error with a zero score and status.
func (c *Checker) CheckURL(ctx context.Context, rawURL string, keywords []string) Result {
	res, _ := c.Check(ctx, rawURL, keywords)
	return res
}

// Check is CheckURL that also returns the underlying fetch outcome.
func (c *Checker) Check(ctx context.Context, rawURL string, keywords []string) (res Result, outcome FetchOutcome) {
	start := time.Now()
	site := Site(rawURL)
	defer func() {
		if rec := recover(); rec != nil {
			res = failed(rawURL, fmt.Errorf("link check panicked: %v", rec))
			outcome = FetchOutcome{RequestedURL: rawURL}
		}
		metrics.ObserveLinkCheck(site, StatusClass(res.Status), res.Score, time.Since(start))
	}()

	if _, ok := ExtractURLParts(rawURL); !ok {
		return failed(rawURL, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)), FetchOutcome{RequestedURL: rawURL}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	outcome, err := c.fetcher.Fetch(fetchCtx, rawURL)
	if err != nil {
		c.logger.Debug("link fetch failed", zap.String("url", rawURL), zap.Error(err))
		return failed(rawURL, err), FetchOutcome{RequestedURL: rawURL}
	}
	if outcome.RequestedURL == "" {
		outcome.RequestedURL = rawURL
	}

	var facts PageFacts
	if outcome.StatusCode >= 200 && outcome.StatusCode < 300 {
		facts = Inspect(outcome.Body, outcome.FinalURL, c.cfg.Scoring.MinVisibleText)
	}
	res = Score(outcome, facts, keywords, c.cfg.Scoring)
	c.logger.Debug("link checked",
		zap.String("url", rawURL),
		zap.String("final_url", res.FinalURL),
		zap.Int("status", res.Status),
		zap.Int("score", res.Score),
		zap.Int("redirects", len(res.RedirectChain)),
		zap.Bool("needs_js", res.NeedsJS),
	)
	return res, outcome
}

func failed(rawURL string, err error) Result {
	return Result{
		Score:         0,
		Status:        0,
		FinalURL:      rawURL,
		RedirectChain: []string{},
		Error:         err.Error(),
	}
}
