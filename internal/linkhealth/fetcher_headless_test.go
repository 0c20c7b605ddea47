package linkhealth

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/require"
)

func TestNewHeadlessFetcherValidationAndDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewHeadlessFetcher(HeadlessConfig{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewHeadlessFetcher(HeadlessConfig{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.Equal(t, 2, cap(fetcher.limiter))
	require.Equal(t, 15*time.Second, fetcher.cfg.NavTimeout)
	require.Equal(t, 8*time.Second, fetcher.cfg.IdleTimeout)
	require.NotNil(t, fetcher.domReady)

	unlimited, err := NewHeadlessFetcher(HeadlessConfig{NavTimeout: time.Second, IdleTimeout: 500 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(unlimited.Close)
	require.Nil(t, unlimited.limiter)
	require.Equal(t, time.Second, unlimited.cfg.NavTimeout)
	require.Equal(t, 500*time.Millisecond, unlimited.cfg.IdleTimeout)
}

func TestHeadlessSlotsBoundParallelRenders(t *testing.T) {
	t.Parallel()

	fetcher := &HeadlessFetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, fetcher.acquire(ctx), context.DeadlineExceeded)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
	fetcher.release()
	// An extra release on an empty slot set must not block.
	fetcher.release()

	unlimited := &HeadlessFetcher{}
	require.NoError(t, unlimited.acquire(context.Background()))
	unlimited.release()
}

func TestNavTrackerRecordsDocumentHopsAndStatus(t *testing.T) {
	t.Parallel()

	tracker := newNavTracker()
	tracker.captureEvent(&network.EventRequestWillBeSent{
		Type:    network.ResourceTypeDocument,
		Request: &network.Request{URL: "https://a.example/start"},
	})
	tracker.captureEvent(&network.EventRequestWillBeSent{
		Type:             network.ResourceTypeDocument,
		Request:          &network.Request{URL: "https://a.example/step"},
		RedirectResponse: &network.Response{Status: http.StatusMovedPermanently},
	})
	tracker.captureEvent(&network.EventRequestWillBeSent{
		Type:             network.ResourceTypeScript,
		Request:          &network.Request{URL: "https://cdn.example/app.js"},
		RedirectResponse: &network.Response{Status: http.StatusFound},
	})
	tracker.captureEvent(&network.EventRequestWillBeSent{
		Type:             network.ResourceTypeDocument,
		Request:          &network.Request{URL: "https://a.example/final"},
		RedirectResponse: &network.Response{Status: http.StatusFound},
	})
	tracker.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: http.StatusNotFound},
	})
	tracker.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: http.StatusOK, URL: "https://a.example/final"},
	})
	tracker.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeDocument})

	status, chain := tracker.snapshot()
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, []string{"https://a.example/step", "https://a.example/final"}, chain)

	chain[0] = "mutated"
	_, again := tracker.snapshot()
	require.Equal(t, "https://a.example/step", again[0])
}

func TestNavTrackerSignalsNetworkIdleOnce(t *testing.T) {
	t.Parallel()

	tracker := newNavTracker()
	tracker.captureEvent(&page.EventLifecycleEvent{Name: "load"})
	select {
	case <-tracker.idle:
		t.Fatal("idle signalled before networkIdle")
	default:
	}

	tracker.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	tracker.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	select {
	case <-tracker.idle:
	default:
		t.Fatal("idle not signalled")
	}
}

func TestWaitActionPrefersNetworkIdle(t *testing.T) {
	t.Parallel()

	var fallbacks atomic.Int32
	fetcher := &HeadlessFetcher{
		cfg: HeadlessConfig{IdleTimeout: time.Second},
		domReady: func(context.Context) error {
			fallbacks.Add(1)
			return nil
		},
	}
	tracker := newNavTracker()
	tracker.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})

	require.NoError(t, fetcher.waitAction(tracker).Do(context.Background()))
	require.Zero(t, fallbacks.Load())
}

func TestWaitActionFallsBackToDOMReady(t *testing.T) {
	t.Parallel()

	var fallbacks atomic.Int32
	fetcher := &HeadlessFetcher{
		cfg: HeadlessConfig{IdleTimeout: 10 * time.Millisecond},
		domReady: func(context.Context) error {
			fallbacks.Add(1)
			return nil
		},
	}
	require.NoError(t, fetcher.waitAction(newNavTracker()).Do(context.Background()))
	require.EqualValues(t, 1, fallbacks.Load())

	fetcher.domReady = func(context.Context) error { return errors.New("body never attached") }
	err := fetcher.waitAction(newNavTracker()).Do(context.Background())
	require.ErrorContains(t, err, "wait for dom ready")
}

func TestWaitActionStopsWhenCanceled(t *testing.T) {
	t.Parallel()

	var fallbacks atomic.Int32
	fetcher := &HeadlessFetcher{
		cfg: HeadlessConfig{IdleTimeout: time.Second},
		domReady: func(context.Context) error {
			fallbacks.Add(1)
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, fetcher.waitAction(newNavTracker()).Do(ctx), context.Canceled)
	require.Zero(t, fallbacks.Load())
}

func TestRenderedFallbacks(t *testing.T) {
	t.Parallel()

	status, final := renderedFallbacks(0, "", "https://a.example/e")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://a.example/e", final)

	status, final = renderedFallbacks(http.StatusNotFound, "https://a.example/moved", "https://a.example/e")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "https://a.example/moved", final)
}
