package linkhealth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/event", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, titledPage)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, plainPage)
	})
	mux.HandleFunc("/shell", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, shellPage)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/event", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such event", http.StatusNotFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		fmt.Fprint(w, plainPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestChecker(cfg Config) *Checker {
	return NewChecker(NewCollyFetcher(cfg), cfg, zap.NewNop())
}

func TestCheckURLMatchingPageScoresHigh(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t)
	res := newTestChecker(DefaultConfig()).CheckURL(context.Background(), srv.URL+"/event", []string{"tax", "seminar"})

	require.Empty(t, res.Error)
	require.Equal(t, http.StatusOK, res.Status)
	require.GreaterOrEqual(t, res.Score, 70)
	require.Equal(t, srv.URL+"/events/spring-tax-seminar", res.Canonical)
	require.Equal(t, "Spring Tax Planning Seminar | CalCPA", res.Title)
	require.Empty(t, res.RedirectChain)
	require.False(t, res.NeedsJS)
}

func TestCheckURLPlainPageScoresBaseline(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t)
	res := newTestChecker(DefaultConfig()).CheckURL(context.Background(), srv.URL+"/plain", []string{"seminar"})

	require.Equal(t, http.StatusOK, res.Status)
	require.GreaterOrEqual(t, res.Score, 40)
	require.LessOrEqual(t, res.Score, 55)
}

func TestCheckURLNotFoundScoresZero(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t)
	res := newTestChecker(DefaultConfig()).CheckURL(context.Background(), srv.URL+"/gone", []string{"tax"})

	require.Equal(t, http.StatusNotFound, res.Status)
	require.Equal(t, 0, res.Score)
	require.Empty(t, res.Error)
	require.True(t, ShouldTombstone(res.Status, res.RedirectChain, res.Score))
}

func TestCheckURLShellNeedsJS(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t)
	res := newTestChecker(DefaultConfig()).CheckURL(context.Background(), srv.URL+"/shell", nil)

	require.Equal(t, http.StatusOK, res.Status)
	require.True(t, res.NeedsJS)
	require.Less(t, res.Score, 50)
}

func TestCheckURLRecordsSingleRedirect(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t)
	checker := newTestChecker(DefaultConfig())
	keywords := []string{"tax", "seminar"}

	direct := checker.CheckURL(context.Background(), srv.URL+"/event", keywords)
	redirected := checker.CheckURL(context.Background(), srv.URL+"/moved", keywords)

	require.Equal(t, []string{srv.URL + "/event"}, redirected.RedirectChain)
	require.Equal(t, srv.URL+"/event", redirected.FinalURL)
	require.Less(t, redirected.Score, direct.Score)
}

func TestCheckURLStopsRedirectLoops(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t)
	cfg := DefaultConfig()
	cfg.MaxRedirects = 6
	res := newTestChecker(cfg).CheckURL(context.Background(), srv.URL+"/loop", nil)

	require.Equal(t, http.StatusFound, res.Status)
	require.Equal(t, 0, res.Score)
	require.Len(t, res.RedirectChain, 6)
	require.True(t, ShouldTombstone(res.Status, res.RedirectChain, res.Score))
}

func TestCheckURLNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL + "/event"
	srv.Close()

	res := newTestChecker(DefaultConfig()).CheckURL(context.Background(), target, []string{"tax"})
	require.Equal(t, 0, res.Score)
	require.Equal(t, 0, res.Status)
	require.NotEmpty(t, res.Error)
	require.NotNil(t, res.RedirectChain)
}

func TestCheckURLTimeout(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t)
	cfg := DefaultConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	res := newTestChecker(cfg).CheckURL(context.Background(), srv.URL+"/slow", nil)

	require.Equal(t, 0, res.Score)
	require.Equal(t, 0, res.Status)
	require.NotEmpty(t, res.Error)
}

func TestCheckURLRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{}
	res := NewChecker(fetcher, DefaultConfig(), nil).CheckURL(context.Background(), "not-a-url", nil)

	require.Equal(t, 0, res.Score)
	require.Contains(t, res.Error, "invalid url")
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestCheckURLUsesInjectedFetcher(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, "https://a.example/e").Return(FetchOutcome{
		FinalURL:   "https://a.example/e",
		StatusCode: 200,
		Body:       []byte(titledPage),
	}, nil).Once()
	fetcher.On("Fetch", mock.Anything, "https://b.example/e").Return(FetchOutcome{}, errors.New("dial tcp: no such host")).Once()

	checker := NewChecker(fetcher, DefaultConfig(), zap.NewNop())
	ok := checker.CheckURL(context.Background(), "https://a.example/e", []string{"seminar"})
	require.GreaterOrEqual(t, ok.Score, 70)

	bad := checker.CheckURL(context.Background(), "https://b.example/e", []string{"seminar"})
	require.Equal(t, 0, bad.Score)
	require.Equal(t, "dial tcp: no such host", bad.Error)
	fetcher.AssertExpectations(t)
}

func TestCheckURLRecoversFromPanickingFetcher(t *testing.T) {
	t.Parallel()

	res := NewChecker(panicFetcher{}, DefaultConfig(), zap.NewNop()).CheckURL(context.Background(), "https://a.example", nil)
	require.Equal(t, 0, res.Score)
	require.Contains(t, res.Error, "panicked")
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, rawURL string) (FetchOutcome, error) {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(FetchOutcome), args.Error(1)
}

type panicFetcher struct{}

func (panicFetcher) Fetch(context.Context, string) (FetchOutcome, error) {
	panic("boom")
}
