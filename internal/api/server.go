package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/events-linkhealth/internal/config"
	"github.com/JakeFAU/events-linkhealth/internal/events"
	"github.com/JakeFAU/events-linkhealth/internal/linkhealth"
	"github.com/JakeFAU/events-linkhealth/internal/metrics"
	"github.com/JakeFAU/events-linkhealth/internal/pipeline"
)

// DefaultRequestTimeout bounds every request when Options leaves it unset.
const DefaultRequestTimeout = 60 * time.Second

const maxBodyBytes = 8 << 20

// Stager appends raw records to staging.
type Stager interface {
	Stage(ctx context.Context, raw events.RawEvent, source string) (events.StageResult, error)
}

// BatchRunner normalizes and upserts records.
type BatchRunner interface {
	ProcessStaged(ctx context.Context, batchSize int) (events.BatchResult, error)
	Ingest(ctx context.Context, raws []events.RawEvent, source string) events.BatchResult
}

// LinkChecker scores a single URL.
type LinkChecker interface {
	CheckURL(ctx context.Context, rawURL string, keywords []string) linkhealth.Result
	Config() linkhealth.Config
}

// Sweeper runs one link-health pass.
type Sweeper interface {
	Run(ctx context.Context, limit int) (pipeline.PassResult, error)
}

// EventReader looks events up by dedupe key.
type EventReader interface {
	FindByDedupeKey(ctx context.Context, key string) (events.Event, error)
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers call into. Ready may be nil.
type Deps struct {
	Stager  Stager
	Batches BatchRunner
	Checker LinkChecker
	Sweeper Sweeper
	Events  EventReader
	Ready   Pinger
}

// Options tunes middleware behavior.
type Options struct {
	Auth           config.AuthConfig
	RequestTimeout time.Duration
	// PassLimit caps a sweep that does not pass ?limit.
	PassLimit int
}

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router    chi.Router
	deps      Deps
	passLimit int
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{deps: deps, passLimit: opts.PassLimit, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth.Enabled {
			r.Use(apiKeyMiddleware(opts.Auth.APIKey))
		}
		r.Route("/staging", func(r chi.Router) {
			r.Post("/", s.stageRawEvent)
			r.Post("/process", s.processStaged)
		})
		r.Route("/events", func(r chi.Router) {
			r.Post("/ingest", s.ingestEvents)
			r.Get("/{dedupe_key}", s.getEvent)
		})
		r.Route("/links", func(r chi.Router) {
			r.Post("/check", s.checkURL)
			r.Post("/heal", s.healURL)
			r.Post("/tombstone", s.shouldTombstone)
			r.Post("/parts", s.extractURLParts)
			r.Post("/sweep", s.sweep)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type stageRequest struct {
	Source string          `json:"source"`
	Raw    events.RawEvent `json:"raw"`
}

func (s *Server) stageRawEvent(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.deps.Stager.Stage(r.Context(), req.Raw, req.Source)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) processStaged(w http.ResponseWriter, r *http.Request) {
	batchSize, ok := intQuery(w, r, "batch_size")
	if !ok {
		return
	}
	res, err := s.deps.Batches.ProcessStaged(r.Context(), batchSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type ingestRequest struct {
	Source string            `json:"source"`
	Events []events.RawEvent `json:"events"`
}

func (s *Server) ingestEvents(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Batches.Ingest(r.Context(), req.Events, req.Source))
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "dedupe_key")
	ev, err := s.deps.Events.FindByDedupeKey(r.Context(), key)
	if errors.Is(err, events.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		s.logger.Error("event lookup failed", zap.String("dedupe_key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "event lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type checkRequest struct {
	URL      string   `json:"url"`
	Keywords []string `json:"keywords"`
}

func (s *Server) checkURL(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Checker.CheckURL(r.Context(), req.URL, req.Keywords))
}

type urlRequest struct {
	URL string `json:"url"`
}

func (s *Server) healURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": linkhealth.HealURL(req.URL)})
}

type tombstoneRequest struct {
	Status        int      `json:"status"`
	RedirectChain []string `json:"redirect_chain"`
	Score         int      `json:"score"`
}

func (s *Server) shouldTombstone(w http.ResponseWriter, r *http.Request) {
	var req tombstoneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	policy := s.deps.Checker.Config().Tombstone
	writeJSON(w, http.StatusOK, map[string]bool{
		"tombstone": policy.ShouldTombstone(req.Status, req.RedirectChain, req.Score),
	})
}

func (s *Server) extractURLParts(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decodeBody(w, r, &req) {
		return
	}
	parts, ok := linkhealth.ExtractURLParts(req.URL)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "url is not absolute")
		return
	}
	writeJSON(w, http.StatusOK, parts)
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	if limit <= 0 {
		limit = s.passLimit
	}
	res, err := s.deps.Sweeper.Run(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func intQuery(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
