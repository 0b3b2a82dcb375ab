package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/intraday/internal/models"
)

// maxBodyBytes caps alert payloads at 1 MiB.
const maxBodyBytes = 1 << 20

// signaturePrefix is stripped from the X-Signature header before comparison.
const signaturePrefix = "sha256="

// Dispatcher receives normalized alerts for analysis.
type Dispatcher interface {
	HandleAlert(ctx context.Context, alert Alert) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, alert Alert) error

// HandleAlert implements Dispatcher.
func (f DispatcherFunc) HandleAlert(ctx context.Context, alert Alert) error { return f(ctx, alert) }

// Counters tracks ingest traffic per stage.
type Counters struct {
	TotalAlerts           int64   `json:"total_alerts"`
	ValidAlerts           int64   `json:"valid_alerts"`
	InvalidAlerts         int64   `json:"invalid_alerts"`
	DuplicateAlerts       int64   `json:"duplicate_alerts"`
	RateLimitedAlerts     int64   `json:"rate_limited_alerts"`
	ProcessingErrors      int64   `json:"processing_errors"`
	AverageProcessingTime float64 `json:"average_processing_time_ms"`
}

// Config defines the webhook server settings.
type Config struct {
	Path                string
	Port                int
	Secret              string
	RateLimitPerMinute  int
	RateLimitPerHour    int
	DeduplicationWindow time.Duration
}

// Server is the alert ingest HTTP server.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	logger     *logrus.Logger
	cfg        Config
	dispatcher Dispatcher
	limiter    *slidingLimiter
	dedup      *dedupStore
	// healthFn supplies the /healthz payload (provider chain health).
	healthFn func() any
	now      func() time.Time

	countersMu sync.Mutex
	counters   Counters
	validCount int64 // for the running average
}

// NewServer builds the ingest server. The dispatcher must not be nil; the
// health function may be.
func NewServer(cfg Config, dispatcher Dispatcher, healthFn func() any, logger *logrus.Logger) (*Server, error) {
	if dispatcher == nil {
		return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
			"webhook server requires a dispatcher", nil)
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
			"webhook server requires a shared secret", nil)
	}
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}
	if cfg.RateLimitPerHour <= 0 {
		cfg.RateLimitPerHour = 600
	}
	if cfg.DeduplicationWindow <= 0 {
		cfg.DeduplicationWindow = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		dispatcher: dispatcher,
		limiter:    newSlidingLimiter(cfg.RateLimitPerMinute, cfg.RateLimitPerHour),
		dedup:      newDedupStore(cfg.DeduplicationWindow),
		healthFn:   healthFn,
		now:        time.Now,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Post(s.cfg.Path, s.handleAlert)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.server.Addr).Info("webhook server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// Snapshot returns current ingest counters.
func (s *Server) Snapshot() Counters {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	return s.counters
}

type alertResponse struct {
	Status         string `json:"status"`
	AlertID        string `json:"alertId,omitempty"`
	ProcessingTime string `json:"processingTime"`
	Message        string `json:"message,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	s.bump(func(c *Counters) { c.TotalAlerts++ })

	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		s.bump(func(c *Counters) { c.InvalidAlerts++ })
		s.writeError(w, http.StatusBadRequest, models.CodeInvalidContentType,
			fmt.Sprintf("content type %q not accepted", ct), 0)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		s.bump(func(c *Counters) { c.InvalidAlerts++ })
		s.writeError(w, http.StatusBadRequest, models.CodeInvalidJSON, "unreadable body", 0)
		return
	}
	if len(body) > maxBodyBytes {
		s.bump(func(c *Counters) { c.InvalidAlerts++ })
		s.writeError(w, http.StatusRequestEntityTooLarge, models.CodeRequestTooLarge,
			"body exceeds 1 MiB", 0)
		return
	}

	if !s.verifySignature(body, r.Header.Get("X-Signature")) {
		s.bump(func(c *Counters) { c.InvalidAlerts++ })
		s.writeError(w, http.StatusBadRequest, models.CodeInvalidSignature,
			"signature mismatch", 0)
		return
	}

	source := clientIP(r)
	if ok, retryAfter := s.limiter.allow(source); !ok {
		s.bump(func(c *Counters) { c.RateLimitedAlerts++ })
		secs := int(retryAfter.Seconds()) + 1
		s.writeError(w, http.StatusTooManyRequests, models.CodeRateLimitExceeded,
			fmt.Sprintf("rate limit exceeded for %s", source), secs)
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		s.bump(func(c *Counters) { c.InvalidAlerts++ })
		s.writeError(w, http.StatusBadRequest, models.CodeInvalidJSON, "malformed JSON", 0)
		return
	}

	alert, err := parseAlert(raw)
	if err != nil {
		s.bump(func(c *Counters) { c.InvalidAlerts++ })
		s.writeError(w, http.StatusBadRequest, models.CodeOf(err), err.Error(), 0)
		return
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	if s.dedup.observe(alert.DedupKey()) {
		s.bump(func(c *Counters) { c.DuplicateAlerts++ })
		s.writeJSON(w, http.StatusOK, alertResponse{
			Status:         "duplicate",
			AlertID:        alert.ID,
			ProcessingTime: s.now().Sub(start).String(),
			Message:        "alert already processed within the deduplication window",
		})
		return
	}

	if err := s.dispatcher.HandleAlert(r.Context(), *alert); err != nil {
		s.bump(func(c *Counters) { c.ProcessingErrors++ })
		s.logger.WithError(err).WithField("alert_id", alert.ID).Error("alert dispatch failed")
		code := models.CodeOf(err)
		status := http.StatusInternalServerError
		if models.KindOf(err) == models.KindValidation {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, code, "alert processing failed", 0)
		return
	}

	elapsed := s.now().Sub(start)
	s.recordSuccess(elapsed)
	s.writeJSON(w, http.StatusOK, alertResponse{
		Status:         "ok",
		AlertID:        alert.ID,
		ProcessingTime: elapsed.String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := any(map[string]string{"status": "ok"})
	if s.healthFn != nil {
		payload = map[string]any{"status": "ok", "providers": s.healthFn()}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Snapshot())
}

// verifySignature compares the HMAC-SHA256 of the raw body against the
// X-Signature header in constant time.
func (s *Server) verifySignature(body []byte, header string) bool {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, signaturePrefix)
	if header == "" {
		return false
	}
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

func (s *Server) bump(fn func(*Counters)) {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	fn(&s.counters)
}

func (s *Server) recordSuccess(elapsed time.Duration) {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	s.counters.ValidAlerts++
	s.validCount++
	ms := float64(elapsed.Microseconds()) / 1000.0
	s.counters.AverageProcessingTime += (ms - s.counters.AverageProcessingTime) / float64(s.validCount)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Warn("writing response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}
	s.writeJSON(w, status, errorResponse{Error: msg, Code: code, RetryAfter: retryAfter})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
