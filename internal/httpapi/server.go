// Package httpapi exposes the push endpoints and operational routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"mailagent/internal/domain"
	"mailagent/internal/knowledge"
	"mailagent/internal/metrics"
)

const maxBodySize = 1 << 20 // 1MB

// NotificationHandler processes one mailbox notification.
type NotificationHandler interface {
	Handle(ctx context.Context, n domain.Notification)
}

// Ingester loads one stored object into the knowledge base.
type Ingester interface {
	Ingest(ctx context.Context, bucket, name string) (*domain.Document, error)
}

// WatchRenewer re-establishes the mailbox watch.
type WatchRenewer interface {
	Renew(ctx context.Context) (domain.WatchResult, error)
}

type ServerConfig struct {
	Host        string
	Port        int
	ReadTimeout time.Duration

	Notifications NotificationHandler
	Ingester      Ingester
	Renewer       WatchRenewer

	// Metrics is served on MetricsPath when set.
	Metrics     *metrics.Metrics
	MetricsPath string

	Logger *slog.Logger
}

type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	server *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger.With("component", "httpapi")}
}

// Handler returns the routed handler. Routes whose collaborator is nil
// are not registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.Notifications != nil {
		mux.HandleFunc("POST /v1/email-webhook", s.handleEmailWebhook)
	}
	if s.cfg.Ingester != nil {
		mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	}
	if s.cfg.Renewer != nil {
		mux.HandleFunc("POST /v1/renew-watch", s.handleRenewWatch)
	}
	if s.cfg.Metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.cfg.Metrics.Handler())
	}
	return s.logRequests(mux)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("http server starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleEmailWebhook(rw http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(rw, r)
	if !ok {
		return
	}
	n, err := decodeNotification(body)
	if err != nil {
		s.badRequest(rw, err)
		return
	}

	s.logger.Info("mailbox notification received",
		"history_id", n.HistoryID,
		"delivery_id", n.DeliveryID,
		"email", n.EmailAddress,
	)
	s.cfg.Notifications.Handle(r.Context(), n)
	writeJSON(rw, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleIngest(rw http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(rw, r)
	if !ok {
		return
	}
	ev, err := decodeObjectEvent(body)
	if err != nil {
		s.badRequest(rw, err)
		return
	}

	id := knowledge.DocumentID(ev.Bucket, ev.Name)
	s.logger.Info("processing new file for ingestion", "document", id, "time_created", ev.TimeCreated)

	doc, err := s.cfg.Ingester.Ingest(r.Context(), ev.Bucket, ev.Name)
	if err != nil {
		var perr *knowledge.ProcessingError
		if errors.As(err, &perr) {
			// Acknowledge so the push is not retried on bad document data.
			s.logger.Error("ingestion failed", "document", id, "err", err)
			writeJSON(rw, http.StatusOK, map[string]any{
				"status":  "error",
				"message": "Processing failed: " + err.Error(),
			})
			return
		}
		s.logger.Error("knowledge index upsert failed", "document", id, "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"detail": "knowledge index upsert failed"})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "chunks": doc.ChunkCount})
}

func (s *Server) handleRenewWatch(rw http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Renewer.Renew(r.Context())
	if err != nil {
		msg := "Error renewing watch: " + err.Error()
		s.logger.Error("watch renewal failed", "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"detail": msg})
		return
	}

	resp := map[string]any{
		"status":    "success",
		"message":   "Gmail watch successfully renewed.",
		"historyId": res.Cursor,
	}
	if !res.Expiration.IsZero() {
		resp["expiration"] = res.Expiration.Format(time.RFC3339)
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (s *Server) readBody(rw http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(rw, http.StatusRequestEntityTooLarge, map[string]any{"detail": "request body too large"})
			return nil, false
		}
		writeJSON(rw, http.StatusBadRequest, map[string]any{"detail": "cannot read request body"})
		return nil, false
	}
	return body, true
}

func (s *Server) badRequest(rw http.ResponseWriter, err error) {
	s.logger.Warn("rejected push payload", "err", err)
	writeJSON(rw, http.StatusBadRequest, map[string]any{"detail": err.Error()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: rw, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
