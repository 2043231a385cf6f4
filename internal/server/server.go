// Package server provides the HTTP server for the Shutter verdict services.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ayusman/shutter/internal/detector"
	"github.com/ayusman/shutter/internal/logging"
	"github.com/ayusman/shutter/internal/metrics"
	"github.com/ayusman/shutter/internal/server/api"
)

// DefaultShutdownTimeout bounds how long Run waits for in-flight requests.
const DefaultShutdownTimeout = 10 * time.Second

// Config holds the server configuration. Each endpoint is registered only
// when its extractor is set.
type Config struct {
	HandDetector detector.HandDetector
	FaceDetector detector.FaceDetector
	Metrics      *metrics.Metrics
	Logger       logrus.FieldLogger

	MaxUploadBytes int64

	// RateLimit is the per-client request rate in requests per second.
	// Zero disables rate limiting.
	RateLimit float64
	RateBurst int

	// TrustProxy takes the client IP from X-Forwarded-For. Enable it only
	// behind a proxy that sets the header.
	TrustProxy bool

	ShutdownTimeout time.Duration
}

// Server represents the HTTP server of a verdict service.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	log     logrus.FieldLogger
	start   time.Time
	streams *streamSet
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = logging.Discard()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		config:  config,
		mux:     http.NewServeMux(),
		log:     config.Logger,
		start:   time.Now(),
		streams: newStreamSet(),
	}
	s.setupRoutes()

	var limiter *rateLimiter
	if config.RateLimit > 0 {
		limiter = newRateLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}
	s.handler = chain(s.mux,
		requestID,
		accessLog(s.log, config.TrustProxy),
		recoverPanics(s.log),
		limitRate(limiter, config.TrustProxy, config.Metrics, s.log),
	)
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics.Handler())
	}

	opts := api.Options{
		Metrics:        s.config.Metrics,
		Logger:         s.log,
		MaxUploadBytes: s.config.MaxUploadBytes,
	}

	if s.config.HandDetector != nil {
		h := api.NewGestureHandler(s.config.HandDetector, opts)
		s.mux.Handle(api.GesturePath, h)
		s.mux.Handle(api.GesturePath+"/ws", s.streamHandler(h))
	}

	if s.config.FaceDetector != nil {
		h := api.NewSmileHandler(s.config.FaceDetector, opts)
		s.mux.Handle(api.SmilePath, h)
		s.mux.Handle(api.SmilePath+"/ws", s.streamHandler(h))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	endpoints := []string{}
	if s.config.HandDetector != nil {
		endpoints = append(endpoints, api.GesturePath)
	}
	if s.config.FaceDetector != nil {
		endpoints = append(endpoints, api.SmilePath)
	}

	response := map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.start).String(),
		"endpoints": endpoints,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return s.Run(context.Background(), addr)
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. On cancellation it returns only after
// in-flight requests and open streams have finished, or ShutdownTimeout
// has passed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown does not track hijacked connections.
	srv.RegisterOnShutdown(s.streams.closeAll)

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// The shutdown hook runs asynchronously; close here too so no stream
	// registers after the wait starts.
	s.streams.closeAll()
	return s.streams.wait(shutdownCtx)
}

func (s *Server) streamHandler(e api.Evaluator) *StreamHandler {
	h := NewStreamHandler(e, s.log)
	h.streams = s.streams
	return h
}
