// Package gateway ties the config loader, message bus, and channel
// registry together behind an HTTP surface: a streaming chat endpoint,
// live config inspection/update, channel status/test probes, and
// multi-agent broadcast fan-out.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agent-diva/diva/internal/bus"
	"github.com/agent-diva/diva/internal/channels"
	"github.com/agent-diva/diva/internal/config"
	"github.com/agent-diva/diva/internal/observability"
	"github.com/agent-diva/diva/internal/sessions"
)

const busDepthPollInterval = 5 * time.Second

// Server is the manager HTTP surface: POST /chat (SSE), GET /ws
// (websocket), GET/POST /config, GET /channels, POST
// /channels/{name}/test, POST /broadcast, plus /healthz and /metrics.
type Server struct {
	bus       *bus.Bus
	channels  *channels.Registry
	sessions  sessions.Store
	broadcast *BroadcastManager
	watcher   *config.Watcher
	auth      config.AuthConfig
	metrics   *observability.Metrics
	log       *slog.Logger

	httpServer   *http.Server
	httpListener net.Listener
	stopDepth    chan struct{}
}

// SetMetrics attaches a metrics sink recorded into for every HTTP request
// and polled periodically for bus queue depth while the server runs.
func (s *Server) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// NewServer builds a Server. watcher may be nil if config hot-reload and
// /config aren't needed (e.g. in tests).
func NewServer(b *bus.Bus, registry *channels.Registry, store sessions.Store, broadcast *BroadcastManager, watcher *config.Watcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		bus:       b,
		channels:  registry,
		sessions:  store,
		broadcast: broadcast,
		watcher:   watcher,
		log:       log.With("component", "gateway"),
	}
	if watcher != nil {
		s.auth = watcher.Current().Auth
	}
	return s
}

// Handler builds the full mux, exported so tests can exercise handlers
// with httptest without a real listener. /healthz and /metrics are
// always open; every other route goes through authMiddleware.
func (s *Server) Handler() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("/chat", s.handleChat)
	protected.HandleFunc("/config", s.handleConfig)
	protected.HandleFunc("/channels", s.handleChannels)
	protected.HandleFunc("/channels/", s.handleChannelTest)
	protected.HandleFunc("/broadcast", s.handleBroadcast)
	protected.HandleFunc("/ws", s.handleWS)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/", authMiddleware(s.auth, s.log)(protected))
	return s.metricsMiddleware(mux)
}

// metricsMiddleware records request count and latency by method, path, and
// status code. It wraps the whole mux so /metrics and /healthz are covered
// too, alongside every authenticated route.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", sw.status), time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server
	s.httpListener = listener
	s.stopDepth = make(chan struct{})

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()
	go s.pollBusDepth()
	s.log.Info("starting gateway http server", "addr", addr)
	return nil
}

// pollBusDepth reports the inbound queue depth to metrics periodically
// until Stop closes s.stopDepth. Polling rather than recording on every
// publish keeps the bus's hot path free of metrics overhead.
func (s *Server) pollBusDepth() {
	if s.bus == nil {
		return
	}
	ticker := time.NewTicker(busDepthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.metrics.SetBusQueueDepth("inbound", s.bus.Len())
		case <-s.stopDepth:
			return
		}
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if s.stopDepth != nil {
		close(s.stopDepth)
		s.stopDepth = nil
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	err := s.httpServer.Shutdown(shutdownCtx)
	s.httpServer = nil
	s.httpListener = nil
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}
