// Package inspect serves an optional local HTTP endpoint for operators:
// liveness, the status document, collected metrics and pprof.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"vigil/internal/runtime/supervisor"
	logx "vigil/pkg/logx"
)

const defaultAddr = "127.0.0.1:7878"

// maxServeRestarts stops retrying a listener that keeps failing (port taken).
// The server is optional; the rest of vigil keeps running.
const maxServeRestarts = 20

// Config controls the server. A non-loopback Addr requires Token.
type Config struct {
	Enabled bool
	Addr    string
	Token   string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Source provides the data behind the endpoints.
type Source interface {
	// Healthy reports whether /healthz should answer 200.
	Healthy() bool
	// StatusDoc returns a JSON-encodable status document.
	StatusDoc() any
}

type Server struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	src    Source
	reader *sdkmetric.ManualReader

	sup  *supervisor.Supervisor
	addr string
}

// New returns a server; reader may be nil when metrics are disabled.
func New(cfg Config, src Source, reader *sdkmetric.ManualReader, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// /debug/pprof/profile streams for 30s by default.
		cfg.WriteTimeout = 60 * time.Second
	}
	return &Server{cfg: cfg, src: src, reader: reader, log: log}
}

func (s *Server) Enabled() bool { return s.cfg.Enabled }

// Addr is the bound address once the server is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the routing table, authenticated when a token is set.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/status", s.status)
	mux.HandleFunc("/metrics", s.metrics)
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	return withAuth(s.cfg.Token, mux)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.src != nil && !s.src.Healthy() {
		http.Error(w, "emergency", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	if s.src == nil {
		http.Error(w, "no status", http.StatusNotFound)
		return
	}
	writeJSON(w, s.src.StatusDoc())
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	var rm metricdata.ResourceMetrics
	if err := s.reader.Collect(r.Context(), &rm); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rm.ScopeMetrics)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Start listens under a restarting supervisor. It is a no-op when disabled
// or already running.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		return fmt.Errorf("inspect: non-loopback addr %q requires a token", s.cfg.Addr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("inspect.serve", s.serveOnce,
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithMaxRestarts(maxServeRestarts),
	)
	return nil
}

func (s *Server) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("inspect listen failed", logx.String("addr", s.cfg.Addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(cctx)
			cancel()
		case <-done:
			_ = srv.Close()
		}
	}()

	s.log.Info("inspect server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("inspect server exited unexpectedly")
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.addr = ""
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
