package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"notifyd/internal/runtime/supervisor"
	"notifyd/pkg/logx"
)

// ServerConfig controls the telemetry HTTP server.
//
// A non-loopback Addr requires a Token.
type ServerConfig struct {
	Enabled bool
	Addr    string
	Path    string
	Token   string
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool

	ReadTimeout time.Duration
}

const (
	defaultAddr = "127.0.0.1:9464"
	defaultPath = "/metrics"
)

// Server serves the collector plus any extra routes. It can be
// reconfigured while running.
type Server struct {
	mu    sync.Mutex
	log   logx.Logger
	cfg   ServerConfig
	c     *Collector
	extra map[string]http.Handler

	addr     string
	srv      *http.Server
	sup      *supervisor.Supervisor
	stopDone chan struct{}
}

func NewServer(c *Collector, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{c: c, log: log.With(logx.String("comp", "metrics")), extra: map[string]http.Handler{}}
}

// Handle mounts h at path on every future listener.
func (s *Server) Handle(path string, h http.Handler) {
	s.mu.Lock()
	s.extra[path] = h
	s.mu.Unlock()
}

// Addr returns the bound listener address, or "" when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg and starts, stops or restarts the listener.
func (s *Server) Reconfigure(ctx context.Context, cfg ServerConfig) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	cfg.Path = normalizePath(cfg.Path)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.start(ctx)
	}
}

func (s *Server) start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	// Telemetry is optional; a failing listener never takes the daemon down.
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		supervisor.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("http.serve", s.serveOnce,
		supervisor.WithPublishFirstError(true),
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the listener down and waits for the serve loop, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.srv, s.sup, s.addr, s.stopDone = nil, nil, "", nil
		s.mu.Unlock()
		s.log.Info("metrics server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	extra := make(map[string]http.Handler, len(s.extra))
	for k, v := range s.extra {
		extra[k] = v
	}
	s.mu.Unlock()

	if cur.Token == "" && !isLoopbackAddr(cur.Addr) {
		s.log.Error("metrics refused to start: non-loopback addr requires token", logx.String("addr", cur.Addr))
		return errors.New("metrics refused to start: insecure bind")
	}

	ln, err := net.Listen("tcp", cur.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	mux := http.NewServeMux()
	wrap := func(h http.Handler) http.Handler { return withAuth(cur.Token, h) }

	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	mux.Handle(cur.Path, wrap(s.c.Handler()))
	for p, h := range extra {
		mux.Handle(p, wrap(h))
	}
	if cur.Pprof {
		mux.Handle("/debug/pprof/", wrap(http.HandlerFunc(hpprof.Index)))
		mux.Handle("/debug/pprof/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", wrap(http.HandlerFunc(hpprof.Profile)))
		mux.Handle("/debug/pprof/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
		mux.Handle("/debug/pprof/trace", wrap(http.HandlerFunc(hpprof.Trace)))
	}

	srv := &http.Server{Handler: mux, ReadTimeout: cur.ReadTimeout, ReadHeaderTimeout: 5 * time.Second}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("metrics server started",
		logx.String("addr", ln.Addr().String()),
		logx.String("path", cur.Path),
		logx.Bool("pprof", cur.Pprof),
		logx.Bool("token_set", cur.Token != ""),
	)
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.addr = ""
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("metrics server exited unexpectedly")
	}
	return err
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return defaultPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
