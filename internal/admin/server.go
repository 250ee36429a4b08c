package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"reminderd/internal/config"
	rtsup "reminderd/internal/runtime/supervisor"
	logx "reminderd/pkg/logx"
)

const (
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 60 * time.Second
	DefaultIdleTimeout  = 60 * time.Second

	shutdownGrace = 2 * time.Second
)

// Config controls the admin HTTP server. A non-loopback Addr needs a Token
// unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = config.DefaultAdminAddr
	}
	c.Token = strings.TrimSpace(c.Token)
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

// Service serves the admin API under its own supervisor, restarting the
// listener with backoff if it fails.
type Service struct {
	log  logx.Logger
	cfg  Config
	deps Deps

	mu   sync.Mutex
	sup  *rtsup.Supervisor
	addr string
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{cfg: cfg.withDefaults(), deps: deps, log: log.With(logx.String("comp", "admin"))}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Supervisor is nil unless the server is running.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Addr is the bound address, empty while not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Service) setAddr(addr string) {
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
}

// Start is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serve, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Stop shuts the server down and waits for it until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("admin server stop incomplete", logx.Err(err))
		return
	}
	s.log.Info("admin server stopped")
}

// serve runs one listener until ctx is done. Returning context.Canceled
// ends the restart loop.
func (s *Service) serve(ctx context.Context) error {
	cfg := s.cfg
	public := !config.IsLoopbackAddr(cfg.Addr)
	if public && cfg.Token == "" {
		if !cfg.AllowInsecure {
			s.log.Error("admin server refused: non-loopback addr needs a token or allow_insecure", logx.String("addr", cfg.Addr))
			return context.Canceled
		}
		s.log.Warn("admin server has no token on a non-loopback addr", logx.String("addr", cfg.Addr))
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			_ = srv.Close()
		}
	}()

	bound := ln.Addr().String()
	s.setAddr(bound)
	s.log.Info("admin server started",
		logx.String("addr", bound),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
		logx.String("help", "http://"+bound+apiPrefix+"/help"),
	)

	err = srv.Serve(ln)
	s.setAddr("")
	if ctx.Err() != nil {
		<-stopped
		return context.Canceled
	}
	_ = srv.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return errors.New("admin server closed unexpectedly")
	}
	return err
}
