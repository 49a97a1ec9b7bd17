// Package httpapi serves the SSO login flow, health, status and metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"structwatch/internal/model"
	logx "structwatch/pkg/logx"
)

// Auth is the SSO half of esi.Session.
type Auth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (model.Credentials, error)
}

type Config struct {
	Addr string
	// StateTTL bounds how long a login attempt may take (default 10m).
	StateTTL time.Duration

	Pprof      bool
	PprofToken string
}

type Deps struct {
	Auth    Auth
	Metrics http.Handler
	// Status is rendered as JSON on GET /status when set.
	Status func() any
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	engine *gin.Engine

	mu     sync.Mutex
	states map[string]time.Time
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		now:    time.Now,
		states: map[string]time.Time{},
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(s.log))

	r.GET("/", s.health)
	r.GET("/auth", s.login)
	r.GET("/auth/callback", s.callback)
	r.GET("/success", s.success)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	if s.deps.Status != nil {
		r.GET("/status", func(c *gin.Context) { c.JSON(http.StatusOK, s.deps.Status()) })
	}
	if s.cfg.Pprof {
		s.mountPprof(r)
	}
	return r
}

// Serve listens until ctx ends, then shuts down with a short grace period.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "structwatch is running")
}

func (s *Server) login(c *gin.Context) {
	state := uuid.NewString()
	s.mu.Lock()
	s.expireLocked()
	s.states[state] = s.now().Add(s.cfg.StateTTL)
	s.mu.Unlock()
	c.Redirect(http.StatusFound, s.deps.Auth.AuthCodeURL(state))
}

func (s *Server) callback(c *gin.Context) {
	code, state := c.Query("code"), c.Query("state")
	if code == "" || !s.consume(state) {
		s.log.Warn("sso callback rejected", logx.Bool("has_code", code != ""))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired login attempt"})
		return
	}
	creds, err := s.deps.Auth.Exchange(c.Request.Context(), code)
	if err != nil {
		s.log.Error("sso exchange failed", logx.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "token exchange failed"})
		return
	}
	s.log.Info("sso login complete", logx.Int64("character_id", creds.CharacterID))
	c.Redirect(http.StatusFound, "/success")
}

func (s *Server) success(c *gin.Context) {
	c.String(http.StatusOK, "Login successful. You can close this window.")
}

// consume reports whether state was issued and unexpired, and forgets it.
func (s *Server) consume(state string) bool {
	if state == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.states[state]
	delete(s.states, state)
	return ok && s.now().Before(exp)
}

func (s *Server) expireLocked() {
	now := s.now()
	for k, exp := range s.states {
		if !now.Before(exp) {
			delete(s.states, k)
		}
	}
}

// requestLog tags each request with an ID and logs it at debug.
func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		started := time.Now()
		c.Next()
		log.Debug("http request",
			logx.String("request_id", id),
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(started)))
	}
}
