package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
	"github.com/eliteGoblin/zayproxy/internal/infra"
	"github.com/eliteGoblin/zayproxy/internal/usecase"
)

// LogSource exposes captured log entries.
type LogSource interface {
	Entries() []infra.LogEntry
	Text() string
	Clear()
}

// Services are the use cases the API exposes.
type Services struct {
	Profiles     *usecase.ProfileRegistry
	Rules        *usecase.RuleBook
	Firewall     *usecase.FirewallController
	Orchestrator *usecase.Orchestrator
	Settings     *usecase.SettingsService
	Transfer     *usecase.ConfigTransfer
	Tester       domain.ConnectivityTester
	Logs         LogSource
}

// Options configures the server.
type Options struct {
	// Token, when set, is required on every request except /health.
	Token string
}

// Server is the local control API. Every mutating request runs under one
// lock, shared with the drift watcher, so there is a single writer.
type Server struct {
	svc    Services
	lock   sync.Locker
	hub    *Hub
	router *gin.Engine
	logger *zap.Logger
}

// NewServer builds the router. lock must be the same locker the watcher uses.
func NewServer(svc Services, opts Options, lock sync.Locker, logger *zap.Logger) *Server {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	s := &Server{
		svc:    svc,
		lock:   lock,
		hub:    NewHub(logger),
		logger: logger,
	}
	if svc.Orchestrator != nil {
		svc.Orchestrator.Subscribe(s.hub)
	}
	s.router = s.routes(opts)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the state-change broadcaster.
func (s *Server) Hub() *Hub {
	return s.hub
}

// routes builds the router. Every request must name a loopback Host and, if it
// has an Origin, a loopback Origin. Mutating requests must be application/json.
func (s *Server) routes(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), LoopbackOnly(), RequireJSON())

	r.GET("/health", func(c *gin.Context) {
		success(c, gin.H{"status": "ok"})
	})

	g := r.Group("/")
	if opts.Token != "" {
		g.Use(BearerAuth(opts.Token))
	}
	w := s.serialized

	g.GET("/state", s.getState)
	g.GET("/events", s.hub.Serve)

	g.GET("/profiles", s.listProfiles)
	g.GET("/profiles/:id", s.getProfile)
	g.POST("/profiles", w(s.addProfile))
	g.PUT("/profiles/:id", w(s.updateProfile))
	g.DELETE("/profiles/:id", w(s.deleteProfile))
	g.POST("/profiles/:id/test", s.testProfile)

	g.GET("/rules", s.listRules)
	g.GET("/rules/:id", s.getRule)
	g.POST("/rules", w(s.addRule))
	g.PUT("/rules/:id", w(s.updateRule))
	g.DELETE("/rules/:id", w(s.deleteRule))
	g.POST("/rules/test", s.testRule)

	g.GET("/firewall/rules", s.listFirewallRules)
	g.GET("/firewall/rules/:id", s.getFirewallRule)
	g.POST("/firewall/rules", w(s.addFirewallRule))
	g.PUT("/firewall/rules/:id", w(s.updateFirewallRule))
	g.DELETE("/firewall/rules/:id", w(s.deleteFirewallRule))
	g.POST("/firewall/rules/:id/toggle", w(s.toggleFirewallRule))
	g.POST("/firewall/apply", w(s.applyFirewall))
	g.POST("/firewall/remove-all", w(s.removeAllFirewall))
	g.POST("/firewall/enable-all", w(s.enableAllFirewall))
	g.POST("/firewall/disable-all", w(s.disableAllFirewall))
	g.GET("/firewall/status", s.firewallStatus)

	g.POST("/proxy/enable", w(s.enableProxy))
	g.POST("/proxy/disable", w(s.disableProxy))
	g.POST("/proxy/switch", w(s.switchProxy))
	g.GET("/proxy/verify", s.verifyProxy)

	g.GET("/settings", s.getSettings)
	g.PATCH("/settings", w(s.updateSettings))
	g.GET("/config/export", s.exportConfig)
	g.POST("/config/import", w(s.importConfig))
	g.GET("/pac", s.pac)
	g.GET("/logs", s.logs)
	g.DELETE("/logs", s.clearLogs)

	return r
}

// serialized runs h under the single-writer lock.
func (s *Server) serialized(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.lock.Lock()
		defer s.lock.Unlock()
		h(c)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("api request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("api stopped")
	return nil
}
