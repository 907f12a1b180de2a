// Package web provides the HTTP status and control API for the daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/boiler-control/internal/control"
	"github.com/sweeney/boiler-control/internal/history"
	"github.com/sweeney/boiler-control/internal/logger"
	"github.com/sweeney/boiler-control/internal/status"
)

const (
	maxHeaderBytes    = 1 << 20
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	maxBodyBytes      = 64 << 10
)

// StatusSource supplies the snapshot rendered by /status and /ws.
type StatusSource interface {
	Snapshot() status.Snapshot
}

// Controller applies configuration changes and manual commands.
type Controller interface {
	UpdateConfig(u control.Update) error
	Manual(action string) error
}

// HistorySource lists recorded cycle transitions.
type HistorySource interface {
	List(ctx context.Context, f history.Filter) ([]history.Entry, error)
}

// HTTPObserver records per-request metrics.
type HTTPObserver interface {
	ObserveHTTP(route string, status int, elapsed time.Duration)
}

// Deps are the collaborators behind the routes. History, Metrics and
// MetricsHandler are optional; their routes are not registered when nil.
type Deps struct {
	Status         StatusSource
	Control        Controller
	History        HistorySource
	Metrics        HTTPObserver
	MetricsHandler http.Handler
	Log            *logger.Logger
}

// Server serves the control API over HTTP.
type Server struct {
	httpServer *http.Server
	deps       Deps
	log        *logger.Logger
}

// New creates a Server listening on addr. It leaves gin's global mode to
// the caller.
func New(addr string, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{deps: deps, log: log}

	router := gin.New()
	router.Use(gin.Recovery(), s.observe)

	router.GET("/health", s.health)
	router.GET("/status", s.getStatus)
	router.POST("/config", s.postConfig)
	router.POST("/manual", s.postManual)
	router.GET("/ws", s.wsConnect)
	if deps.History != nil {
		router.GET("/events", s.getEvents)
	}
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		MaxHeaderBytes:    maxHeaderBytes,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// observe logs each request at debug level and feeds the HTTP metrics.
// Unmatched paths share one route label.
func (s *Server) observe(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	code := c.Writer.Status()
	elapsed := time.Since(start)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveHTTP(route, code, elapsed)
	}
	s.log.Debugw("http_request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", code,
		"elapsed", elapsed,
	)
}
