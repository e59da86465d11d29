// Package server is the thin request-routing layer. It only calls into
// the core through the session registry, commander, pipeline, and
// discovery engine; no protocol or diffing logic lives here.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/cascadeview/backend/internal/discovery"
	"github.com/cascadeview/backend/internal/events"
	"github.com/cascadeview/backend/internal/logging"
	"github.com/cascadeview/backend/internal/monitoring"
	"github.com/cascadeview/backend/internal/session"
	"github.com/cascadeview/backend/internal/snapshot"
)

// Server wraps the HTTP router and its dependencies.
type Server struct {
	router    *gin.Engine
	registry  *session.Registry
	commander *session.Commander
	pipeline  *snapshot.Pipeline
	engine    *discovery.Engine
	hub       *events.Hub
	metrics   *monitoring.Metrics
	log       *logging.Logger
}

// Options wires a Server.
type Options struct {
	Registry  *session.Registry
	Commander *session.Commander
	Pipeline  *snapshot.Pipeline
	Engine    *discovery.Engine
	Hub       *events.Hub
	Metrics   *monitoring.Metrics
	Logger    *logging.Logger
}

// New creates a server and registers all routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	s := &Server{
		router:    router,
		registry:  opts.Registry,
		commander: opts.Commander,
		pipeline:  opts.Pipeline,
		engine:    opts.Engine,
		hub:       opts.Hub,
		metrics:   opts.Metrics,
		log:       opts.Logger,
	}

	router.GET("/health", s.health)
	router.GET("/sessions", s.listSessions)
	router.POST("/scan", s.scan)
	router.GET("/sessions/:id/snapshot", s.getSnapshot)
	router.GET("/sessions/:id/styles", s.getStyles)
	router.POST("/sessions/:id/refresh", s.refresh)
	router.POST("/sessions/:id/send", s.sendText)
	router.POST("/sessions/:id/back", s.navigateBack)
	router.POST("/sessions/:id/select", s.selectByLabel)
	router.POST("/sessions/:id/mode", s.switchMode)
	router.POST("/sessions/:id/collapse", s.setCollapsed)
	router.GET("/stream", s.stream)
	router.GET("/metrics", gin.WrapH(monitoring.Handler()))

	return s
}

// Run starts the HTTP server.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
