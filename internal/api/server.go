// Package api serves the lab server's HTTP surface: the device bootstrap
// endpoints, session requests and the websocket relay upgrade.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"labwatch/internal/auth"
	"labwatch/internal/relay"
	"labwatch/internal/session"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Options configures the HTTP server
type Options struct {
	ListenAddr   string
	SendQueue    int
	AllowOrigins []string

	// Session requests allowed per client per window. Zero disables the
	// limit; the limit also needs a redis client.
	SessionLimit  int
	SessionWindow time.Duration
}

// Server is the lab server's HTTP front end
type Server struct {
	registry *session.Registry
	hub      *relay.Hub
	tokens   *auth.TokenManager
	limiter  *RateLimiter
	opts     Options

	engine *gin.Engine
	srv    *http.Server
}

// NewServer wires the routes. rdb may be nil.
func NewServer(registry *session.Registry, hub *relay.Hub, tokens *auth.TokenManager, rdb *redis.Client, opts Options) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":8080"
	}
	if opts.SessionWindow <= 0 {
		opts.SessionWindow = time.Minute
	}

	s := &Server{
		registry: registry,
		hub:      hub,
		tokens:   tokens,
		limiter:  NewRateLimiter(rdb),
		opts:     opts,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	config := cors.DefaultConfig()
	if len(s.opts.AllowOrigins) > 0 {
		config.AllowOrigins = s.opts.AllowOrigins
		config.AllowCredentials = true
	} else {
		config.AllowAllOrigins = true
	}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", HeaderHardwareAddress}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(config))

	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api/v1")
	{
		devices := api.Group("/devices/:hw")
		devices.Use(s.requireDevice())
		{
			devices.GET("/id", s.handleDeviceID)
			devices.GET("/active-user", s.handleActiveUser)
			devices.POST("/power", s.handlePower)
			devices.POST("/force-logout", s.handleForceLogout)
		}

		sessions := api.Group("/sessions")
		sessions.Use(s.requireController())
		{
			sessions.POST("", s.limiter.Limit("sessions", s.opts.SessionLimit, s.opts.SessionWindow), s.handleRequestSession)
		}
	}

	return r
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address in the background
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("API: listening on %s", s.opts.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("API: server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
