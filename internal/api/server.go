// Package api is the programmatic HTTP surface of a sortie workspace.
//
// The server holds no team state. Every request loads the team, its members and tasks
// fresh from the blackboard and runs the same board and mission rules the interactive
// clients run, so the guard is re-checked against current rows on every mutation.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dyluth/sortie/internal/config"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

const (
	apiVersion = "/api/v1"

	// MemberHeader carries the caller's member ID.
	MemberHeader = "X-Member-ID"
)

// Options tunes a Server. Zero values use the defaults from config.Default().
type Options struct {
	Clock clockwork.Clock
}

// Server serves the HTTP API for every team in one namespace.
type Server struct {
	client *blackboard.Client
	cfg    *config.SortieConfig
	clock  clockwork.Clock
	engine *gin.Engine
}

// NewServer builds the gin engine with CORS, logging and recovery middleware and every
// route registered.
func NewServer(client *blackboard.Client, cfg *config.SortieConfig, opts Options) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	setGinMode(cfg.API.GinMode)

	s := &Server{
		client: client,
		cfg:    cfg,
		clock:  opts.Clock,
		engine: gin.New(),
	}

	s.engine.Use(gin.Logger(), gin.Recovery())
	s.setCors()
	s.setRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setCors() {
	corsconfig := cors.DefaultConfig()
	if len(s.cfg.API.AllowedOrigins) == 1 && s.cfg.API.AllowedOrigins[0] == "*" {
		corsconfig.AllowAllOrigins = true
	} else {
		corsconfig.AllowOrigins = s.cfg.API.AllowedOrigins
	}
	corsconfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsconfig.AllowHeaders = []string{"Origin", "Content-Type", MemberHeader}
	s.engine.Use(cors.New(corsconfig))
}

func (s *Server) setRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	teams := s.engine.Group(apiVersion+"/teams/:team", s.requireMember)
	{
		teams.GET("/tasks", s.handleListTasks)
		teams.POST("/tasks", s.handleCreateTask)
		teams.PATCH("/tasks/:task", s.handleEditTask)
		teams.POST("/tasks/:task/transition", s.handleTransition)
		teams.POST("/tasks/:task/pin", s.handlePin)
		teams.DELETE("/tasks/:task/pin", s.handleUnpin)
		teams.DELETE("/tasks/:task", s.handleDeleteTask)

		teams.GET("/mission", s.handleMissionStatus)
		teams.POST("/mission/complete", s.handleComplete)
		teams.POST("/mission/redeploy", s.handleRedeploy)
		teams.PUT("/mission/deadline", s.handleSetDeadline)
	}
}

// ListenAndServe serves on api.addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.API.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[API] Listening on %s", s.cfg.API.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve on %s: %w", s.cfg.API.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("[API] Shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func setGinMode(mode string) {
	switch mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
}
