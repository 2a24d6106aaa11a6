package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"sentinel-edge-go/internal/api/middleware"
	"sentinel-edge-go/internal/config"
)

type Server struct {
	config *config.CollectorConfig
	router *gin.Engine
	server *http.Server

	events *EventHandler
	hub    *Hub
}

func NewServer(cfg *config.CollectorConfig, store *Store, hub *Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := log.With().Str("service", "collector").Logger()
	s := &Server{
		config: cfg,
		router: gin.New(),
		hub:    hub,
		events: NewEventHandler(store, NewIngestor(store, cfg.ImageDir, logger), hub, logger),
	}

	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"version":      s.config.Version,
			"feed_clients": s.hub.ClientCount(),
		})
	})
	s.router.GET("/ws", s.events.Feed)

	api := s.router.Group("/api")
	{
		api.POST("/events", middleware.BodyLimit(s.config.MaxBodyBytes), s.events.CreateEvent)
		api.GET("/events", s.events.ListEvents)
		api.GET("/events/heatmap", s.events.Heatmap)
		api.GET("/events/:id", s.events.GetEvent)

		api.GET("/analytics/summary", s.events.AnalyticsSummary)
		api.GET("/analytics/hotspots", s.events.Hotspots)
	}
}

// Start blocks serving until Shutdown is called
func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("Starting event collector")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Stopping event collector")
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.router
}
