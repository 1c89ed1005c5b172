package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"focushive/presence-service/config"
	"focushive/presence-service/db"
	"focushive/presence-service/handlers"
	"focushive/presence-service/membership"
	"focushive/presence-service/middleware"
	"focushive/presence-service/services"
	"focushive/presence-service/storage"
	"focushive/presence-service/utils"
	"focushive/presence-service/ws"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger()

	// Connect to the hive membership database
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	authority := membership.NewRepository(database)

	// Connect to the ephemeral store
	store, err := storage.NewRedisStore(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}
	defer store.Close()

	// Initialize broadcast hub and presence coordinator
	hub := ws.NewHub(logger)
	presenceService := services.NewPresenceService(store, hub, authority, cfg, logger)

	// Start the stale-presence sweeper
	sweeper := services.NewSweeper(presenceService, cfg.SweepInterval, logger)
	sweeper.Start()

	// Start the cross-instance event relay
	relay := services.NewRelay(store, presenceService, hub, logger)
	if err := relay.Start(); err != nil {
		logger.Fatal("Failed to start event relay", "error", err)
	}

	// Initialize handlers
	presenceHandler := handlers.NewPresenceHandler(presenceService, logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// WebSocket endpoint
	router.GET("/ws", middleware.Auth(cfg.JWTSecret), func(c *gin.Context) {
		userID, _ := c.Get("userID")
		ws.ServeWS(hub, logger, c.Writer, c.Request, userID.(string))
	})

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTSecret))
	{
		presence := v1.Group("/presence")
		{
			presence.PUT("", presenceHandler.UpdatePresence)
			presence.POST("/heartbeat", presenceHandler.Heartbeat)
			presence.POST("/offline", presenceHandler.MarkOffline)
			presence.POST("/hives", presenceHandler.GetHivesPresence)
			presence.GET("/:userId", presenceHandler.GetPresence)
		}

		hives := v1.Group("/hives")
		{
			hives.POST("/:hiveId/presence/join", presenceHandler.JoinHive)
			hives.POST("/:hiveId/presence/leave", presenceHandler.LeaveHive)
			hives.GET("/:hiveId/presence", presenceHandler.GetHiveActiveUsers)
			hives.GET("/:hiveId/sessions", presenceHandler.GetHiveSessions)
		}

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", presenceHandler.StartSession)
			sessions.POST("/:sessionId/end", presenceHandler.EndSession)
			sessions.GET("/active", presenceHandler.GetActiveSession)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting Presence Service", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop background workers
	sweeper.Stop()
	relay.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
