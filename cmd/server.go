package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"mixdeck/config"
	"mixdeck/handlers"
	"mixdeck/middleware"
	"mixdeck/services"
	"mixdeck/sources"
	"mixdeck/websocket"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// BuildRegistry wires every supported source to its adapter. The direct
// sources go through yt-dlp; Spotify and Deezer links are resolved to a
// search query first.
func BuildRegistry(cfg *config.Config) *sources.Registry {
	ytdlp := sources.NewYTDLP(cfg.YTDLPPath, cfg.DownloadLocation, cfg.AudioFormat)

	registry := sources.NewRegistry()
	if cfg.YouTubeBackend == config.BackendNative {
		registry.Register(sources.TagYouTube, sources.NewYouTubeNative(cfg.DownloadLocation))
	} else {
		registry.Register(sources.TagYouTube, ytdlp)
	}
	registry.Register(sources.TagSoundCloud, ytdlp)
	registry.Register(sources.TagSpotify, sources.NewResolved(sources.NewSpotifyResolver(cfg.SpotifyOEmbedURL), ytdlp))
	registry.Register(sources.TagDeezer, sources.NewResolved(sources.NewDeezerResolver(cfg.DeezerAPIURL), ytdlp))
	return registry
}

// NewManager creates a stopped download manager for cfg
func NewManager(cfg *config.Config, registry *sources.Registry, notifier services.Notifier) services.DownloadManager {
	return services.NewDownloadManager(registry, services.Options{
		Workers:    cfg.Workers,
		JobTimeout: cfg.JobTimeout,
		Notifier:   notifier,
		Logger:     logrus.StandardLogger(),
	})
}

// RouterDeps are the collaborators the HTTP routes need
type RouterDeps struct {
	Manager services.DownloadManager
	Library services.LibraryService
	Hub     websocket.Hub
	Sources []string
	Config  *config.Config
}

// NewRouter builds the gin engine with middleware and every route
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logging(logrus.StandardLogger()))
	r.Use(middleware.CORS(deps.Config.CORSOrigins))

	downloadHandler := handlers.NewDownloadHandler(deps.Manager, deps.Hub, deps.Config.CORSOrigins)
	fileHandler := handlers.NewFileHandler(deps.Manager, deps.Library)
	healthHandler := handlers.NewHealthHandler(deps.Manager, deps.Sources, deps.Config.DownloadLocation)

	setupRoutes(r, downloadHandler, fileHandler, healthHandler)
	return r
}

// StartWebServer runs the HTTP server until ctx is cancelled, then shuts it
// down along with the workers.
func StartWebServer(ctx context.Context, cfg *config.Config) error {
	gin.SetMode(cfg.GinMode)

	if err := os.MkdirAll(cfg.DownloadLocation, 0755); err != nil {
		return fmt.Errorf("failed to create download location: %w", err)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub()
	go hub.Run(hubCtx)

	registry := BuildRegistry(cfg)
	manager := NewManager(cfg, registry, hub)
	manager.Start(context.Background())
	defer manager.Stop()

	if cfg.RetentionTTL > 0 {
		janitor, err := services.NewJanitor(manager, cfg.RetentionSchedule, cfg.RetentionTTL)
		if err != nil {
			return err
		}
		janitor.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			janitor.Stop(stopCtx)
		}()
	}

	router := NewRouter(RouterDeps{
		Manager: manager,
		Library: services.NewLibraryService(cfg.DownloadLocation),
		Hub:     hub,
		Sources: registry.Tags(),
		Config:  cfg,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"port":     cfg.Port,
			"workers":  cfg.Workers,
			"download": cfg.DownloadLocation,
		}).Info("Mixdeck web server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// setupRoutes configures all the HTTP routes
func setupRoutes(r *gin.Engine, downloadHandler *handlers.DownloadHandler, fileHandler *handlers.FileHandler, healthHandler *handlers.HealthHandler) {
	r.GET("/health", healthHandler.HealthCheck)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", healthHandler.APIStatus)

		downloadsGroup := apiGroup.Group("/downloads")
		{
			downloadsGroup.POST("", downloadHandler.QueueDownload)
			downloadsGroup.GET("", downloadHandler.GetAllJobs)

			// Batches
			downloadsGroup.POST("/batch", downloadHandler.QueueBatch)
			downloadsGroup.GET("/batch/:id", downloadHandler.GetBatch)
			downloadsGroup.DELETE("/batch/:id", downloadHandler.CancelBatch)

			downloadsGroup.GET("/:id", downloadHandler.GetJob)
			downloadsGroup.DELETE("/:id", downloadHandler.CancelJob)
			downloadsGroup.GET("/:id/file", fileHandler.StreamFile)
			downloadsGroup.GET("/:id/metadata", fileHandler.GetMetadata)
		}

		// WebSocket endpoints for real-time progress
		wsGroup := apiGroup.Group("/ws")
		{
			wsGroup.GET("/downloads/:id", downloadHandler.HandleWebSocketConnection)
			wsGroup.GET("/downloads", downloadHandler.HandleWebSocketAllConnection)
		}
	}
}
