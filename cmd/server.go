package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bbqjohan/yt-downloader/config"
	"github.com/bbqjohan/yt-downloader/handlers"
	"github.com/bbqjohan/yt-downloader/middleware"
	"github.com/bbqjohan/yt-downloader/services"
	"github.com/bbqjohan/yt-downloader/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server bundles the router with the services behind it
type Server struct {
	Router   *gin.Engine
	Queue    services.DownloadQueue
	Hub      websocket.Hub
	Settings *config.SettingsStore

	cfg    *config.Config
	logger *zap.Logger
}

// NewInvoker picks the download boundary: recorded scripts when a script directory
// is configured, otherwise an external process reporting through the events endpoint.
func NewInvoker(cfg *config.Config, logger *zap.Logger) (services.Invoker, error) {
	if cfg.ScriptDir != "" {
		invoker, err := services.LoadReplayInvoker(cfg.ScriptDir, 250*time.Millisecond, logger)
		if err != nil {
			return nil, err
		}
		return invoker.WithFragmentThreads(cfg.FragmentThreads), nil
	}
	return services.NewExternalInvoker(cfg.FragmentThreads, logger), nil
}

// NewServer wires services, handlers and routes. ctx bounds every download.
func NewServer(ctx context.Context, cfg *config.Config, invoker services.Invoker, logger *zap.Logger) *Server {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	settings := config.NewSettingsStore(cfg.SettingsFile, cfg.DownloadLocation)
	hub := websocket.NewHub(logger)
	queue := services.NewDownloadQueue(ctx, invoker, logger, hub)
	fileService := services.NewFileService(logger)

	downloadHandler := handlers.NewDownloadHandler(queue, hub, settings, websocket.NewUpgrader(cfg.CORSOrigins), logger)
	fileHandler := handlers.NewFileHandler(fileService, settings, logger)
	formatHandler := handlers.NewFormatHandler()
	healthHandler := handlers.NewHealthHandler(queue, hub, settings)
	settingsHandler := handlers.NewSettingsHandler(settings, logger)

	r := gin.New()
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	SetupRoutes(r, downloadHandler, fileHandler, formatHandler, healthHandler, settingsHandler)

	return &Server{
		Router:   r,
		Queue:    queue,
		Hub:      hub,
		Settings: settings,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetupRoutes configures all the HTTP routes
func SetupRoutes(r *gin.Engine, downloadHandler *handlers.DownloadHandler, fileHandler *handlers.FileHandler, formatHandler *handlers.FormatHandler, healthHandler *handlers.HealthHandler, settingsHandler *handlers.SettingsHandler) {
	r.GET("/health", healthHandler.HealthCheck)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", healthHandler.APIStatus)

		apiGroup.POST("/formats", formatHandler.SplitFormats)

		downloadsGroup := apiGroup.Group("/downloads")
		{
			downloadsGroup.POST("", downloadHandler.Submit)
			downloadsGroup.GET("", downloadHandler.GetAllItems)
			downloadsGroup.GET("/:id", downloadHandler.GetItem)
			downloadsGroup.POST("/:id/redownload", downloadHandler.Redownload)
			downloadsGroup.POST("/:id/events", downloadHandler.DeliverEvent)
		}
		apiGroup.GET("/queue", downloadHandler.GetQueue)

		// WebSocket endpoints for real-time progress
		wsGroup := apiGroup.Group("/ws")
		{
			wsGroup.GET("/downloads/:id", downloadHandler.HandleWebSocketConnection)
			wsGroup.GET("/downloads", downloadHandler.HandleWebSocketAllConnection)
		}

		apiGroup.GET("/files", fileHandler.ListFiles)
		apiGroup.GET("/files/stream/*filepath", fileHandler.StreamFile)

		apiGroup.GET("/settings", settingsHandler.GetSettings)
		apiGroup.POST("/settings", settingsHandler.UpdateSettings)
	}
}

// Run serves HTTP and the websocket hub until ctx is cancelled or either fails
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.Router,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		s.logger.Info("web server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("web server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// StartWebServer builds the invoker and server from cfg and runs until ctx is done
func StartWebServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	invoker, err := NewInvoker(cfg, logger)
	if err != nil {
		return err
	}
	return NewServer(ctx, cfg, invoker, logger).Run(ctx)
}
