package web

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pipesight/inspectord/internal/config"
	"github.com/pipesight/inspectord/internal/health"
	"github.com/pipesight/inspectord/internal/inference"
	"github.com/pipesight/inspectord/internal/jobs"
	"github.com/pipesight/inspectord/internal/logger"
	"github.com/pipesight/inspectord/internal/motion"
	"github.com/pipesight/inspectord/internal/project"
	"github.com/pipesight/inspectord/internal/service"
	"github.com/pipesight/inspectord/internal/video"
)

// FrameReader serves single frames from a video file.
type FrameReader interface {
	ReadFrame(ctx context.Context, videoPath string, frameIndex int) ([]byte, *video.Metadata, error)
	ReadRawFrame(ctx context.Context, videoPath string, frameIndex int) (*video.Frame, *video.Metadata, error)
}

// InferenceEngine is the model-side surface the API needs.
type InferenceEngine interface {
	Initialize(ctx context.Context, modelType, modelPath string) (alreadyInitialized bool, device string, err error)
	InferRegion(ctx context.Context, frame *video.Frame, box image.Rectangle, modelType string) (*inference.RegionResult, error)
}

// MotionAnalyzer detects low-motion segments in a processed video.
type MotionAnalyzer interface {
	Analyze(ctx context.Context, doc *jobs.ResultDocument, threshold, minDuration float64, onProgress motion.ProgressFunc) (*motion.Analysis, error)
}

// Server represents the API server service
type Server struct {
	*service.ServiceBase
	config     *config.Config
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine

	runner    *jobs.Runner
	registry  jobs.Registry
	engine    InferenceEngine
	frames    FrameReader
	analyzer  MotionAnalyzer
	projects  *project.Store
	healthMgr *health.Manager

	version   string
	startTime time.Time
}

// NewServer creates a new API server service
func NewServer(cfg *config.Config, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("api-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetJobDependencies sets the job runner and registry
func (s *Server) SetJobDependencies(runner *jobs.Runner, registry jobs.Registry) {
	s.runner = runner
	s.registry = registry
}

// SetInferenceDependencies sets the engine and frame accessor
func (s *Server) SetInferenceDependencies(engine InferenceEngine, frames FrameReader) {
	s.engine = engine
	s.frames = frames
}

// SetAnalysisDependencies sets the motion analyzer and project store
func (s *Server) SetAnalysisDependencies(analyzer MotionAnalyzer, projects *project.Store) {
	s.analyzer = analyzer
	s.projects = projects
}

// SetHealthManager sets the health check aggregator
func (s *Server) SetHealthManager(mgr *health.Manager) {
	s.healthMgr = mgr
}

// Start starts the API server
func (s *Server) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)
	s.setupRoutes()

	// WriteTimeout stays disabled: motion analysis streams progress events
	// for the lifetime of the request.
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  0,
	}

	go func() {
		s.LogInfo("Starting API server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.LogError("API server error", err, "address", addr)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.GetStatus().SetStatus(service.StatusRunning)
		s.LogInfo("API server started", "address", addr)
		return nil
	}
}

// Stop stops the API server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStopping)
	s.LogInfo("Stopping API server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Name returns the service name
func (s *Server) Name() string {
	return "api-server"
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		// Health check and system status
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)

		// Batch inference job endpoints
		inf := api.Group("/inference")
		{
			inf.POST("", s.handleStartInference)
			inf.GET("/jobs", s.handleListJobs)
			inf.GET("/status/:job_id", s.handleInferenceStatus)
			inf.POST("/cancel/:job_id", s.handleCancelInference)
			inf.GET("/preview/:job_id", s.handleInferencePreview)
			inf.POST("/check", s.handleCheckResults)
			inf.POST("/results", s.handleInferenceResults)
			inf.POST("/analyze-motion", s.handleAnalyzeMotion)
			inf.POST("/extract-representatives", s.handleExtractRepresentatives)
		}

		// Interactive inference endpoints
		ai := api.Group("/ai")
		{
			ai.POST("/initialize", s.handleInitializeModel)
			ai.POST("/infer-box", s.handleInferBox)
		}

		// Project video access
		api.GET("/projects/:project_id/videos/:video_id/frames/:frame_number", s.handleVideoFrame)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
