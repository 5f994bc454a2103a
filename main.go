package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipesight/inspectord/internal/config"
	"github.com/pipesight/inspectord/internal/health"
	"github.com/pipesight/inspectord/internal/inference"
	"github.com/pipesight/inspectord/internal/jobs"
	"github.com/pipesight/inspectord/internal/logger"
	"github.com/pipesight/inspectord/internal/metrics"
	"github.com/pipesight/inspectord/internal/motion"
	"github.com/pipesight/inspectord/internal/project"
	"github.com/pipesight/inspectord/internal/service"
	"github.com/pipesight/inspectord/internal/state"
	"github.com/pipesight/inspectord/internal/video"
	"github.com/pipesight/inspectord/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Inspectord",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	// Create main context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Video decode toolchain
	ffmpeg, err := video.NewFFmpeg(log)
	if err != nil {
		log.Error("Failed to initialize ffmpeg toolchain", "error", err)
		os.Exit(1)
	}
	accessor := video.NewAccessor(ffmpeg, log)

	// Model execution service client and engine
	client := inference.NewClient(inference.ClientConfig{
		ServiceURL: cfg.Model.ServiceURL,
		Timeout:    cfg.Model.Timeout,
	}, log)
	engine := inference.NewEngine(client, inference.EngineConfig{
		MinContourArea: cfg.Model.MinContourArea,
		PolygonEpsilon: cfg.Model.PolygonEpsilon,
	}, log)

	// Job registry: in-memory by default, SQLite when state must survive a
	// restart
	var (
		registry jobs.Registry
		stateDB  *state.Database
	)
	if cfg.Jobs.PersistentRegistry {
		stateDB, err = state.NewDatabase(cfg.Storage.StateDB)
		if err != nil {
			log.Error("Failed to open state database", "error", err, "path", cfg.Storage.StateDB)
			os.Exit(1)
		}
		defer stateDB.Close()

		registry, err = state.NewJobRegistry(stateDB, log)
		if err != nil {
			log.Error("Failed to initialize job registry", "error", err)
			os.Exit(1)
		}
	} else {
		registry = jobs.NewMemoryRegistry()
	}

	runner := jobs.NewRunner(registry, ffmpeg, engine, jobs.RunnerConfig{
		MaxConcurrent:      cfg.Jobs.MaxConcurrent,
		PreviewInterval:    cfg.Jobs.PreviewInterval,
		PreviewJPEGQuality: cfg.Jobs.PreviewJPEGQuality,
		StageInputs:        cfg.Jobs.StageInputs,
		StagingDir:         cfg.Jobs.StagingDir,
	}, log)

	analyzer := motion.NewAnalyzer(ffmpeg, motion.Config{
		SampleInterval:  cfg.Motion.SampleInterval,
		DownscaleWidth:  cfg.Motion.DownscaleWidth,
		DownscaleHeight: cfg.Motion.DownscaleHeight,
	}, log)

	projects := project.NewStore(cfg.Storage.ProjectsDir)

	// Create service manager
	svcMgr := service.NewManager(log)
	runner.SetEventBus(svcMgr.GetEventBus())

	// Create health check manager
	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewFFmpegChecker(ffmpeg.Path()))
	healthMgr.RegisterChecker(health.NewModelServiceChecker(cfg.Model.ServiceURL))
	healthMgr.RegisterChecker(health.NewStorageChecker(cfg.Storage.DataDir, cfg.Jobs.StagingDir))
	if cfg.Jobs.PersistentRegistry {
		healthMgr.RegisterChecker(health.NewDatabaseChecker(cfg.Storage.StateDB))
	}

	// API server
	apiServer := web.NewServer(cfg, log)
	apiServer.SetVersion(version)
	apiServer.SetJobDependencies(runner, registry)
	apiServer.SetInferenceDependencies(engine, accessor)
	apiServer.SetAnalysisDependencies(analyzer, projects)
	apiServer.SetHealthManager(healthMgr)
	svcMgr.Register(apiServer)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		svcMgr.Register(metrics.NewServer(cfg.Metrics.Port, log))
	}

	// Initialize and start services
	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	// Start graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	// Let in-flight jobs reach a terminal state before the registry goes away
	runner.Wait()

	log.Info("Shutdown complete")
}
