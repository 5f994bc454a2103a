package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipesight/inspectord/internal/inference"
	"github.com/pipesight/inspectord/internal/logger"
	"github.com/pipesight/inspectord/internal/metrics"
	"github.com/pipesight/inspectord/internal/service"
	"github.com/pipesight/inspectord/internal/video"
)

// VideoOpener provides container metadata and sequential decoding.
type VideoOpener interface {
	Probe(ctx context.Context, videoPath string) (*video.Metadata, error)
	Open(ctx context.Context, videoPath string) (video.Source, error)
}

// Engine is the inference surface the runner drives. Batch runs hold the
// device for their whole duration; admission is bounded by the runner's
// concurrency limit, not the engine's interactive gate.
type Engine interface {
	Initialized(modelType string) bool
	InferFrame(ctx context.Context, frame *video.Frame, modelType string) (*inference.FrameResult, error)
}

// RunnerConfig tunes the job engine.
type RunnerConfig struct {
	// MaxConcurrent bounds how many jobs may hold the device at once.
	// Deployments with a single accelerator should keep this at 1.
	MaxConcurrent int
	// PreviewInterval is the frame cadence of preview overlay refreshes.
	PreviewInterval int
	// PreviewJPEGQuality encodes preview overlays; lower than transport
	// quality since previews are ephemeral.
	PreviewJPEGQuality int
	// StageInputs copies the input video to local staging before decoding,
	// for network-mounted sources with poor seek behavior.
	StageInputs bool
	StagingDir  string
}

// Runner creates and drives background inference jobs. Submission is
// fire-and-forget: the submitting call returns immediately with a job id
// and the job runs on its own goroutine.
type Runner struct {
	registry Registry
	opener   VideoOpener
	engine   Engine
	logger   *logger.Logger
	cfg      RunnerConfig
	events   *service.EventBus
	admit    chan struct{}
	wg       sync.WaitGroup
}

// NewRunner creates a job runner over the given registry, video opener and
// inference engine.
func NewRunner(registry Registry, opener VideoOpener, engine Engine, cfg RunnerConfig, log *logger.Logger) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PreviewInterval <= 0 {
		cfg.PreviewInterval = 10
	}
	if cfg.PreviewJPEGQuality <= 0 {
		cfg.PreviewJPEGQuality = 70
	}
	return &Runner{
		registry: registry,
		opener:   opener,
		engine:   engine,
		logger:   log,
		cfg:      cfg,
		admit:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// SetEventBus attaches the inter-service event bus. Job lifecycle events
// are published when a bus is present.
func (r *Runner) SetEventBus(bus *service.EventBus) {
	r.events = bus
}

func (r *Runner) publish(eventType service.EventType, data map[string]interface{}) {
	if r.events != nil {
		r.events.Publish(service.Event{
			Type:   eventType,
			Source: "job-runner",
			Data:   data,
		})
	}
}

// Submit validates the request, registers a new job and starts its
// background runner. Fails fast with video.ErrEmptyVideo on a zero-frame
// container: no job is created.
func (r *Runner) Submit(ctx context.Context, videoPath, outputPath, modelType string) (string, error) {
	if !r.engine.Initialized(modelType) {
		return "", fmt.Errorf("%s: %w", modelType, inference.ErrNotInitialized)
	}

	meta, err := r.opener.Probe(ctx, videoPath)
	if err != nil {
		return "", err
	}
	if meta.TotalFrames == 0 {
		return "", fmt.Errorf("%s: %w", videoPath, video.ErrEmptyVideo)
	}

	jobID := NewJobID(videoPath, time.Now())
	token, err := r.registry.Create(jobID, videoPath, outputPath, modelType)
	if errors.Is(err, ErrAlreadyExists) {
		// effectively impossible, but checked: salt with a fresh uuid
		jobID = NewJobID(videoPath+uuid.NewString(), time.Now())
		token, err = r.registry.Create(jobID, videoPath, outputPath, modelType)
	}
	if err != nil {
		return "", err
	}

	r.wg.Add(1)
	go r.run(jobID, token, videoPath, outputPath, modelType)

	r.logger.Info("inference job submitted",
		"job_id", jobID,
		"video", videoPath,
		"model_type", modelType,
		"total_frames", meta.TotalFrames,
	)
	r.publish(service.EventTypeJobSubmitted, map[string]interface{}{
		"job_id":     jobID,
		"video":      videoPath,
		"model_type": modelType,
	})
	return jobID, nil
}

// Wait blocks until all in-flight jobs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// run drives one job to a terminal state. A failure is contained to this
// job; the hosting process survives.
func (r *Runner) run(jobID string, token CancelToken, videoPath, outputPath, modelType string) {
	defer r.wg.Done()

	log := r.logger.With("job_id", jobID, "video", videoPath)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("job panicked", "panic", rec)
			r.finish(jobID, StatusFailed, "", fmt.Errorf("panic: %v", rec), modelType, start)
		}
	}()

	// Admission: bound concurrent device use. A cancel while queued takes
	// effect before any decoding happens.
	select {
	case r.admit <- struct{}{}:
	case <-token.Done():
		r.finish(jobID, StatusCancelled, "", nil, modelType, start)
		return
	}
	defer func() { <-r.admit }()

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	// Jobs are scheduled independently of the request that created them.
	ctx := context.Background()

	input := videoPath
	if r.cfg.StageInputs {
		staged, err := r.stageInput(videoPath)
		if err != nil {
			r.finish(jobID, StatusFailed, "", err, modelType, start)
			return
		}
		input = staged
		// staging artifacts are removed on every exit path
		defer func() {
			if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
				log.Warn("failed to remove staged input", "path", staged, "error", err)
			}
		}()
	}

	src, err := r.opener.Open(ctx, input)
	if err != nil {
		r.finish(jobID, StatusFailed, "", err, modelType, start)
		return
	}
	defer src.Close()

	meta := src.Meta()
	if meta.TotalFrames == 0 {
		r.finish(jobID, StatusFailed, "", fmt.Errorf("%s: %w", videoPath, video.ErrEmptyVideo), modelType, start)
		return
	}
	if err := r.registry.SetVideoInfo(jobID, meta.TotalFrames, meta.FPS, meta.Width, meta.Height); err != nil {
		r.finish(jobID, StatusFailed, "", err, modelType, start)
		return
	}

	doc := &ResultDocument{
		VideoPath: videoPath,
		FPS:       meta.FPS,
		Width:     meta.Width,
		Height:    meta.Height,
		ModelType: modelType,
		Results:   make([]FrameRecord, 0, meta.TotalFrames),
	}

	processed := 0
	for {
		// cooperative cancel, checked at every iteration boundary
		if token.Cancelled() {
			log.Info("job cancelled", "frames_processed", processed)
			r.finish(jobID, StatusCancelled, "", nil, modelType, start)
			return
		}

		frame, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// a partial, incoherent result document is worse than an
			// explicit failure
			r.finish(jobID, StatusFailed, "", err, modelType, start)
			return
		}

		result, err := r.engine.InferFrame(ctx, frame, modelType)
		if err != nil {
			r.finish(jobID, StatusFailed, "", err, modelType, start)
			return
		}

		doc.Results = append(doc.Results, FrameRecord{
			FrameNumber: frame.Index,
			Classes:     result.Classes,
			Detections:  result.Detections,
		})
		processed++
		metrics.FramesProcessedTotal.Inc()

		progress := float64(processed) / float64(meta.TotalFrames) * 100

		var preview []byte
		if frame.Index%r.cfg.PreviewInterval == 0 {
			preview = r.renderPreview(frame, result.Detections, log)
		}
		if err := r.registry.UpdateProgress(jobID, processed, progress, preview); err != nil {
			r.finish(jobID, StatusFailed, "", err, modelType, start)
			return
		}
	}

	doc.TotalFrames = processed
	resultFile, err := doc.Write(outputPath)
	if err != nil {
		r.finish(jobID, StatusFailed, "", err, modelType, start)
		return
	}

	r.finish(jobID, StatusCompleted, resultFile, nil, modelType, start)
	log.Info("job completed",
		"frames", processed,
		"result_file", resultFile,
		"duration", time.Since(start).String(),
	)
}

// renderPreview rasterizes the detection overlay for the latest-frame
// preview. Rendering failures degrade the preview, never the job.
func (r *Runner) renderPreview(frame *video.Frame, detections []inference.Detection, log *logger.Logger) []byte {
	overlay := inference.RenderOverlay(frame, detections)
	previewFrame := &video.Frame{Index: frame.Index, Image: overlay, Width: frame.Width, Height: frame.Height}
	encoded, err := previewFrame.EncodeJPEG(r.cfg.PreviewJPEGQuality)
	if err != nil {
		log.Warn("preview encode failed", "frame", frame.Index, "error", err)
		return nil
	}
	return encoded
}

// finish performs the terminal transition and records job metrics.
func (r *Runner) finish(jobID string, status Status, resultFile string, jobErr error, modelType string, start time.Time) {
	if err := r.registry.Finalize(jobID, status, resultFile, jobErr); err != nil {
		r.logger.Warn("finalize failed", "job_id", jobID, "status", status, "error", err)
	}
	if jobErr != nil {
		r.logger.Error("job failed", "job_id", jobID, "error", jobErr)
	}
	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	metrics.JobDuration.WithLabelValues(modelType).Observe(time.Since(start).Seconds())

	data := map[string]interface{}{
		"job_id": jobID,
		"status": string(status),
	}
	if jobErr != nil {
		data["error"] = jobErr.Error()
	}
	switch status {
	case StatusCompleted:
		r.publish(service.EventTypeJobCompleted, data)
	case StatusCancelled:
		r.publish(service.EventTypeJobCancelled, data)
	case StatusFailed:
		r.publish(service.EventTypeJobFailed, data)
	}
}

// stageInput copies the source video into the staging directory.
func (r *Runner) stageInput(videoPath string) (string, error) {
	if err := os.MkdirAll(r.cfg.StagingDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	staged := filepath.Join(r.cfg.StagingDir, uuid.NewString()+filepath.Ext(videoPath))
	in, err := os.Open(videoPath)
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(staged)
	if err != nil {
		return "", fmt.Errorf("create staged copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(staged)
		return "", fmt.Errorf("stage input: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(staged)
		return "", fmt.Errorf("stage input: %w", err)
	}
	return staged, nil
}
