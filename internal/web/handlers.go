package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pipesight/inspectord/internal/health"
	"github.com/pipesight/inspectord/internal/inference"
	"github.com/pipesight/inspectord/internal/jobs"
	"github.com/pipesight/inspectord/internal/motion"
	"github.com/pipesight/inspectord/internal/service"
	"github.com/pipesight/inspectord/internal/video"
)

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	if s.healthMgr == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "api-server",
		})
		return
	}

	report := s.healthMgr.Check(c.Request.Context())

	statusCode := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, report)
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	healthy := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		healthy = "unhealthy"
	}

	active, total := 0, 0
	if s.registry != nil {
		snapshots := s.registry.List()
		total = len(snapshots)
		for _, snap := range snapshots {
			if !snap.Status.Terminal() {
				active++
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         healthy,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
		"jobs": gin.H{
			"active": active,
			"total":  total,
		},
	})
}

// handleStartInference handles submitting a batch inference job
func (s *Server) handleStartInference(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Job runner not available",
		})
		return
	}

	var req struct {
		VideoPath  string `json:"video_path" binding:"required"`
		OutputPath string `json:"output_path"`
		ModelType  string `json:"model_type"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing required parameter: video_path",
		})
		return
	}

	modelType := req.ModelType
	if modelType == "" {
		modelType = s.config.Model.DefaultModelType
	}

	videoPath := s.resolvePath(req.VideoPath)
	if _, err := os.Stat(videoPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Video file not found: %s", videoPath),
		})
		return
	}

	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = "inference_results"
	}
	outputPath = s.resolvePath(outputPath)

	jobID, err := s.runner.Submit(c.Request.Context(), videoPath, outputPath, modelType)
	if err != nil {
		switch {
		case errors.Is(err, inference.ErrNotInitialized):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   fmt.Sprintf("Model not initialized. Call /api/ai/initialize first. (%s)", modelType),
			})
		case errors.Is(err, video.ErrEmptyVideo):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"success": false,
				"error":   err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":     true,
		"job_id":      jobID,
		"message":     "Inference started",
		"video_path":  videoPath,
		"output_path": outputPath,
	})
}

// handleListJobs lists all known jobs
func (s *Server) handleListJobs(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Job registry not available",
		})
		return
	}

	snapshots := s.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"jobs":    snapshots,
		"count":   len(snapshots),
	})
}

// handleInferenceStatus handles the job status poll endpoint
func (s *Server) handleInferenceStatus(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Job registry not available",
		})
		return
	}

	snap, err := s.registry.Get(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Job not found",
		})
		return
	}

	resp := gin.H{
		"success":       true,
		"job_id":        snap.JobID,
		"status":        snap.Status,
		"progress":      snap.Progress,
		"current_frame": snap.CurrentFrame,
		"total_frames":  snap.TotalFrames,
		"video_path":    snap.VideoPath,
		"output_path":   snap.OutputPath,
	}
	if snap.ResultFile != "" {
		resp["result_file"] = snap.ResultFile
	}
	if snap.Error != "" {
		resp["error"] = snap.Error
	}
	c.JSON(http.StatusOK, resp)
}

// handleCancelInference handles the cooperative cancel request
func (s *Server) handleCancelInference(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Job registry not available",
		})
		return
	}

	jobID := c.Param("job_id")
	err := s.registry.RequestCancel(jobID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Cancel request sent",
			"job_id":  jobID,
		})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Job not found",
		})
	case errors.Is(err, jobs.ErrAlreadyCompleted):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Job already completed",
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
	}
}

// handleInferencePreview serves the job's most recent overlay frame
func (s *Server) handleInferencePreview(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Job registry not available",
		})
		return
	}

	preview, err := s.registry.Preview(c.Param("job_id"))
	switch {
	case err == nil:
		c.Data(http.StatusOK, "image/jpeg", preview)
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Job not found",
		})
	case errors.Is(err, jobs.ErrNoPreview):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "No preview frame available yet",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
	}
}

// handleCheckResults reports whether a result document already exists for
// the given output path, so clients can skip resubmitting finished videos
func (s *Server) handleCheckResults(c *gin.Context) {
	var req struct {
		VideoPath  string `json:"video_path" binding:"required"`
		OutputPath string `json:"output_path" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing required parameters",
		})
		return
	}

	outputPath := s.resolvePath(req.OutputPath)
	resultFile := filepath.Join(outputPath, jobs.ResultFileName)
	if _, err := os.Stat(resultFile); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"exists":  false,
		})
		return
	}

	doc, err := jobs.LoadResultDocument(resultFile)
	if err != nil {
		// Unreadable result files count as absent
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"exists":  false,
			"error":   "Result file corrupted",
		})
		return
	}

	videoPath := doc.VideoPath
	if videoPath == "" {
		videoPath = req.VideoPath
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"exists":       true,
		"result_path":  outputPath,
		"total_frames": doc.TotalFrames,
		"fps":          doc.FPS,
		"video_path":   videoPath,
		"frame_count":  len(doc.Results),
		"width":        doc.Width,
		"height":       doc.Height,
		"model_type":   doc.ModelType,
	})
}

// handleInferenceResults returns a job's full result document for
// client-side rendering
func (s *Server) handleInferenceResults(c *gin.Context) {
	var req struct {
		ResultPath string `json:"result_path" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Result path required",
		})
		return
	}

	doc, err := jobs.LoadResultDocument(s.resolvePath(req.ResultPath))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Result file not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    doc,
	})
}

// motionPayload is the terminal analyze-motion response body.
type motionPayload struct {
	Success bool `json:"success"`
	*motion.Analysis
}

// handleAnalyzeMotion handles motion analysis over a completed job's result
// document, optionally streaming progress as server-sent events.
func (s *Server) handleAnalyzeMotion(c *gin.Context) {
	if s.analyzer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Motion analyzer not available",
		})
		return
	}

	var req struct {
		ResultPath         string   `json:"result_path" binding:"required"`
		MotionThreshold    *float64 `json:"motion_threshold"`
		MinSegmentDuration *float64 `json:"min_segment_duration"`
		StreamProgress     bool     `json:"stream_progress"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Result path required",
		})
		return
	}

	threshold := 5.0
	if req.MotionThreshold != nil {
		threshold = *req.MotionThreshold
	}
	minDuration := 1.0
	if req.MinSegmentDuration != nil {
		minDuration = *req.MinSegmentDuration
	}

	doc, err := jobs.LoadResultDocument(s.resolvePath(req.ResultPath))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Result file not found",
		})
		return
	}

	if !req.StreamProgress {
		analysis, err := s.analyzer.Analyze(c.Request.Context(), doc, threshold, minDuration, nil)
		if err != nil {
			s.respondMotionError(c, err)
			return
		}
		s.publishMotionAnalyzed(req.ResultPath, analysis)
		c.JSON(http.StatusOK, motionPayload{Success: true, Analysis: analysis})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// Progress events interleave with the analysis itself; the analyzer
	// invokes the callback synchronously so event order matches frame order.
	analysis, err := s.analyzer.Analyze(c.Request.Context(), doc, threshold, minDuration, func(p motion.Progress) {
		s.writeSSE(c, p)
	})
	if err != nil {
		s.writeSSE(c, gin.H{"success": false, "error": err.Error()})
		return
	}
	s.publishMotionAnalyzed(req.ResultPath, analysis)
	s.writeSSE(c, motionPayload{Success: true, Analysis: analysis})
}

func (s *Server) publishMotionAnalyzed(resultPath string, analysis *motion.Analysis) {
	s.PublishEvent(service.EventTypeMotionAnalyzed, map[string]interface{}{
		"result_path":   resultPath,
		"segment_count": len(analysis.Segments),
	})
}

func (s *Server) respondMotionError(c *gin.Context, err error) {
	if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
}

// writeSSE writes one server-sent event frame and flushes it downstream.
func (s *Server) writeSSE(c *gin.Context, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal SSE payload", "error", err)
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

// handleExtractRepresentatives picks the highest-detection frames per
// low-motion segment
func (s *Server) handleExtractRepresentatives(c *gin.Context) {
	var req struct {
		ResultPath       string           `json:"result_path" binding:"required"`
		Segments         []motion.Segment `json:"segments"`
		FramesPerSegment int              `json:"frames_per_segment"`
		MinConfidence    *float64         `json:"min_confidence"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Result path required",
		})
		return
	}

	if len(req.Segments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "No segments provided",
		})
		return
	}

	framesPerSegment := req.FramesPerSegment
	if framesPerSegment <= 0 {
		framesPerSegment = 3
	}
	minConfidence := 0.5
	if req.MinConfidence != nil {
		minConfidence = *req.MinConfidence
	}

	doc, err := jobs.LoadResultDocument(s.resolvePath(req.ResultPath))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Result file not found",
		})
		return
	}

	extraction := motion.ExtractRepresentatives(doc, req.Segments, framesPerSegment, minConfidence)

	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"frames_per_segment":    extraction.FramesPerSegment,
		"min_confidence":        extraction.MinConfidence,
		"total_frames":          extraction.TotalFrames,
		"total_detections":      extraction.TotalDetections,
		"representative_frames": extraction.Frames,
	})
}

// resolvePath anchors relative request paths at the configured data
// directory.
func (s *Server) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.config.Storage.DataDir, path)
}
