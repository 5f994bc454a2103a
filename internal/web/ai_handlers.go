package web

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pipesight/inspectord/internal/inference"
	"github.com/pipesight/inspectord/internal/metrics"
	"github.com/pipesight/inspectord/internal/project"
	"github.com/pipesight/inspectord/internal/service"
	"github.com/pipesight/inspectord/internal/video"
	"github.com/prometheus/client_golang/prometheus"
)

// handleInitializeModel loads a model on the execution service
func (s *Server) handleInitializeModel(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Inference engine not available",
		})
		return
	}

	var req struct {
		ModelType string `json:"model_type"`
		ModelPath string `json:"model_path"`
	}
	// The body is optional; defaults cover the common case.
	_ = c.ShouldBindJSON(&req)

	modelType := req.ModelType
	if modelType == "" {
		modelType = s.config.Model.DefaultModelType
	}

	already, device, err := s.engine.Initialize(c.Request.Context(), modelType, req.ModelPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Failed to initialize model: %v", err),
		})
		return
	}

	message := "Model initialized"
	if already {
		message = "Model already initialized"
	}
	if !already {
		s.PublishEvent(service.EventTypeModelInitialized, map[string]interface{}{
			"model_type": modelType,
			"device":     device,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    message,
		"model_type": modelType,
		"device":     device,
	})
}

// handleInferBox runs region inference on a caller-drawn bounding box and
// returns the dominant class with its polygon and an overlay rendering
func (s *Server) handleInferBox(c *gin.Context) {
	if s.engine == nil || s.frames == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Inference engine not available",
		})
		return
	}

	var req struct {
		ProjectID   string `json:"project_id"`
		ProjectDir  string `json:"project_dir"`
		VideoID     string `json:"video_id"`
		FrameNumber *int   `json:"frame_number"`
		ModelType   string `json:"model_type"`
		Box         *struct {
			X      int `json:"x"`
			Y      int `json:"y"`
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"box"`
	}

	if err := c.ShouldBindJSON(&req); err != nil ||
		(req.ProjectID == "" && req.ProjectDir == "") ||
		req.VideoID == "" || req.FrameNumber == nil || req.Box == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing required parameters: project_id, video_id, frame_number, box",
		})
		return
	}

	proj, vid, err := s.lookupVideo(req.ProjectID, req.ProjectDir, req.VideoID)
	if err != nil {
		s.respondProjectError(c, err)
		return
	}

	videoPath := proj.VideoPath(vid)
	if _, err := os.Stat(videoPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Video file not found: %s", videoPath),
		})
		return
	}

	modelType := req.ModelType
	if modelType == "" {
		modelType = s.config.Model.DefaultModelType
	}

	frame, meta, err := s.frames.ReadRawFrame(c.Request.Context(), videoPath, *req.FrameNumber)
	if err != nil {
		if video.IsOutOfRange(err) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Failed to read frame: %v", err),
		})
		return
	}

	box := image.Rect(req.Box.X, req.Box.Y, req.Box.X+req.Box.Width, req.Box.Y+req.Box.Height)

	timer := prometheus.NewTimer(metrics.InteractiveInferenceDuration)
	result, err := s.engine.InferRegion(c.Request.Context(), frame, box, modelType)
	timer.ObserveDuration()
	if err != nil {
		if errors.Is(err, inference.ErrNotInitialized) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Model not initialized. Call /api/ai/initialize first.",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	var detections []inference.Detection
	if result.Detection != nil {
		detections = append(detections, *result.Detection)
	}
	overlay := inference.RenderOverlay(frame, detections)
	overlayJPEG, err := (&video.Frame{Index: frame.Index, Image: overlay, Width: frame.Width, Height: frame.Height}).EncodeJPEG(90)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	resp := gin.H{
		"success":              true,
		"image":                base64.StdEncoding.EncodeToString(overlayJPEG),
		"width":                meta.Width,
		"height":               meta.Height,
		"dominant_class":       result.DominantClass,
		"dominant_class_name":  result.DominantLabel,
		"dominant_class_ratio": result.DominantRatio,
	}
	if result.Detection != nil {
		resp["detection"] = result.Detection
		resp["polygon"] = result.Detection.Polygon
	} else {
		resp["polygon"] = []inference.Point{}
	}
	c.JSON(http.StatusOK, resp)
}

// handleVideoFrame serves one frame of a project video as a transport JPEG
func (s *Server) handleVideoFrame(c *gin.Context) {
	if s.frames == nil || s.projects == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Frame accessor not available",
		})
		return
	}

	frameNumber, err := strconv.Atoi(c.Param("frame_number"))
	if err != nil || frameNumber < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid frame number",
		})
		return
	}

	proj, vid, err := s.projects.FindVideo(c.Param("project_id"), c.Param("video_id"))
	if err != nil {
		s.respondProjectError(c, err)
		return
	}

	videoPath := proj.VideoPath(vid)
	if _, err := os.Stat(videoPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Video file not found: %s", videoPath),
		})
		return
	}

	data, _, err := s.frames.ReadFrame(c.Request.Context(), videoPath, frameNumber)
	if err != nil {
		if video.IsOutOfRange(err) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Failed to read frame: %v", err),
		})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// lookupVideo finds a project video either through the configured store or
// from an explicit project directory.
func (s *Server) lookupVideo(projectID, projectDir, videoID string) (*project.Project, *project.Video, error) {
	if projectDir != "" {
		proj, err := project.LoadDir(projectDir)
		if err != nil {
			return nil, nil, err
		}
		vid, err := proj.FindVideo(videoID)
		if err != nil {
			return nil, nil, err
		}
		return proj, vid, nil
	}
	if s.projects == nil {
		return nil, nil, project.ErrProjectNotFound
	}
	return s.projects.FindVideo(projectID, videoID)
}

func (s *Server) respondProjectError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, project.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Project not found"})
	case errors.Is(err, project.ErrVideoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Video not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}
