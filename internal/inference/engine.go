package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/pipesight/inspectord/internal/logger"
	"github.com/pipesight/inspectord/internal/video"
)

// ErrNotInitialized indicates inference was requested before the model was
// loaded. Callers must initialize and retry; not auto-retried internally so
// misconfiguration stays visible.
var ErrNotInitialized = errors.New("model not initialized")

const (
	// ModelSegformer runs full-frame dense classification.
	ModelSegformer = "segformer"
	// ModelYOLO runs discrete object detection.
	ModelYOLO = "yolo"

	maxPolygonPoints = 150
)

// EngineConfig tunes mask post-processing.
type EngineConfig struct {
	MinContourArea int     // contours below this pixel area are noise
	PolygonEpsilon float64 // Douglas-Peucker tolerance, fraction of perimeter
}

// Engine adapts the model execution service into frame-level inference.
// The underlying execution context is single-threaded per device, so all
// interactive single-frame calls go through one mutual-exclusion gate.
// Batch job runs bypass the gate and are admitted by the job engine's own
// concurrency limit instead.
type Engine struct {
	client *Client
	logger *logger.Logger
	cfg    EngineConfig

	gate sync.Mutex // serializes interactive inference

	mu          sync.Mutex
	initialized map[string][]string // model type -> class names
}

// NewEngine creates an inference engine over the given model service client.
func NewEngine(client *Client, cfg EngineConfig, log *logger.Logger) *Engine {
	if cfg.MinContourArea == 0 {
		cfg.MinContourArea = 100
	}
	if cfg.PolygonEpsilon == 0 {
		cfg.PolygonEpsilon = 0.005
	}
	return &Engine{
		client:      client,
		logger:      log,
		cfg:         cfg,
		initialized: make(map[string][]string),
	}
}

// Initialize loads the model on the execution service. Idempotent: repeated
// calls after a successful load report alreadyInitialized and change nothing.
func (e *Engine) Initialize(ctx context.Context, modelType, modelPath string) (alreadyInitialized bool, device string, err error) {
	resp, err := e.client.Initialize(ctx, modelType, modelPath)
	if err != nil {
		return false, "", fmt.Errorf("initialize %s: %w", modelType, err)
	}

	e.mu.Lock()
	_, known := e.initialized[modelType]
	e.initialized[modelType] = resp.Classes
	e.mu.Unlock()

	return known || resp.AlreadyInitialized, resp.Device, nil
}

// Initialized reports whether the given model type has been loaded.
func (e *Engine) Initialized(modelType string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.initialized[modelType]
	return ok
}

func (e *Engine) classNames(modelType string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	classes, ok := e.initialized[modelType]
	if !ok {
		return nil, fmt.Errorf("%s: %w", modelType, ErrNotInitialized)
	}
	return classes, nil
}

// InferFrame runs whole-frame inference. Used by batch job runs, which are
// expected to hold the device for their duration; interactive callers use
// InferFrameInteractive.
func (e *Engine) InferFrame(ctx context.Context, frame *video.Frame, modelType string) (*FrameResult, error) {
	classes, err := e.classNames(modelType)
	if err != nil {
		return nil, err
	}

	jpegData, err := frame.EncodeJPEG(90)
	if err != nil {
		return nil, err
	}

	if modelType == ModelYOLO {
		return e.inferDetections(ctx, frame.Index, jpegData, modelType)
	}
	return e.inferSegmentation(ctx, frame.Index, jpegData, modelType, classes)
}

// InferFrameInteractive is InferFrame behind the interactive serialization
// gate. Concurrent callers queue and are served strictly in turn.
func (e *Engine) InferFrameInteractive(ctx context.Context, frame *video.Frame, modelType string) (*FrameResult, error) {
	e.gate.Lock()
	defer e.gate.Unlock()
	return e.InferFrame(ctx, frame, modelType)
}

// InferRegion classifies a caller-supplied rectangular crop and returns the
// dominant non-background class with its polygon in full-frame coordinates.
// A background-dominant crop yields a nil Detection, not a zero-confidence
// one.
func (e *Engine) InferRegion(ctx context.Context, frame *video.Frame, box image.Rectangle, modelType string) (*RegionResult, error) {
	classes, err := e.classNames(modelType)
	if err != nil {
		return nil, err
	}

	box = box.Intersect(frame.Image.Bounds())
	if box.Empty() {
		return nil, fmt.Errorf("box outside frame bounds")
	}

	crop := cropRGBA(frame.Image, box)
	cropFrame := &video.Frame{Index: frame.Index, Image: crop, Width: box.Dx(), Height: box.Dy()}
	jpegData, err := cropFrame.EncodeJPEG(90)
	if err != nil {
		return nil, err
	}

	e.gate.Lock()
	resp, err := e.client.Segment(ctx, jpegData, modelType)
	e.gate.Unlock()
	if err != nil {
		return nil, err
	}

	mask, err := DecodeClassMask(resp.Mask)
	if err != nil {
		return nil, err
	}

	dominant, count, found := mask.DominantNonBackground()
	if !found {
		return &RegionResult{
			DominantClass: 0,
			DominantLabel: className(classes, 0),
			DominantRatio: 1.0,
		}, nil
	}

	ratio := float64(count) / float64(len(mask.Pix))
	result := &RegionResult{
		DominantClass: int(dominant),
		DominantLabel: className(classes, int(dominant)),
		DominantRatio: ratio,
	}

	contour := largestContour(mask.Binary(dominant).FindContours())
	if len(contour) == 0 {
		return result, nil
	}

	epsilon := e.cfg.PolygonEpsilon * arcLength(contour)
	simplified := capPolygon(simplifyContour(contour, epsilon))

	polygon := make([]Point, len(simplified))
	for i, p := range simplified {
		polygon[i] = Point{X: p.X + box.Min.X, Y: p.Y + box.Min.Y}
	}

	bb := boundingBox(contour)
	result.Detection = &Detection{
		Box:        [4]int{bb[0] + box.Min.X, bb[1] + box.Min.Y, bb[2], bb[3]},
		Label:      result.DominantLabel,
		ClassID:    result.DominantClass,
		Confidence: round3(ratio),
		Polygon:    polygon,
	}
	return result, nil
}

// inferSegmentation converts a dense class mask into per-class regions.
func (e *Engine) inferSegmentation(ctx context.Context, frameIndex int, jpegData []byte, modelType string, classes []string) (*FrameResult, error) {
	resp, err := e.client.Segment(ctx, jpegData, modelType)
	if err != nil {
		return nil, err
	}

	mask, err := DecodeClassMask(resp.Mask)
	if err != nil {
		return nil, err
	}

	result := &FrameResult{
		FrameNumber: frameIndex,
		Classes:     mask.Classes(),
		Detections:  []Detection{},
	}

	for _, classID := range result.Classes {
		if classID == 0 {
			continue
		}
		result.Detections = append(result.Detections, e.extractRegions(mask, uint8(classID), classes)...)
	}
	return result, nil
}

// extractRegions turns one class's mask into discrete detections.
// Contours below the minimum pixel area are discarded as noise.
func (e *Engine) extractRegions(mask *ClassMask, classID uint8, classes []string) []Detection {
	binary := mask.Binary(classID)
	var detections []Detection

	for _, contour := range binary.FindContours() {
		if contourArea(contour) < float64(e.cfg.MinContourArea) {
			continue
		}

		bb := boundingBox(contour)
		classPixels := 0
		for y := bb[1]; y < bb[1]+bb[3]; y++ {
			for x := bb[0]; x < bb[0]+bb[2]; x++ {
				if binary.at(x, y) {
					classPixels++
				}
			}
		}
		fraction := float64(classPixels) / float64(bb[2]*bb[3])

		epsilon := e.cfg.PolygonEpsilon * arcLength(contour)
		simplified := capPolygon(simplifyContour(contour, epsilon))
		polygon := make([]Point, len(simplified))
		for i, p := range simplified {
			polygon[i] = Point{X: p.X, Y: p.Y}
		}

		detections = append(detections, Detection{
			Box:        bb,
			Label:      className(classes, int(classID)),
			ClassID:    int(classID),
			Confidence: round3(fraction),
			Polygon:    polygon,
		})
	}
	return detections
}

// inferDetections maps the detection service response into frame results.
func (e *Engine) inferDetections(ctx context.Context, frameIndex int, jpegData []byte, modelType string) (*FrameResult, error) {
	resp, err := e.client.Detect(ctx, jpegData, modelType)
	if err != nil {
		return nil, err
	}

	result := &FrameResult{
		FrameNumber: frameIndex,
		Detections:  make([]Detection, 0, len(resp.Detections)),
	}

	for _, d := range resp.Detections {
		x1 := int(d.Box[0])
		y1 := int(d.Box[1])
		det := Detection{
			Box:        [4]int{x1, y1, int(d.Box[2]) - x1, int(d.Box[3]) - y1},
			Label:      d.ClassName,
			ClassID:    d.ClassID,
			Confidence: round3(d.Confidence),
		}

		if d.Mask != "" {
			mask, err := DecodeClassMask(d.Mask)
			if err != nil {
				return nil, err
			}
			contour := largestContour(mask.Binary(instanceForeground(mask)).FindContours())
			if len(contour) > 0 {
				epsilon := e.cfg.PolygonEpsilon * arcLength(contour)
				simplified := capPolygon(simplifyContour(contour, epsilon))
				det.Polygon = make([]Point, len(simplified))
				for i, p := range simplified {
					det.Polygon[i] = Point{X: p.X, Y: p.Y}
				}
			}
		}

		result.Detections = append(result.Detections, det)
	}
	return result, nil
}

// instanceForeground picks the foreground class id of a binary instance
// mask, which some services encode as 1 and others as 255.
func instanceForeground(mask *ClassMask) uint8 {
	for _, c := range mask.Pix {
		if c != 0 {
			return c
		}
	}
	return 1
}

// capPolygon uniformly samples down to the polygon point budget.
func capPolygon(points []image.Point) []image.Point {
	if len(points) <= maxPolygonPoints {
		return points
	}
	sampled := make([]image.Point, maxPolygonPoints)
	step := float64(len(points)-1) / float64(maxPolygonPoints-1)
	for i := range sampled {
		sampled[i] = points[int(math.Round(float64(i)*step))]
	}
	return sampled
}

func className(classes []string, id int) string {
	if id >= 0 && id < len(classes) {
		return classes[id]
	}
	return fmt.Sprintf("class_%d", id)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func cropRGBA(img *image.RGBA, box image.Rectangle) *image.RGBA {
	crop := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	for y := 0; y < box.Dy(); y++ {
		srcOff := img.PixOffset(box.Min.X, box.Min.Y+y)
		dstOff := crop.PixOffset(0, y)
		copy(crop.Pix[dstOff:dstOff+box.Dx()*4], img.Pix[srcOff:srcOff+box.Dx()*4])
	}
	return crop
}
