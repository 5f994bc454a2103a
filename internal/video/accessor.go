package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/pipesight/inspectord/internal/logger"
)

// Fallback policy for containers whose leading frames are undecodable due
// to keyframe placement, a known artifact of some DVR exports. The index
// list and threshold are empirical; tunable, not correctness-critical.
var (
	defaultFallbackIndices   = []int{10, 30, 50, 100, 150, 200}
	defaultFallbackThreshold = 200
)

const transportJPEGQuality = 90

// Accessor decodes single frames from a video container by index.
// Each call opens and releases one decoder; callers needing many
// sequential frames should use a Reader instead.
type Accessor struct {
	ffmpeg            *FFmpeg
	logger            *logger.Logger
	fallbackIndices   []int
	fallbackThreshold int

	// Seams for tests; production wiring points these at ffmpeg.
	probe  func(ctx context.Context, videoPath string) (*Metadata, error)
	decode func(ctx context.Context, videoPath string, meta *Metadata, frameIndex int) (*Frame, error)
}

// NewAccessor creates a frame accessor over the given ffmpeg toolchain.
func NewAccessor(ffmpeg *FFmpeg, log *logger.Logger) *Accessor {
	a := &Accessor{
		ffmpeg:            ffmpeg,
		logger:            log,
		fallbackIndices:   defaultFallbackIndices,
		fallbackThreshold: defaultFallbackThreshold,
	}
	a.probe = ffmpeg.Probe
	a.decode = a.decodeAt
	return a
}

// ReadFrame decodes the frame at the given 0-based index and returns it as
// JPEG bytes plus the container metadata. Indices outside [0, TotalFrames)
// fail with an OutOfRangeError. A decode failure below the fallback
// threshold retries an escalating sequence of later indices and returns the
// first frame that decodes.
func (a *Accessor) ReadFrame(ctx context.Context, videoPath string, frameIndex int) ([]byte, *Metadata, error) {
	meta, err := a.probe(ctx, videoPath)
	if err != nil {
		return nil, nil, err
	}
	if meta.TotalFrames == 0 {
		return nil, nil, fmt.Errorf("%s: %w", videoPath, ErrEmptyVideo)
	}

	if frameIndex < 0 || frameIndex >= meta.TotalFrames {
		return nil, meta, &OutOfRangeError{Index: frameIndex, TotalFrames: meta.TotalFrames}
	}

	frame, err := a.decode(ctx, videoPath, meta, frameIndex)
	if err != nil {
		if frameIndex >= a.fallbackThreshold {
			return nil, meta, err
		}
		a.logger.Info("frame decode failed, searching for first valid frame",
			"video", videoPath, "frame", frameIndex)
		for _, fallback := range a.fallbackIndices {
			if fallback >= meta.TotalFrames {
				break
			}
			frame, err = a.decode(ctx, videoPath, meta, fallback)
			if err == nil {
				a.logger.Info("using fallback frame", "requested", frameIndex, "fallback", fallback)
				break
			}
		}
		if err != nil {
			return nil, meta, fmt.Errorf("frame %d and all fallbacks: %w", frameIndex, ErrFrameDecode)
		}
	}

	encoded, err := frame.EncodeJPEG(transportJPEGQuality)
	if err != nil {
		return nil, meta, err
	}
	return encoded, meta, nil
}

// ReadRawFrame decodes a single frame without transport encoding. Used by
// in-process callers (interactive inference) that operate on pixels.
func (a *Accessor) ReadRawFrame(ctx context.Context, videoPath string, frameIndex int) (*Frame, *Metadata, error) {
	meta, err := a.probe(ctx, videoPath)
	if err != nil {
		return nil, nil, err
	}
	if meta.TotalFrames == 0 {
		return nil, nil, fmt.Errorf("%s: %w", videoPath, ErrEmptyVideo)
	}
	if frameIndex < 0 || frameIndex >= meta.TotalFrames {
		return nil, meta, &OutOfRangeError{Index: frameIndex, TotalFrames: meta.TotalFrames}
	}

	frame, err := a.decode(ctx, videoPath, meta, frameIndex)
	if err != nil {
		return nil, meta, err
	}
	return frame, meta, nil
}

// decodeAt extracts exactly one frame by index. Seek is frame-accurate via
// the select filter, not timestamp-based.
func (a *Accessor) decodeAt(ctx context.Context, videoPath string, meta *Metadata, frameIndex int) (*Frame, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("select=eq(n\\,%d)", frameIndex),
		"-vsync", "0",
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-",
	}

	cmd := a.ffmpeg.BuildCommand(ctx, args)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &bytes.Buffer{}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("frame %d: %w: %v", frameIndex, ErrFrameDecode, err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("frame %d: no data: %w", frameIndex, ErrFrameDecode)
	}

	img, err := jpeg.Decode(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w: %v", frameIndex, ErrFrameDecode, err)
	}

	rgba, ok := img.(*image.RGBA)
	if !ok {
		bounds := img.Bounds()
		rgba = image.NewRGBA(bounds)
		draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	}

	bounds := rgba.Bounds()
	return &Frame{
		Index:  frameIndex,
		Image:  rgba,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// SetFallbackPolicy overrides the corrupted-leading-frame recovery policy.
func (a *Accessor) SetFallbackPolicy(indices []int, threshold int) {
	a.fallbackIndices = indices
	a.fallbackThreshold = threshold
}
