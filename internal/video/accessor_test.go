package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipesight/inspectord/internal/logger"
)

func staticProbe(totalFrames int) func(ctx context.Context, videoPath string) (*Metadata, error) {
	return func(ctx context.Context, videoPath string) (*Metadata, error) {
		return &Metadata{TotalFrames: totalFrames, FPS: 30, Width: 16, Height: 16}, nil
	}
}

func decodedFrame(index int) *Frame {
	return &Frame{
		Index:  index,
		Image:  image.NewRGBA(image.Rect(0, 0, 16, 16)),
		Width:  16,
		Height: 16,
	}
}

// newTestAccessor builds an accessor with stubbed probe and decode.
// failAt lists frame indices whose decode fails; attempts records the
// decode order.
func newTestAccessor(totalFrames int, failAt map[int]bool, attempts *[]int) *Accessor {
	a := &Accessor{
		logger:            logger.NewNop(),
		fallbackIndices:   defaultFallbackIndices,
		fallbackThreshold: defaultFallbackThreshold,
	}
	a.probe = staticProbe(totalFrames)
	a.decode = func(ctx context.Context, videoPath string, meta *Metadata, frameIndex int) (*Frame, error) {
		*attempts = append(*attempts, frameIndex)
		if failAt[frameIndex] {
			return nil, fmt.Errorf("frame %d: %w", frameIndex, ErrFrameDecode)
		}
		return decodedFrame(frameIndex), nil
	}
	return a
}

func TestReadFrameRangeValidation(t *testing.T) {
	var attempts []int
	a := newTestAccessor(300, nil, &attempts)
	ctx := context.Background()

	_, meta, err := a.ReadFrame(ctx, "/videos/run.mp4", -1)
	require.Error(t, err)
	assert.True(t, IsOutOfRange(err))
	assert.Equal(t, 300, meta.TotalFrames)

	_, _, err = a.ReadFrame(ctx, "/videos/run.mp4", 300)
	require.Error(t, err)
	assert.True(t, IsOutOfRange(err))

	// Validation happens before any decode
	assert.Empty(t, attempts)

	data, _, err := a.ReadFrame(ctx, "/videos/run.mp4", 299)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
}

func TestReadFrameEmptyVideo(t *testing.T) {
	var attempts []int
	a := newTestAccessor(0, nil, &attempts)

	_, _, err := a.ReadFrame(context.Background(), "/videos/empty.mp4", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyVideo)
	assert.Empty(t, attempts)
}

func TestReadFrameFallbackRecovery(t *testing.T) {
	var attempts []int
	a := newTestAccessor(300, map[int]bool{0: true, 10: true, 30: true}, &attempts)

	data, meta, err := a.ReadFrame(context.Background(), "/videos/run.mp4", 0)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, 300, meta.TotalFrames)

	// Requested frame first, then the ladder until one decodes
	assert.Equal(t, []int{0, 10, 30, 50}, attempts)
}

func TestReadFrameFallbackExhausted(t *testing.T) {
	var attempts []int
	failAt := map[int]bool{5: true, 10: true}
	a := newTestAccessor(20, failAt, &attempts)

	_, _, err := a.ReadFrame(context.Background(), "/videos/short.mp4", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameDecode)

	// Ladder entries at or past the frame count are never attempted
	assert.Equal(t, []int{5, 10}, attempts)
}

func TestReadFrameNoFallbackPastThreshold(t *testing.T) {
	var attempts []int
	a := newTestAccessor(300, map[int]bool{250: true}, &attempts)

	_, _, err := a.ReadFrame(context.Background(), "/videos/run.mp4", 250)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameDecode)
	assert.Equal(t, []int{250}, attempts)
}

func TestReadFrameCustomFallbackPolicy(t *testing.T) {
	var attempts []int
	a := newTestAccessor(300, map[int]bool{1: true, 2: true}, &attempts)
	a.SetFallbackPolicy([]int{2, 4}, 3)

	data, _, err := a.ReadFrame(context.Background(), "/videos/run.mp4", 1)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, []int{1, 2, 4}, attempts)

	// Past the custom threshold the ladder is skipped
	attempts = attempts[:0]
	a.decode = func(ctx context.Context, videoPath string, meta *Metadata, frameIndex int) (*Frame, error) {
		attempts = append(attempts, frameIndex)
		return nil, fmt.Errorf("frame %d: %w", frameIndex, ErrFrameDecode)
	}
	_, _, err = a.ReadFrame(context.Background(), "/videos/run.mp4", 3)
	require.Error(t, err)
	assert.Equal(t, []int{3}, attempts)
}

func TestReadRawFrame(t *testing.T) {
	var attempts []int
	a := newTestAccessor(300, nil, &attempts)

	frame, meta, err := a.ReadRawFrame(context.Background(), "/videos/run.mp4", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, frame.Index)
	assert.Equal(t, 300, meta.TotalFrames)
}

func TestReadRawFrameNoFallback(t *testing.T) {
	var attempts []int
	a := newTestAccessor(300, map[int]bool{0: true}, &attempts)

	_, _, err := a.ReadRawFrame(context.Background(), "/videos/run.mp4", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameDecode)

	// Raw reads have no recovery ladder
	assert.Equal(t, []int{0}, attempts)
}

func TestReadRawFrameOutOfRange(t *testing.T) {
	var attempts []int
	a := newTestAccessor(100, nil, &attempts)

	_, _, err := a.ReadRawFrame(context.Background(), "/videos/run.mp4", 100)
	require.Error(t, err)
	assert.True(t, IsOutOfRange(err))
	assert.Empty(t, attempts)

	var oor *OutOfRangeError
	require.True(t, errors.As(err, &oor))
	assert.Equal(t, 100, oor.TotalFrames)
}
