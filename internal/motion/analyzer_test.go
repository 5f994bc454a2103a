package motion

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipesight/inspectord/internal/jobs"
	"github.com/pipesight/inspectord/internal/logger"
	"github.com/pipesight/inspectord/internal/video"
)

// fakeSource synthesizes solid-color frames from a per-frame luma function.
type fakeSource struct {
	meta   video.Metadata
	lumaAt func(frame int) uint8
	next   int
}

func (s *fakeSource) Meta() video.Metadata { return s.meta }

func (s *fakeSource) Next() (*video.Frame, error) {
	if s.next >= s.meta.TotalFrames {
		return nil, io.EOF
	}
	idx := s.next
	s.next++

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	v := s.lumaAt(idx)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = v
		img.Pix[i+1] = v
		img.Pix[i+2] = v
		img.Pix[i+3] = 255
	}
	return &video.Frame{Index: idx, Image: img, Width: 4, Height: 4}, nil
}

func (s *fakeSource) Close() error { return nil }

type fakeOpener struct {
	meta   video.Metadata
	lumaAt func(frame int) uint8
}

func (o *fakeOpener) Open(ctx context.Context, videoPath string) (video.Source, error) {
	return &fakeSource{meta: o.meta, lumaAt: o.lumaAt}, nil
}

// dwellLuma makes frames in [start, end] identical and everything else
// flicker between black and white per sample.
func dwellLuma(sampleInterval, start, end int) func(int) uint8 {
	return func(frame int) uint8 {
		if frame >= start && frame <= end {
			return 128
		}
		if (frame/sampleInterval)%2 == 0 {
			return 0
		}
		return 255
	}
}

func newTestAnalyzer(opener *fakeOpener) *Analyzer {
	return NewAnalyzer(opener, Config{
		SampleInterval:  5,
		DownscaleWidth:  8,
		DownscaleHeight: 8,
	}, logger.NewNop())
}

func testDoc(t *testing.T, totalFrames int, fps float64) *jobs.ResultDocument {
	t.Helper()
	videoPath := filepath.Join(t.TempDir(), "inspection.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("mp4"), 0o644))
	return &jobs.ResultDocument{
		VideoPath:   videoPath,
		TotalFrames: totalFrames,
		FPS:         fps,
	}
}

func TestAnalyzeDetectsDwellSegment(t *testing.T) {
	const totalFrames = 300
	opener := &fakeOpener{
		meta:   video.Metadata{TotalFrames: totalFrames, FPS: 30},
		lumaAt: dwellLuma(5, 100, 200),
	}
	analyzer := newTestAnalyzer(opener)
	doc := testDoc(t, totalFrames, 30)

	analysis, err := analyzer.Analyze(context.Background(), doc, 5.0, 1.0, nil)
	require.NoError(t, err)

	assert.Equal(t, totalFrames, analysis.TotalFrames)
	assert.Equal(t, 30.0, analysis.FPS)
	assert.Equal(t, 5.0, analysis.MotionThreshold)
	require.Len(t, analysis.Segments, 1)
	assert.Equal(t, 1, analysis.SegmentCount)

	seg := analysis.Segments[0]
	// First still-to-still sample is 105, first moving sample after the
	// dwell is 205
	assert.Equal(t, 105, seg.Start)
	assert.Equal(t, 205, seg.End)
	assert.Equal(t, 3.3, seg.Duration)
	assert.Equal(t, 3.5, seg.StartTime)
	assert.Equal(t, 6.8, seg.EndTime)

	assert.Equal(t, 0.0, analysis.Stats.Min)
	assert.Equal(t, 255.0, analysis.Stats.Max)
	assert.Greater(t, analysis.Stats.Avg, 0.0)
}

func TestAnalyzeClosesOpenSegmentAtLastSample(t *testing.T) {
	const totalFrames = 300
	opener := &fakeOpener{
		meta:   video.Metadata{TotalFrames: totalFrames, FPS: 30},
		lumaAt: dwellLuma(5, 250, 299),
	}
	analyzer := newTestAnalyzer(opener)
	doc := testDoc(t, totalFrames, 30)

	analysis, err := analyzer.Analyze(context.Background(), doc, 5.0, 1.0, nil)
	require.NoError(t, err)

	require.Len(t, analysis.Segments, 1)
	seg := analysis.Segments[0]
	assert.Equal(t, 255, seg.Start)
	// Still running at EOF: the segment closes at the last sampled frame
	assert.Equal(t, 295, seg.End)
}

func TestAnalyzeFiltersShortSegments(t *testing.T) {
	const totalFrames = 300
	opener := &fakeOpener{
		meta: video.Metadata{TotalFrames: totalFrames, FPS: 30},
		// 0.66s dwell, below the one-second minimum
		lumaAt: dwellLuma(5, 100, 125),
	}
	analyzer := newTestAnalyzer(opener)
	doc := testDoc(t, totalFrames, 30)

	analysis, err := analyzer.Analyze(context.Background(), doc, 5.0, 1.0, nil)
	require.NoError(t, err)
	assert.Empty(t, analysis.Segments)
	assert.Equal(t, 0, analysis.SegmentCount)
}

func TestAnalyzeNoMotionDetected(t *testing.T) {
	const totalFrames = 150
	opener := &fakeOpener{
		meta:   video.Metadata{TotalFrames: totalFrames, FPS: 30},
		lumaAt: func(frame int) uint8 { return 128 },
	}
	analyzer := newTestAnalyzer(opener)
	doc := testDoc(t, totalFrames, 30)

	analysis, err := analyzer.Analyze(context.Background(), doc, 5.0, 1.0, nil)
	require.NoError(t, err)

	// The whole video is one dwell
	require.Len(t, analysis.Segments, 1)
	assert.Equal(t, 5, analysis.Segments[0].Start)
	assert.Equal(t, 145, analysis.Segments[0].End)
}

func TestAnalyzeProgressReports(t *testing.T) {
	const totalFrames = 300
	opener := &fakeOpener{
		meta:   video.Metadata{TotalFrames: totalFrames, FPS: 30},
		lumaAt: dwellLuma(5, 100, 200),
	}
	analyzer := newTestAnalyzer(opener)
	doc := testDoc(t, totalFrames, 30)

	var reports []Progress
	_, err := analyzer.Analyze(context.Background(), doc, 5.0, 1.0, func(p Progress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	require.NotEmpty(t, reports)
	assert.Equal(t, 5, reports[0].Percent)
	for i := 1; i < len(reports); i++ {
		// At most one report per five-percent step
		assert.GreaterOrEqual(t, reports[i].Percent, reports[i-1].Percent+5)
		assert.Equal(t, totalFrames, reports[i].TotalFrames)
	}
}

func TestAnalyzeRespectsProcessedFrameCount(t *testing.T) {
	const totalFrames = 300
	opener := &fakeOpener{
		meta:   video.Metadata{TotalFrames: totalFrames, FPS: 30},
		lumaAt: dwellLuma(5, 0, 299),
	}
	analyzer := newTestAnalyzer(opener)

	doc := testDoc(t, totalFrames, 30)
	// The job only processed the first 100 frames
	doc.Results = make([]jobs.FrameRecord, 100)
	for i := range doc.Results {
		doc.Results[i] = jobs.FrameRecord{FrameNumber: i}
	}

	analysis, err := analyzer.Analyze(context.Background(), doc, 5.0, 1.0, nil)
	require.NoError(t, err)

	require.Len(t, analysis.Segments, 1)
	assert.LessOrEqual(t, analysis.Segments[0].End, 100)
}

func TestAnalyzeMissingVideo(t *testing.T) {
	opener := &fakeOpener{meta: video.Metadata{TotalFrames: 10, FPS: 30}}
	analyzer := newTestAnalyzer(opener)

	doc := &jobs.ResultDocument{VideoPath: filepath.Join(t.TempDir(), "gone.mp4"), FPS: 30}
	_, err := analyzer.Analyze(context.Background(), doc, 5.0, 1.0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAnalyzeContextCancelled(t *testing.T) {
	opener := &fakeOpener{
		meta:   video.Metadata{TotalFrames: 300, FPS: 30},
		lumaAt: dwellLuma(5, 100, 200),
	}
	analyzer := newTestAnalyzer(opener)
	doc := testDoc(t, 300, 30)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := analyzer.Analyze(ctx, doc, 5.0, 1.0, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
