package motion

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	"github.com/pipesight/inspectord/internal/jobs"
	"github.com/pipesight/inspectord/internal/logger"
	"github.com/pipesight/inspectord/internal/video"
)

// Segment is an interval of consecutive sampled frames whose motion score
// stayed below the analysis threshold.
type Segment struct {
	Start     int     `json:"start"`
	End       int     `json:"end"`
	Duration  float64 `json:"duration"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Stats summarizes the motion scores observed across a whole analysis run.
type Stats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Analysis is the outcome of one motion analysis pass.
type Analysis struct {
	TotalFrames        int       `json:"total_frames"`
	FPS                float64   `json:"fps"`
	MotionThreshold    float64   `json:"motion_threshold"`
	MinSegmentDuration float64   `json:"min_segment_duration"`
	Segments           []Segment `json:"segments"`
	SegmentCount       int       `json:"segment_count"`
	Stats              Stats     `json:"motion_stats"`
}

// Progress is a mid-analysis progress report.
type Progress struct {
	Percent      int `json:"progress"`
	CurrentFrame int `json:"current_frame"`
	TotalFrames  int `json:"total_frames"`
}

// ProgressFunc receives progress reports during analysis. Called from the
// analyzing goroutine, at most once per five-percent step.
type ProgressFunc func(Progress)

// Config contains motion analysis tuning.
type Config struct {
	SampleInterval  int
	DownscaleWidth  int
	DownscaleHeight int
}

// Analyzer detects low-motion segments in an inspected video. Inspection
// cameras dwell over defects; a dwell shows up as a run of near-identical
// frames.
type Analyzer struct {
	opener video.Opener
	logger *logger.Logger
	cfg    Config
}

// NewAnalyzer creates a motion analyzer.
func NewAnalyzer(opener video.Opener, cfg Config, log *logger.Logger) *Analyzer {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5
	}
	if cfg.DownscaleWidth <= 0 {
		cfg.DownscaleWidth = 320
	}
	if cfg.DownscaleHeight <= 0 {
		cfg.DownscaleHeight = 180
	}
	return &Analyzer{
		opener: opener,
		logger: log,
		cfg:    cfg,
	}
}

type motionScore struct {
	frame int
	value float64
}

// Analyze scores motion between sampled frames of the job's source video
// and collects the intervals that stayed below threshold for at least
// minDuration seconds. onProgress may be nil.
func (a *Analyzer) Analyze(ctx context.Context, doc *jobs.ResultDocument, threshold, minDuration float64, onProgress ProgressFunc) (*Analysis, error) {
	if _, err := os.Stat(doc.VideoPath); err != nil {
		return nil, fmt.Errorf("video not found: %s: %w", doc.VideoPath, err)
	}

	src, err := a.opener.Open(ctx, doc.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer src.Close()

	meta := src.Meta()
	totalFrames := meta.TotalFrames

	// Analysis only covers frames the job actually processed.
	maxFrames := totalFrames
	if n := len(doc.Results); n > 0 && n < maxFrames {
		maxFrames = n
	}

	fps := doc.FPS
	if fps <= 0 {
		fps = meta.FPS
	}
	if fps <= 0 {
		fps = 25
	}

	a.logger.Info("analyzing motion",
		"video_path", doc.VideoPath,
		"total_frames", totalFrames,
		"max_frames", maxFrames,
		"threshold", threshold)

	scores, err := a.score(ctx, src, maxFrames, onProgress)
	if err != nil {
		return nil, err
	}

	segments := detectSegments(scores, threshold, minDuration, fps, totalFrames)

	a.logger.Info("motion analysis complete",
		"video_path", doc.VideoPath,
		"segments", len(segments))

	return &Analysis{
		TotalFrames:        totalFrames,
		FPS:                fps,
		MotionThreshold:    threshold,
		MinSegmentDuration: minDuration,
		Segments:           segments,
		SegmentCount:       len(segments),
		Stats:              summarize(scores),
	}, nil
}

// score walks the video sequentially, sampling one frame per interval and
// computing the mean absolute pixel difference between consecutive samples
// at downscaled grayscale resolution.
func (a *Analyzer) score(ctx context.Context, src video.Source, maxFrames int, onProgress ProgressFunc) ([]motionScore, error) {
	var (
		scores       []motionScore
		prev         *image.Gray
		lastProgress = -1
	)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		frame, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		if frame.Index >= maxFrames {
			break
		}
		if frame.Index%a.cfg.SampleInterval != 0 {
			continue
		}

		gray := frame.Grayscale(a.cfg.DownscaleWidth, a.cfg.DownscaleHeight)
		if prev != nil {
			scores = append(scores, motionScore{
				frame: frame.Index,
				value: meanAbsDiff(gray, prev),
			})
		}
		prev = gray

		if onProgress != nil {
			pct := frame.Index * 100 / maxFrames
			if pct >= lastProgress+5 {
				lastProgress = pct
				onProgress(Progress{
					Percent:      pct,
					CurrentFrame: frame.Index,
					TotalFrames:  maxFrames,
				})
			}
		}
	}

	return scores, nil
}

// detectSegments collects runs of sampled frames whose score stays below
// threshold. A run still open at the end of the video closes at the last
// sampled frame.
func detectSegments(scores []motionScore, threshold, minDuration, fps float64, totalFrames int) []Segment {
	segments := []Segment{}
	segmentStart := -1

	appendSegment := func(start, end int) {
		duration := float64(end-start) / fps
		if duration < minDuration {
			return
		}
		segments = append(segments, Segment{
			Start:     start,
			End:       end,
			Duration:  round1(duration),
			StartTime: round1(float64(start) / fps),
			EndTime:   round1(float64(end) / fps),
		})
	}

	for _, s := range scores {
		if s.value < threshold {
			if segmentStart < 0 {
				segmentStart = s.frame
			}
		} else if segmentStart >= 0 {
			appendSegment(segmentStart, s.frame)
			segmentStart = -1
		}
	}

	if segmentStart >= 0 {
		end := totalFrames
		if len(scores) > 0 {
			end = scores[len(scores)-1].frame
		}
		appendSegment(segmentStart, end)
	}

	return segments
}

func summarize(scores []motionScore) Stats {
	if len(scores) == 0 {
		return Stats{}
	}
	min, max, sum := scores[0].value, scores[0].value, 0.0
	for _, s := range scores {
		if s.value < min {
			min = s.value
		}
		if s.value > max {
			max = s.value
		}
		sum += s.value
	}
	return Stats{
		Min: round2(min),
		Max: round2(max),
		Avg: round2(sum / float64(len(scores))),
	}
}

func meanAbsDiff(a, b *image.Gray) float64 {
	var sum int64
	n := len(a.Pix)
	for i := 0; i < n; i++ {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		sum += int64(d)
	}
	return float64(sum) / float64(n)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
