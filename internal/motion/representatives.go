package motion

import (
	"math"
	"sort"

	"github.com/pipesight/inspectord/internal/inference"
	"github.com/pipesight/inspectord/internal/jobs"
)

// RepresentativeFrame is a frame selected from a low-motion segment as the
// one most likely to show a defect.
type RepresentativeFrame struct {
	SegmentIndex   int                   `json:"segment_index"`
	FrameNumber    int                   `json:"frame_number"`
	Time           float64               `json:"time"`
	DetectionCount int                   `json:"detection_count"`
	Detections     []inference.Detection `json:"detections"`
}

// Extraction is the outcome of representative frame selection.
type Extraction struct {
	FramesPerSegment int                   `json:"frames_per_segment"`
	MinConfidence    float64               `json:"min_confidence"`
	TotalFrames      int                   `json:"total_frames"`
	TotalDetections  int                   `json:"total_detections"`
	Frames           []RepresentativeFrame `json:"representative_frames"`
}

// ExtractRepresentatives ranks each segment's frames by how many detections
// cleared minConfidence and keeps the top framesPerSegment of them. Frames
// with no qualifying detections are never selected; the combined list is
// ordered by frame number.
func ExtractRepresentatives(doc *jobs.ResultDocument, segments []Segment, framesPerSegment int, minConfidence float64) *Extraction {
	fps := doc.FPS
	if fps <= 0 {
		fps = 25
	}

	detections := make(map[int][]inference.Detection, len(doc.Results))
	for _, rec := range doc.Results {
		kept := make([]inference.Detection, 0, len(rec.Detections))
		for _, d := range rec.Detections {
			if d.Confidence >= minConfidence {
				kept = append(kept, d)
			}
		}
		detections[rec.FrameNumber] = kept
	}

	frames := []RepresentativeFrame{}
	totalDetections := 0

	for segIdx, seg := range segments {
		type candidate struct {
			frame int
			count int
		}
		var candidates []candidate
		for f := seg.Start; f <= seg.End; f++ {
			if dets, ok := detections[f]; ok {
				candidates = append(candidates, candidate{frame: f, count: len(dets)})
			}
		}

		// Stable sort keeps earlier frames first among equal counts.
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].count > candidates[j].count
		})
		if len(candidates) > framesPerSegment {
			candidates = candidates[:framesPerSegment]
		}

		for _, c := range candidates {
			if c.count == 0 {
				continue
			}
			frames = append(frames, RepresentativeFrame{
				SegmentIndex:   segIdx,
				FrameNumber:    c.frame,
				Time:           math.Round(float64(c.frame)/fps*100) / 100,
				DetectionCount: c.count,
				Detections:     detections[c.frame],
			})
			totalDetections += c.count
		}
	}

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].FrameNumber < frames[j].FrameNumber
	})

	return &Extraction{
		FramesPerSegment: framesPerSegment,
		MinConfidence:    minConfidence,
		TotalFrames:      len(frames),
		TotalDetections:  totalDetections,
		Frames:           frames,
	}
}
