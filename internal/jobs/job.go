package jobs

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is the lifecycle state of an inference job.
type Status string

const (
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a job in this status may never transition again.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusFailed
}

// Job is one asynchronous request to run inference across every frame of a
// video. Fields are mutated exclusively by the job's own runner; external
// callers only ever set the cancellation request.
type Job struct {
	ID              string
	Status          Status
	Progress        float64
	CurrentFrame    int
	TotalFrames     int
	FPS             float64
	Width           int
	Height          int
	VideoPath       string
	OutputPath      string
	ModelType       string
	CancelRequested bool
	LatestFrame     []byte // most recent encoded preview, overwritten as processing advances
	ResultFile      string
	Error           string
	CreatedAt       time.Time
}

// Snapshot is an immutable copy of job state for status polling.
type Snapshot struct {
	JobID        string  `json:"job_id"`
	Status       Status  `json:"status"`
	Progress     float64 `json:"progress"`
	CurrentFrame int     `json:"current_frame"`
	TotalFrames  int     `json:"total_frames"`
	VideoPath    string  `json:"video_path"`
	OutputPath   string  `json:"output_path"`
	ResultFile   string  `json:"result_file,omitempty"`
	Error        string  `json:"error,omitempty"`
}

func (j *Job) snapshot() Snapshot {
	return Snapshot{
		JobID:        j.ID,
		Status:       j.Status,
		Progress:     j.Progress,
		CurrentFrame: j.CurrentFrame,
		TotalFrames:  j.TotalFrames,
		VideoPath:    j.VideoPath,
		OutputPath:   j.OutputPath,
		ResultFile:   j.ResultFile,
		Error:        j.Error,
	}
}

// NewJobID derives an opaque job token from the video path and submission
// time.
func NewJobID(videoPath string, now time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d", videoPath, now.UnixNano())))
	return hex.EncodeToString(sum[:])[:16]
}

// CancelToken is the cooperative cancellation handle passed to a runner at
// job creation. Checked at iteration boundaries only, never preemptive.
type CancelToken struct {
	ch <-chan struct{}
}

// NewCancelToken wraps a cancellation channel for a runner.
func NewCancelToken(ch <-chan struct{}) CancelToken {
	return CancelToken{ch: ch}
}

// Cancelled reports whether cancellation has been requested.
func (t CancelToken) Cancelled() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done exposes the underlying channel for select composition.
func (t CancelToken) Done() <-chan struct{} {
	return t.ch
}
