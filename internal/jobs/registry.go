package jobs

import (
	"sync"
	"time"
)

// Registry is a process-wide table of in-flight and completed inference
// jobs. The in-memory implementation is the default; deployments needing
// crash recovery can substitute the SQLite-backed one without changing the
// runner's contract.
type Registry interface {
	// Create inserts a new job in running state and returns its cancel
	// token. Fails with ErrAlreadyExists on id collision.
	Create(jobID, videoPath, outputPath, modelType string) (CancelToken, error)
	// Get returns a snapshot of job state, or ErrNotFound.
	Get(jobID string) (Snapshot, error)
	// List returns snapshots of all known jobs.
	List() []Snapshot
	// Preview returns the most recent encoded preview frame.
	Preview(jobID string) ([]byte, error)
	// RequestCancel flags the job for cooperative cancellation. Fails with
	// ErrAlreadyCompleted on a completed job, ErrNotFound otherwise.
	RequestCancel(jobID string) error
	// SetVideoInfo records container metadata once the runner has opened
	// the video.
	SetVideoInfo(jobID string, totalFrames int, fps float64, width, height int) error
	// UpdateProgress records the runner's position. preview may be nil;
	// it is only attached periodically to bound lock contention.
	UpdateProgress(jobID string, currentFrame int, progress float64, preview []byte) error
	// Finalize performs the one-shot terminal transition.
	Finalize(jobID string, status Status, resultFile string, jobErr error) error
}

// MemoryRegistry keeps all job state in process memory behind a single
// coordination lock. Jobs live for the process lifetime; a restart loses
// every in-flight job.
type MemoryRegistry struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	cancels map[string]chan struct{}
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		jobs:    make(map[string]*Job),
		cancels: make(map[string]chan struct{}),
	}
}

func (r *MemoryRegistry) Create(jobID, videoPath, outputPath, modelType string) (CancelToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; ok {
		return CancelToken{}, ErrAlreadyExists
	}

	r.jobs[jobID] = &Job{
		ID:         jobID,
		Status:     StatusRunning,
		VideoPath:  videoPath,
		OutputPath: outputPath,
		ModelType:  modelType,
		CreatedAt:  time.Now().UTC(),
	}
	ch := make(chan struct{})
	r.cancels[jobID] = ch
	return CancelToken{ch: ch}, nil
}

func (r *MemoryRegistry) Get(jobID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return job.snapshot(), nil
}

func (r *MemoryRegistry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(r.jobs))
	for _, job := range r.jobs {
		snaps = append(snaps, job.snapshot())
	}
	return snaps
}

func (r *MemoryRegistry) Preview(jobID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if len(job.LatestFrame) == 0 {
		return nil, ErrNoPreview
	}
	// copy so the caller never races the runner's next overwrite
	preview := make([]byte, len(job.LatestFrame))
	copy(preview, job.LatestFrame)
	return preview, nil
}

func (r *MemoryRegistry) RequestCancel(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}
	if job.CancelRequested {
		return nil
	}

	job.CancelRequested = true
	job.Status = StatusCancelling
	close(r.cancels[jobID])
	return nil
}

func (r *MemoryRegistry) SetVideoInfo(jobID string, totalFrames int, fps float64, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}

	job.TotalFrames = totalFrames
	job.FPS = fps
	job.Width = width
	job.Height = height
	return nil
}

func (r *MemoryRegistry) UpdateProgress(jobID string, currentFrame int, progress float64, preview []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}

	job.CurrentFrame = currentFrame
	job.Progress = progress
	if preview != nil {
		job.LatestFrame = preview
	}
	return nil
}

func (r *MemoryRegistry) Finalize(jobID string, status Status, resultFile string, jobErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}

	job.Status = status
	if status == StatusCompleted {
		job.Progress = 100
		job.ResultFile = resultFile
	}
	if jobErr != nil {
		job.Error = jobErr.Error()
	}
	return nil
}

var _ Registry = (*MemoryRegistry)(nil)
