package state

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/pipesight/inspectord/internal/jobs"
	"github.com/pipesight/inspectord/internal/logger"
)

// JobRegistry is a jobs.Registry backed by SQLite, for deployments that
// need job state to survive a restart. Preview bytes and cancel channels
// stay process-resident: a restarted process has no runner to honor either.
type JobRegistry struct {
	db     *Database
	logger *logger.Logger

	mu       sync.Mutex
	previews map[string][]byte
	cancels  map[string]chan struct{}
}

// NewJobRegistry creates a persistent job registry. Jobs left in a
// non-terminal state by a previous process are marked failed: their runner
// goroutines did not survive the restart.
func NewJobRegistry(db *Database, log *logger.Logger) (*JobRegistry, error) {
	r := &JobRegistry{
		db:       db,
		logger:   log,
		previews: make(map[string][]byte),
		cancels:  make(map[string]chan struct{}),
	}

	res, err := db.db.Exec(
		`UPDATE jobs SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE status IN (?, ?)`,
		jobs.StatusFailed, "process restarted during job",
		jobs.StatusRunning, jobs.StatusCancelling,
	)
	if err != nil {
		return nil, fmt.Errorf("sweep orphaned jobs: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Warn("marked orphaned jobs as failed", "count", n)
	}
	return r, nil
}

func (r *JobRegistry) Create(jobID, videoPath, outputPath, modelType string) (jobs.CancelToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.db.Exec(
		`INSERT INTO jobs (job_id, status, video_path, output_path, model_type) VALUES (?, ?, ?, ?, ?)`,
		jobID, jobs.StatusRunning, videoPath, outputPath, modelType,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return jobs.CancelToken{}, jobs.ErrAlreadyExists
		}
		return jobs.CancelToken{}, fmt.Errorf("insert job: %w", err)
	}

	ch := make(chan struct{})
	r.cancels[jobID] = ch
	return jobs.NewCancelToken(ch), nil
}

func (r *JobRegistry) Get(jobID string) (jobs.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanJob(jobID)
}

func (r *JobRegistry) List() []jobs.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.db.Query(
		`SELECT job_id, status, progress, current_frame, total_frames,
		        video_path, output_path, COALESCE(result_file, ''), COALESCE(error, '')
		 FROM jobs ORDER BY created_at`)
	if err != nil {
		r.logger.Error("list jobs", "error", err)
		return nil
	}
	defer rows.Close()

	var snaps []jobs.Snapshot
	for rows.Next() {
		var s jobs.Snapshot
		if err := rows.Scan(&s.JobID, &s.Status, &s.Progress, &s.CurrentFrame, &s.TotalFrames,
			&s.VideoPath, &s.OutputPath, &s.ResultFile, &s.Error); err != nil {
			continue
		}
		snaps = append(snaps, s)
	}
	return snaps
}

func (r *JobRegistry) Preview(jobID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.scanJob(jobID); err != nil {
		return nil, err
	}
	preview, ok := r.previews[jobID]
	if !ok || len(preview) == 0 {
		return nil, jobs.ErrNoPreview
	}
	out := make([]byte, len(preview))
	copy(out, preview)
	return out, nil
}

func (r *JobRegistry) RequestCancel(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.scanJob(jobID)
	if err != nil {
		return err
	}
	if snap.Status == jobs.StatusCompleted {
		return jobs.ErrAlreadyCompleted
	}
	if snap.Status.Terminal() {
		return jobs.ErrTerminal
	}
	if snap.Status == jobs.StatusCancelling {
		return nil
	}

	_, err = r.db.db.Exec(
		`UPDATE jobs SET status = ?, cancel_requested = 1, updated_at = CURRENT_TIMESTAMP WHERE job_id = ?`,
		jobs.StatusCancelling, jobID,
	)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if ch, ok := r.cancels[jobID]; ok {
		close(ch)
		delete(r.cancels, jobID)
	}
	return nil
}

func (r *JobRegistry) SetVideoInfo(jobID string, totalFrames int, fps float64, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireActive(jobID); err != nil {
		return err
	}
	_, err := r.db.db.Exec(
		`UPDATE jobs SET total_frames = ?, fps = ?, width = ?, height = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE job_id = ?`,
		totalFrames, fps, width, height, jobID,
	)
	if err != nil {
		return fmt.Errorf("set video info: %w", err)
	}
	return nil
}

func (r *JobRegistry) UpdateProgress(jobID string, currentFrame int, progress float64, preview []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireActive(jobID); err != nil {
		return err
	}
	_, err := r.db.db.Exec(
		`UPDATE jobs SET current_frame = ?, progress = ?, updated_at = CURRENT_TIMESTAMP WHERE job_id = ?`,
		currentFrame, progress, jobID,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if preview != nil {
		r.previews[jobID] = preview
	}
	return nil
}

func (r *JobRegistry) Finalize(jobID string, status jobs.Status, resultFile string, jobErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireActive(jobID); err != nil {
		return err
	}

	errMsg := ""
	if jobErr != nil {
		errMsg = jobErr.Error()
	}
	progressExpr := "progress"
	if status == jobs.StatusCompleted {
		progressExpr = "100"
	}
	_, err := r.db.db.Exec(
		fmt.Sprintf(`UPDATE jobs SET status = ?, result_file = ?, error = ?, progress = %s,
		             updated_at = CURRENT_TIMESTAMP WHERE job_id = ?`, progressExpr),
		status, resultFile, errMsg, jobID,
	)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if ch, ok := r.cancels[jobID]; ok {
		delete(r.cancels, jobID)
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	return nil
}

// scanJob reads one job row; caller holds the lock.
func (r *JobRegistry) scanJob(jobID string) (jobs.Snapshot, error) {
	var s jobs.Snapshot
	err := r.db.db.QueryRow(
		`SELECT job_id, status, progress, current_frame, total_frames,
		        video_path, output_path, COALESCE(result_file, ''), COALESCE(error, '')
		 FROM jobs WHERE job_id = ?`, jobID,
	).Scan(&s.JobID, &s.Status, &s.Progress, &s.CurrentFrame, &s.TotalFrames,
		&s.VideoPath, &s.OutputPath, &s.ResultFile, &s.Error)
	if err == sql.ErrNoRows {
		return jobs.Snapshot{}, jobs.ErrNotFound
	}
	if err != nil {
		return jobs.Snapshot{}, fmt.Errorf("query job: %w", err)
	}
	return s, nil
}

func (r *JobRegistry) requireActive(jobID string) error {
	snap, err := r.scanJob(jobID)
	if err != nil {
		return err
	}
	if snap.Status.Terminal() {
		return jobs.ErrTerminal
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ jobs.Registry = (*JobRegistry)(nil)
