package jobs

import "errors"

var (
	// ErrNotFound indicates an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists indicates a job id collision at creation.
	ErrAlreadyExists = errors.New("job already exists")
	// ErrAlreadyCompleted rejects cancellation of a finished job.
	ErrAlreadyCompleted = errors.New("job already completed")
	// ErrNoPreview indicates no preview frame has been produced yet.
	ErrNoPreview = errors.New("no preview frame available yet")
	// ErrTerminal rejects mutation of a job in a terminal state.
	ErrTerminal = errors.New("job in terminal state")
)
