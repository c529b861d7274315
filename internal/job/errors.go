package job

import "errors"

var (
	// ErrNotFound means the referenced job id does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrConflict means the requested transition is illegal from the
	// job's current state.
	ErrConflict = errors.New("job cannot be updated in its current state")
	// ErrResourceExhausted means admission control rejected a new job
	// because a concurrency ceiling is already reached. No job record is
	// created in that case.
	ErrResourceExhausted = errors.New("resource limits exceeded")
)
