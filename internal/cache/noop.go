package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Noop is an always-miss Cache used when no Redis URL is configured.
// It lets callers treat the cache as a required collaborator instead of
// branching on a nil dependency.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (*Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (*Noop) Delete(context.Context, string) error { return nil }

func (*Noop) Ping(context.Context) error { return nil }

func (*Noop) SetJobStatus(context.Context, uuid.UUID, StatusSnapshot, time.Duration) error {
	return nil
}

func (*Noop) GetJobStatus(context.Context, uuid.UUID) (StatusSnapshot, bool, error) {
	return StatusSnapshot{}, false, nil
}

var _ Cache = (*Noop)(nil)
