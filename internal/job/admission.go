package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kwatson/querydesk/internal/store"
	"github.com/kwatson/querydesk/pkg/models"
)

// AdmissionController decides whether a new job may start, based on a fresh
// count of currently active (pending or processing) jobs. The count is read
// from the store at every check; no reservation is taken, so admission is
// best effort across processes.
type AdmissionController struct {
	store      store.Store
	maxActive  int
	typeLimits map[models.JobType]int
}

// NewAdmissionController creates an AdmissionController with a global ceiling
// and optional per-type ceilings.
func NewAdmissionController(st store.Store, maxActive int, typeLimits map[models.JobType]int) *AdmissionController {
	if typeLimits == nil {
		typeLimits = make(map[models.JobType]int)
	}
	return &AdmissionController{
		store:      st,
		maxActive:  maxActive,
		typeLimits: typeLimits,
	}
}

// MaxActive returns the global active-job ceiling.
func (a *AdmissionController) MaxActive() int { return a.maxActive }

// Check returns nil if a job of the given type may be admitted, or an error
// wrapping ErrResourceExhausted if a ceiling is reached. The check is
// side-effect free.
func (a *AdmissionController) Check(ctx context.Context, jobType models.JobType) error {
	active, err := a.store.ListActiveJobs(ctx, nil)
	if err != nil {
		return fmt.Errorf("checking resource allocation: %w", err)
	}

	if len(active) >= a.maxActive {
		return fmt.Errorf("%w: maximum concurrent jobs limit reached (%d), currently %d active",
			ErrResourceExhausted, a.maxActive, len(active))
	}

	if limit, ok := a.typeLimits[jobType]; ok {
		typeActive := 0
		for _, j := range active {
			if j.Type == jobType {
				typeActive++
			}
		}
		if typeActive >= limit {
			return fmt.Errorf("%w: maximum concurrent %s jobs limit reached (%d), currently %d active",
				ErrResourceExhausted, jobType, limit, typeActive)
		}
	}

	slog.Debug("admission check passed",
		"type", jobType,
		"active", len(active),
		"max_active", a.maxActive,
	)
	return nil
}
