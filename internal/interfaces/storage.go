package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/exerceo/internal/models"
)

// JobStore - interface for job record persistence.
//
// The job manager is the sole writer; everything else reads. Implementations
// return deep copies so callers can never mutate stored state behind the
// manager's back.
type JobStore interface {
	// Put inserts or replaces the record for job.ID.
	Put(ctx context.Context, job *models.Job) error

	// Get returns a copy of the record, or models.ErrNotFound.
	Get(ctx context.Context, jobID string) (*models.Job, error)

	// List returns copies matching the filter, most recent SubmittedAt
	// first, truncated to filter.Limit when set.
	List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)

	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context, jobID string) error

	// EvictTerminalBefore removes terminal records whose FinishedAt is
	// before cutoff and reports how many were evicted.
	EvictTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	// CountByStatus returns record counts keyed by status.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)

	// Close releases the underlying backend.
	Close() error
}
