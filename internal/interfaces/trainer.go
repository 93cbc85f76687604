package interfaces

import (
	"context"

	"github.com/ternarybob/exerceo/internal/models"
)

// ReportFunc delivers an absolute progress snapshot from a running trainer.
// Calls are cheap and non-blocking; the job manager decides what to keep.
type ReportFunc func(delta models.ProgressDelta)

// Trainer - interface for a training backend.
//
// One implementation is registered per trainer kind. Run executes the whole
// job on the calling goroutine and honors ctx cancellation promptly; a run
// interrupted by cancellation returns ctx.Err() so the manager can tell
// cancellation apart from failure.
type Trainer interface {
	// Kind returns the trainer kind this implementation serves.
	Kind() models.TrainerKind

	// Validate checks the referenced config document before a job is
	// accepted. It must not start any work.
	Validate(ctx context.Context, configRef, datasetRef string) error

	// Run executes the job, reporting progress through report. On success
	// it returns artifact references keyed by artifact name.
	Run(ctx context.Context, job *models.Job, report ReportFunc) (map[string]string, error)
}
