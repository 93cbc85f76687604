package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

var allStatuses = []models.JobStatus{
	models.JobStatusPending,
	models.JobStatusQueued,
	models.JobStatusRunning,
	models.JobStatusCompleted,
	models.JobStatusFailed,
	models.JobStatusCancelled,
}

var terminalStatuses = []models.JobStatus{
	models.JobStatusCompleted,
	models.JobStatusFailed,
	models.JobStatusCancelled,
}

// JobStore implements the JobStore interface on Badger. Records survive
// restarts, so finished jobs stay queryable until retention evicts them.
type JobStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStore opens the Badger-backed job store at config.Path.
func NewJobStore(logger arbor.ILogger, config *common.StorageConfig) (interfaces.JobStore, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	return &JobStore{
		db:     db,
		logger: logger,
	}, nil
}

// Put inserts or replaces the record for job.ID.
func (s *JobStore) Put(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return models.ErrInvalidConfig
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// Get returns the record, or models.ErrNotFound.
func (s *JobStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// List returns records matching the filter, most recent SubmittedAt first.
func (s *JobStore) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("ID").Ne("").SortBy("SubmittedAt").Reverse()
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		if !filter.Matches(&jobs[i]) {
			continue
		}
		result = append(result, &jobs[i])
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *JobStore) Delete(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// EvictTerminalBefore removes terminal records finished before cutoff.
func (s *JobStore) EvictTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	evicted := 0
	for _, status := range terminalStatuses {
		var jobs []models.Job
		if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
			return evicted, fmt.Errorf("failed to find %s jobs: %w", status, err)
		}
		for i := range jobs {
			if jobs[i].FinishedAt == nil || !jobs[i].FinishedAt.Before(cutoff) {
				continue
			}
			if err := s.db.Store().Delete(jobs[i].ID, &models.Job{}); err != nil && err != badgerhold.ErrNotFound {
				return evicted, fmt.Errorf("failed to evict job %s: %w", jobs[i].ID, err)
			}
			evicted++
		}
	}

	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Msg("Evicted expired terminal job records")
	}
	return evicted, nil
}

// CountByStatus returns record counts keyed by status. Statuses with no
// records are omitted.
func (s *JobStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	counts := make(map[models.JobStatus]int)
	for _, status := range allStatuses {
		count, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").Eq(status))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", status, err)
		}
		if count > 0 {
			counts[status] = int(count)
		}
	}
	return counts, nil
}

// Close closes the database connection.
func (s *JobStore) Close() error {
	return s.db.Close()
}
