package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
)

// JobStore is the in-memory job record store. It is the default backend:
// job state is reconstructible by resubmitting, so most deployments do not
// need persistence.
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*models.Job
	logger arbor.ILogger
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore(logger arbor.ILogger) *JobStore {
	return &JobStore{
		jobs:   make(map[string]*models.Job),
		logger: logger,
	}
}

// Put inserts or replaces the record for job.ID.
func (s *JobStore) Put(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return models.ErrInvalidConfig
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the record, or models.ErrNotFound.
func (s *JobStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return job.Clone(), nil
}

// List returns copies matching the filter, most recent SubmittedAt first.
func (s *JobStore) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	s.mu.RLock()
	matched := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Matches(job) {
			matched = append(matched, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SubmittedAt.After(matched[j].SubmittedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *JobStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

// EvictTerminalBefore removes terminal records finished before cutoff.
func (s *JobStore) EvictTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, job := range s.jobs {
		if !job.IsTerminal() || job.FinishedAt == nil {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			evicted++
		}
	}

	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Msg("Evicted expired terminal job records")
	}
	return evicted, nil
}

// CountByStatus returns record counts keyed by status.
func (s *JobStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// Close is a no-op for the in-memory store.
func (s *JobStore) Close() error {
	return nil
}

var _ interfaces.JobStore = (*JobStore)(nil)
