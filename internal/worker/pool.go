package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/exerceo/internal/jobs"
	"github.com/ternarybob/exerceo/internal/models"
	"github.com/ternarybob/exerceo/internal/queue"
	"github.com/ternarybob/exerceo/internal/trainers"
)

// Pool runs a fixed number of workers that pull queued jobs and drive them
// through their trainer. Size is set once at startup.
type Pool struct {
	manager    *jobs.Manager
	queue      *queue.PriorityQueue
	registry   *trainers.Registry
	logger     arbor.ILogger
	numWorkers int
	wg         sync.WaitGroup
}

// NewPool creates a worker pool of numWorkers workers.
func NewPool(manager *jobs.Manager, pq *queue.PriorityQueue, registry *trainers.Registry, numWorkers int, logger arbor.ILogger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		manager:    manager,
		queue:      pq,
		registry:   registry,
		logger:     logger,
		numWorkers: numWorkers,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.Info().
		Int("num_workers", p.numWorkers).
		Msg("Starting worker pool")

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop waits for the workers to drain. The queue must be shut down first so
// blocked workers wake up; in-flight jobs keep running until they finish or
// ctx expires, whichever comes first.
func (p *Pool) Stop(ctx context.Context) error {
	p.logger.Info().Msg("Stopping worker pool...")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn().Msg("Worker pool stop timed out with jobs still in flight")
		return ctx.Err()
	}
}

// worker is the main worker loop. It exits when the queue shuts down.
func (p *Pool) worker(workerID int) {
	defer p.wg.Done()

	p.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	for {
		entry, ok := p.queue.PopBlocking()
		if !ok {
			p.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopping")
			return
		}
		p.runJob(workerID, entry)
	}
}

type runResult struct {
	artifacts map[string]string
	err       error
}

// runJob claims the popped entry and executes its trainer. The trainer runs
// on a child goroutine so that a non-cooperating run can be abandoned: when
// the manager closes the abandon channel the worker returns to the loop and
// the straggler's eventual result is discarded.
func (p *Pool) runJob(workerID int, entry models.QueueEntry) {
	handle, ok := p.manager.ClaimForRun(entry.JobID)
	if !ok {
		return
	}
	job := handle.Job

	p.logger.Info().
		Int("worker_id", workerID).
		Str("job_id", job.ID).
		Str("trainer_kind", string(job.TrainerKind)).
		Msg("Processing job")

	trainer, err := p.registry.Get(job.TrainerKind)
	if err != nil {
		p.manager.Finish(job.ID, nil, err)
		return
	}

	reporter := jobs.NewProgressReporter(job.ID, p.manager)

	resultCh := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("job_id", job.ID).
					Str("panic", fmt.Sprintf("%v", r)).
					Msg("Trainer panicked")
				resultCh <- runResult{err: fmt.Errorf("trainer panic: %v: %w", r, models.ErrInternal)}
			}
		}()
		artifacts, runErr := trainer.Run(handle.Ctx, job, reporter.Report)
		resultCh <- runResult{artifacts: artifacts, err: runErr}
	}()

	select {
	case res := <-resultCh:
		p.manager.Finish(job.ID, res.artifacts, res.err)
	case <-handle.Abandon:
		p.logger.Warn().
			Int("worker_id", workerID).
			Str("job_id", job.ID).
			Msg("Abandoning job, worker returning to loop")
	}
}
