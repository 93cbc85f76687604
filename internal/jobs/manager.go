// -----------------------------------------------------------------------
// Manager - single authoritative owner of job state
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/events"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/metrics"
	"github.com/ternarybob/exerceo/internal/models"
	"github.com/ternarybob/exerceo/internal/queue"
	"github.com/ternarybob/exerceo/internal/trainers"
)

// SubmitRequest carries the validated inputs for a new job. The request
// surface fills SubmittedBy from the authenticated principal.
type SubmitRequest struct {
	TrainerKind models.TrainerKind
	ConfigRef   string
	DatasetRef  string
	Priority    int
	SubmittedBy string
	Tags        []string
}

// runningJob is the manager's handle on one dispatched job.
type runningJob struct {
	cancel          context.CancelFunc
	abandon         chan struct{}
	graceTimer      *time.Timer
	timeoutTimer    *time.Timer
	cancelRequested bool
}

func (rj *runningJob) stopTimers() {
	if rj.graceTimer != nil {
		rj.graceTimer.Stop()
	}
	if rj.timeoutTimer != nil {
		rj.timeoutTimer.Stop()
	}
}

// RunHandle is what a worker receives when it claims a queued job. Ctx is
// cancelled on Cancel, run timeout, or manager shutdown. Abandon closes when
// the grace window after a cancellation expires and the worker must stop
// waiting for the trainer.
type RunHandle struct {
	Job     *models.Job
	Ctx     context.Context
	Abandon <-chan struct{}
}

// Manager serialises every job-state mutation behind one mutex: Submit,
// claim, progress, cancellation, and terminal transitions all pass through
// it, which makes the lifecycle state machine race-free and seq generation
// deterministic. Reads return deep copies and never block on trainer work.
type Manager struct {
	mu       sync.Mutex
	store    interfaces.JobStore
	queue    *queue.PriorityQueue
	hub      *events.Hub
	registry *trainers.Registry
	metrics  *metrics.Collector
	logger   arbor.ILogger

	defaultPriority int
	cancelGrace     time.Duration
	runTimeout      time.Duration

	running       map[string]*runningJob
	cancelPending map[string]struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closed     bool
}

// NewManager wires the manager to its collaborators. collector may be nil
// when metrics are disabled.
func NewManager(
	store interfaces.JobStore,
	pq *queue.PriorityQueue,
	hub *events.Hub,
	registry *trainers.Registry,
	collector *metrics.Collector,
	cfg common.JobsConfig,
	logger arbor.ILogger,
) *Manager {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		store:           store,
		queue:           pq,
		hub:             hub,
		registry:        registry,
		metrics:         collector,
		logger:          logger,
		defaultPriority: cfg.DefaultPriority,
		cancelGrace:     cfg.GetCancelGraceTimeout(),
		runTimeout:      cfg.GetRunTimeout(),
		running:         make(map[string]*runningJob),
		cancelPending:   make(map[string]struct{}),
		baseCtx:         baseCtx,
		baseCancel:      baseCancel,
	}
}

// Submit validates the request, persists the record, and enqueues it. The
// job is already queued (status and seq-0 event included) when Submit
// returns. The returned record is a copy.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	trainer, err := m.registry.Get(req.TrainerKind)
	if err != nil {
		return nil, err
	}
	if err := trainer.Validate(ctx, req.ConfigRef, req.DatasetRef); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == 0 {
		priority = m.defaultPriority
	}
	job := models.NewJob(req.TrainerKind, req.ConfigRef, req.DatasetRef, priority, req.SubmittedBy, req.Tags)
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("store job %s: %w", job.ID, err)
	}

	entry := models.QueueEntry{
		JobID:       job.ID,
		Priority:    job.Priority,
		SubmittedAt: job.SubmittedAt,
	}
	if err := m.queue.Push(entry); err != nil {
		if delErr := m.store.Delete(ctx, job.ID); delErr != nil {
			m.logger.Warn().Err(delErr).Str("job_id", job.ID).Msg("Failed to roll back rejected job record")
		}
		return nil, err
	}

	job.MarkQueued()
	if err := m.store.Put(ctx, job); err != nil {
		m.queue.Remove(job.ID)
		if delErr := m.store.Delete(ctx, job.ID); delErr != nil {
			m.logger.Warn().Err(delErr).Str("job_id", job.ID).Msg("Failed to roll back rejected job record")
		}
		return nil, fmt.Errorf("store job %s: %w", job.ID, err)
	}

	m.publishLocked(job)
	m.metrics.RecordSubmitted()
	m.metrics.SetQueueDepth(m.queue.Len())

	m.logger.Info().
		Str("job_id", job.ID).
		Str("trainer_kind", string(job.TrainerKind)).
		Int("priority", job.Priority).
		Str("submitted_by", job.SubmittedBy).
		Msg("Job submitted")

	return job.Clone(), nil
}

// Get returns a copy of the job record, or models.ErrNotFound.
func (m *Manager) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return m.store.Get(ctx, jobID)
}

// List returns a snapshot of matching job records, most recent first.
func (m *Manager) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	return m.store.List(ctx, filter)
}

// Cancel requests cancellation. Queued jobs transition immediately; running
// jobs are signalled and transition when the trainer unwinds, or are force
// failed after the grace window. Repeat calls on a non-terminal job succeed
// without further effect. Cancelling a terminal job returns
// models.ErrTerminal.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, models.ErrTerminal)
	}

	switch job.Status {
	case models.JobStatusQueued:
		if m.queue.Remove(jobID) {
			job.MarkCancelled()
			job.Seq++
			if err := m.store.Put(ctx, job); err != nil {
				return fmt.Errorf("store job %s: %w", jobID, err)
			}
			m.publishLocked(job)
			m.metrics.RecordCancelled()
			m.metrics.SetQueueDepth(m.queue.Len())
			m.logger.Info().Str("job_id", jobID).Msg("Queued job cancelled")
			return nil
		}
		// A worker popped the entry but has not claimed it yet. Leave a
		// note so the claim turns into an immediate cancellation.
		m.cancelPending[jobID] = struct{}{}
		return nil

	case models.JobStatusRunning:
		rj, ok := m.running[jobID]
		if !ok {
			return fmt.Errorf("job %s has no running handle: %w", jobID, models.ErrInternal)
		}
		if rj.cancelRequested {
			return nil
		}
		rj.cancelRequested = true
		rj.cancel()
		rj.graceTimer = time.AfterFunc(m.cancelGrace, func() {
			m.forceAbandon(jobID, models.ErrKindCancelTimeout, models.ErrCancelTimeout.Error())
		})
		m.logger.Info().
			Str("job_id", jobID).
			Str("grace", m.cancelGrace.String()).
			Msg("Running job signalled to cancel")
		return nil

	default:
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, models.ErrInternal)
	}
}

// ClaimForRun transitions a popped queue entry to running and hands the
// worker a run handle. Returns false when the job should be discarded
// instead of run (cancelled while popped, record evicted, or shutdown).
func (m *Manager) ClaimForRun(jobID string) (*RunHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(m.baseCtx, jobID)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Popped job has no record, discarding")
		delete(m.cancelPending, jobID)
		return nil, false
	}

	if _, pending := m.cancelPending[jobID]; pending {
		delete(m.cancelPending, jobID)
		if job.Status == models.JobStatusQueued {
			job.MarkCancelled()
			job.Seq++
			if err := m.store.Put(m.baseCtx, job); err != nil {
				m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to store cancellation")
			}
			m.publishLocked(job)
			m.metrics.RecordCancelled()
			m.logger.Info().Str("job_id", jobID).Msg("Job cancelled before dispatch")
		}
		return nil, false
	}

	if m.closed || job.Status != models.JobStatusQueued {
		return nil, false
	}

	job.MarkStarted()
	job.Seq++
	if err := m.store.Put(m.baseCtx, job); err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to store running transition")
		return nil, false
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	rj := &runningJob{abandon: make(chan struct{})}
	if m.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(m.baseCtx, m.runTimeout)
		// A trainer that ignores the expired context must still give its
		// worker back once the grace window passes.
		rj.timeoutTimer = time.AfterFunc(m.runTimeout+m.cancelGrace, func() {
			m.forceAbandon(jobID, models.ErrKindTimeout, models.ErrTimeout.Error())
		})
	} else {
		runCtx, cancel = context.WithCancel(m.baseCtx)
	}
	rj.cancel = cancel
	m.running[jobID] = rj

	m.publishLocked(job)
	m.metrics.SetQueueDepth(m.queue.Len())
	m.metrics.SetWorkersBusy(len(m.running))

	m.logger.Info().
		Str("job_id", jobID).
		Str("trainer_kind", string(job.TrainerKind)).
		Msg("Job dispatched")

	return &RunHandle{Job: job, Ctx: runCtx, Abandon: rj.abandon}, true
}

// Finish drives the terminal transition for a run the worker has unwound
// from. A nil runErr completes the job; context.Canceled maps to cancelled;
// context.DeadlineExceeded maps to failed with the timeout kind; anything
// else maps to failed with its classified kind. Finish after the grace
// window already force-failed the job is a no-op.
func (m *Manager) Finish(jobID string, artifacts map[string]string, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rj, ok := m.running[jobID]; ok {
		rj.stopTimers()
		rj.cancel()
		delete(m.running, jobID)
		m.metrics.SetWorkersBusy(len(m.running))
	}

	job, err := m.store.Get(m.baseCtx, jobID)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Finished job has no record")
		return
	}
	if job.IsTerminal() {
		return
	}

	switch {
	case runErr == nil:
		job.MarkCompleted(artifacts)
		m.metrics.RecordCompleted(runDuration(job))

	case errors.Is(runErr, context.DeadlineExceeded):
		job.MarkFailed(models.ErrKindTimeout, models.ErrTimeout.Error())
		m.metrics.RecordFailed()

	case errors.Is(runErr, context.Canceled):
		job.MarkCancelled()
		m.metrics.RecordCancelled()

	default:
		kind := models.KindOf(runErr)
		job.MarkFailed(kind, runErr.Error())
		m.metrics.RecordFailed()
	}

	job.Seq++
	if err := m.store.Put(m.baseCtx, job); err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to store terminal transition")
		return
	}
	m.publishLocked(job)

	logEvent := m.logger.Info()
	if job.Status == models.JobStatusFailed {
		logEvent = m.logger.Warn().Str("error_kind", string(job.ErrorKind)).Str("error", job.LastError)
	}
	logEvent.
		Str("job_id", jobID).
		Str("status", string(job.Status)).
		Str("duration", runDuration(job).String()).
		Msg("Job finished")
}

// ReportProgress merges a trainer's progress delta into the job record and
// fans it out. Reports for jobs that are no longer running are dropped; a
// crashed or abandoned trainer may still be emitting them.
func (m *Manager) ReportProgress(jobID string, delta models.ProgressDelta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(m.baseCtx, jobID)
	if err != nil || job.Status != models.JobStatusRunning {
		return
	}

	if err := job.Progress.Apply(delta, time.Now()); err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Rejected progress report")
		return
	}

	job.Seq++
	if err := m.store.Put(m.baseCtx, job); err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to store progress")
		return
	}
	m.publishLocked(job)
}

// Observe attaches a subscriber. filter is a job ID for a single-job stream
// (models.ErrNotFound if no such record) or "*" / "" for all jobs. The
// bootstrap snapshot and fan-out attachment happen under the manager lock,
// so no event is lost or duplicated across the attach boundary.
func (m *Manager) Observe(ctx context.Context, filter string) (*events.Subscription, error) {
	if filter == "*" {
		filter = ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var bootstrap []models.ProgressEvent
	if filter != "" {
		job, err := m.store.Get(ctx, filter)
		if err != nil {
			return nil, err
		}
		bootstrap = []models.ProgressEvent{models.EventFromJob(job)}
	} else {
		jobs, err := m.store.List(ctx, models.JobFilter{})
		if err != nil {
			return nil, fmt.Errorf("bootstrap snapshot: %w", err)
		}
		bootstrap = make([]models.ProgressEvent, 0, len(jobs))
		for _, job := range jobs {
			bootstrap = append(bootstrap, models.EventFromJob(job))
		}
	}

	sub, err := m.hub.Subscribe(filter, bootstrap)
	if err != nil {
		return nil, err
	}
	m.metrics.SetSubscribers(m.hub.SubscriberCount())
	return sub, nil
}

// SubscriberDetached lets the transport layer refresh the subscriber gauge
// after it closes a subscription.
func (m *Manager) SubscriberDetached() {
	m.metrics.SetSubscribers(m.hub.SubscriberCount())
}

// QueueDepth reports the number of jobs waiting for a worker.
func (m *Manager) QueueDepth() int {
	return m.queue.Len()
}

// RunningCount reports the number of dispatched, unfinished jobs.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// StopIntake shuts the queue down: blocked workers drain out and further
// Submit calls fail. Running jobs are not touched.
func (m *Manager) StopIntake() {
	m.queue.Shutdown()
}

// Drain stops intake and signals every running job to cancel so the pool can
// settle inside the shutdown window. Each signalled job gets the usual grace
// window before it is force failed, so Drain followed by Pool.Stop bounds
// shutdown at roughly cancelGraceTimeout.
func (m *Manager) Drain() {
	m.queue.Shutdown()

	m.mu.Lock()
	defer m.mu.Unlock()

	signalled := 0
	for jobID, rj := range m.running {
		if rj.cancelRequested {
			continue
		}
		rj.cancelRequested = true
		rj.cancel()
		id := jobID
		rj.graceTimer = time.AfterFunc(m.cancelGrace, func() {
			m.forceAbandon(id, models.ErrKindCancelTimeout, models.ErrCancelTimeout.Error())
		})
		signalled++
	}

	if signalled > 0 {
		m.logger.Info().
			Int("jobs", signalled).
			Str("grace", m.cancelGrace.String()).
			Msg("Running jobs signalled to cancel for shutdown")
	}
}

// Close cancels every running job, stops grace timers, and closes the fan
// out hub. Call after the worker pool has stopped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, rj := range m.running {
		rj.stopTimers()
	}
	m.mu.Unlock()

	m.queue.Shutdown()
	m.baseCancel()
	m.hub.Close()
	m.logger.Info().Msg("Job manager closed")
}

// forceAbandon runs when a grace window expires with the trainer still
// holding its worker. The job is failed with the given kind, the terminal
// event emitted, and the worker released through the abandon channel;
// whatever the trainer returns later is ignored because the record is
// already terminal.
func (m *Manager) forceAbandon(jobID string, kind models.ErrorKind, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rj, ok := m.running[jobID]
	if !ok {
		return
	}

	job, err := m.store.Get(m.baseCtx, jobID)
	if err != nil || job.IsTerminal() {
		return
	}

	job.MarkFailed(kind, message)
	job.Seq++
	if err := m.store.Put(m.baseCtx, job); err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to store forced failure")
		return
	}

	rj.stopTimers()
	delete(m.running, jobID)
	close(rj.abandon)
	m.publishLocked(job)
	m.metrics.RecordFailed()
	m.metrics.SetWorkersBusy(len(m.running))

	m.logger.Warn().
		Str("job_id", jobID).
		Str("error_kind", string(kind)).
		Msg("Trainer did not unwind in time, job abandoned")
}

// publishLocked emits the job's current state to the hub. Callers hold
// m.mu, which orders same-job events by seq; Hub.Publish never blocks on a
// subscriber, so holding the lock across it is safe.
func (m *Manager) publishLocked(job *models.Job) {
	m.hub.Publish(models.EventFromJob(job))
	m.metrics.RecordEventPublished()
}

func runDuration(job *models.Job) time.Duration {
	if job.StartedAt == nil || job.FinishedAt == nil {
		return 0
	}
	return job.FinishedAt.Sub(*job.StartedAt)
}

// ProgressReporter is the callback handle a worker hands to a trainer. It
// carries only the job ID and the manager, so a trainer cannot reach any
// other job's state.
type ProgressReporter struct {
	jobID   string
	manager *Manager
}

// NewProgressReporter binds a reporter to one job.
func NewProgressReporter(jobID string, manager *Manager) *ProgressReporter {
	return &ProgressReporter{jobID: jobID, manager: manager}
}

// Report forwards a progress delta to the manager.
func (r *ProgressReporter) Report(delta models.ProgressDelta) {
	r.manager.ReportProgress(r.jobID, delta)
}
