// -----------------------------------------------------------------------
// Job - training job record and lifecycle state machine
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true for completed, failed, and cancelled.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid returns true if the status is a known lifecycle state.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// legalTransitions is the closed set of lifecycle edges. Terminal states are
// sinks; pending can only advance to queued (cancel-before-enqueue cannot
// happen because enqueue is part of Submit).
var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusQueued},
	JobStatusQueued:  {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TrainerKind selects the trainer adapter implementation for a job.
type TrainerKind string

const (
	TrainerKindLoRA            TrainerKind = "lora"
	TrainerKindQLoRA           TrainerKind = "qlora"
	TrainerKindContinuous      TrainerKind = "continuous"
	TrainerKindDatasetAssembly TrainerKind = "dataset_assembly"
)

// IsValid returns true if the kind is one of the recognised trainer kinds.
func (k TrainerKind) IsValid() bool {
	switch k {
	case TrainerKindLoRA, TrainerKindQLoRA, TrainerKindContinuous, TrainerKindDatasetAssembly:
		return true
	}
	return false
}

// IsTraining returns true for the adapter-producing kinds. Dataset assembly
// produces corpora, not adapters.
func (k TrainerKind) IsTraining() bool {
	return k == TrainerKindLoRA || k == TrainerKindQLoRA || k == TrainerKindContinuous
}

// RequiresDataset returns true for kinds that must name an input dataset at
// submit time. Dataset assembly builds its own input from search or the
// document root.
func (k TrainerKind) RequiresDataset() bool {
	return k.IsTraining()
}

// Priority bounds for submitted jobs. Higher runs sooner.
const (
	PriorityMin     = 1
	PriorityMax     = 5
	PriorityDefault = 3
)

// MockPrincipalID is recorded as SubmittedBy when the auth gate runs in
// debug mode and no real principal exists.
const MockPrincipalID = "mock-principal"

// Job is the authoritative record for one unit of training or dataset work.
// Identity and submission metadata are immutable after creation; runtime
// state (Status, Progress, timestamps, artifacts) is mutated only by the job
// manager, which serialises every transition.
type Job struct {
	// Immutable identity and submission metadata
	ID          string      `json:"id"`
	TrainerKind TrainerKind `json:"trainer_kind"`
	ConfigRef   string      `json:"config_ref"`
	DatasetRef  string      `json:"dataset_ref,omitempty"`
	Priority    int         `json:"priority"`
	SubmittedAt time.Time   `json:"submitted_at"`
	SubmittedBy string      `json:"submitted_by"`
	Tags        []string    `json:"tags,omitempty"`

	// Mutable runtime state (manager-owned)
	Status       JobStatus         `json:"status"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
	Progress     Progress          `json:"progress"`
	LastError    string            `json:"last_error,omitempty"`
	ErrorKind    ErrorKind         `json:"error_kind,omitempty"`
	ArtifactRefs map[string]string `json:"artifact_refs,omitempty"`

	// Seq is the sequence number of the most recently emitted progress
	// event for this job. The first event (the queued transition) is seq 0.
	Seq uint64 `json:"seq"`
}

// NewJob creates a pending job record with a fresh UUID. Priority 0 takes
// the default; out-of-range priorities are the caller's validation problem.
func NewJob(kind TrainerKind, configRef, datasetRef string, priority int, submittedBy string, tags []string) *Job {
	if priority == 0 {
		priority = PriorityDefault
	}
	return &Job{
		ID:          uuid.New().String(),
		TrainerKind: kind,
		ConfigRef:   configRef,
		DatasetRef:  datasetRef,
		Priority:    priority,
		SubmittedAt: time.Now(),
		SubmittedBy: submittedBy,
		Tags:        tags,
		Status:      JobStatusPending,
	}
}

// Validate checks the immutable fields of a freshly built record.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if !j.TrainerKind.IsValid() {
		return fmt.Errorf("unknown trainer kind %q", j.TrainerKind)
	}
	if j.ConfigRef == "" {
		return fmt.Errorf("config_ref is required")
	}
	if j.TrainerKind.RequiresDataset() && j.DatasetRef == "" {
		return fmt.Errorf("dataset_ref is required for trainer kind %q", j.TrainerKind)
	}
	if j.Priority < PriorityMin || j.Priority > PriorityMax {
		return fmt.Errorf("priority %d out of range [%d,%d]", j.Priority, PriorityMin, PriorityMax)
	}
	return nil
}

// MarkQueued transitions pending -> queued.
func (j *Job) MarkQueued() {
	j.Status = JobStatusQueued
}

// MarkStarted transitions to running and stamps StartedAt.
func (j *Job) MarkStarted() {
	j.Status = JobStatusRunning
	now := time.Now()
	j.StartedAt = &now
}

// MarkCompleted transitions to completed with the trainer's artifacts.
func (j *Job) MarkCompleted(artifacts map[string]string) {
	j.Status = JobStatusCompleted
	j.ArtifactRefs = artifacts
	now := time.Now()
	j.FinishedAt = &now
}

// MarkFailed transitions to failed with an error kind tag and message.
func (j *Job) MarkFailed(kind ErrorKind, message string) {
	j.Status = JobStatusFailed
	j.ErrorKind = kind
	j.LastError = message
	now := time.Now()
	j.FinishedAt = &now
}

// MarkCancelled transitions to cancelled.
func (j *Job) MarkCancelled() {
	j.Status = JobStatusCancelled
	now := time.Now()
	j.FinishedAt = &now
}

// IsTerminal returns true once the job reached a sink state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy. Readers receive clones so that the manager's
// single-writer discipline cannot be subverted through shared maps.
func (j *Job) Clone() *Job {
	clone := *j
	if j.Tags != nil {
		clone.Tags = make([]string, len(j.Tags))
		copy(clone.Tags, j.Tags)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		clone.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		clone.FinishedAt = &t
	}
	if j.ArtifactRefs != nil {
		clone.ArtifactRefs = make(map[string]string, len(j.ArtifactRefs))
		for k, v := range j.ArtifactRefs {
			clone.ArtifactRefs[k] = v
		}
	}
	clone.Progress = j.Progress.Clone()
	return &clone
}

// QueueEntry is what the priority queue holds between acceptance and
// dispatch. Ordering: higher priority first, FIFO within a priority.
type QueueEntry struct {
	JobID       string    `json:"job_id"`
	Priority    int       `json:"priority"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobFilter narrows List results. Zero values mean "no constraint".
type JobFilter struct {
	Statuses    []JobStatus
	Kinds       []TrainerKind
	SubmittedBy string
	Limit       int
}

// Matches reports whether a job passes every set constraint.
func (f JobFilter) Matches(j *Job) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if j.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if j.TrainerKind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.SubmittedBy != "" && j.SubmittedBy != f.SubmittedBy {
		return false
	}
	return true
}
