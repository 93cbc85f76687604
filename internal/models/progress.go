// -----------------------------------------------------------------------
// Progress - per-job progress snapshot and fan-out event
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// Progress is the last-known progress snapshot for a job. Counters are
// monotonic within one job; UpdatedAt strictly increases across emitted
// events.
type Progress struct {
	EpochsDone  int                `json:"epochs_done"`
	EpochsTotal int                `json:"epochs_total"`
	StepsDone   int                `json:"steps_done"`
	StepsTotal  int                `json:"steps_total"`
	LastMetrics map[string]float64 `json:"last_metrics,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ProgressDelta is what a trainer reports: a full snapshot of its counters
// plus the latest metrics. Zero-valued totals leave the stored totals
// untouched so adapters that only count steps stay simple.
type ProgressDelta struct {
	EpochsDone  int
	EpochsTotal int
	StepsDone   int
	StepsTotal  int
	Metrics     map[string]float64
}

// Apply merges a delta into the snapshot. Done counters may never decrease;
// a regressing delta is rejected and the snapshot is left unchanged.
// UpdatedAt is bumped to at, nudged forward a nanosecond if the clock has
// not advanced since the previous update.
func (p *Progress) Apply(d ProgressDelta, at time.Time) error {
	if d.EpochsDone < p.EpochsDone {
		return fmt.Errorf("epochs_done regressed from %d to %d", p.EpochsDone, d.EpochsDone)
	}
	if d.StepsDone < p.StepsDone {
		return fmt.Errorf("steps_done regressed from %d to %d", p.StepsDone, d.StepsDone)
	}
	p.EpochsDone = d.EpochsDone
	p.StepsDone = d.StepsDone
	if d.EpochsTotal > 0 {
		p.EpochsTotal = d.EpochsTotal
	}
	if d.StepsTotal > 0 {
		p.StepsTotal = d.StepsTotal
	}
	if d.Metrics != nil {
		metrics := make(map[string]float64, len(d.Metrics))
		for k, v := range d.Metrics {
			metrics[k] = v
		}
		p.LastMetrics = metrics
	}
	if !at.After(p.UpdatedAt) {
		at = p.UpdatedAt.Add(time.Nanosecond)
	}
	p.UpdatedAt = at
	return nil
}

// Clone returns a deep copy of the snapshot.
func (p Progress) Clone() Progress {
	clone := p
	if p.LastMetrics != nil {
		clone.LastMetrics = make(map[string]float64, len(p.LastMetrics))
		for k, v := range p.LastMetrics {
			clone.LastMetrics[k] = v
		}
	}
	return clone
}

// ProgressEvent is the unit of fan-out delivered to observers. Seq is a
// per-job monotonic counter starting at 0 at job creation; subscribers use
// it to order and deduplicate across the bootstrap/live boundary.
type ProgressEvent struct {
	JobID        string            `json:"job_id"`
	Status       JobStatus         `json:"status"`
	Seq          uint64            `json:"seq"`
	Progress     Progress          `json:"progress"`
	ArtifactRefs map[string]string `json:"artifact_refs,omitempty"`
	ErrorKind    ErrorKind         `json:"error_kind,omitempty"`
	Message      string            `json:"message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// IsTerminal returns true if the event announces a sink state.
func (e ProgressEvent) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// EventFromJob builds the fan-out event for a job's current state. Terminal
// decoration (artifacts on completed, error kind and message on failed)
// follows the job record.
func EventFromJob(j *Job) ProgressEvent {
	ev := ProgressEvent{
		JobID:     j.ID,
		Status:    j.Status,
		Seq:       j.Seq,
		Progress:  j.Progress.Clone(),
		Timestamp: time.Now(),
	}
	switch j.Status {
	case JobStatusCompleted:
		ev.ArtifactRefs = j.ArtifactRefs
	case JobStatusFailed:
		ev.ErrorKind = j.ErrorKind
		ev.Message = j.LastError
	}
	return ev
}
