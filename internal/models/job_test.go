package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestJobStatus_Transitions(t *testing.T) {
	allStatuses := []JobStatus{
		JobStatusPending, JobStatusQueued, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
	}

	allowed := map[JobStatus][]JobStatus{
		JobStatusPending: {JobStatusQueued},
		JobStatusQueued:  {JobStatusRunning, JobStatusCancelled},
		JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}

	// pending -> cancelled is the edge the state machine explicitly forbids
	if JobStatusPending.CanTransitionTo(JobStatusCancelled) {
		t.Error("pending -> cancelled must be forbidden")
	}

	// terminal states are sinks
	for _, terminal := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		if !terminal.IsTerminal() {
			t.Errorf("%s should be terminal", terminal)
		}
		for _, to := range allStatuses {
			if terminal.CanTransitionTo(to) {
				t.Errorf("terminal %s must not transition to %s", terminal, to)
			}
		}
	}
}

func TestJob_Validate(t *testing.T) {
	job := NewJob(TrainerKindLoRA, "cfg://a", "ds://a", 3, "user-1", nil)
	if err := job.Validate(); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
	if job.Status != JobStatusPending {
		t.Errorf("new job status = %s, want pending", job.Status)
	}
	if job.ID == "" {
		t.Error("new job must get an ID")
	}

	// unknown kind
	bad := NewJob(TrainerKind("diffusion"), "cfg://a", "ds://a", 3, "user-1", nil)
	if err := bad.Validate(); err == nil {
		t.Error("unknown trainer kind must be rejected")
	}

	// training kinds require a dataset ref
	noDS := NewJob(TrainerKindQLoRA, "cfg://a", "", 3, "user-1", nil)
	if err := noDS.Validate(); err == nil {
		t.Error("qlora without dataset_ref must be rejected")
	}

	// dataset assembly does not
	assembly := NewJob(TrainerKindDatasetAssembly, "cfg://a", "", 3, "user-1", nil)
	if err := assembly.Validate(); err != nil {
		t.Errorf("dataset assembly without dataset_ref rejected: %v", err)
	}

	// priority range
	outOfRange := NewJob(TrainerKindLoRA, "cfg://a", "ds://a", 9, "user-1", nil)
	if err := outOfRange.Validate(); err == nil {
		t.Error("priority 9 must be rejected")
	}

	// priority 0 takes the default
	defPrio := NewJob(TrainerKindLoRA, "cfg://a", "ds://a", 0, "user-1", nil)
	if defPrio.Priority != PriorityDefault {
		t.Errorf("default priority = %d, want %d", defPrio.Priority, PriorityDefault)
	}
}

func TestJob_MarkTerminalInvariants(t *testing.T) {
	job := NewJob(TrainerKindLoRA, "cfg://a", "ds://a", 3, "user-1", nil)

	job.MarkQueued()
	if job.StartedAt != nil || job.FinishedAt != nil {
		t.Error("queued job must not have started/finished timestamps")
	}

	job.MarkStarted()
	if job.StartedAt == nil {
		t.Fatal("running job must have StartedAt")
	}
	if job.StartedAt.Before(job.SubmittedAt) {
		t.Error("StartedAt must not precede SubmittedAt")
	}

	job.MarkCompleted(map[string]string{"adapter": "out://adapters/x"})
	if job.FinishedAt == nil {
		t.Fatal("completed job must have FinishedAt")
	}
	if job.FinishedAt.Before(*job.StartedAt) {
		t.Error("FinishedAt must not precede StartedAt")
	}
	if len(job.ArtifactRefs) == 0 {
		t.Error("completed job must carry artifacts")
	}
	if job.LastError != "" || job.ErrorKind != "" {
		t.Error("completed job must not carry an error")
	}

	failed := NewJob(TrainerKindLoRA, "cfg://b", "ds://b", 3, "user-1", nil)
	failed.MarkQueued()
	failed.MarkStarted()
	failed.MarkFailed(ErrKindInternal, "trainer exploded")
	if failed.LastError == "" || failed.ErrorKind != ErrKindInternal {
		t.Error("failed job must carry error kind and message")
	}
	if len(failed.ArtifactRefs) != 0 {
		t.Error("failed job must not carry artifacts")
	}

	t.Logf("✓ terminal field invariants hold")
}

func TestJob_Clone(t *testing.T) {
	job := NewJob(TrainerKindLoRA, "cfg://a", "ds://a", 3, "user-1", []string{"exp"})
	job.MarkQueued()
	job.MarkStarted()
	job.Progress.Apply(ProgressDelta{EpochsDone: 1, EpochsTotal: 3, Metrics: map[string]float64{"loss": 0.7}}, time.Now())
	job.MarkCompleted(map[string]string{"adapter": "out://x"})

	clone := job.Clone()
	clone.Tags[0] = "mutated"
	clone.ArtifactRefs["adapter"] = "mutated"
	clone.Progress.LastMetrics["loss"] = 99

	if job.Tags[0] != "exp" {
		t.Error("clone shares tags slice")
	}
	if job.ArtifactRefs["adapter"] != "out://x" {
		t.Error("clone shares artifact map")
	}
	if job.Progress.LastMetrics["loss"] != 0.7 {
		t.Error("clone shares metrics map")
	}
}

func TestProgress_ApplyMonotonicity(t *testing.T) {
	var p Progress
	now := time.Now()

	if err := p.Apply(ProgressDelta{EpochsDone: 1, EpochsTotal: 3, StepsDone: 10, StepsTotal: 30}, now); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if err := p.Apply(ProgressDelta{EpochsDone: 2, EpochsTotal: 3, StepsDone: 20, StepsTotal: 30}, now); err != nil {
		t.Fatalf("monotonic apply failed: %v", err)
	}

	// regression rejected, snapshot unchanged
	if err := p.Apply(ProgressDelta{EpochsDone: 1, StepsDone: 20}, now); err == nil {
		t.Fatal("epoch regression must be rejected")
	}
	if err := p.Apply(ProgressDelta{EpochsDone: 2, StepsDone: 5}, now); err == nil {
		t.Fatal("step regression must be rejected")
	}
	if p.EpochsDone != 2 || p.StepsDone != 20 {
		t.Errorf("snapshot mutated by rejected delta: %+v", p)
	}

	// UpdatedAt strictly increases even with a frozen clock
	first := p.UpdatedAt
	if err := p.Apply(ProgressDelta{EpochsDone: 2, StepsDone: 20}, first); err != nil {
		t.Fatalf("equal-counter apply failed: %v", err)
	}
	if !p.UpdatedAt.After(first) {
		t.Error("UpdatedAt must strictly increase")
	}

	// zero totals leave stored totals alone
	if p.EpochsTotal != 3 || p.StepsTotal != 30 {
		t.Errorf("totals clobbered by zero delta: %+v", p)
	}
}

func TestJobFilter_Matches(t *testing.T) {
	job := NewJob(TrainerKindQLoRA, "cfg://a", "ds://a", 3, "alice", nil)
	job.MarkQueued()

	cases := []struct {
		name   string
		filter JobFilter
		want   bool
	}{
		{"empty matches", JobFilter{}, true},
		{"status match", JobFilter{Statuses: []JobStatus{JobStatusQueued}}, true},
		{"status miss", JobFilter{Statuses: []JobStatus{JobStatusRunning}}, false},
		{"kind match", JobFilter{Kinds: []TrainerKind{TrainerKindQLoRA, TrainerKindLoRA}}, true},
		{"kind miss", JobFilter{Kinds: []TrainerKind{TrainerKindDatasetAssembly}}, false},
		{"submitter match", JobFilter{SubmittedBy: "alice"}, true},
		{"submitter miss", JobFilter{SubmittedBy: "bob"}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(job); got != tc.want {
			t.Errorf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{ErrNotFound, ErrKindNotFound},
		{fmt.Errorf("submit: %w", ErrCapacity), ErrKindCapacity},
		{fmt.Errorf("cancel: %w", ErrTerminal), ErrKindTerminal},
		{ErrUnknownTrainer, ErrKindUnknownTrainer},
		{ErrInvalidConfig, ErrKindInvalidConfig},
		{ErrUnauthenticated, ErrKindUnauthenticated},
		{ErrAuthInsufficient, ErrKindAuthInsufficient},
		{ErrCancelTimeout, ErrKindCancelTimeout},
		{ErrTimeout, ErrKindTimeout},
		{ErrSlowConsumer, ErrKindSlowConsumer},
		{errors.New("surprise"), ErrKindInternal},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
	if KindOf(nil) != "" {
		t.Error("KindOf(nil) must be empty")
	}
}

func TestEventFromJob_TerminalDecoration(t *testing.T) {
	job := NewJob(TrainerKindLoRA, "cfg://a", "ds://a", 3, "user-1", nil)
	job.MarkQueued()
	job.Seq = 4

	ev := EventFromJob(job)
	if ev.ArtifactRefs != nil || ev.ErrorKind != "" {
		t.Error("non-terminal event must not carry terminal fields")
	}
	if ev.Seq != 4 || ev.JobID != job.ID {
		t.Errorf("event identity wrong: %+v", ev)
	}

	job.MarkStarted()
	job.MarkCompleted(map[string]string{"adapter": "out://x"})
	done := EventFromJob(job)
	if done.ArtifactRefs["adapter"] != "out://x" {
		t.Error("completed event must carry artifacts")
	}
	if done.ErrorKind != "" {
		t.Error("completed event must not carry an error kind")
	}

	job2 := NewJob(TrainerKindLoRA, "cfg://b", "ds://b", 3, "user-1", nil)
	job2.MarkQueued()
	job2.MarkStarted()
	job2.MarkFailed(ErrKindCancelTimeout, "ignored cancellation")
	fail := EventFromJob(job2)
	if fail.ErrorKind != ErrKindCancelTimeout || fail.Message == "" {
		t.Error("failed event must carry error kind and message")
	}
	if fail.ArtifactRefs != nil {
		t.Error("failed event must not carry artifacts")
	}
}
