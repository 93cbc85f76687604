package trainers

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/models"
)

// reportCollector records every delta a trainer emits. Run executes on the
// calling goroutine, so no locking is needed when Run is called directly.
type reportCollector struct {
	deltas []models.ProgressDelta
}

func (c *reportCollector) report(delta models.ProgressDelta) {
	c.deltas = append(c.deltas, delta)
}

func fastDefaults(epochs, stepsPerEpoch int) common.TrainerDefaults {
	return common.TrainerDefaults{
		Epochs:        epochs,
		StepsPerEpoch: stepsPerEpoch,
		StepInterval:  "1ms",
	}
}

func trainingJob(kind models.TrainerKind) *models.Job {
	return &models.Job{
		ID:          "job-test-1",
		TrainerKind: kind,
		ConfigRef:   "cfg://test",
		DatasetRef:  "ds://corpus",
		Priority:    3,
		SubmittedAt: time.Now(),
		SubmittedBy: "tester",
		Status:      models.JobStatusRunning,
	}
}

func TestLoRATrainer_RunProducesAdapterArtifact(t *testing.T) {
	outputRoot := t.TempDir()
	trainer := NewLoRATrainer(arbor.NewLogger(), fastDefaults(2, 3), outputRoot)
	collector := &reportCollector{}

	artifacts, err := trainer.Run(context.Background(), trainingJob(models.TrainerKindLoRA), collector.report)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	path, ok := artifacts["adapter"]
	if !ok {
		t.Fatalf("artifacts missing adapter key: %v", artifacts)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("adapter artifact not written: %v", err)
	}

	var card adapterCard
	if err := json.Unmarshal(data, &card); err != nil {
		t.Fatalf("adapter card is not valid JSON: %v", err)
	}
	if card.TrainerKind != "lora" || card.JobID != "job-test-1" {
		t.Errorf("card identity wrong: %+v", card)
	}
	if card.StepsDone != 6 || card.Epochs != 2 {
		t.Errorf("card counters = %d steps / %d epochs, want 6/2", card.StepsDone, card.Epochs)
	}
	if card.FinalLoss >= initialLoss || card.FinalLoss < lossFloor {
		t.Errorf("final loss %v outside (%v, %v)", card.FinalLoss, lossFloor, initialLoss)
	}
}

func TestLoRATrainer_ReportsAreMonotonic(t *testing.T) {
	trainer := NewLoRATrainer(arbor.NewLogger(), fastDefaults(3, 4), "")
	collector := &reportCollector{}

	if _, err := trainer.Run(context.Background(), trainingJob(models.TrainerKindLoRA), collector.report); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(collector.deltas) < 4 {
		t.Fatalf("expected at least initial + 3 epoch reports, got %d", len(collector.deltas))
	}

	first := collector.deltas[0]
	if first.EpochsTotal != 3 || first.StepsTotal != 12 {
		t.Errorf("initial report totals = %d/%d, want 3/12", first.EpochsTotal, first.StepsTotal)
	}

	for i := 1; i < len(collector.deltas); i++ {
		prev, cur := collector.deltas[i-1], collector.deltas[i]
		if cur.StepsDone < prev.StepsDone {
			t.Errorf("steps_done regressed at report %d: %d -> %d", i, prev.StepsDone, cur.StepsDone)
		}
		if cur.EpochsDone < prev.EpochsDone {
			t.Errorf("epochs_done regressed at report %d: %d -> %d", i, prev.EpochsDone, cur.EpochsDone)
		}
	}

	last := collector.deltas[len(collector.deltas)-1]
	if last.EpochsDone != 3 || last.StepsDone != 12 {
		t.Errorf("final report = %d epochs / %d steps, want 3/12", last.EpochsDone, last.StepsDone)
	}
	if last.Metrics["loss"] <= 0 {
		t.Errorf("final loss metric missing: %v", last.Metrics)
	}
}

func TestLoRATrainer_CancellationStopsRun(t *testing.T) {
	trainer := NewLoRATrainer(arbor.NewLogger(), fastDefaults(1, 100000), "")
	collector := &reportCollector{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	artifacts, err := trainer.Run(ctx, trainingJob(models.TrainerKindLoRA), collector.report)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want context deadline error", err)
	}
	if artifacts != nil {
		t.Errorf("cancelled run must not return artifacts, got %v", artifacts)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v, trainer is not cooperative", elapsed)
	}
}

func TestLoRATrainer_ValidateRequiresDataset(t *testing.T) {
	trainer := NewLoRATrainer(arbor.NewLogger(), fastDefaults(1, 1), "")

	if err := trainer.Validate(context.Background(), "cfg://a", ""); !errors.Is(err, models.ErrInvalidConfig) {
		t.Errorf("Validate without dataset = %v, want ErrInvalidConfig", err)
	}
	if err := trainer.Validate(context.Background(), "cfg://a", "ds://a"); err != nil {
		t.Errorf("Validate with dataset failed: %v", err)
	}
}

func TestLoRATrainer_DerivesStepsFromDatasetRef(t *testing.T) {
	defaults := common.TrainerDefaults{Epochs: 1, StepInterval: "1ms"}
	trainer := NewLoRATrainer(arbor.NewLogger(), defaults, "")
	collector := &reportCollector{}

	if _, err := trainer.Run(context.Background(), trainingJob(models.TrainerKindLoRA), collector.report); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	first := collector.deltas[0]
	if first.StepsTotal < 1 {
		t.Fatalf("derived StepsTotal = %d, want >= 1", first.StepsTotal)
	}

	// The derivation is a stable function of the dataset reference.
	second := &reportCollector{}
	if _, err := trainer.Run(context.Background(), trainingJob(models.TrainerKindLoRA), second.report); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if second.deltas[0].StepsTotal != first.StepsTotal {
		t.Errorf("derived steps changed between runs: %d vs %d",
			first.StepsTotal, second.deltas[0].StepsTotal)
	}
}

func TestQLoRATrainer_DefaultsQuantBits(t *testing.T) {
	outputRoot := t.TempDir()
	trainer := NewQLoRATrainer(arbor.NewLogger(), fastDefaults(1, 2), outputRoot)
	collector := &reportCollector{}

	artifacts, err := trainer.Run(context.Background(), trainingJob(models.TrainerKindQLoRA), collector.report)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(artifacts["adapter"])
	if err != nil {
		t.Fatalf("adapter artifact not written: %v", err)
	}
	var card adapterCard
	if err := json.Unmarshal(data, &card); err != nil {
		t.Fatalf("adapter card is not valid JSON: %v", err)
	}
	if card.TrainerKind != "qlora" {
		t.Errorf("card kind = %q, want qlora", card.TrainerKind)
	}
	if card.QuantBits != 4 {
		t.Errorf("QuantBits = %d, want default 4", card.QuantBits)
	}
}
