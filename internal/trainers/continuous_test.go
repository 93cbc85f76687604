package trainers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/models"
	"github.com/ternarybob/exerceo/internal/providers"
)

func continuousDefaults() common.TrainerDefaults {
	return common.TrainerDefaults{StepInterval: "1ms"}
}

func TestContinuousTrainer_DrainsBufferAndCompletes(t *testing.T) {
	feedback := providers.NewFeedbackBuffer(16, arbor.NewLogger())
	for i := 0; i < 5; i++ {
		feedback.Submit(models.FeedbackItem{Text: fmt.Sprintf("fb-%d", i), Score: 0.8})
	}

	trainer := NewContinuousTrainer(arbor.NewLogger(), feedback, continuousDefaults(), t.TempDir(), 2)
	collector := &reportCollector{}

	artifacts, err := trainer.Run(context.Background(), trainingJob(models.TrainerKindContinuous), collector.report)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if feedback.Len() != 0 {
		t.Errorf("buffer still holds %d items after run", feedback.Len())
	}

	// Drain limit 2 over 5 items means 3 passes.
	if len(collector.deltas) != 3 {
		t.Fatalf("expected 3 pass reports, got %d", len(collector.deltas))
	}
	last := collector.deltas[len(collector.deltas)-1]
	if last.EpochsDone != 3 || last.StepsDone != 5 {
		t.Errorf("final report = %d passes / %d items, want 3/5", last.EpochsDone, last.StepsDone)
	}
	if last.Metrics["feedback_score_mean"] != 0.8 {
		t.Errorf("score mean = %v, want 0.8", last.Metrics["feedback_score_mean"])
	}

	data, err := os.ReadFile(artifacts["adapter"])
	if err != nil {
		t.Fatalf("adapter artifact not written: %v", err)
	}
	var card adapterCard
	if err := json.Unmarshal(data, &card); err != nil {
		t.Fatalf("adapter card is not valid JSON: %v", err)
	}
	if card.TrainerKind != "continuous" || card.StepsDone != 5 {
		t.Errorf("card = %+v, want continuous with 5 steps", card)
	}
}

func TestContinuousTrainer_EmptyBufferCompletesImmediately(t *testing.T) {
	feedback := providers.NewFeedbackBuffer(16, arbor.NewLogger())
	trainer := NewContinuousTrainer(arbor.NewLogger(), feedback, continuousDefaults(), "", 8)
	collector := &reportCollector{}

	start := time.Now()
	artifacts, err := trainer.Run(context.Background(), trainingJob(models.TrainerKindContinuous), collector.report)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("empty-buffer run should complete quickly")
	}
	if artifacts["adapter"] == "" {
		t.Errorf("artifacts = %v, want virtual adapter ref", artifacts)
	}
	if len(collector.deltas) != 0 {
		t.Errorf("no passes should mean no reports, got %d", len(collector.deltas))
	}
}

func TestContinuousTrainer_Cancellation(t *testing.T) {
	feedback := providers.NewFeedbackBuffer(4096, arbor.NewLogger())
	for i := 0; i < 1000; i++ {
		feedback.Submit(models.FeedbackItem{Text: "item", Score: 0.5})
	}

	// One item per slow pass so the deadline lands mid-run.
	defaults := common.TrainerDefaults{StepInterval: "50ms"}
	trainer := NewContinuousTrainer(arbor.NewLogger(), feedback, defaults, "", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	collector := &reportCollector{}
	_, err := trainer.Run(ctx, trainingJob(models.TrainerKindContinuous), collector.report)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want context deadline error", err)
	}
	if feedback.Len() == 0 {
		t.Error("cancellation should leave unprocessed feedback in the buffer")
	}
}

func TestContinuousTrainer_ValidateNeedsProvider(t *testing.T) {
	trainer := NewContinuousTrainer(arbor.NewLogger(), nil, continuousDefaults(), "", 8)

	err := trainer.Validate(context.Background(), "cfg://a", "ds://a")
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Errorf("Validate without provider = %v, want ErrInvalidConfig", err)
	}
}
