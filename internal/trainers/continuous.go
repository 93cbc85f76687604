package trainers

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
)

// ContinuousTrainer folds buffered feedback into the adapter in drain
// passes. Each pass drains up to drainLimit items, folds their scores, and
// waits one cycle before the next pass. The job completes once the buffer
// comes up empty, so it finishes quickly when little feedback is waiting.
type ContinuousTrainer struct {
	logger     arbor.ILogger
	feedback   interfaces.FeedbackProvider
	defaults   common.TrainerDefaults
	outputRoot string
	drainLimit int
}

// NewContinuousTrainer creates the continuous adapter.
func NewContinuousTrainer(logger arbor.ILogger, feedback interfaces.FeedbackProvider, defaults common.TrainerDefaults, outputRoot string, drainLimit int) *ContinuousTrainer {
	if drainLimit <= 0 {
		drainLimit = 256
	}
	return &ContinuousTrainer{
		logger:     logger,
		feedback:   feedback,
		defaults:   defaults,
		outputRoot: outputRoot,
		drainLimit: drainLimit,
	}
}

// Kind returns models.TrainerKindContinuous.
func (t *ContinuousTrainer) Kind() models.TrainerKind {
	return models.TrainerKindContinuous
}

// Validate parses and checks the config document without starting any work.
func (t *ContinuousTrainer) Validate(ctx context.Context, configRef, datasetRef string) error {
	if datasetRef == "" {
		return fmt.Errorf("%w: dataset_ref is required", models.ErrInvalidConfig)
	}
	if t.feedback == nil {
		return fmt.Errorf("%w: no feedback provider configured", models.ErrInvalidConfig)
	}
	_, err := loadTrainingConfig(configRef, t.defaults)
	return err
}

// Run drains the feedback buffer pass by pass until it is empty.
func (t *ContinuousTrainer) Run(ctx context.Context, job *models.Job, report interfaces.ReportFunc) (map[string]string, error) {
	cfg, err := loadTrainingConfig(job.ConfigRef, t.defaults)
	if err != nil {
		return nil, err
	}

	interval := t.defaults.GetStepInterval()

	loss := initialLoss
	processed := 0
	passes := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		items := t.feedback.Drain(t.drainLimit)
		if len(items) == 0 {
			break
		}
		passes++

		scoreSum := 0.0
		for _, item := range items {
			scoreSum += item.Score
		}
		processed += len(items)
		loss = lossFloor + (initialLoss-lossFloor)*math.Exp(-float64(processed)/64)

		report(models.ProgressDelta{
			EpochsDone: passes,
			StepsDone:  processed,
			Metrics: map[string]float64{
				"loss":                loss,
				"feedback_score_mean": scoreSum / float64(len(items)),
			},
		})

		t.logger.Debug().
			Str("job_id", job.ID).
			Int("pass", passes).
			Int("items", len(items)).
			Msg("Feedback pass folded")

		// Pace between drain cycles.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	artifacts, err := writeAdapterCard(t.outputRoot, job, cfg, models.TrainerKindContinuous, loss, processed)
	if err != nil {
		return nil, err
	}

	t.logger.Info().
		Str("job_id", job.ID).
		Int("passes", passes).
		Int("items_processed", processed).
		Msg("Continuous pass complete")
	return artifacts, nil
}

var _ interfaces.Trainer = (*ContinuousTrainer)(nil)
