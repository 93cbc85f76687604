package trainers

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
	"golang.org/x/time/rate"
)

// Synthetic loss curve bounds for the simulation engines.
const (
	initialLoss = 2.5
	lossFloor   = 0.35
)

// deriveDatasetSize estimates an example count for a dataset reference when
// the config document does not pin steps_per_epoch. The estimate is a stable
// hash of the reference, so repeated runs of the same job pace identically.
func deriveDatasetSize(datasetRef string) int {
	h := fnv.New32a()
	h.Write([]byte(datasetRef))
	return 64 + int(h.Sum32()%256)
}

// runAdapterFineTune drives the simulated epoch/step loop shared by the lora
// and qlora kinds. Each step waits one tick and decays the synthetic loss;
// cancellation is checked at every step. Reports go out at epoch boundaries
// and otherwise at most once per second.
func runAdapterFineTune(ctx context.Context, logger arbor.ILogger, job *models.Job, cfg *TrainingConfig, stepInterval time.Duration, outputRoot string, kind models.TrainerKind, report interfaces.ReportFunc) (map[string]string, error) {
	stepsPerEpoch := cfg.StepsPerEpoch
	if stepsPerEpoch <= 0 {
		examples := deriveDatasetSize(job.DatasetRef)
		perStep := cfg.BatchSize * cfg.GradAccumSteps
		stepsPerEpoch = (examples + perStep - 1) / perStep
	}
	totalSteps := cfg.Epochs * stepsPerEpoch

	if stepInterval <= 0 {
		stepInterval = time.Millisecond
	}

	logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(kind)).
		Str("base_model", cfg.BaseModel).
		Int("epochs", cfg.Epochs).
		Int("steps_per_epoch", stepsPerEpoch).
		Msg("Starting adapter fine-tune")

	report(models.ProgressDelta{
		EpochsTotal: cfg.Epochs,
		StepsTotal:  totalSteps,
	})

	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	ticker := time.NewTicker(stepInterval)
	defer ticker.Stop()

	loss := initialLoss
	done := 0
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		for step := 1; step <= stepsPerEpoch; step++ {
			select {
			case <-ctx.Done():
				logger.Info().
					Str("job_id", job.ID).
					Int("steps_done", done).
					Msg("Fine-tune interrupted by cancellation")
				return nil, ctx.Err()
			case <-ticker.C:
			}

			done++
			frac := float64(done) / float64(totalSteps)
			loss = lossFloor + (initialLoss-lossFloor)*math.Exp(-4*frac)

			epochsDone := epoch
			atEpochEnd := step == stepsPerEpoch
			if !atEpochEnd {
				epochsDone = epoch - 1
			}

			if atEpochEnd || limiter.Allow() {
				report(models.ProgressDelta{
					EpochsDone:  epochsDone,
					EpochsTotal: cfg.Epochs,
					StepsDone:   done,
					StepsTotal:  totalSteps,
					Metrics: map[string]float64{
						"loss":          loss,
						"learning_rate": cfg.LearningRate * (1 - frac),
					},
				})
			}
		}
	}

	artifacts, err := writeAdapterCard(outputRoot, job, cfg, kind, loss, done)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("job_id", job.ID).
		Int("steps_done", done).
		Str("final_loss", fmt.Sprintf("%.4f", loss)).
		Msg("Fine-tune complete")
	return artifacts, nil
}

// adapterCard is the adapter.json artifact summarising a finished fine-tune.
type adapterCard struct {
	JobID       string    `json:"job_id"`
	TrainerKind string    `json:"trainer_kind"`
	BaseModel   string    `json:"base_model"`
	Rank        int       `json:"rank"`
	Alpha       int       `json:"alpha"`
	QuantBits   int       `json:"quant_bits,omitempty"`
	Epochs      int       `json:"epochs"`
	StepsDone   int       `json:"steps_done"`
	FinalLoss   float64   `json:"final_loss"`
	CreatedAt   time.Time `json:"created_at"`
}

// writeAdapterCard writes the adapter artifact under the output root and
// returns the artifact reference map. With no output root configured the
// reference is virtual and nothing touches the filesystem.
func writeAdapterCard(outputRoot string, job *models.Job, cfg *TrainingConfig, kind models.TrainerKind, finalLoss float64, stepsDone int) (map[string]string, error) {
	if outputRoot == "" {
		return map[string]string{"adapter": "adapter://" + job.ID}, nil
	}

	dir := filepath.Join(outputRoot, "adapters", job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create adapter output directory: %w", err)
	}

	card := adapterCard{
		JobID:       job.ID,
		TrainerKind: string(kind),
		BaseModel:   cfg.BaseModel,
		Rank:        cfg.Rank,
		Alpha:       cfg.Alpha,
		QuantBits:   cfg.QuantBits,
		Epochs:      cfg.Epochs,
		StepsDone:   stepsDone,
		FinalLoss:   finalLoss,
		CreatedAt:   time.Now().UTC(),
	}

	data, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode adapter card: %w", err)
	}

	path := filepath.Join(dir, "adapter.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write adapter card: %w", err)
	}

	return map[string]string{"adapter": path}, nil
}
