package trainers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
)

// LoRATrainer runs a simulated low-rank adapter fine-tune. A deployment with
// a real training backend registers its own adapter in place of this one.
type LoRATrainer struct {
	logger     arbor.ILogger
	defaults   common.TrainerDefaults
	outputRoot string
}

// NewLoRATrainer creates the lora adapter.
func NewLoRATrainer(logger arbor.ILogger, defaults common.TrainerDefaults, outputRoot string) *LoRATrainer {
	return &LoRATrainer{
		logger:     logger,
		defaults:   defaults,
		outputRoot: outputRoot,
	}
}

// Kind returns models.TrainerKindLoRA.
func (t *LoRATrainer) Kind() models.TrainerKind {
	return models.TrainerKindLoRA
}

// Validate parses and checks the config document without starting any work.
func (t *LoRATrainer) Validate(ctx context.Context, configRef, datasetRef string) error {
	if datasetRef == "" {
		return fmt.Errorf("%w: dataset_ref is required", models.ErrInvalidConfig)
	}
	_, err := loadTrainingConfig(configRef, t.defaults)
	return err
}

// Run executes the fine-tune on the calling goroutine.
func (t *LoRATrainer) Run(ctx context.Context, job *models.Job, report interfaces.ReportFunc) (map[string]string, error) {
	cfg, err := loadTrainingConfig(job.ConfigRef, t.defaults)
	if err != nil {
		return nil, err
	}
	return runAdapterFineTune(ctx, t.logger, job, cfg, t.defaults.GetStepInterval(), t.outputRoot, models.TrainerKindLoRA, report)
}

var _ interfaces.Trainer = (*LoRATrainer)(nil)
