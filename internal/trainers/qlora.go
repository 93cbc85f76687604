package trainers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
)

// QLoRATrainer runs the same simulated fine-tune as LoRATrainer over a
// quantised base model. quant_bits defaults to 4 when the config document
// leaves it unset.
type QLoRATrainer struct {
	logger     arbor.ILogger
	defaults   common.TrainerDefaults
	outputRoot string
}

// NewQLoRATrainer creates the qlora adapter.
func NewQLoRATrainer(logger arbor.ILogger, defaults common.TrainerDefaults, outputRoot string) *QLoRATrainer {
	return &QLoRATrainer{
		logger:     logger,
		defaults:   defaults,
		outputRoot: outputRoot,
	}
}

// Kind returns models.TrainerKindQLoRA.
func (t *QLoRATrainer) Kind() models.TrainerKind {
	return models.TrainerKindQLoRA
}

// Validate parses and checks the config document without starting any work.
func (t *QLoRATrainer) Validate(ctx context.Context, configRef, datasetRef string) error {
	if datasetRef == "" {
		return fmt.Errorf("%w: dataset_ref is required", models.ErrInvalidConfig)
	}
	_, err := loadTrainingConfig(configRef, t.defaults)
	return err
}

// Run executes the fine-tune on the calling goroutine.
func (t *QLoRATrainer) Run(ctx context.Context, job *models.Job, report interfaces.ReportFunc) (map[string]string, error) {
	cfg, err := loadTrainingConfig(job.ConfigRef, t.defaults)
	if err != nil {
		return nil, err
	}
	if cfg.QuantBits == 0 {
		cfg.QuantBits = 4
	}
	return runAdapterFineTune(ctx, t.logger, job, cfg, t.defaults.GetStepInterval(), t.outputRoot, models.TrainerKindQLoRA, report)
}

var _ interfaces.Trainer = (*QLoRATrainer)(nil)
