// Package trainers implements the adapter for each recognised trainer kind.
// Adapters resolve their configRef, run the work on the worker's goroutine,
// honour context cancellation between steps, and report progress snapshots
// through the manager's report callback.
package trainers

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/models"
	"gopkg.in/yaml.v3"
)

// TrainingConfig is the YAML document a LoRA/QLoRA/continuous job's
// configRef points at. Fields absent from the document keep the per-kind
// defaults from the service configuration.
type TrainingConfig struct {
	BaseModel      string   `yaml:"base_model" validate:"required"`
	Rank           int      `yaml:"rank" validate:"min=1,max=256"`
	Alpha          int      `yaml:"alpha" validate:"min=1"`
	Dropout        float64  `yaml:"dropout" validate:"gte=0,lt=1"`
	TargetModules  []string `yaml:"target_modules"`
	LearningRate   float64  `yaml:"learning_rate" validate:"gt=0"`
	BatchSize      int      `yaml:"batch_size" validate:"min=1"`
	GradAccumSteps int      `yaml:"grad_accum_steps" validate:"min=1"`
	Epochs         int      `yaml:"epochs" validate:"min=1,max=1000"`
	StepsPerEpoch  int      `yaml:"steps_per_epoch" validate:"min=0"`
	QuantBits      int      `yaml:"quant_bits" validate:"omitempty,oneof=4 8"`
}

// Validate validates the document using go-playground/validator.
func (c *TrainingConfig) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func defaultTrainingConfig(defaults common.TrainerDefaults) TrainingConfig {
	epochs := defaults.Epochs
	if epochs <= 0 {
		epochs = 3
	}
	return TrainingConfig{
		BaseModel:      "exerceo/base-7b",
		Rank:           16,
		Alpha:          32,
		Dropout:        0.05,
		TargetModules:  []string{"q_proj", "v_proj"},
		LearningRate:   2e-4,
		BatchSize:      4,
		GradAccumSteps: 4,
		Epochs:         epochs,
		StepsPerEpoch:  defaults.StepsPerEpoch,
	}
}

// loadTrainingConfig resolves configRef. A ref naming a readable file is
// parsed as YAML over the defaults; any other ref is opaque and yields the
// defaults unchanged, so jobs can run without a config document on disk.
func loadTrainingConfig(configRef string, defaults common.TrainerDefaults) (*TrainingConfig, error) {
	cfg := defaultTrainingConfig(defaults)

	if data, err := os.ReadFile(configRef); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", models.ErrInvalidConfig, configRef, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// AssemblyConfig is the YAML document a dataset-assembly job's configRef
// points at. An empty queries list assembles the whole corpus.
type AssemblyConfig struct {
	Name         string   `yaml:"name" validate:"required"`
	Queries      []string `yaml:"queries"`
	MaxDocuments int      `yaml:"max_documents" validate:"min=1"`
	MinQuality   float64  `yaml:"min_quality" validate:"gte=0,lte=1"`
	Formats      []string `yaml:"formats" validate:"omitempty,dive,oneof=line_delimited_json columnar comma_separated"`
}

// Validate validates the document using go-playground/validator.
func (c *AssemblyConfig) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func defaultAssemblyConfig() AssemblyConfig {
	return AssemblyConfig{
		Name:         "corpus",
		MaxDocuments: 500,
		MinQuality:   0,
	}
}

func loadAssemblyConfig(configRef string) (*AssemblyConfig, error) {
	cfg := defaultAssemblyConfig()

	if data, err := os.ReadFile(configRef); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", models.ErrInvalidConfig, configRef, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// exportFormats returns the encodings to write, defaulting to all of them.
func (c *AssemblyConfig) exportFormats() []models.ExportFormat {
	if len(c.Formats) == 0 {
		return models.ExportFormats()
	}
	formats := make([]models.ExportFormat, 0, len(c.Formats))
	for _, f := range c.Formats {
		formats = append(formats, models.ExportFormat(f))
	}
	return formats
}
