package trainers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
)

// Registry manages the trainer adapters available to a service instance.
// The training and dataset services register different sets.
type Registry struct {
	mu       sync.RWMutex
	trainers map[models.TrainerKind]interfaces.Trainer
	logger   arbor.ILogger
}

// NewRegistry creates an empty trainer registry.
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		trainers: make(map[models.TrainerKind]interfaces.Trainer),
		logger:   logger,
	}
}

// Register adds a trainer for its kind. Duplicate registration is an error.
func (r *Registry) Register(trainer interfaces.Trainer) error {
	if trainer == nil {
		return fmt.Errorf("trainer cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kind := trainer.Kind()
	if !kind.IsValid() {
		return fmt.Errorf("invalid trainer kind: %s", kind)
	}
	if _, exists := r.trainers[kind]; exists {
		return fmt.Errorf("trainer already registered for kind %s", kind)
	}

	r.trainers[kind] = trainer

	if r.logger != nil {
		r.logger.Info().
			Str("kind", string(kind)).
			Msg("Trainer registered")
	}
	return nil
}

// Get returns the trainer for a kind, or models.ErrUnknownTrainer.
func (r *Registry) Get(kind models.TrainerKind) (interfaces.Trainer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trainer, ok := r.trainers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownTrainer, kind)
	}
	return trainer, nil
}

// Kinds returns the registered kinds in a stable order.
func (r *Registry) Kinds() []models.TrainerKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.TrainerKind, 0, len(r.trainers))
	for kind := range r.trainers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// NewTrainingRegistry builds the adapter set the training service runs:
// lora, qlora and continuous.
func NewTrainingRegistry(logger arbor.ILogger, config *common.Config, feedback interfaces.FeedbackProvider) (*Registry, error) {
	registry := NewRegistry(logger)

	exportRoot := config.Datasets.ExportRoot
	adapters := []interfaces.Trainer{
		NewLoRATrainer(logger, config.TrainerDefaultsFor("lora"), exportRoot),
		NewQLoRATrainer(logger, config.TrainerDefaultsFor("qlora"), exportRoot),
		NewContinuousTrainer(logger, feedback, config.TrainerDefaultsFor("continuous"), exportRoot, config.Feedback.DrainLimit),
	}
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewDatasetRegistry builds the adapter set the dataset service runs:
// dataset_assembly only.
func NewDatasetRegistry(logger arbor.ILogger, config *common.Config, search interfaces.SearchProvider) (*Registry, error) {
	registry := NewRegistry(logger)

	assembler := NewDatasetTrainer(logger, search, config.TrainerDefaultsFor("dataset_assembly"), config.Datasets.ExportRoot)
	if err := registry.Register(assembler); err != nil {
		return nil, err
	}
	return registry, nil
}
