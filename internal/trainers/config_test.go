package trainers

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/models"
)

func writeConfigDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config doc: %v", err)
	}
	return path
}

func TestLoadTrainingConfig_OpaqueRefUsesDefaults(t *testing.T) {
	defaults := common.TrainerDefaults{Epochs: 3, StepInterval: "250ms"}

	cfg, err := loadTrainingConfig("cfg://a", defaults)
	if err != nil {
		t.Fatalf("loadTrainingConfig failed: %v", err)
	}
	if cfg.Epochs != 3 {
		t.Errorf("Epochs = %d, want 3", cfg.Epochs)
	}
	if cfg.Rank != 16 || cfg.Alpha != 32 {
		t.Errorf("rank/alpha = %d/%d, want 16/32", cfg.Rank, cfg.Alpha)
	}
	if cfg.BaseModel == "" {
		t.Error("BaseModel default missing")
	}
}

func TestLoadTrainingConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfigDoc(t, "lora.yaml", `
base_model: custom/model-1b
rank: 8
epochs: 5
learning_rate: 0.0001
`)

	cfg, err := loadTrainingConfig(path, common.TrainerDefaults{Epochs: 3})
	if err != nil {
		t.Fatalf("loadTrainingConfig failed: %v", err)
	}
	if cfg.BaseModel != "custom/model-1b" {
		t.Errorf("BaseModel = %q", cfg.BaseModel)
	}
	if cfg.Rank != 8 || cfg.Epochs != 5 {
		t.Errorf("rank/epochs = %d/%d, want 8/5", cfg.Rank, cfg.Epochs)
	}
	if cfg.LearningRate != 0.0001 {
		t.Errorf("LearningRate = %v, want 0.0001", cfg.LearningRate)
	}
	// Unmentioned fields keep their defaults.
	if cfg.Alpha != 32 || cfg.BatchSize != 4 {
		t.Errorf("alpha/batch = %d/%d, want 32/4", cfg.Alpha, cfg.BatchSize)
	}
}

func TestLoadTrainingConfig_RejectsInvalidValues(t *testing.T) {
	path := writeConfigDoc(t, "bad.yaml", `
rank: 0
epochs: 5
`)

	_, err := loadTrainingConfig(path, common.TrainerDefaults{Epochs: 3})
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for rank 0, got %v", err)
	}
}

func TestLoadTrainingConfig_RejectsMalformedYAML(t *testing.T) {
	path := writeConfigDoc(t, "broken.yaml", "rank: [not a number\n")

	_, err := loadTrainingConfig(path, common.TrainerDefaults{Epochs: 3})
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for malformed YAML, got %v", err)
	}
}

func TestLoadAssemblyConfig(t *testing.T) {
	path := writeConfigDoc(t, "assembly.yaml", `
name: support-corpus
queries:
  - adapters
  - fine tuning
max_documents: 50
min_quality: 0.4
formats:
  - line_delimited_json
  - columnar
`)

	cfg, err := loadAssemblyConfig(path)
	if err != nil {
		t.Fatalf("loadAssemblyConfig failed: %v", err)
	}
	if cfg.Name != "support-corpus" || len(cfg.Queries) != 2 {
		t.Errorf("name/queries = %q/%d", cfg.Name, len(cfg.Queries))
	}
	if cfg.MaxDocuments != 50 || cfg.MinQuality != 0.4 {
		t.Errorf("max/min = %d/%v", cfg.MaxDocuments, cfg.MinQuality)
	}

	formats := cfg.exportFormats()
	if len(formats) != 2 || formats[0] != models.ExportFormatLineDelimitedJSON {
		t.Errorf("exportFormats() = %v", formats)
	}
}

func TestLoadAssemblyConfig_RejectsUnknownFormat(t *testing.T) {
	path := writeConfigDoc(t, "assembly.yaml", `
name: corpus
formats:
  - parquet
`)

	_, err := loadAssemblyConfig(path)
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unknown format, got %v", err)
	}
}

func TestAssemblyConfig_DefaultFormatsAreAll(t *testing.T) {
	cfg, err := loadAssemblyConfig("cfg://assembly")
	if err != nil {
		t.Fatalf("loadAssemblyConfig failed: %v", err)
	}

	formats := cfg.exportFormats()
	if len(formats) != len(models.ExportFormats()) {
		t.Errorf("default formats = %v, want all", formats)
	}
}
