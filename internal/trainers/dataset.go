package trainers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
)

// DatasetTrainer assembles a training corpus from the search provider and
// writes one export artifact per configured format plus a descriptor. When
// no search service is configured the provider is the filesystem fallback,
// so assembly degrades gracefully rather than failing.
type DatasetTrainer struct {
	logger     arbor.ILogger
	search     interfaces.SearchProvider
	defaults   common.TrainerDefaults
	exportRoot string
}

// NewDatasetTrainer creates the dataset_assembly adapter.
func NewDatasetTrainer(logger arbor.ILogger, search interfaces.SearchProvider, defaults common.TrainerDefaults, exportRoot string) *DatasetTrainer {
	return &DatasetTrainer{
		logger:     logger,
		search:     search,
		defaults:   defaults,
		exportRoot: exportRoot,
	}
}

// Kind returns models.TrainerKindDatasetAssembly.
func (t *DatasetTrainer) Kind() models.TrainerKind {
	return models.TrainerKindDatasetAssembly
}

// Validate parses and checks the assembly document without starting any work.
func (t *DatasetTrainer) Validate(ctx context.Context, configRef, datasetRef string) error {
	if t.search == nil {
		return fmt.Errorf("%w: no corpus provider configured", models.ErrInvalidConfig)
	}
	_, err := loadAssemblyConfig(configRef)
	return err
}

// Run gathers documents query by query, dedupes them, and writes the export
// set. Progress counts one step per query and one per export file.
func (t *DatasetTrainer) Run(ctx context.Context, job *models.Job, report interfaces.ReportFunc) (map[string]string, error) {
	cfg, err := loadAssemblyConfig(job.ConfigRef)
	if err != nil {
		return nil, err
	}

	queries := cfg.Queries
	if len(queries) == 0 {
		// Whole-corpus assembly.
		queries = []string{""}
	}
	formats := cfg.exportFormats()
	totalSteps := len(queries) + len(formats) + 1

	report(models.ProgressDelta{
		EpochsTotal: 1,
		StepsTotal:  totalSteps,
	})

	interval := t.defaults.GetStepInterval()

	records, qualitySum, err := t.gather(ctx, queries, cfg, interval, totalSteps, report)
	if err != nil {
		return nil, err
	}

	t.logger.Info().
		Str("job_id", job.ID).
		Str("provider", t.search.Name()).
		Int("documents", len(records)).
		Msg("Corpus gathered, writing exports")

	datasetID := common.NewDatasetID()
	dir := filepath.Join(t.exportRoot, datasetID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	artifacts := make(map[string]string, len(formats)+1)
	stepsDone := len(queries)
	for _, format := range formats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, err := writeExport(dir, format, records)
		if err != nil {
			return nil, err
		}
		artifacts[string(format)] = path

		stepsDone++
		report(models.ProgressDelta{
			EpochsTotal: 1,
			StepsDone:   stepsDone,
			StepsTotal:  totalSteps,
		})
	}

	descriptor := models.DatasetDescriptor{
		DatasetID:     datasetID,
		Name:          cfg.Name,
		DocumentCount: len(records),
		TotalTokens:   countTokens(records),
		Exports:       make(map[models.ExportFormat]string, len(formats)),
		CreatedAt:     time.Now().UTC(),
	}
	if len(records) > 0 {
		descriptor.QualityScoreMean = qualitySum / float64(len(records))
	}
	for _, format := range formats {
		descriptor.Exports[format] = artifacts[string(format)]
	}

	descriptorPath, err := writeDescriptor(dir, descriptor)
	if err != nil {
		return nil, err
	}
	artifacts["descriptor"] = descriptorPath

	report(models.ProgressDelta{
		EpochsDone:  1,
		EpochsTotal: 1,
		StepsDone:   totalSteps,
		StepsTotal:  totalSteps,
		Metrics: map[string]float64{
			"documents":          float64(descriptor.DocumentCount),
			"total_tokens":       float64(descriptor.TotalTokens),
			"quality_score_mean": descriptor.QualityScoreMean,
		},
	})

	t.logger.Info().
		Str("job_id", job.ID).
		Str("dataset_id", datasetID).
		Int("documents", descriptor.DocumentCount).
		Int("total_tokens", descriptor.TotalTokens).
		Msg("Dataset assembly complete")
	return artifacts, nil
}

// gather runs every query against the provider, filters on quality, dedupes
// by document ID, ranks by relevance and caps at max_documents.
func (t *DatasetTrainer) gather(ctx context.Context, queries []string, cfg *AssemblyConfig, interval time.Duration, totalSteps int, report interfaces.ReportFunc) ([]models.DatasetRecord, float64, error) {
	seen := make(map[string]bool)
	var results []models.SearchResult

	for i, query := range queries {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		found, err := t.search.Search(ctx, query, cfg.MaxDocuments)
		if err != nil {
			return nil, 0, fmt.Errorf("corpus query %q failed: %w", query, err)
		}

		for _, r := range found {
			if r.QualityScore < cfg.MinQuality || seen[r.DocumentID] {
				continue
			}
			seen[r.DocumentID] = true
			results = append(results, r)
		}

		report(models.ProgressDelta{
			EpochsTotal: 1,
			StepsDone:   i + 1,
			StepsTotal:  totalSteps,
		})

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(interval):
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > cfg.MaxDocuments {
		results = results[:cfg.MaxDocuments]
	}

	records := make([]models.DatasetRecord, 0, len(results))
	qualitySum := 0.0
	for _, r := range results {
		meta := make(map[string]interface{}, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			meta[k] = v
		}
		meta["quality_score"] = r.QualityScore
		meta["relevance_score"] = r.RelevanceScore

		records = append(records, models.DatasetRecord{
			ID:   r.DocumentID,
			Text: r.Content,
			Meta: meta,
		})
		qualitySum += r.QualityScore
	}
	return records, qualitySum, nil
}

// countTokens approximates corpus size as a whitespace-delimited word count.
func countTokens(records []models.DatasetRecord) int {
	total := 0
	for _, r := range records {
		total += len(strings.Fields(r.Text))
	}
	return total
}

var _ interfaces.Trainer = (*DatasetTrainer)(nil)
