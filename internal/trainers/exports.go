package trainers

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/exerceo/internal/models"
)

// writeExport writes one corpus file in the named format and returns its
// path.
func writeExport(dir string, format models.ExportFormat, records []models.DatasetRecord) (string, error) {
	switch format {
	case models.ExportFormatLineDelimitedJSON:
		return writeLineDelimitedJSON(dir, records)
	case models.ExportFormatColumnar:
		return writeColumnar(dir, records)
	case models.ExportFormatCommaSeparated:
		return writeCommaSeparated(dir, records)
	default:
		return "", fmt.Errorf("%w: unsupported export format %q", models.ErrInvalidConfig, format)
	}
}

// writeLineDelimitedJSON writes one UTF-8 JSON object per LF-terminated
// line, each with the {id, text, meta} record shape.
func writeLineDelimitedJSON(dir string, records []models.DatasetRecord) (string, error) {
	path := filepath.Join(dir, "dataset.jsonl")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return "", fmt.Errorf("failed to encode record %s: %w", record.ID, err)
		}
		if _, err := w.Write(line); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return path, nil
}

// columnarDocument is the parallel-array layout of the columnar export.
type columnarDocument struct {
	IDs   []string                 `json:"ids"`
	Texts []string                 `json:"texts"`
	Metas []map[string]interface{} `json:"metas"`
}

// writeColumnar writes the whole corpus as a single JSON document of
// parallel arrays.
func writeColumnar(dir string, records []models.DatasetRecord) (string, error) {
	doc := columnarDocument{
		IDs:   make([]string, 0, len(records)),
		Texts: make([]string, 0, len(records)),
		Metas: make([]map[string]interface{}, 0, len(records)),
	}
	for _, record := range records {
		doc.IDs = append(doc.IDs, record.ID)
		doc.Texts = append(doc.Texts, record.Text)
		doc.Metas = append(doc.Metas, record.Meta)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode columnar document: %w", err)
	}

	path := filepath.Join(dir, "dataset_columnar.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// writeCommaSeparated writes an id,text,meta CSV; the meta column carries
// the record metadata JSON-encoded.
func writeCommaSeparated(dir string, records []models.DatasetRecord) (string, error) {
	path := filepath.Join(dir, "dataset.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "text", "meta"}); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	for _, record := range records {
		meta, err := json.Marshal(record.Meta)
		if err != nil {
			return "", fmt.Errorf("failed to encode meta for record %s: %w", record.ID, err)
		}
		if err := w.Write([]string{record.ID, record.Text, string(meta)}); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return path, nil
}

// writeDescriptor writes the descriptor.json artifact.
func writeDescriptor(dir string, descriptor models.DatasetDescriptor) (string, error) {
	data, err := json.MarshalIndent(descriptor, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode descriptor: %w", err)
	}

	path := filepath.Join(dir, "descriptor.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
