// -----------------------------------------------------------------------
// Dataset - assembly output descriptor and export formats
// -----------------------------------------------------------------------

package models

import "time"

// ExportFormat names a dataset export encoding. The set is closed; trainers
// write one artifact per format.
type ExportFormat string

const (
	ExportFormatLineDelimitedJSON ExportFormat = "line_delimited_json"
	ExportFormatColumnar          ExportFormat = "columnar"
	ExportFormatCommaSeparated    ExportFormat = "comma_separated"
)

// ExportFormats lists every supported encoding in a stable order.
func ExportFormats() []ExportFormat {
	return []ExportFormat{
		ExportFormatLineDelimitedJSON,
		ExportFormatColumnar,
		ExportFormatCommaSeparated,
	}
}

// DatasetRecord is one corpus entry. The line-delimited JSON export writes
// exactly this shape, one object per LF-terminated line.
type DatasetRecord struct {
	ID   string                 `json:"id"`
	Text string                 `json:"text"`
	Meta map[string]interface{} `json:"meta"`
}

// DatasetDescriptor summarises a completed dataset-assembly run. Exports
// maps each format to the artifact reference the trainer wrote.
type DatasetDescriptor struct {
	DatasetID        string                  `json:"dataset_id"`
	Name             string                  `json:"name"`
	DocumentCount    int                     `json:"document_count"`
	TotalTokens      int                     `json:"total_tokens"`
	QualityScoreMean float64                 `json:"quality_score_mean"`
	Exports          map[ExportFormat]string `json:"exports"`
	CreatedAt        time.Time               `json:"created_at"`
}

// SearchResult is what the optional search provider returns for a corpus
// query.
type SearchResult struct {
	DocumentID     string                 `json:"document_id"`
	Content        string                 `json:"content"`
	QualityScore   float64                `json:"quality_score"`
	RelevanceScore float64                `json:"relevance_score"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// FeedbackItem is one entry drained from the feedback provider by the
// continuous trainer.
type FeedbackItem struct {
	Text      string    `json:"text"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}
