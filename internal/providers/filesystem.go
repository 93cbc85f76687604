package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// FilesystemSearch serves corpus queries from a local document tree when no
// search service is configured. It scans .txt, .md and .json files under the
// document root and ranks them by query term occurrences.
type FilesystemSearch struct {
	root   string
	logger arbor.ILogger
	md     goldmark.Markdown
}

// NewFilesystemSearch creates a provider rooted at the given directory.
func NewFilesystemSearch(root string, logger arbor.ILogger) *FilesystemSearch {
	return &FilesystemSearch{
		root:   root,
		logger: logger,
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		),
	}
}

// Search walks the document root and returns up to limit matching documents,
// highest relevance first. An empty query matches every document.
func (f *FilesystemSearch) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if _, err := os.Stat(f.root); err != nil {
		return nil, fmt.Errorf("document root %s: %w", f.root, err)
	}

	terms := strings.Fields(strings.ToLower(query))

	var results []models.SearchResult
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" && ext != ".json" {
			return nil
		}

		result, ok := f.loadDocument(path, ext)
		if !ok {
			return nil
		}

		result.RelevanceScore = relevanceOf(result.Content, terms)
		if len(terms) > 0 && result.RelevanceScore <= 0 {
			return nil
		}

		rel, relErr := filepath.Rel(f.root, path)
		if relErr != nil {
			rel = path
		}
		if result.DocumentID == "" {
			result.DocumentID = filepath.ToSlash(rel)
		}
		if result.Metadata == nil {
			result.Metadata = map[string]interface{}{}
		}
		result.Metadata["path"] = filepath.ToSlash(rel)
		result.Metadata["format"] = strings.TrimPrefix(ext, ".")

		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan document root: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].DocumentID < results[j].DocumentID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	f.logger.Debug().
		Str("query", query).
		Int("results", len(results)).
		Msg("Filesystem corpus search")

	return results, nil
}

// Name identifies the provider in logs.
func (f *FilesystemSearch) Name() string {
	return "filesystem"
}

// loadDocument reads one corpus file and extracts its plain text. Unreadable
// or empty files are skipped rather than failing the whole scan.
func (f *FilesystemSearch) loadDocument(path, ext string) (models.SearchResult, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		f.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable document")
		return models.SearchResult{}, false
	}

	var result models.SearchResult
	result.QualityScore = 1.0

	switch ext {
	case ".md":
		result.Content = f.extractMarkdownText(data)
	case ".json":
		var record models.DatasetRecord
		if err := json.Unmarshal(data, &record); err != nil || record.Text == "" {
			f.logger.Debug().Str("path", path).Msg("Skipping JSON document without text field")
			return models.SearchResult{}, false
		}
		result.DocumentID = record.ID
		result.Content = record.Text
		if len(record.Meta) > 0 {
			result.Metadata = record.Meta
		}
	default:
		result.Content = string(data)
	}

	result.Content = strings.TrimSpace(result.Content)
	if result.Content == "" {
		return models.SearchResult{}, false
	}
	return result, true
}

// extractMarkdownText parses markdown and collects the document text,
// including fenced code block contents, without markup.
func (f *FilesystemSearch) extractMarkdownText(source []byte) string {
	source = []byte(stripFrontmatter(string(source)))

	doc := f.md.Parser().Parse(text.NewReader(source))

	var buf strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}

		switch t := n.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.FencedCodeBlock:
			writeCodeLines(&buf, t.Lines(), source)
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeCodeLines(&buf, t.Lines(), source)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(buf.String())
}

func writeCodeLines(buf *strings.Builder, lines *text.Segments, source []byte) {
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(source))
	}
}

// stripFrontmatter removes YAML frontmatter delimited by --- at the start of
// the content so metadata blocks do not pollute the training text.
func stripFrontmatter(markdown string) string {
	if !strings.HasPrefix(markdown, "---\n") {
		return markdown
	}

	endIdx := strings.Index(markdown[4:], "\n---\n")
	if endIdx == -1 {
		return markdown
	}

	return markdown[4+endIdx+5:]
}

// relevanceOf counts query term occurrences in the document text. With no
// terms every document scores 1 so unfiltered assembly still ranks stably.
func relevanceOf(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 1.0
	}

	lower := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		hits += strings.Count(lower, term)
	}
	return float64(hits)
}

var _ interfaces.SearchProvider = (*FilesystemSearch)(nil)
