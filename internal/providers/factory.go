package providers

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/interfaces"
)

// NewSearchProvider returns the configured corpus source: the HTTP client
// when a search service URL is set, otherwise the filesystem fallback rooted
// at the document directory.
func NewSearchProvider(logger arbor.ILogger, config *common.Config) interfaces.SearchProvider {
	if config.Search.URL != "" {
		logger.Info().
			Str("url", config.Search.URL).
			Msg("Using search service corpus provider")
		return NewSearchClient(config.Search.URL, config.Search.APIKey, config.Search.GetTimeout(), logger)
	}

	logger.Info().
		Str("root", config.Datasets.DocumentRoot).
		Msg("Using filesystem corpus provider")
	return NewFilesystemSearch(config.Datasets.DocumentRoot, logger)
}
