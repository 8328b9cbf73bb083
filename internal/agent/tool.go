package agent

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/lorekeep/lorekeep/internal/retrieve"
)

// SearchToolName is the tool identifier the model sees.
const SearchToolName = "search_articles"

const searchToolDescription = "Search the knowledge base for articles " +
	"relevant to a query. Optionally restrict results to a channel slug " +
	"or a numeric publication status code."

// Searcher is the organic retrieval surface exposed to the model.
type Searcher interface {
	Retrieve(ctx context.Context, query string, f retrieve.Filters, limit int) []retrieve.Result
}

// SearchInput is the tool's argument schema.
type SearchInput struct {
	Query   string `json:"query" jsonschema_description:"Free-text search query"`
	Channel string `json:"channel,omitempty" jsonschema_description:"Optional channel slug filter"`
	Status  string `json:"status,omitempty" jsonschema_description:"Optional numeric status code filter"`
	Limit   int    `json:"limit,omitempty" jsonschema_description:"Maximum results, default 10"`
}

// DefineSearchTool registers the article search tool with genkit. The tool
// never fails: retrieval degradation surfaces to the model as an empty
// result set. Each invocation is reported to the request's Recorder.
func DefineSearchTool(g *genkit.Genkit, searcher Searcher, logger *slog.Logger) ai.Tool {
	if logger == nil {
		logger = slog.Default()
	}

	return genkit.DefineTool(g, SearchToolName, searchToolDescription,
		func(toolCtx *ai.ToolContext, in SearchInput) ([]retrieve.Result, error) {
			results := searcher.Retrieve(toolCtx.Context, in.Query, retrieve.Filters{
				Channel: in.Channel,
				Status:  in.Status,
			}, in.Limit)
			if results == nil {
				results = []retrieve.Result{}
			}

			logger.Debug("search tool invoked",
				"query", in.Query, "channel", in.Channel, "results", len(results))

			if rec := RecorderFrom(toolCtx.Context); rec != nil {
				rec.Record(ToolInvocation{
					ToolName:  SearchToolName,
					Arguments: in,
					Result:    results,
				})
			}
			return results, nil
		})
}
