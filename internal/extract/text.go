package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

// TextExtractor renders the page, converts it to markdown and scans the
// result for tool names.
type TextExtractor struct {
	loader crawler.PageLoader
}

// NewTextExtractor builds the free-text strategy on top of loader.
func NewTextExtractor(loader crawler.PageLoader) *TextExtractor {
	return &TextExtractor{loader: loader}
}

// Name identifies the strategy in logs and metrics.
func (e *TextExtractor) Name() string { return "text" }

// Extract loads the page and scans its text.
func (e *TextExtractor) Extract(ctx context.Context, in crawler.ExtractInput) crawler.Result {
	raw, err := e.loader.Load(ctx, in.URL, "")
	if err != nil {
		return crawler.Failed(fmt.Errorf("load %s: %w", in.URL, err))
	}
	text := HTMLToMarkdown(raw.HTML, raw.URL)
	if text == "" {
		text = strings.TrimSpace(raw.Text)
	}
	return crawler.OK(ParseText(text, ToolPrefix(in.Target.Slug)))
}

// ParseText applies the tool-name patterns to already-rendered text. Install
// commands in page text are harvested by the aggregator once every section
// has been read.
func ParseText(text, prefix string) crawler.Fields {
	if strings.TrimSpace(text) == "" {
		return crawler.Fields{}
	}
	return crawler.Fields{Text: text, Tools: ToolsFromText(text, prefix)}
}
