package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

func TestTextExtractorTools(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{raw: crawler.RawSection{Text: toolsMarkdown}}
	e := NewTextExtractor(loader)
	assert.Equal(t, "text", e.Name())

	res := e.Extract(context.Background(), crawler.ExtractInput{
		Target:  crawler.Target{Owner: "acme", Slug: "github-mcp"},
		Section: crawler.SectionTools,
		URL:     "https://dir.example/server/acme/github-mcp/tools",
	})
	require.Equal(t, crawler.StatusOK, res.Status)
	assert.Contains(t, toolNames(res.Fields.Tools), "github_merge_pr")
	assert.Equal(t, []string{""}, loader.scripts)
}

func TestTextExtractorRendersHTML(t *testing.T) {
	t.Parallel()

	html := `<html><body><main><h2>Tools</h2><ul><li><code>list_collections</code> - list them</li></ul>` +
		`<h2>Install</h2><pre><code>npx -y mongo-mcp</code></pre></main></body></html>`
	res := NewTextExtractor(&fakeLoader{raw: crawler.RawSection{HTML: html}}).
		Extract(context.Background(), crawler.ExtractInput{Section: crawler.SectionTools, URL: "https://x/tools"})
	require.Equal(t, crawler.StatusOK, res.Status)
	assert.Equal(t, []string{"list_collections"}, toolNames(res.Fields.Tools))
	assert.Nil(t, res.Fields.Install, "install commands are left to the aggregator")
	assert.Contains(t, res.Fields.Text, "npx -y mongo-mcp")
}

func TestTextExtractorLoadFailure(t *testing.T) {
	t.Parallel()

	res := NewTextExtractor(&fakeLoader{err: errors.New("timeout")}).
		Extract(context.Background(), crawler.ExtractInput{Section: crawler.SectionTools, URL: "https://x"})
	assert.Equal(t, crawler.StatusFailed, res.Status)
}

func TestParseText(t *testing.T) {
	t.Parallel()

	f := ParseText(sampleReadme, "mongo")
	assert.ElementsMatch(t, []string{"find_documents", "aggregate_pipeline"}, toolNames(f.Tools))
	assert.Empty(t, f.Description)
	assert.Nil(t, f.Install)
	assert.Equal(t, sampleReadme, f.Text)

	assert.True(t, ParseText("  ", "").IsEmpty())
}

func TestHTMLToMarkdown(t *testing.T) {
	t.Parallel()

	md := HTMLToMarkdown(`<h2>Tools</h2><p>See <a href="/docs">docs</a>.</p>`, "https://dir.example/server/x")
	assert.Contains(t, md, "## Tools")
	assert.Contains(t, md, "dir.example/docs")
	assert.Empty(t, HTMLToMarkdown("   ", ""))
}
