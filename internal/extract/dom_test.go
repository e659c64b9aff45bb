package extract

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

type fakeLoader struct {
	raw     crawler.RawSection
	err     error
	scripts []string
}

func (f *fakeLoader) Load(_ context.Context, url, script string) (crawler.RawSection, error) {
	f.scripts = append(f.scripts, script)
	if f.err != nil {
		return crawler.RawSection{}, f.err
	}
	raw := f.raw
	raw.URL = url
	return raw, nil
}

const overviewHTML = `<html><head>
<meta name="description" content="Query MongoDB from any MCP client.">
</head><body><main>
<h1>Mongo MCP</h1>
<span data-verified="true">Verified</span>
<a data-tag>Database</a><a href="/tags/mongo">#Mongo</a>
<a href="https://github.com/acme/mongo-mcp">Source</a>
<span aria-label="1.2k stars">1.2k</span>
<p>Some body text.</p>
</main></body></html>`

const toolsHTML = `<html><body><main>
<div data-tool-name="find_documents"><p>Find documents in a collection.</p></div>
<h3>aggregate_pipeline</h3>
<p>Run an aggregation pipeline.</p>
<ul>
<li><code>collection</code> (string, required): Target collection</li>
<li><code>pipeline</code> (array): Stages</li>
</ul>
<h3>Overview</h3>
<table><tr><th>Tool name</th><th>Description</th></tr>
<tr><td>list_collections</td><td>List collections</td></tr></table>
</main></body></html>`

const apiHTML = `<html><body><main>
<h2>Compatible clients</h2>
<ul><li><a href="https://claude.ai">Claude Desktop</a></li><li>Cursor</li></ul>
<a data-client="Windsurf" href="https://windsurf.com">W</a>
<pre><code>npx -y mongo-mcp</code></pre>
<pre><code>make all</code></pre>
</main></body></html>`

func TestParseSectionOverview(t *testing.T) {
	t.Parallel()

	f, err := ParseSection(crawler.SectionOverview, crawler.RawSection{URL: "https://dir.example/server/mongo", HTML: overviewHTML})
	require.NoError(t, err)

	assert.Equal(t, "Mongo MCP", f.Name)
	assert.Equal(t, "Query MongoDB from any MCP client.", f.Description)
	assert.Equal(t, []string{"database", "mongo"}, f.Tags)
	assert.Equal(t, "https://github.com/acme/mongo-mcp", f.RepositoryURL)
	require.NotNil(t, f.Verified)
	assert.True(t, *f.Verified)
	require.NotNil(t, f.Stats)
	assert.Equal(t, 1200, f.Stats.Stars)
	assert.Contains(t, f.Text, "Some body text.")
}

func TestParseSectionTools(t *testing.T) {
	t.Parallel()

	f, err := ParseSection(crawler.SectionTools, crawler.RawSection{HTML: toolsHTML})
	require.NoError(t, err)

	require.Len(t, f.Tools, 3)
	assert.Equal(t, "find_documents", f.Tools[0].Name)
	assert.Equal(t, "Find documents in a collection.", f.Tools[0].Description)

	agg := f.Tools[1]
	assert.Equal(t, "aggregate_pipeline", agg.Name)
	assert.Equal(t, "Run an aggregation pipeline.", agg.Description)
	require.Len(t, agg.Parameters, 2)
	assert.Equal(t, crawler.Parameter{Name: "collection", Type: "string", Description: "Target collection", Required: true}, agg.Parameters[0])
	assert.Equal(t, crawler.Parameter{Name: "pipeline", Type: "array", Description: "Stages"}, agg.Parameters[1])

	assert.Equal(t, "list_collections", f.Tools[2].Name)
}

func TestParseSectionAPI(t *testing.T) {
	t.Parallel()

	f, err := ParseSection(crawler.SectionAPI, crawler.RawSection{HTML: apiHTML})
	require.NoError(t, err)

	assert.ElementsMatch(t, []crawler.CompatibleClient{
		{Name: "Windsurf", URL: "https://windsurf.com"},
		{Name: "Claude Desktop", URL: "https://claude.ai"},
		{Name: "Cursor"},
	}, f.Clients)
	require.NotNil(t, f.Install)
	assert.Equal(t, "npx -y mongo-mcp", f.Install.Platforms[crawler.PlatformNode])
	assert.Empty(t, f.Install.Platforms[crawler.PlatformManual])
}

func TestParseSectionPrefersEvaluatedPayload(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(map[string]any{
		"name":        "Rendered Name",
		"description": "From script",
		"tags":        []string{"AI"},
		"verified":    false,
	})
	require.NoError(t, err)

	f, err := ParseSection(crawler.SectionOverview, crawler.RawSection{HTML: overviewHTML, Evaluated: payload})
	require.NoError(t, err)
	assert.Equal(t, "Rendered Name", f.Name)
	assert.Equal(t, "From script", f.Description)
	assert.Equal(t, []string{"ai", "database", "mongo"}, f.Tags)
	// An unverified script result leaves the DOM badge in charge.
	require.NotNil(t, f.Verified)
	assert.True(t, *f.Verified)
}

func TestParseSectionErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseSection(crawler.SectionOverview, crawler.RawSection{Evaluated: json.RawMessage(`{"name":`)})
	require.Error(t, err)

	f, err := ParseSection(crawler.SectionTools, crawler.RawSection{Evaluated: json.RawMessage("null"), Text: "  plain  "})
	require.NoError(t, err)
	assert.Equal(t, "plain", f.Text)
	assert.Empty(t, f.Tools)
}

func TestDOMExtractor(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{raw: crawler.RawSection{HTML: toolsHTML}}
	e := NewDOMExtractor(loader, nil)
	assert.Equal(t, "dom", e.Name())

	res := e.Extract(context.Background(), crawler.ExtractInput{Section: crawler.SectionTools, URL: "https://dir.example/server/mongo/tools"})
	require.Equal(t, crawler.StatusOK, res.Status)
	assert.Len(t, res.Fields.Tools, 3)
	require.Len(t, loader.scripts, 1)
	assert.Equal(t, domScript, loader.scripts[0])
}

func TestDOMExtractorLoadFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("browser gone")
	e := NewDOMExtractor(&fakeLoader{err: boom}, nil)
	res := e.Extract(context.Background(), crawler.ExtractInput{Section: crawler.SectionTools, URL: "https://x"})
	assert.Equal(t, crawler.StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, boom)
}

func TestDOMExtractorEmptyPage(t *testing.T) {
	t.Parallel()

	e := NewDOMExtractor(&fakeLoader{}, nil)
	res := e.Extract(context.Background(), crawler.ExtractInput{Section: crawler.SectionAPI, URL: "https://x"})
	assert.Equal(t, crawler.StatusEmpty, res.Status)
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	tests := map[string]int{
		"1.2k":      1200,
		"1,234":     1234,
		"3M":        3_000_000,
		"42 stars":  42,
		"":          0,
		"no digits": 0,
		"0.3k":      300,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseCount(in), in)
	}
}
