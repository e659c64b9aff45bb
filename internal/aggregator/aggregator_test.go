package aggregator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mcp-directory-crawler/internal/checkpoint"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

// fakeExtractor returns a fixed result per section and counts calls.
type fakeExtractor struct {
	name    string
	results map[crawler.Section]crawler.Result
	panics  bool
	calls   map[crawler.Section]int
}

func newFake(name string, results map[crawler.Section]crawler.Result) *fakeExtractor {
	return &fakeExtractor{name: name, results: results, calls: map[crawler.Section]int{}}
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) Extract(_ context.Context, in crawler.ExtractInput) crawler.Result {
	f.calls[in.Section]++
	if f.panics {
		panic("boom")
	}
	if r, ok := f.results[in.Section]; ok {
		return r
	}
	return crawler.Empty()
}

type failingCheckpoints struct{}

func (failingCheckpoints) Load(context.Context, string) (crawler.Checkpoint, bool, error) {
	return crawler.Checkpoint{}, false, errors.New("disk gone")
}

func (failingCheckpoints) SaveSection(context.Context, string, crawler.Section, crawler.Fields) error {
	return errors.New("disk gone")
}

func testTarget(t *testing.T) crawler.Target {
	t.Helper()
	layout := crawler.TabLayout{
		ServerURLTemplate: "https://directory.example/server/{owner}/{slug}",
		ToolsSuffix:       "/tools",
		APISuffix:         "/api",
	}
	target, err := layout.Target("acme", "mongo-db-mcp")
	require.NoError(t, err)
	return target
}

func TestCrawlTargetMergesSections(t *testing.T) {
	t.Parallel()

	primary := newFake("schema", map[crawler.Section]crawler.Result{
		crawler.SectionOverview: crawler.OK(crawler.Fields{Name: "Mongo", Description: "x"}),
		crawler.SectionAPI:      crawler.OK(crawler.Fields{Clients: []crawler.CompatibleClient{{Name: "Cursor"}}}),
	})
	fallback := newFake("dom", map[crawler.Section]crawler.Result{
		crawler.SectionTools: crawler.OK(crawler.Fields{Tools: []crawler.Tool{{Name: "find_documents"}}}),
	})
	a := New(DefaultChains(primary, fallback), checkpoint.NewMemoryStore(nil), nil)

	record, err := a.CrawlTarget(context.Background(), testTarget(t))
	require.NoError(t, err)

	assert.Equal(t, "Mongo", record.Name)
	assert.Equal(t, "x", record.Description)
	assert.Equal(t, []crawler.Tool{{Name: "find_documents"}}, record.Tools)
	assert.Equal(t, []crawler.CompatibleClient{{Name: "Cursor"}}, record.Clients)
	assert.Equal(t, "mongo-db-mcp", record.Slug)
	assert.Equal(t, "acme", record.Owner)
	assert.Equal(t, 1, fallback.calls[crawler.SectionTools])
	assert.Zero(t, fallback.calls[crawler.SectionOverview], "fallback only serves tools")
}

func TestCrawlTargetSkipsFallbackWhenPrimaryFindsTools(t *testing.T) {
	t.Parallel()

	primary := newFake("schema", map[crawler.Section]crawler.Result{
		crawler.SectionTools: crawler.OK(crawler.Fields{Tools: []crawler.Tool{{Name: "query_db"}}}),
	})
	fallback := newFake("dom", nil)
	a := New(DefaultChains(primary, fallback), nil, nil)

	_, err := a.CrawlTarget(context.Background(), testTarget(t))
	require.NoError(t, err)
	assert.Zero(t, fallback.calls[crawler.SectionTools])
}

func TestCrawlTargetResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := testTarget(t)
	store := checkpoint.NewMemoryStore(nil)
	require.NoError(t, store.SaveSection(ctx, target.Identity(), crawler.SectionOverview,
		crawler.Fields{Name: "Saved", Description: "from disk"}))

	primary := newFake("schema", map[crawler.Section]crawler.Result{
		crawler.SectionOverview: crawler.OK(crawler.Fields{Name: "Fresh"}),
	})
	a := New(DefaultChains(primary, nil), store, nil)

	record, err := a.CrawlTarget(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "Saved", record.Name)
	assert.Zero(t, primary.calls[crawler.SectionOverview])
	assert.Equal(t, 1, primary.calls[crawler.SectionTools])
	assert.Equal(t, 1, primary.calls[crawler.SectionAPI])

	// Refresh ignores the checkpoint.
	refreshed, err := New(DefaultChains(primary, nil), store, nil, WithRefresh(true)).CrawlTarget(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "Fresh", refreshed.Name)
}

func TestCrawlTargetCheckpointsEmptyButNotFailedSections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := testTarget(t)
	store := checkpoint.NewMemoryStore(nil)
	primary := newFake("schema", map[crawler.Section]crawler.Result{
		crawler.SectionOverview: crawler.OK(crawler.Fields{Name: "Mongo"}),
		crawler.SectionTools:    crawler.Failed(errors.New("timeout")),
	})
	a := New(DefaultChains(primary, nil), store, nil)

	_, err := a.CrawlTarget(ctx, target)
	require.NoError(t, err)

	cp, ok, err := store.Load(ctx, target.Identity())
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, cp.Overview)
	assert.Nil(t, cp.Tools, "failed sections are retried next run")
	require.NotNil(t, cp.API, "empty sections are not retried")
	assert.True(t, cp.API.IsEmpty())

	_, err = a.CrawlTarget(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls[crawler.SectionOverview])
	assert.Equal(t, 2, primary.calls[crawler.SectionTools])
	assert.Equal(t, 1, primary.calls[crawler.SectionAPI])
}

func TestCrawlTargetSurvivesPanickingExtractor(t *testing.T) {
	t.Parallel()

	overview := newFake("schema", map[crawler.Section]crawler.Result{
		crawler.SectionOverview: crawler.OK(crawler.Fields{Name: "Mongo"}),
	})
	broken := newFake("dom", nil)
	broken.panics = true
	api := newFake("api", map[crawler.Section]crawler.Result{
		crawler.SectionAPI: crawler.OK(crawler.Fields{Clients: []crawler.CompatibleClient{{Name: "Zed"}}}),
	})
	a := New(Chains{
		crawler.SectionOverview: {overview},
		crawler.SectionTools:    {broken},
		crawler.SectionAPI:      {api},
	}, nil, nil)

	record, err := a.CrawlTarget(context.Background(), testTarget(t))
	require.NoError(t, err)
	assert.Empty(t, record.Tools)
	assert.Equal(t, 1, api.calls[crawler.SectionAPI])
	assert.Len(t, record.Clients, 1)
}

func TestCrawlTargetDerivesNameFromSlug(t *testing.T) {
	t.Parallel()

	a := New(DefaultChains(newFake("schema", nil), nil), nil, nil)
	record, err := a.CrawlTarget(context.Background(), testTarget(t))
	require.NoError(t, err)
	assert.Equal(t, "Mongo Db Mcp", record.Name)
}

func TestCrawlTargetFailsWithoutAnyName(t *testing.T) {
	t.Parallel()

	target := crawler.Target{Slug: "--", URLs: map[crawler.Section]string{
		crawler.SectionOverview: "https://directory.example/server/--",
	}}
	a := New(DefaultChains(newFake("schema", map[crawler.Section]crawler.Result{
		crawler.SectionOverview: crawler.OK(crawler.Fields{Description: "anonymous"}),
	}), nil), nil, nil)

	_, err := a.CrawlTarget(context.Background(), target)
	var failure *crawler.ExtractionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "--", failure.Target)
	assert.Equal(t, "anonymous", failure.Partial.Description)
}

func TestCrawlTargetRecoversToolsFromText(t *testing.T) {
	t.Parallel()

	primary := newFake("schema", map[crawler.Section]crawler.Result{
		crawler.SectionOverview: crawler.OK(crawler.Fields{Name: "Mongo", Text: "Call mongo_find_documents to search."}),
		crawler.SectionAPI:      crawler.OK(crawler.Fields{Text: "- `list_collections` - list them"}),
	})
	a := New(DefaultChains(primary, nil), nil, nil)

	record, err := a.CrawlTarget(context.Background(), testTarget(t))
	require.NoError(t, err)

	names := make([]string, 0, len(record.Tools))
	for _, tool := range record.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"mongo_find_documents", "list_collections"}, names)
}

func TestCrawlTargetToleratesCheckpointErrors(t *testing.T) {
	t.Parallel()

	primary := newFake("schema", map[crawler.Section]crawler.Result{
		crawler.SectionOverview: crawler.OK(crawler.Fields{Name: "Mongo"}),
	})
	a := New(DefaultChains(primary, nil), failingCheckpoints{}, nil)

	record, err := a.CrawlTarget(context.Background(), testTarget(t))
	require.NoError(t, err)
	assert.Equal(t, "Mongo", record.Name)
}

func TestCrawlTargetRejectsInvalidTarget(t *testing.T) {
	t.Parallel()

	a := New(DefaultChains(newFake("schema", nil), nil), nil, nil)
	_, err := a.CrawlTarget(context.Background(), crawler.Target{Slug: "x"})
	require.ErrorIs(t, err, crawler.ErrInvalidTarget)
}

func TestCrawlTargetStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	primary := newFake("schema", nil)
	a := New(DefaultChains(primary, nil), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.CrawlTarget(ctx, testTarget(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, primary.calls)
}

func TestCrawlTargetRecoversInstallFromText(t *testing.T) {
	t.Parallel()

	primary := newFake("dom", map[crawler.Section]crawler.Result{
		crawler.SectionOverview: crawler.OK(crawler.Fields{
			Name: "Mongo",
			Text: "## Installation\n\n```bash\nnpx -y mongo-mcp\n```\n",
		}),
	})
	a := New(DefaultChains(primary, nil), nil, nil)

	record, err := a.CrawlTarget(context.Background(), testTarget(t))
	require.NoError(t, err)
	require.NotNil(t, record.Install)
	assert.Equal(t, "npx -y mongo-mcp", record.Install.Platforms[crawler.PlatformNode])
}

func TestCrawlTargetKeepsExtractedInstall(t *testing.T) {
	t.Parallel()

	install := crawler.EmptyInstall()
	install.Set(crawler.PlatformDocker, "docker run -i acme/mongo")
	primary := newFake("schema", map[crawler.Section]crawler.Result{
		crawler.SectionOverview: crawler.OK(crawler.Fields{
			Name: "Mongo",
			Text: "## Installation\n\n```bash\nnpx -y mongo-mcp\n```\n",
		}),
		crawler.SectionAPI: crawler.OK(crawler.Fields{Install: &install}),
	})
	a := New(DefaultChains(primary, nil), nil, nil)

	record, err := a.CrawlTarget(context.Background(), testTarget(t))
	require.NoError(t, err)
	require.NotNil(t, record.Install)
	assert.Equal(t, "docker run -i acme/mongo", record.Install.Platforms[crawler.PlatformDocker])
	assert.Empty(t, record.Install.Platforms[crawler.PlatformNode])
}

func TestCrawlTargetFallsBackWhenPrimaryToolsFail(t *testing.T) {
	t.Parallel()

	primary := newFake("schema", map[crawler.Section]crawler.Result{
		crawler.SectionOverview: crawler.OK(crawler.Fields{Name: "Mongo"}),
		crawler.SectionTools:    crawler.Failed(errors.New("extraction quota exceeded")),
	})
	fallback := newFake("dom", map[crawler.Section]crawler.Result{
		crawler.SectionTools: crawler.OK(crawler.Fields{Tools: []crawler.Tool{{Name: "find_documents"}}}),
	})
	store := checkpoint.NewMemoryStore(nil)
	a := New(DefaultChains(primary, fallback), store, nil)

	record, err := a.CrawlTarget(context.Background(), testTarget(t))
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls[crawler.SectionTools])
	assert.Equal(t, 1, fallback.calls[crawler.SectionTools])
	assert.Equal(t, []crawler.Tool{{Name: "find_documents"}}, record.Tools)

	cp, ok, err := store.Load(context.Background(), testTarget(t).Identity())
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, cp.Tools, "a section rescued by the fallback is complete")
	assert.Len(t, cp.Tools.Tools, 1)
}
