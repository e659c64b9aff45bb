package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func TestFileStoreSaveAndLoad(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "checkpoints")
	clk := fixedClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	store, err := NewFileStore(dir, clk)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "acme-mongo")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveSection(ctx, "acme-mongo", crawler.SectionOverview, crawler.Fields{Name: "Mongo"}))
	require.NoError(t, store.SaveSection(ctx, "acme-mongo", crawler.SectionTools, crawler.Fields{}))

	cp, ok, err := store.Load(ctx, "acme-mongo")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, cp.Overview)
	assert.Equal(t, "Mongo", cp.Overview.Name)
	require.NotNil(t, cp.Tools, "an empty section still counts as done")
	assert.Nil(t, cp.API)
	assert.True(t, clk.now.Equal(cp.LastUpdated))
}

func TestFileStoreDocumentLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir, fixedClock{now: time.Unix(0, 0).UTC()})
	require.NoError(t, err)
	require.NoError(t, store.SaveSection(context.Background(), "acme-mongo", crawler.SectionAPI, crawler.Fields{Text: "docs"}))

	raw, err := os.ReadFile(filepath.Join(dir, "acme-mongo.json"))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "api")
	assert.Contains(t, doc, "lastUpdated")
	assert.NotContains(t, doc, "overview")
}

func TestFileStoreCorruptDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.json"), []byte("not json"), 0o600))
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	_, _, err = store.Load(context.Background(), "x")
	require.Error(t, err)

	require.NoError(t, store.SaveSection(context.Background(), "x", crawler.SectionTools, crawler.Fields{}))
	_, ok, err := store.Load(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewFileStoreRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore(" ", nil)
	require.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, store.SaveSection(ctx, "id", crawler.SectionOverview, crawler.Fields{Name: "n"}))

	cp, ok, err := store.Load(ctx, "id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "n", cp.Overview.Name)
	assert.False(t, cp.LastUpdated.IsZero())
}
