package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/pkg/config"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

func testConfig() config.SearchConfig {
	return config.SearchConfig{
		SegmentMaxSize:         1 << 20,
		MaxSegmentsBeforeMerge: 8,
		DefaultLimit:           10,
		MaxResults:             100,
	}
}

func openEngine(t *testing.T, dir string, cfg config.SearchConfig) *Engine {
	t.Helper()
	e, err := Open(dir, cfg, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func doc(id string, v content.Version, path, title, text string) *content.Document {
	return &content.Document{
		ID:        id,
		Version:   v,
		Type:      content.TypePage,
		Site:      "demo",
		Path:      path,
		Languages: []string{"en"},
		Title:     map[string]string{"en": title},
		Fulltext:  text,
	}
}

func keys(r *Result) []string {
	out := make([]string, 0, len(r.Items))
	for _, h := range r.Items {
		out = append(out, h.Key)
	}
	return out
}

func TestPutAndSearch(t *testing.T) {
	e := openEngine(t, t.TempDir(), testConfig())
	require.NoError(t, e.Put(doc("a", content.Live, "/weather", "Weather report", "sunny skies")))
	require.NoError(t, e.Put(doc("b", content.Live, "/sports", "Sports news", "football results")))

	res, err := e.Execute(context.Background(), Query{Text: "weather"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/0"}, keys(res))
	assert.Greater(t, res.Items[0].Score, 0.0)

	res, err = e.Execute(context.Background(), Query{Text: "weather OR football"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/0", "b/0"}, keys(res))

	res, err = e.Execute(context.Background(), Query{Text: "weather football"})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	res, err = e.Execute(context.Background(), Query{Text: "NOT football"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/0"}, keys(res))
}

func TestReplacedDocumentsHideStalePostings(t *testing.T) {
	e := openEngine(t, t.TempDir(), testConfig())
	require.NoError(t, e.Put(doc("a", content.Live, "/a", "Weather", "")))
	require.NoError(t, e.Flush())
	require.NoError(t, e.Put(doc("a", content.Live, "/a", "Rainy", "")))

	res, err := e.Execute(context.Background(), Query{Text: "weather"})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	res, err = e.Execute(context.Background(), Query{Text: "rainy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/0"}, keys(res))
	assert.Equal(t, 1, e.DocCount())
}

func TestRemove(t *testing.T) {
	e := openEngine(t, t.TempDir(), testConfig())
	require.NoError(t, e.Put(doc("a", content.Live, "/a", "Weather", "")))
	require.NoError(t, e.Flush())

	removed, err := e.Remove("a/0")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = e.Remove("a/0")
	require.NoError(t, err)
	assert.False(t, removed)

	res, err := e.Execute(context.Background(), Query{Text: "weather"})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Empty(t, e.Versions("a"))
}

func TestDocumentsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testConfig(), Options{})
	require.NoError(t, err)
	require.NoError(t, e.Put(doc("a", content.Live, "/a", "Weather", "")))
	require.NoError(t, e.Put(doc("a", content.Work, "/a", "Weather draft", "")))
	require.NoError(t, e.Close())

	e = openEngine(t, dir, testConfig())
	assert.Equal(t, 2, e.DocCount())
	assert.Equal(t, []content.Version{content.Live, content.Work}, e.Versions("a"))
	res, err := e.Execute(context.Background(), Query{Text: "weather"})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)

	require.NoError(t, e.Put(doc("b", content.Live, "/b", "Weather", "")))
	res, err = e.Execute(context.Background(), Query{Text: "weather"})
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
}

func TestCompactionMergesSegments(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSegmentsBeforeMerge = 2
	e := openEngine(t, t.TempDir(), cfg)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Put(doc(fmt.Sprintf("d%d", i), content.Live, "/x", "Weather", "")))
		require.NoError(t, e.Flush())
	}
	assert.Equal(t, 1, e.SegmentCount())

	_, err := e.Remove("d1/0")
	require.NoError(t, err)
	require.NoError(t, e.Put(doc("d3", content.Live, "/x", "Weather", "")))
	require.NoError(t, e.Compact())
	assert.Equal(t, 1, e.SegmentCount())

	res, err := e.Execute(context.Background(), Query{Text: "weather"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d0/0", "d2/0", "d3/0"}, sortedKeys(res))
}

func sortedKeys(r *Result) []string {
	k := keys(r)
	slices.Sort(k)
	return k
}

func TestStructuredFiltersAndPaging(t *testing.T) {
	e := openEngine(t, t.TempDir(), testConfig())
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Put(doc(fmt.Sprintf("p%d", i), content.Live, fmt.Sprintf("/news/%d", i), "Item", "")))
	}
	file := doc("f", content.Work, "/newsletter/a.pdf", "Letter", "")
	file.Type = content.TypeFile
	file.Languages = []string{"de"}
	require.NoError(t, e.Put(file))

	ctx := context.Background()
	res, err := e.Execute(ctx, Query{PathPrefix: "/news/", Offset: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalHits)
	assert.Equal(t, []string{"p2/0", "p3/0"}, keys(res))

	res, err = e.Execute(ctx, Query{Types: []string{content.TypeFile}})
	require.NoError(t, err)
	assert.Equal(t, []string{"f/1"}, keys(res))

	work := content.Work
	res, err = e.Execute(ctx, Query{Version: &work, Language: "de"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f/1"}, keys(res))

	res, err = e.Execute(ctx, Query{WithoutTypes: []string{content.TypePage}, Language: "en"})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	res, err = e.Execute(ctx, Query{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 6, res.TotalHits)
	assert.Empty(t, res.Items)
}

func TestModifyKeepsPostings(t *testing.T) {
	e := openEngine(t, t.TempDir(), testConfig())
	require.NoError(t, e.Put(doc("a", content.Live, "/old", "Weather", "")))

	ok, err := e.Modify("a/0", func(d *content.Document) { d.Path = "/new" })
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.Modify("missing/0", func(d *content.Document) {})
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := e.Execute(context.Background(), Query{Text: "weather", Path: "/new"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "/new", res.Items[0].Document.Path)
}

func TestSuggest(t *testing.T) {
	e := openEngine(t, t.TempDir(), testConfig())
	require.NoError(t, e.Put(doc("a", content.Live, "/a", "Weather report", "")))
	require.NoError(t, e.Put(doc("b", content.Live, "/b", "Weekly weather", "")))

	assert.Equal(t, []string{"weather", "weekly"}, e.Suggest("We", 5))
	assert.Equal(t, []string{"weather"}, e.Suggest("we", 1))
	assert.Empty(t, e.Suggest("", 5))
}

func TestReadOnlyEngine(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testConfig(), Options{})
	require.NoError(t, err)
	require.NoError(t, e.Put(doc("a", content.Live, "/a", "Weather", "")))
	require.NoError(t, e.Close())

	ro := openEngineRO(t, dir)
	assert.ErrorIs(t, ro.Put(doc("b", content.Live, "/b", "x", "")), apperrors.ErrReadOnly)
	_, err = ro.Remove("a/0")
	assert.ErrorIs(t, err, apperrors.ErrReadOnly)
	assert.Equal(t, 1, ro.DocCount())
}

func openEngineRO(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := Open(dir, testConfig(), Options{ReadOnly: true})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestClear(t *testing.T) {
	e := openEngine(t, t.TempDir(), testConfig())
	require.NoError(t, e.Put(doc("a", content.Live, "/a", "Weather", "")))
	require.NoError(t, e.Flush())
	require.NoError(t, e.Clear())
	assert.Zero(t, e.DocCount())
	assert.Zero(t, e.SegmentCount())
}

func TestUnflushedChangesSurviveCrash(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, testConfig())
	require.NoError(t, e.Put(doc("a", content.Live, "/weather", "Weather report", "sunny skies")))
	require.NoError(t, e.Put(doc("b", content.Live, "/sports", "Sports news", "football results")))
	require.NoError(t, e.Put(doc("c", content.Live, "/music", "Music", "concert tonight")))
	removed, err := e.Remove("b/0")
	require.NoError(t, err)
	require.True(t, removed)
	ok, err := e.Modify("c/0", func(d *content.Document) { d.Path = "/events" })
	require.NoError(t, err)
	require.True(t, ok)

	// The writer is still open, nothing has been flushed.
	assert.Zero(t, e.SegmentCount())
	ro := openEngineRO(t, dir)
	assert.Equal(t, 2, ro.DocCount())

	res, err := ro.Execute(context.Background(), Query{Text: "sunny"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/0"}, keys(res))

	res, err = ro.Execute(context.Background(), Query{Text: "football"})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	res, err = ro.Execute(context.Background(), Query{Text: "concert", Path: "/events"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c/0"}, keys(res))
}

func TestFlushTruncatesChangeLog(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, testConfig())
	require.NoError(t, e.Put(doc("a", content.Live, "/a", "Weather", "")))

	info, err := os.Stat(filepath.Join(dir, ChangesFile))
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	require.NoError(t, e.Flush())
	info, err = os.Stat(filepath.Join(dir, ChangesFile))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	require.NoError(t, e.Put(doc("b", content.Live, "/b", "Weather", "")))
	require.NoError(t, e.Close())
	e2 := openEngine(t, dir, testConfig())
	res, err := e2.Execute(context.Background(), Query{Text: "weather"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/0", "b/0"}, keys(res))
}

func TestTitleMatchesRankFirst(t *testing.T) {
	e := openEngine(t, t.TempDir(), testConfig())
	require.NoError(t, e.Put(doc("a", content.Live, "/a", "Harbour news", "festival festival at the pier")))
	require.NoError(t, e.Put(doc("b", content.Live, "/b", "Festival", "opens at the pier today")))
	require.NoError(t, e.Put(doc("c", content.Live, "/festival", "Events", "the festival opens at the pier")))
	require.NoError(t, e.Put(doc("d", content.Live, "/d", "Unrelated", "nothing to see")))

	res, err := e.Execute(context.Background(), Query{Text: "festival"})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "b/0", res.Items[0].Key)
}
