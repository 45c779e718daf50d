package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/wanyview/kaidison-system/internal/config"
	"github.com/wanyview/kaidison-system/internal/embedding"
	"github.com/wanyview/kaidison-system/internal/model"
	"github.com/wanyview/kaidison-system/internal/store"
	"github.com/wanyview/kaidison-system/internal/vector"
)

// stepClock advances one second per call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StoragePath = t.TempDir()
	cfg.EnableCompression = false
	return cfg
}

func newTestEngine(t *testing.T, cfg config.Config, opts ...Option) *Engine {
	t.Helper()
	clock := &stepClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	e, err := Open(context.Background(), cfg, opts...)
	gt.NoError(t, err).Required()
	t.Cleanup(func() { e.Close() })
	return e
}

func remember(t *testing.T, e *Engine, content string, mctx model.Context) string {
	t.Helper()
	id, err := e.Remember(context.Background(), content, mctx)
	gt.NoError(t, err).Required()
	return id
}

func recallIDs(records []model.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) (embedding.Vector, error) {
	return nil, errors.New("provider down")
}
func (failingEmbedder) Dims() int    { return 8 }
func (failingEmbedder) Name() string { return "failing" }

var notes = []string{
	"The quarterly budget was approved by the board",
	"Team lunch moved to Friday afternoon",
	"Deploy the payment service after the freeze",
	"Alice prefers dark mode in every editor",
}

func TestRemember_UniqueIDsAndImmediateRecall(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))

	seen := map[string]bool{}
	for _, n := range notes {
		id := remember(t, e, n, nil)
		gt.Bool(t, strings.HasPrefix(id, IDPrefix)).True()
		gt.Bool(t, seen[id]).False()
		seen[id] = true

		got, err := e.Recall(ctx, n, RecallParams{TopK: 1})
		gt.NoError(t, err).Required()
		gt.Array(t, got).Length(1).Required()
		gt.Value(t, got[0].ID).Equal(id)
	}
}

func TestRemember_StoresDerivedFields(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))

	id := remember(t, e, "The quarterly budget was approved by the board", model.Context{"type": "decision", "global_level": true})
	rec, err := e.Get(ctx, id)
	gt.NoError(t, err).Required()
	gt.Value(t, rec.Layer).Equal(model.LayerGlobal)
	gt.Value(t, rec.Keywords).Equal([]string{"quarterly", "budget", "approved", "board"})
	gt.Value(t, rec.EmbeddingRef).Equal(id)
	gt.Array(t, rec.Embedding).Length(100)
	gt.Value(t, rec.Context["type"]).Equal(any("decision"))
	gt.Value(t, rec.AccessCount).Equal(0)

	cached, ok := e.Cached(id)
	gt.Bool(t, ok).True()
	gt.Value(t, cached.Content).Equal(rec.Content)
}

func TestBudgetScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))

	budget := remember(t, e, "The quarterly budget was approved by the board", model.Context{"type": "decision"})
	for _, n := range notes[1:] {
		remember(t, e, n, nil)
	}

	rec, err := e.Get(ctx, budget)
	gt.NoError(t, err).Required()
	gt.Bool(t, rec.Importance >= 0.65-1e-9).True()

	got, err := e.Recall(ctx, "budget approved", RecallParams{TopK: 5})
	gt.NoError(t, err).Required()
	gt.Bool(t, len(got) >= 1).True()
	gt.Value(t, got[0].ID).Equal(budget)
}

func TestRecall_FullMatchOutranksNoMatch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))

	none := remember(t, e, "Garden hose needs replacing", model.Context{"importance": true})
	full := remember(t, e, "Rotate the database credentials monthly", nil)

	got, err := e.Recall(ctx, "database credentials", RecallParams{TopK: 5})
	gt.NoError(t, err).Required()
	ids := recallIDs(got)
	gt.Value(t, ids[0]).Equal(full)
	for i, id := range ids {
		if id == none {
			gt.Bool(t, i > 0).True()
		}
	}
}

func TestRecall_UpdatesAccess(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))
	id := remember(t, e, notes[0], nil)

	got, err := e.Recall(ctx, "budget", RecallParams{})
	gt.NoError(t, err).Required()
	gt.Array(t, got).Length(1).Required()
	gt.Value(t, got[0].AccessCount).Equal(1)
	gt.Value(t, got[0].LastAccessedAt).NotNil()

	rec, err := e.Get(ctx, id)
	gt.NoError(t, err).Required()
	gt.Value(t, rec.AccessCount).Equal(1)
	gt.Value(t, rec.LastAccessedAt).NotNil()

	stats, err := e.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.TotalAccessCount).Equal(1)
}

func TestRecall_LayerFilter(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))
	remember(t, e, "Standup notes about the budget", nil)
	global := remember(t, e, "Company budget policy", model.Context{"global_level": true})

	got, err := e.Recall(ctx, "budget", RecallParams{Layer: model.LayerGlobal})
	gt.NoError(t, err).Required()
	gt.Value(t, recallIDs(got)).Equal([]string{global})
}

func TestRecall_NoCandidatesMeansAllEligible(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))
	low := remember(t, e, notes[1], nil)
	high := remember(t, e, notes[2], model.Context{"source": "user"})

	got, err := e.Recall(ctx, "zebra", RecallParams{KeywordOnly: true})
	gt.NoError(t, err).Required()
	gt.Value(t, recallIDs(got)).Equal([]string{high, low})
}

func TestRecall_TopKTruncates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))
	for i := range 5 {
		remember(t, e, fmt.Sprintf("release checklist item %d", i), nil)
	}

	got, err := e.Recall(ctx, "release checklist", RecallParams{TopK: 3})
	gt.NoError(t, err).Required()
	gt.Array(t, got).Length(3)
}

func TestCompress_MaxDailyTwo(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.MaxDailyMemories = 2
	e := newTestEngine(t, cfg)

	first := remember(t, e, notes[0], model.Context{})
	second := remember(t, e, notes[1], model.Context{})
	third := remember(t, e, notes[2], model.Context{})

	// Give the first one an access so the second is the weakest.
	got, err := e.Recall(ctx, notes[0], RecallParams{TopK: 1})
	gt.NoError(t, err).Required()
	gt.Value(t, recallIDs(got)).Equal([]string{first})

	res, err := e.Compress(ctx, StrategyImportance)
	gt.NoError(t, err).Required()
	gt.Value(t, res.DeletedCount).Equal(1)
	gt.Value(t, res.RemainingCount).Equal(2)
	gt.Value(t, res.Strategy).Equal(StrategyImportance)

	_, err = e.Get(ctx, second)
	gt.Error(t, err).Is(model.ErrNotFound)
	_, err = e.Get(ctx, first)
	gt.NoError(t, err)
	_, err = e.Get(ctx, third)
	gt.NoError(t, err)

	stats, err := e.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.LayerDistribution[model.LayerDaily]).Equal(2)
	gt.Value(t, stats.Vectors).Equal(2)
	_, cached := e.Cached(second)
	gt.Bool(t, cached).False()

	// The evicted record is gone from both indices.
	got, err = e.Recall(ctx, "lunch Friday", RecallParams{})
	gt.NoError(t, err).Required()
	for _, r := range got {
		gt.Value(t, r.ID).NotEqual(second)
	}

	res, err = e.Compress(ctx, "merge")
	gt.NoError(t, err).Required()
	gt.Value(t, res.DeletedCount).Equal(0)
	gt.Value(t, res.Strategy).Equal("merge")
}

func TestCompress_PerLayerCapacity(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.MaxDailyMemories = 1
	cfg.GlobalMemoriesLimit = 2
	e := newTestEngine(t, cfg)

	for i := range 3 {
		remember(t, e, fmt.Sprintf("daily entry %d", i), nil)
		remember(t, e, fmt.Sprintf("global entry %d", i), model.Context{"global_level": true})
	}
	important := remember(t, e, "global entry that matters", model.Context{"global_level": true, "importance": 1})

	res, err := e.Compress(ctx, "")
	gt.NoError(t, err).Required()
	gt.Value(t, res.DeletedCount).Equal(4)
	gt.Value(t, res.RemainingCount).Equal(3)

	stats, err := e.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.LayerDistribution).Equal(map[model.Layer]int{model.LayerDaily: 1, model.LayerGlobal: 2})
	_, err = e.Get(ctx, important)
	gt.NoError(t, err)
}

func TestBackgroundCompaction(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.EnableCompression = true
	cfg.CompressionThreshold = 3
	cfg.MaxDailyMemories = 2

	e, err := Open(context.Background(), cfg)
	gt.NoError(t, err).Required()
	for _, n := range notes[:3] {
		_, err := e.Remember(context.Background(), n, nil)
		gt.NoError(t, err).Required()
	}
	gt.NoError(t, e.Close()).Required()
	gt.NoError(t, e.Close())

	s, err := store.NewSQLiteStore(cfg.DBPath())
	gt.NoError(t, err).Required()
	defer s.Close()
	n, err := s.Count(context.Background())
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(2)
}

func TestExportClearImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))
	remember(t, e, notes[0], model.Context{"type": "decision"})
	remember(t, e, notes[1], nil)
	remember(t, e, notes[2], model.Context{"global_level": true})

	path := filepath.Join(t.TempDir(), "export.json")
	n, err := e.Export(ctx, path, "")
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(3)

	cleared, err := e.Clear(ctx, "")
	gt.NoError(t, err).Required()
	gt.Value(t, cleared).Equal(3)

	stats, err := e.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.TotalMemories).Equal(0)
	gt.Value(t, stats.KeywordTerms).Equal(0)
	gt.Value(t, stats.Vectors).Equal(0)

	imported, err := e.Import(ctx, path)
	gt.NoError(t, err).Required()
	gt.Value(t, imported).Equal(3)

	stats, err = e.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.TotalMemories).Equal(3)
	gt.Value(t, stats.LayerDistribution[model.LayerGlobal]).Equal(1)

	got, err := e.Recall(ctx, "budget approved", RecallParams{})
	gt.NoError(t, err).Required()
	gt.Value(t, got[0].Content).Equal(notes[0])
}

func TestExport_LayerLabel(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))
	remember(t, e, notes[0], nil)
	remember(t, e, notes[1], model.Context{"global_level": true})

	path := filepath.Join(t.TempDir(), "global.json")
	n, err := e.Export(ctx, path, model.LayerGlobal)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(1)

	b, err := os.ReadFile(path)
	gt.NoError(t, err).Required()
	gt.String(t, string(b)).Contains(`"layer": "global"`)
	gt.String(t, string(b)).Contains(`"count": 1`)
}

func TestImport_SkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))

	doc := `{
  "export_time": "2025-03-01T09:00:00Z",
  "layer": "all",
  "count": 5,
  "memories": [
    {"content": "Object context entry", "context": {"source": "user"}},
    {"content": "String context entry", "context": "{\"global_level\": true}"},
    {"content": 42},
    {"content": "", "context": {}},
    {"content": "Broken context entry", "context": "not json"},
    {"content": "No context entry"}
  ]
}`
	path := filepath.Join(t.TempDir(), "import.json")
	gt.NoError(t, os.WriteFile(path, []byte(doc), 0o644)).Required()

	n, err := e.Import(ctx, path)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(3)

	stats, err := e.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.LayerDistribution[model.LayerGlobal]).Equal(1)
	gt.Value(t, stats.LayerDistribution[model.LayerDaily]).Equal(2)
}

func TestImport_UnreadableDocument(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))

	_, err := e.Import(ctx, filepath.Join(t.TempDir(), "absent.json"))
	gt.Error(t, err).Is(model.ErrStorage)

	path := filepath.Join(t.TempDir(), "bad.json")
	gt.NoError(t, os.WriteFile(path, []byte("{"), 0o644)).Required()
	_, err = e.Import(ctx, path)
	gt.Error(t, err).Is(model.ErrParse)
}

func TestClear_LayerRebuildsIndices(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))
	daily := remember(t, e, "Sprint retro notes", nil)
	remember(t, e, "Travel policy for contractors", model.Context{"global_level": true})

	n, err := e.Clear(ctx, model.LayerGlobal)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(1)

	stats, err := e.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.TotalMemories).Equal(1)
	gt.Value(t, stats.Vectors).Equal(1)
	gt.Value(t, stats.KeywordTerms).Equal(3)
	_, ok := e.Cached(daily)
	gt.Bool(t, ok).False()

	got, err := e.Recall(ctx, "sprint retro", RecallParams{})
	gt.NoError(t, err).Required()
	gt.Value(t, recallIDs(got)).Equal([]string{daily})

	_, err = e.Clear(ctx, "weekly")
	gt.Value(t, err).NotNil()
}

func TestEmbedderFailureDegradesToKeywordOnly(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t), WithEmbedder(failingEmbedder{}))

	id := remember(t, e, notes[0], nil)
	rec, err := e.Get(ctx, id)
	gt.NoError(t, err).Required()
	gt.Value(t, rec.EmbeddingRef).Equal("")

	got, err := e.Recall(ctx, "budget", RecallParams{})
	gt.NoError(t, err).Required()
	gt.Value(t, recallIDs(got)).Equal([]string{id})
}

func TestCapabilities(t *testing.T) {
	cfg := newTestConfig(t)
	e := newTestEngine(t, cfg)
	caps := e.Capabilities()
	gt.Bool(t, caps.VectorSearch).True()
	gt.Value(t, caps.Embedder).Equal(embedding.ProviderHash)
	gt.Value(t, caps.VectorBackend).Equal(vector.BackendExact)
	gt.Bool(t, caps.Degraded).True()

	cfg = newTestConfig(t)
	cfg.EnableVectorSearch = false
	e = newTestEngine(t, cfg)
	caps = e.Capabilities()
	gt.Bool(t, caps.VectorSearch).False()
	gt.Value(t, caps.Embedder).Equal("disabled")

	id := remember(t, e, notes[0], nil)
	got, err := e.Recall(context.Background(), "budget", RecallParams{})
	gt.NoError(t, err).Required()
	gt.Value(t, recallIDs(got)).Equal([]string{id})

	cfg = newTestConfig(t)
	cfg.VectorBackend = vector.BackendNone
	e = newTestEngine(t, cfg)
	caps = e.Capabilities()
	gt.Value(t, caps.VectorBackend).Equal(vector.BackendNone)
	gt.Bool(t, caps.Degraded).True()
}

func TestChromemBackendRecall(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.VectorBackend = vector.BackendChromem
	e := newTestEngine(t, cfg)

	var ids []string
	for _, n := range notes {
		ids = append(ids, remember(t, e, n, nil))
	}
	got, err := e.Recall(ctx, notes[2], RecallParams{TopK: 1})
	gt.NoError(t, err).Required()
	gt.Value(t, recallIDs(got)).Equal([]string{ids[2]})
}

func TestOpen_CorruptIndexFiles(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	gt.NoError(t, os.WriteFile(cfg.KeywordIndexPath(), []byte("{oops"), 0o644)).Required()
	gt.NoError(t, os.WriteFile(cfg.VectorIndexPath(), []byte("[1,"), 0o644)).Required()

	e := newTestEngine(t, cfg)
	id := remember(t, e, notes[0], nil)
	got, err := e.Recall(ctx, "budget", RecallParams{})
	gt.NoError(t, err).Required()
	gt.Value(t, recallIDs(got)).Equal([]string{id})
}

func TestOpen_ReloadsIndices(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)

	e, err := Open(ctx, cfg)
	gt.NoError(t, err).Required()
	id, err := e.Remember(ctx, notes[0], nil)
	gt.NoError(t, err).Required()
	gt.NoError(t, e.Close()).Required()

	e = newTestEngine(t, cfg)
	stats, err := e.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Vectors).Equal(1)
	gt.Value(t, stats.KeywordTerms).Equal(4)

	got, err := e.Recall(ctx, "approved", RecallParams{TopK: 1})
	gt.NoError(t, err).Required()
	gt.Value(t, recallIDs(got)).Equal([]string{id})
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MaxDailyMemories = -1
	_, err := Open(context.Background(), cfg)
	gt.Value(t, err).NotNil()
}

func TestCache_FIFOEviction(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.CacheSize = 2
	e := newTestEngine(t, cfg)

	a := remember(t, e, notes[0], nil)
	b := remember(t, e, notes[1], nil)
	c := remember(t, e, notes[2], nil)

	_, ok := e.Cached(a)
	gt.Bool(t, ok).False()
	_, ok = e.Cached(b)
	gt.Bool(t, ok).True()
	_, ok = e.Cached(c)
	gt.Bool(t, ok).True()
}

func TestRemember_Concurrent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestConfig(t))

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := e.Remember(ctx, fmt.Sprintf("concurrent note number %d", i), nil)
			if err != nil {
				errs <- err
				return
			}
			ids[i] = id
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		gt.NoError(t, err)
	}

	unique := map[string]bool{}
	for _, id := range ids {
		unique[id] = true
	}
	gt.Number(t, len(unique)).Equal(n)

	stats, err := e.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.TotalMemories).Equal(n)
	gt.Value(t, stats.Vectors).Equal(n)
}
