package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/wanyview/kaidison-system/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	gt.NoError(t, err).Required()
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(id string, layer model.Layer, importance float64, offset time.Duration) model.Record {
	return model.Record{
		ID:         id,
		Content:    "content of " + id,
		Context:    model.Context{"source": "test"},
		CreatedAt:  base.Add(offset),
		Layer:      layer,
		Keywords:   []string{"content"},
		Importance: importance,
	}
}

func ids(records []model.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r := rec("mem_1", model.LayerDaily, 0.7, 0)
	r.EmbeddingRef = "mem_1"
	gt.NoError(t, s.Insert(ctx, r)).Required()

	got, err := s.Get(ctx, "mem_1")
	gt.NoError(t, err).Required()
	gt.Value(t, got.Content).Equal("content of mem_1")
	gt.Value(t, got.Layer).Equal(model.LayerDaily)
	gt.Value(t, got.Context["source"]).Equal(any("test"))
	gt.Value(t, got.Keywords).Equal([]string{"content"})
	gt.Value(t, got.EmbeddingRef).Equal("mem_1")
	gt.Value(t, got.Importance).Equal(0.7)
	gt.Value(t, got.AccessCount).Equal(0)
	gt.Value(t, got.LastAccessedAt).Nil()
	gt.Bool(t, got.CreatedAt.Equal(base)).True()
}

func TestInsertDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	gt.NoError(t, s.Insert(ctx, rec("mem_1", model.LayerDaily, 0.5, 0))).Required()
	err := s.Insert(ctx, rec("mem_1", model.LayerGlobal, 0.9, 0))
	gt.Error(t, err).Is(model.ErrDuplicateID)

	got, err := s.Get(ctx, "mem_1")
	gt.NoError(t, err).Required()
	gt.Value(t, got.Layer).Equal(model.LayerDaily)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	gt.Error(t, err).Is(model.ErrNotFound)
}

func TestNilContextStoredAsEmptyObject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r := rec("mem_1", model.LayerDaily, 0.5, 0)
	r.Context = nil
	r.Keywords = nil
	gt.NoError(t, s.Insert(ctx, r)).Required()

	got, err := s.Get(ctx, "mem_1")
	gt.NoError(t, err).Required()
	gt.Value(t, got.Context).NotNil()
	gt.Number(t, len(got.Context)).Equal(0)
	gt.Number(t, len(got.Keywords)).Equal(0)
}

func TestUpdateAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gt.NoError(t, s.Insert(ctx, rec("mem_1", model.LayerDaily, 0.5, 0))).Required()

	now := base.Add(time.Hour)
	gt.NoError(t, s.UpdateAccess(ctx, "mem_1", now)).Required()
	gt.NoError(t, s.UpdateAccess(ctx, "mem_1", now.Add(time.Minute))).Required()

	got, err := s.Get(ctx, "mem_1")
	gt.NoError(t, err).Required()
	gt.Value(t, got.AccessCount).Equal(2)
	gt.Value(t, got.LastAccessedAt).NotNil().Required()
	gt.Bool(t, got.LastAccessedAt.Equal(now.Add(time.Minute))).True()

	gt.Error(t, s.UpdateAccess(ctx, "missing", now)).Is(model.ErrNotFound)
}

func TestListOrders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	gt.NoError(t, s.Insert(ctx, rec("mem_a", model.LayerDaily, 0.5, 0))).Required()
	gt.NoError(t, s.Insert(ctx, rec("mem_b", model.LayerDaily, 0.9, time.Second))).Required()
	gt.NoError(t, s.Insert(ctx, rec("mem_c", model.LayerGlobal, 0.5, 2*time.Second))).Required()
	gt.NoError(t, s.Insert(ctx, rec("mem_d", model.LayerDaily, 0.5, 3*time.Second))).Required()
	gt.NoError(t, s.UpdateAccess(ctx, "mem_a", base)).Required()

	all, err := s.List(ctx, ListParams{})
	gt.NoError(t, err).Required()
	gt.Value(t, ids(all)).Equal([]string{"mem_b", "mem_d", "mem_c", "mem_a"})

	chrono, err := s.List(ctx, ListParams{Order: OrderChronological})
	gt.NoError(t, err).Required()
	gt.Value(t, ids(chrono)).Equal([]string{"mem_a", "mem_b", "mem_c", "mem_d"})

	retention, err := s.List(ctx, ListParams{Layer: model.LayerDaily, Order: OrderRetention})
	gt.NoError(t, err).Required()
	gt.Value(t, ids(retention)).Equal([]string{"mem_b", "mem_a", "mem_d"})

	global, err := s.List(ctx, ListParams{Layer: model.LayerGlobal})
	gt.NoError(t, err).Required()
	gt.Value(t, ids(global)).Equal([]string{"mem_c"})
}

func TestScanStopsEarly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i, id := range []string{"mem_a", "mem_b", "mem_c"} {
		gt.NoError(t, s.Insert(ctx, rec(id, model.LayerDaily, 0.5, time.Duration(i)*time.Second))).Required()
	}

	var seen []string
	for r, err := range s.Scan(ctx, ListParams{Order: OrderChronological}) {
		gt.NoError(t, err).Required()
		seen = append(seen, r.ID)
		if len(seen) == 2 {
			break
		}
	}
	gt.Value(t, seen).Equal([]string{"mem_a", "mem_b"})
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i, id := range []string{"mem_a", "mem_b", "mem_c"} {
		gt.NoError(t, s.Insert(ctx, rec(id, model.LayerDaily, 0.5, time.Duration(i)*time.Second))).Required()
	}

	n, err := s.DeleteMany(ctx, []string{"mem_a", "mem_c", "missing"})
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(2)

	count, err := s.Count(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, count).Equal(1)

	n, err = s.DeleteMany(ctx, nil)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(0)
}

func TestDeleteManyLargeBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var all []string
	for i := range deleteBatch + 20 {
		id := "mem_" + time.Duration(i).String()
		all = append(all, id)
		gt.NoError(t, s.Insert(ctx, rec(id, model.LayerDaily, 0.5, time.Duration(i)))).Required()
	}
	n, err := s.DeleteMany(ctx, all)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(len(all))
}

func TestDeleteByLayer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gt.NoError(t, s.Insert(ctx, rec("mem_a", model.LayerDaily, 0.5, 0))).Required()
	gt.NoError(t, s.Insert(ctx, rec("mem_b", model.LayerGlobal, 0.5, 0))).Required()
	gt.NoError(t, s.Insert(ctx, rec("mem_c", model.LayerGlobal, 0.5, 0))).Required()

	n, err := s.DeleteByLayer(ctx, model.LayerGlobal)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(2)

	n, err = s.DeleteByLayer(ctx, "")
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(1)
}

func TestStatsQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gt.NoError(t, s.Insert(ctx, rec("mem_a", model.LayerDaily, 0.9, 0))).Required()
	gt.NoError(t, s.Insert(ctx, rec("mem_b", model.LayerDaily, 0.8, 0))).Required()
	gt.NoError(t, s.Insert(ctx, rec("mem_c", model.LayerGlobal, 0.5, 0))).Required()
	gt.NoError(t, s.Insert(ctx, rec("mem_d", model.LayerGlobal, 0.3, 0))).Required()
	gt.NoError(t, s.UpdateAccess(ctx, "mem_a", base)).Required()
	gt.NoError(t, s.UpdateAccess(ctx, "mem_a", base)).Required()
	gt.NoError(t, s.UpdateAccess(ctx, "mem_d", base)).Required()

	byLayer, err := s.CountByLayer(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, byLayer).Equal(map[model.Layer]int{model.LayerDaily: 2, model.LayerGlobal: 2})

	sum, err := s.SumAccessCount(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, sum).Equal(3)

	bands, err := s.CountByImportanceBand(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, bands).Equal(map[string]int{"high": 2, "medium": 1, "low": 1})
}

func TestEmptyStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sum, err := s.SumAccessCount(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, sum).Equal(0)

	bands, err := s.CountByImportanceBand(ctx)
	gt.NoError(t, err).Required()
	gt.Number(t, len(bands)).Equal(0)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(path)
	gt.NoError(t, err).Required()
	gt.NoError(t, s.Insert(ctx, rec("mem_a", model.LayerGlobal, 0.5, 0))).Required()
	gt.NoError(t, s.Close()).Required()

	s, err = NewSQLiteStore(path)
	gt.NoError(t, err).Required()
	defer s.Close()
	got, err := s.Get(ctx, "mem_a")
	gt.NoError(t, err).Required()
	gt.Value(t, got.Layer).Equal(model.LayerGlobal)
}

func TestScanCorruptRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gt.NoError(t, s.Insert(ctx, rec("mem_a", model.LayerDaily, 0.9, 0))).Required()
	gt.NoError(t, s.Insert(ctx, rec("mem_b", model.LayerDaily, 0.5, time.Second))).Required()
	gt.NoError(t, s.UpdateAccess(ctx, "mem_a", base)).Required()
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET context = '{broken' WHERE id = ?`, "mem_a")
	gt.NoError(t, err).Required()

	skipped, err := s.List(ctx, ListParams{Order: OrderRetention})
	gt.NoError(t, err).Required()
	gt.Value(t, ids(skipped)).Equal([]string{"mem_b"})

	all, err := s.List(ctx, ListParams{Order: OrderRetention, IncludeCorrupt: true})
	gt.NoError(t, err).Required()
	gt.Value(t, ids(all)).Equal([]string{"mem_a", "mem_b"})
	gt.Value(t, all[0].Importance).Equal(0.9)
	gt.Value(t, all[0].AccessCount).Equal(1)
	gt.Number(t, len(all[0].Context)).Equal(0)
}
