package engine

import (
	"context"
	"maps"
	"unicode/utf8"

	"github.com/wanyview/kaidison-system/internal/keyword"
	"github.com/wanyview/kaidison-system/internal/model"
)

// Context keys read by Remember.
const (
	KeyGlobalLevel = "global_level"
	KeyImportance  = "importance"
	KeyType        = "type"
	KeySource      = "source"
)

var weightyTypes = map[string]bool{
	"decision":   true,
	"preference": true,
	"commitment": true,
}

// Remember stores content with its context and indexes it. The record is
// visible to Recall once Remember returns. When the store has reached the
// compression threshold a compaction is scheduled in the background.
func (e *Engine) Remember(ctx context.Context, content string, mctx model.Context) (string, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.Remember")
	defer span.End()

	mctx = maps.Clone(mctx)
	if mctx == nil {
		mctx = model.Context{}
	}

	rec := model.Record{
		ID:         e.newID(),
		Content:    content,
		Context:    mctx,
		CreatedAt:  e.now(),
		Layer:      layerFor(mctx),
		Keywords:   keyword.Extract(content),
		Importance: importance(content, mctx),
	}
	if vec := e.embed(ctx, content); vec != nil {
		rec.Embedding = vec
		rec.EmbeddingRef = rec.ID
	}

	if err := e.insert(ctx, rec); err != nil {
		return "", err
	}
	e.cache.put(rec)
	e.scheduleCompress()

	return rec.ID, nil
}

// insert writes rec to the store and both indices. If an index write fails
// the record is removed again so a failed Remember leaves nothing behind.
func (e *Engine) insert(ctx context.Context, rec model.Record) error {
	e.mutateMu.RLock()
	defer e.mutateMu.RUnlock()

	if err := e.store.Insert(ctx, rec); err != nil {
		return err
	}
	if err := e.keywords.Add(rec.ID, rec.Content); err != nil {
		e.rollback(ctx, rec.ID)
		return err
	}
	if rec.Embedding != nil {
		if err := e.vectors.Add(ctx, rec.ID, rec.Embedding); err != nil {
			e.rollback(ctx, rec.ID)
			return err
		}
	}
	return nil
}

func (e *Engine) rollback(ctx context.Context, id string) {
	ids := []string{id}
	if err := e.keywords.RemoveMany(ids); err != nil {
		e.obs.Log().Warn().Err(err).Str("id", id).Msg("rollback: keyword index not saved")
	}
	if err := e.vectors.DeleteMany(ctx, ids); err != nil {
		e.obs.Log().Warn().Err(err).Str("id", id).Msg("rollback: vector index not saved")
	}
	if _, err := e.store.DeleteMany(ctx, ids); err != nil {
		e.obs.Log().Error().Err(err).Str("id", id).Msg("rollback: record left in store")
	}
}

func layerFor(mctx model.Context) model.Layer {
	if truthy(mctx[KeyGlobalLevel]) {
		return model.LayerGlobal
	}
	return model.LayerDaily
}

// importance scores a new memory from its length and context flags.
func importance(content string, mctx model.Context) float64 {
	score := 0.5

	switch n := utf8.RuneCountInString(content); {
	case n > 500:
		score += 0.10
	case n > 200:
		score += 0.05
	}
	if truthy(mctx[KeyImportance]) {
		score += 0.20
	}
	if t, ok := mctx[KeyType].(string); ok && weightyTypes[t] {
		score += 0.15
	}
	if s, ok := mctx[KeySource].(string); ok && s == "user" {
		score += 0.10
	}
	return min(1.0, max(0.0, score))
}

// truthy treats zero values, empty strings and empty collections as false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case float32:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case map[string]any:
		return len(x) > 0
	case model.Context:
		return len(x) > 0
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	default:
		return true
	}
}
