package engine

import (
	"context"

	"github.com/wanyview/kaidison-system/internal/model"
	"github.com/wanyview/kaidison-system/internal/store"
)

// StrategyImportance evicts the lowest (importance, access count) records.
// It is also applied for any other strategy name.
const StrategyImportance = "importance"

// Compress trims every layer over its capacity down to the capacity,
// keeping records by importance then access count. Rows with undecodable
// columns are ranked too, so they can still be evicted. Index entries are
// removed before the records.
func (e *Engine) Compress(ctx context.Context, strategy string) (model.CompressResult, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.Compress")
	defer span.End()

	if strategy == "" {
		strategy = StrategyImportance
	}

	e.mutateMu.Lock()
	defer e.mutateMu.Unlock()

	counts, err := e.store.CountByLayer(ctx)
	if err != nil {
		return model.CompressResult{}, err
	}

	var victims []string
	for _, layer := range model.Layers {
		capacity := e.cfg.Capacity(layer)
		if counts[layer] <= capacity {
			continue
		}
		kept := 0
		for rec, err := range e.store.Scan(ctx, store.ListParams{Layer: layer, Order: store.OrderRetention, IncludeCorrupt: true}) {
			if err != nil {
				return model.CompressResult{}, err
			}
			if kept < capacity {
				kept++
				continue
			}
			victims = append(victims, rec.ID)
		}
	}

	deleted := 0
	if len(victims) > 0 {
		if err := e.keywords.RemoveMany(victims); err != nil {
			return model.CompressResult{}, err
		}
		if err := e.vectors.DeleteMany(ctx, victims); err != nil {
			return model.CompressResult{}, err
		}
		deleted, err = e.store.DeleteMany(ctx, victims)
		if err != nil {
			return model.CompressResult{}, err
		}
		e.cache.drop(victims)
	}

	remaining, err := e.store.Count(ctx)
	if err != nil {
		return model.CompressResult{}, err
	}

	res := model.CompressResult{
		DeletedCount:   deleted,
		RemainingCount: remaining,
		Strategy:       strategy,
		Timestamp:      e.now(),
	}
	e.obs.Log().Info().
		Str("strategy", strategy).
		Int("deleted", deleted).
		Int("remaining", remaining).
		Msg("compaction finished")
	return res, nil
}

// scheduleCompress queues a background check without blocking. A pending
// request absorbs later ones.
func (e *Engine) scheduleCompress() {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	if e.closed || e.compactCh == nil {
		return
	}
	select {
	case e.compactCh <- struct{}{}:
	default:
	}
}

func (e *Engine) compactLoop() {
	defer close(e.done)
	for range e.compactCh {
		ctx := context.Background()
		total, err := e.store.Count(ctx)
		if err != nil {
			e.obs.Log().Error().Err(err).Msg("background compaction: count failed")
			continue
		}
		if total < e.cfg.CompressionThreshold {
			continue
		}
		if _, err := e.Compress(ctx, StrategyImportance); err != nil {
			e.obs.Log().Error().Err(err).Msg("background compaction failed")
		}
	}
}
