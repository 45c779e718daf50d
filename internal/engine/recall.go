package engine

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wanyview/kaidison-system/internal/embedding"
	"github.com/wanyview/kaidison-system/internal/keyword"
	"github.com/wanyview/kaidison-system/internal/model"
	"github.com/wanyview/kaidison-system/internal/store"
	"github.com/wanyview/kaidison-system/internal/vector"
)

// DefaultTopK is used when RecallParams.TopK is not positive.
const DefaultTopK = 10

// Relevance weights.
const (
	overlapWeight  = 0.6
	containsWeight = 0.4
)

// RecallParams holds parameters for Recall.
type RecallParams struct {
	Layer model.Layer // empty means all layers
	TopK  int
	// KeywordOnly skips the vector sub-search.
	KeywordOnly bool
}

// Recall returns up to TopK records ranked by relevance to query. Returned
// records have their access count and last access time updated.
func (e *Engine) Recall(ctx context.Context, query string, p RecallParams) ([]model.Record, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.Recall")
	defer span.End()

	topK := p.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	var (
		eligible []model.Record
		kwHits   []keyword.Hit
		vecHits  []vector.Hit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		eligible, err = e.store.List(gctx, store.ListParams{Layer: p.Layer, Order: store.OrderRelevance})
		return err
	})
	g.Go(func() error {
		kwHits = e.keywords.Search(query, 2*topK)
		return nil
	})
	if !p.KeywordOnly && e.embedder != nil {
		g.Go(func() error {
			vecHits = e.vectorCandidates(gctx, query, 2*topK)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make(map[string]bool, len(kwHits)+len(vecHits))
	for _, h := range kwHits {
		candidates[h.ID] = true
	}
	for _, h := range vecHits {
		candidates[h.ID] = true
	}
	if len(candidates) > 0 {
		eligible = slices.DeleteFunc(eligible, func(r model.Record) bool { return !candidates[r.ID] })
	}

	type scored struct {
		rec   model.Record
		score float64
	}
	queryTerms := keyword.Extract(query)
	ranked := make([]scored, len(eligible))
	for i, rec := range eligible {
		ranked[i] = scored{rec: rec, score: relevance(query, queryTerms, rec)}
	}
	slices.SortStableFunc(ranked, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	now := e.now()
	results := make([]model.Record, 0, len(ranked))
	for _, r := range ranked {
		if err := e.store.UpdateAccess(ctx, r.rec.ID, now); err != nil {
			// Evicted since the listing.
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		rec := r.rec
		rec.AccessCount++
		accessed := now
		rec.LastAccessedAt = &accessed
		results = append(results, rec)
	}
	return results, nil
}

// vectorCandidates is best-effort: failures only narrow the candidate set.
// A zero query vector carries no signal and yields nothing.
func (e *Engine) vectorCandidates(ctx context.Context, query string, limit int) []vector.Hit {
	qv := e.embed(ctx, query)
	if qv == nil || embedding.IsZero(qv) {
		return nil
	}
	hits, err := e.vectors.Search(ctx, qv, limit, nil)
	if err != nil {
		e.obs.Log().Warn().Err(err).Str("backend", e.vectors.Backend().Name()).Msg("vector search failed")
		return nil
	}
	return hits
}

// relevance mixes normalized term overlap with raw case-insensitive
// containment of the whole query.
func relevance(query string, queryTerms []string, rec model.Record) float64 {
	overlap := 0
	for _, t := range queryTerms {
		if slices.Contains(rec.Keywords, t) {
			overlap++
		}
	}
	score := overlapWeight * float64(overlap) / float64(max(len(queryTerms), 1))
	if strings.Contains(strings.ToLower(rec.Content), strings.ToLower(query)) {
		score += containsWeight
	}
	return score
}
