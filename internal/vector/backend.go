package vector

import (
	"context"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/wanyview/kaidison-system/internal/embedding"
)

// Backend names accepted by NewBackend.
const (
	BackendExact   = "exact"
	BackendChromem = "chromem"
	BackendNone    = "none"
)

// Entry is one stored vector in insertion order.
type Entry struct {
	ID     string
	Vector embedding.Vector
}

// Backend ranks stored vectors against a query. Backends that keep their own
// copy of the vectors are kept in sync through Upsert, Delete and Reset.
type Backend interface {
	Name() string
	// Degraded reports that Search does not rank by similarity.
	Degraded() bool
	Upsert(ctx context.Context, e Entry) error
	Delete(ctx context.Context, ids []string) error
	Reset(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query embedding.Vector, topK int, entries []Entry, exclude map[string]bool) ([]Hit, error)
}

// NewBackend creates the backend named by name. An empty name selects exact.
func NewBackend(name string) (Backend, error) {
	switch name {
	case "", BackendExact:
		return exactBackend{}, nil
	case BackendChromem:
		return NewChromemBackend()
	case BackendNone:
		return unrankedBackend{}, nil
	default:
		return nil, goerr.New("unknown vector backend", goerr.V("backend", name))
	}
}

// exactBackend scores every entry with in-process cosine similarity.
type exactBackend struct{}

func (exactBackend) Name() string                           { return BackendExact }
func (exactBackend) Degraded() bool                         { return false }
func (exactBackend) Upsert(context.Context, Entry) error    { return nil }
func (exactBackend) Delete(context.Context, []string) error { return nil }
func (exactBackend) Reset(context.Context, []Entry) error   { return nil }

func (exactBackend) Search(_ context.Context, query embedding.Vector, topK int, entries []Entry, exclude map[string]bool) ([]Hit, error) {
	return rankExact(query, topK, entries, exclude), nil
}

func rankExact(query embedding.Vector, topK int, entries []Entry, exclude map[string]bool) []Hit {
	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		if exclude[e.ID] {
			continue
		}
		hits = append(hits, Hit{ID: e.ID, Similarity: embedding.CosineSimilarity(query, e.Vector)})
	}
	sortHits(hits)
	return truncate(hits, topK)
}

func sortHits(hits []Hit) {
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
}

// unrankedBackend is the degraded mode: stored ids in insertion order with a
// constant similarity of 1.0.
type unrankedBackend struct{}

func (unrankedBackend) Name() string                           { return BackendNone }
func (unrankedBackend) Degraded() bool                         { return true }
func (unrankedBackend) Upsert(context.Context, Entry) error    { return nil }
func (unrankedBackend) Delete(context.Context, []string) error { return nil }
func (unrankedBackend) Reset(context.Context, []Entry) error   { return nil }

func (unrankedBackend) Search(_ context.Context, _ embedding.Vector, topK int, entries []Entry, exclude map[string]bool) ([]Hit, error) {
	var hits []Hit
	for _, e := range entries {
		if exclude[e.ID] {
			continue
		}
		hits = append(hits, Hit{ID: e.ID, Similarity: 1.0})
		if topK > 0 && len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// ChromemBackend mirrors non-zero vectors into an in-memory chromem-go
// collection and delegates ranking to it.
type ChromemBackend struct {
	col *chromem.Collection
}

const chromemCollection = "memories"

// NewChromemBackend creates an empty chromem-backed ranker.
func NewChromemBackend() (*ChromemBackend, error) {
	col, err := newCollection()
	if err != nil {
		return nil, err
	}
	return &ChromemBackend{col: col}, nil
}

func newCollection() (*chromem.Collection, error) {
	col, err := chromem.NewDB().CreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "create chromem collection")
	}
	return col, nil
}

func (b *ChromemBackend) Name() string   { return BackendChromem }
func (b *ChromemBackend) Degraded() bool { return false }

func (b *ChromemBackend) Upsert(ctx context.Context, e Entry) error {
	// chromem normalizes documents, so zero vectors cannot be stored. They
	// score 0 against everything and are appended by Search instead.
	if embedding.IsZero(e.Vector) {
		return b.Delete(ctx, []string{e.ID})
	}
	err := b.col.AddDocument(ctx, chromem.Document{
		ID:        e.ID,
		Content:   e.ID,
		Embedding: slices.Clone(e.Vector),
	})
	if err != nil {
		return goerr.Wrap(err, "add chromem document", goerr.V("id", e.ID))
	}
	return nil
}

func (b *ChromemBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.col.Delete(ctx, nil, nil, ids...); err != nil {
		return goerr.Wrap(err, "delete chromem documents", goerr.V("count", len(ids)))
	}
	return nil
}

func (b *ChromemBackend) Reset(ctx context.Context, entries []Entry) error {
	col, err := newCollection()
	if err != nil {
		return err
	}
	b.col = col
	for _, e := range entries {
		if err := b.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (b *ChromemBackend) Search(ctx context.Context, query embedding.Vector, topK int, entries []Entry, exclude map[string]bool) ([]Hit, error) {
	if embedding.IsZero(query) || mixedDims(query, entries) {
		return rankExact(query, topK, entries, exclude), nil
	}

	n := b.col.Count()
	if topK > 0 && topK+len(exclude) < n {
		n = topK + len(exclude)
	}

	var hits []Hit
	seen := map[string]bool{}
	if n > 0 {
		results, err := b.col.QueryEmbedding(ctx, query, n, nil, nil)
		if err != nil {
			return nil, goerr.Wrap(err, "query chromem collection", goerr.V("n", n))
		}
		for _, r := range results {
			seen[r.ID] = true
			if exclude[r.ID] {
				continue
			}
			hits = append(hits, Hit{ID: r.ID, Similarity: float64(r.Similarity)})
		}
	}

	// Entries the collection does not hold (zero vectors) score 0. They can
	// only matter once every mirrored document has been returned.
	if n == b.col.Count() {
		for _, e := range entries {
			if seen[e.ID] || exclude[e.ID] {
				continue
			}
			hits = append(hits, Hit{ID: e.ID, Similarity: 0})
		}
		sortHits(hits)
	}
	return truncate(hits, topK), nil
}

// mixedDims reports whether any stored vector differs in length from query,
// which happens when the embedding provider changed between writes.
func mixedDims(query embedding.Vector, entries []Entry) bool {
	for _, e := range entries {
		if len(e.Vector) != len(query) {
			return true
		}
	}
	return false
}

func truncate(hits []Hit, topK int) []Hit {
	if topK > 0 && len(hits) > topK {
		return hits[:topK]
	}
	return hits
}
