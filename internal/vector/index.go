// Package vector maintains the persisted id→embedding map and ranks stored
// embeddings against a query vector.
package vector

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/wanyview/kaidison-system/internal/embedding"
	"github.com/wanyview/kaidison-system/internal/persist"
)

// Hit is a vector search match.
type Hit struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Index stores one embedding per memory id. Every mutation rewrites the
// whole snapshot file.
type Index struct {
	mu      sync.RWMutex
	path    string
	backend Backend
	vectors map[string]embedding.Vector
	order   []string
}

// Open loads the index persisted at path and primes backend with it. The
// returned index is always usable: a corrupt file yields an empty index
// together with an error wrapping model.ErrParse.
func Open(ctx context.Context, path string, backend Backend) (*Index, error) {
	x := &Index{path: path, backend: backend, vectors: map[string]embedding.Vector{}}

	var stored map[string]embedding.Vector
	_, loadErr := persist.ReadJSON(path, &stored)
	if loadErr == nil {
		for id, v := range stored {
			x.vectors[id] = v
		}
		// Ids are time-ordered, so sorting restores insertion order.
		x.order = slices.Sorted(maps.Keys(x.vectors))
	}

	if err := backend.Reset(ctx, x.entries()); err != nil {
		return nil, err
	}
	return x, loadErr
}

// Backend returns the ranking backend in use.
func (x *Index) Backend() Backend { return x.backend }

// Add stores vec under id, replacing any previous vector.
func (x *Index) Add(ctx context.Context, id string, vec embedding.Vector) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.vectors[id]; !ok {
		x.order = append(x.order, id)
	}
	x.vectors[id] = slices.Clone(vec)
	if err := x.backend.Upsert(ctx, Entry{ID: id, Vector: x.vectors[id]}); err != nil {
		return err
	}
	return x.save()
}

// Get returns a copy of the vector stored under id.
func (x *Index) Get(id string) (embedding.Vector, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	v, ok := x.vectors[id]
	return slices.Clone(v), ok
}

// Delete removes the vector stored under id, if any.
func (x *Index) Delete(ctx context.Context, id string) error {
	return x.DeleteMany(ctx, []string{id})
}

// DeleteMany removes the vectors stored under ids. The snapshot is written once.
func (x *Index) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		delete(x.vectors, id)
	}
	x.order = slices.DeleteFunc(x.order, func(id string) bool { return drop[id] })
	if err := x.backend.Delete(ctx, ids); err != nil {
		return err
	}
	return x.save()
}

// Rebuild replaces the whole index with entries.
func (x *Index) Rebuild(ctx context.Context, entries []Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.vectors = make(map[string]embedding.Vector, len(entries))
	x.order = x.order[:0]
	for _, e := range entries {
		if _, ok := x.vectors[e.ID]; !ok {
			x.order = append(x.order, e.ID)
		}
		x.vectors[e.ID] = slices.Clone(e.Vector)
	}
	if err := x.backend.Reset(ctx, x.entries()); err != nil {
		return err
	}
	return x.save()
}

// Search returns up to topK stored ids ranked by similarity to query,
// skipping exclude. In degraded mode the ranking is arbitrary.
func (x *Index) Search(ctx context.Context, query embedding.Vector, topK int, exclude []string) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	return x.backend.Search(ctx, query, topK, x.entries(), skip)
}

// Len returns the number of stored vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Entries returns the stored vectors in insertion order.
func (x *Index) Entries() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.entries()
}

func (x *Index) entries() []Entry {
	out := make([]Entry, len(x.order))
	for i, id := range x.order {
		out[i] = Entry{ID: id, Vector: x.vectors[id]}
	}
	return out
}

func (x *Index) save() error {
	return persist.WriteJSON(x.path, x.vectors)
}
