package keyword

import (
	"slices"
	"sync"

	"github.com/wanyview/kaidison-system/internal/persist"
)

// Hit is a keyword search match with the number of query terms it contains.
type Hit struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

// Document is an id/content pair fed to Rebuild.
type Document struct {
	ID      string
	Content string
}

// Index maps terms to the ids of memories containing them. Every mutation
// rewrites the whole snapshot file.
type Index struct {
	mu       sync.RWMutex
	path     string
	postings map[string][]string
}

// Open loads the index persisted at path. The returned index is always
// usable: a missing file yields an empty index, and a corrupt one yields an
// empty index together with an error wrapping model.ErrParse.
func Open(path string) (*Index, error) {
	idx := &Index{path: path, postings: map[string][]string{}}
	var postings map[string][]string
	if _, err := persist.ReadJSON(path, &postings); err != nil {
		return idx, err
	}
	for term, ids := range postings {
		if len(ids) > 0 {
			idx.postings[term] = ids
		}
	}
	return idx, nil
}

// Add indexes id under every term extracted from content.
func (x *Index) Add(id, content string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.add(id, content)
	return x.save()
}

func (x *Index) add(id, content string) {
	for _, term := range Extract(content) {
		if !slices.Contains(x.postings[term], id) {
			x.postings[term] = append(x.postings[term], id)
		}
	}
}

// Remove drops id from every posting list.
func (x *Index) Remove(id string) error {
	return x.RemoveMany([]string{id})
}

// RemoveMany drops all ids from every posting list and deletes terms left
// without postings. The snapshot is written once.
func (x *Index) RemoveMany(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for term, list := range x.postings {
		list = slices.DeleteFunc(list, func(id string) bool { return drop[id] })
		if len(list) == 0 {
			delete(x.postings, term)
			continue
		}
		x.postings[term] = list
	}
	return x.save()
}

// Rebuild discards the current postings and indexes docs from scratch.
func (x *Index) Rebuild(docs []Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.postings = map[string][]string{}
	for _, d := range docs {
		x.add(d.ID, d.Content)
	}
	return x.save()
}

// Search ranks ids by how many query terms they are indexed under. Ties keep
// the order in which ids were first encountered. topK <= 0 returns all hits.
func (x *Index) Search(query string, topK int) []Hit {
	x.mu.RLock()
	defer x.mu.RUnlock()

	scores := map[string]int{}
	var order []string
	for _, term := range Extract(query) {
		for _, id := range x.postings[term] {
			if _, ok := scores[id]; !ok {
				order = append(order, id)
			}
			scores[id]++
		}
	}

	hits := make([]Hit, len(order))
	for i, id := range order {
		hits[i] = Hit{ID: id, Score: scores[id]}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int { return b.Score - a.Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Lookup returns a copy of the ids indexed under term.
func (x *Index) Lookup(term string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.postings[term])
}

// Len returns the number of indexed terms.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.postings)
}

func (x *Index) save() error {
	return persist.WriteJSON(x.path, x.postings)
}
