// Package engine is the memory facade: it owns the record store and both
// indices and keeps them consistent across writes, reads and evictions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"

	"github.com/wanyview/kaidison-system/internal/config"
	"github.com/wanyview/kaidison-system/internal/embedding"
	"github.com/wanyview/kaidison-system/internal/keyword"
	"github.com/wanyview/kaidison-system/internal/model"
	"github.com/wanyview/kaidison-system/internal/observe"
	"github.com/wanyview/kaidison-system/internal/store"
	"github.com/wanyview/kaidison-system/internal/vector"
)

// IDPrefix prefixes every memory id.
const IDPrefix = "mem_"

// Engine stores memories and answers relevance queries over them.
type Engine struct {
	cfg      config.Config
	store    store.Store
	keywords *keyword.Index
	vectors  *vector.Index
	embedder embedding.Embedder
	cache    *fifoCache
	obs      *observe.Observer
	now      func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	// mutateMu is held shared by Remember and exclusively by Compress and
	// Clear, so a rebuild or eviction sees a stable record set.
	mutateMu sync.RWMutex

	lifeMu    sync.RWMutex
	closed    bool
	compactCh chan struct{}
	done      chan struct{}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithObserver sets the logger and tracer.
func WithObserver(obs *observe.Observer) Option {
	return func(e *Engine) { e.obs = obs }
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(emb embedding.Embedder) Option {
	return func(e *Engine) { e.embedder = emb }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Open creates the storage directory if needed, opens the record store and
// loads both indices. A missing or corrupt index file starts empty.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		cache:   newFIFOCache(cfg.CacheSize),
		obs:     observe.Discard(),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrStorage, err), "create storage dir", goerr.V("path", cfg.StoragePath))
	}

	if e.embedder == nil && cfg.EnableVectorSearch {
		emb, err := embedding.New(cfg.EmbeddingOptions())
		if err != nil {
			return nil, goerr.Wrap(err, "create embedder")
		}
		e.embedder = emb
	}
	if !cfg.EnableVectorSearch {
		e.embedder = nil
	}

	s, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	e.store = s

	e.keywords, err = keyword.Open(cfg.KeywordIndexPath())
	if err != nil {
		e.obs.Log().Warn().Err(err).Str("path", cfg.KeywordIndexPath()).Msg("keyword index unreadable, starting empty")
	}

	backend, err := vector.NewBackend(cfg.VectorBackend)
	if err != nil {
		s.Close()
		return nil, err
	}
	vectors, err := vector.Open(ctx, cfg.VectorIndexPath(), backend)
	if vectors == nil {
		s.Close()
		return nil, err
	}
	if err != nil {
		e.obs.Log().Warn().Err(err).Str("path", cfg.VectorIndexPath()).Msg("vector index unreadable, starting empty")
	}
	e.vectors = vectors

	if cfg.EnableCompression {
		e.compactCh = make(chan struct{}, 1)
		e.done = make(chan struct{})
		go e.compactLoop()
	}
	return e, nil
}

// Close waits for a scheduled compaction to finish and closes the store.
func (e *Engine) Close() error {
	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return nil
	}
	e.closed = true
	if e.compactCh != nil {
		close(e.compactCh)
	}
	e.lifeMu.Unlock()

	if e.done != nil {
		<-e.done
	}
	return e.store.Close()
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() config.Config { return e.cfg }

// Capabilities reports which retrieval paths are active. Degraded is set
// when vector ranking is off, unranked, or fed by the hash fallback.
func (e *Engine) Capabilities() model.Capabilities {
	c := model.Capabilities{
		VectorSearch:  e.embedder != nil,
		Embedder:      "disabled",
		VectorBackend: e.vectors.Backend().Name(),
	}
	if e.embedder != nil {
		c.Embedder = e.embedder.Name()
	}
	c.Degraded = !c.VectorSearch || e.vectors.Backend().Degraded() || c.Embedder == embedding.ProviderHash
	return c
}

// Get returns the stored record with the given id.
func (e *Engine) Get(ctx context.Context, id string) (*model.Record, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v, ok := e.vectors.Get(id); ok {
		rec.Embedding = v
	}
	return rec, nil
}

// Cached returns the record from the write cache, if still present. The
// cache holds creation-time snapshots and never reflects access counts.
func (e *Engine) Cached(id string) (model.Record, bool) {
	return e.cache.get(id)
}

func (e *Engine) newID() string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	return IDPrefix + ulid.MustNew(ulid.Timestamp(e.now()), e.entropy).String()
}

// embed returns nil when embeddings are disabled or the provider fails.
func (e *Engine) embed(ctx context.Context, text string) embedding.Vector {
	if e.embedder == nil {
		return nil
	}
	v, err := e.embedder.Embed(ctx, text)
	if err != nil {
		e.obs.Log().Warn().Err(err).Str("embedder", e.embedder.Name()).Msg("embedding failed")
		return nil
	}
	return v
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
