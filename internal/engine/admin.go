package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"

	"github.com/wanyview/kaidison-system/internal/keyword"
	"github.com/wanyview/kaidison-system/internal/model"
	"github.com/wanyview/kaidison-system/internal/persist"
	"github.com/wanyview/kaidison-system/internal/store"
	"github.com/wanyview/kaidison-system/internal/vector"
)

// ExportAllLayers is the layer label of an unfiltered export.
const ExportAllLayers = "all"

// Stats summarizes the store and both indices.
func (e *Engine) Stats(ctx context.Context) (model.Stats, error) {
	total, err := e.store.Count(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	byLayer, err := e.store.CountByLayer(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	accesses, err := e.store.SumAccessCount(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	bands, err := e.store.CountByImportanceBand(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	return model.Stats{
		TotalMemories:          total,
		LayerDistribution:      byLayer,
		TotalAccessCount:       accesses,
		ImportanceDistribution: bands,
		StoragePath:            e.cfg.StoragePath,
		KeywordTerms:           e.keywords.Len(),
		Vectors:                e.vectors.Len(),
		Capabilities:           e.Capabilities(),
	}, nil
}

// Clear deletes every record of layer, or all records when layer is empty,
// and returns how many were deleted. Both indices are rebuilt from the
// surviving records and the write cache is dropped.
func (e *Engine) Clear(ctx context.Context, layer model.Layer) (int, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.Clear")
	defer span.End()

	if layer != "" && !layer.Valid() {
		return 0, goerr.New("unknown layer", goerr.V("layer", layer))
	}

	e.mutateMu.Lock()
	defer e.mutateMu.Unlock()

	var docs []keyword.Document
	var entries []vector.Entry
	if layer != "" {
		all, err := e.store.List(ctx, store.ListParams{Order: store.OrderChronological})
		if err != nil {
			return 0, err
		}
		for _, rec := range all {
			if rec.Layer == layer {
				continue
			}
			docs = append(docs, keyword.Document{ID: rec.ID, Content: rec.Content})
			if v, ok := e.vectors.Get(rec.ID); ok {
				entries = append(entries, vector.Entry{ID: rec.ID, Vector: v})
			}
		}
	}

	if err := e.keywords.Rebuild(docs); err != nil {
		return 0, err
	}
	if err := e.vectors.Rebuild(ctx, entries); err != nil {
		return 0, err
	}
	deleted, err := e.store.DeleteByLayer(ctx, layer)
	if err != nil {
		return 0, err
	}
	e.cache.reset()

	e.obs.Log().Info().Str("layer", string(layer)).Int("deleted", deleted).Msg("memories cleared")
	return deleted, nil
}

// Export writes the records of layer (all when empty) to path, oldest first,
// and returns how many were written.
func (e *Engine) Export(ctx context.Context, path string, layer model.Layer) (int, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.Export")
	defer span.End()

	records, err := e.store.List(ctx, store.ListParams{Layer: layer, Order: store.OrderChronological})
	if err != nil {
		return 0, err
	}
	if records == nil {
		records = []model.Record{}
	}

	label := string(layer)
	if label == "" {
		label = ExportAllLayers
	}
	doc := model.ExportDocument{
		ExportTime: e.now(),
		Layer:      label,
		Count:      len(records),
		Memories:   records,
	}
	if err := persist.WriteJSONIndent(path, doc); err != nil {
		return 0, err
	}
	return len(records), nil
}

type importDocument struct {
	Memories []json.RawMessage `json:"memories"`
}

type importEntry struct {
	Content string          `json:"content"`
	Context json.RawMessage `json:"context"`
}

// Import re-remembers every entry of the export document at path and
// returns how many were stored. Malformed entries are skipped.
func (e *Engine) Import(ctx context.Context, path string) (int, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.Import")
	defer span.End()

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrStorage, err), "read import file", goerr.V("path", path))
	}
	var doc importDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrParse, err), "decode import file", goerr.V("path", path))
	}

	imported := 0
	for i, raw := range doc.Memories {
		content, mctx, err := parseImportEntry(raw)
		if err != nil {
			e.obs.Log().Warn().Err(err).Int("index", i).Msg("skipping import entry")
			continue
		}
		if _, err := e.Remember(ctx, content, mctx); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

// parseImportEntry accepts the context either as an object or as a
// JSON-encoded string holding one.
func parseImportEntry(raw json.RawMessage) (string, model.Context, error) {
	var entry importEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", nil, parseErr(err, "decode entry")
	}
	if entry.Content == "" {
		return "", nil, parseErr(errors.New("empty content"), "decode entry")
	}

	ctxJSON := bytes.TrimSpace(entry.Context)
	if len(ctxJSON) == 0 || bytes.Equal(ctxJSON, []byte("null")) {
		return entry.Content, model.Context{}, nil
	}
	if ctxJSON[0] == '"' {
		var s string
		if err := json.Unmarshal(ctxJSON, &s); err != nil {
			return "", nil, parseErr(err, "decode context string")
		}
		if s == "" {
			return entry.Content, model.Context{}, nil
		}
		ctxJSON = []byte(s)
	}
	var mctx model.Context
	if err := json.Unmarshal(ctxJSON, &mctx); err != nil {
		return "", nil, parseErr(err, "decode context")
	}
	if mctx == nil {
		mctx = model.Context{}
	}
	return entry.Content, mctx, nil
}

func parseErr(err error, msg string) error {
	return goerr.Wrap(fmt.Errorf("%w: %w", model.ErrParse, err), msg)
}
