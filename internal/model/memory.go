// Package model defines the core memory data types.
package model

import "time"

// Layer partitions memories by retention tier.
type Layer string

const (
	LayerDaily  Layer = "daily"
	LayerGlobal Layer = "global"
)

// Layers lists every layer in compaction order.
var Layers = []Layer{LayerDaily, LayerGlobal}

// Valid reports whether l names a known layer.
func (l Layer) Valid() bool {
	return l == LayerDaily || l == LayerGlobal
}

// Context is the open key/value annotation attached to a memory.
type Context map[string]any

// Record represents a stored memory entry.
type Record struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	Context        Context    `json:"context"`
	CreatedAt      time.Time  `json:"created_at"`
	Layer          Layer      `json:"layer"`
	Keywords       []string   `json:"keywords"`
	Embedding      []float32  `json:"embedding,omitempty"`
	EmbeddingRef   string     `json:"embedding_ref,omitempty"`
	Importance     float64    `json:"importance"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// Importance bands used by stats.
const (
	BandHigh   = "high"
	BandMedium = "medium"
	BandLow    = "low"
)

// ImportanceBand classifies an importance score.
func ImportanceBand(importance float64) string {
	switch {
	case importance >= 0.8:
		return BandHigh
	case importance >= 0.5:
		return BandMedium
	default:
		return BandLow
	}
}

// CompressResult reports the outcome of a compaction pass.
type CompressResult struct {
	DeletedCount   int       `json:"deleted_count"`
	RemainingCount int       `json:"remaining_count"`
	Strategy       string    `json:"strategy"`
	Timestamp      time.Time `json:"timestamp"`
}

// Capabilities describes the retrieval quality actually available.
type Capabilities struct {
	VectorSearch  bool   `json:"vector_search"`
	Embedder      string `json:"embedder"`
	VectorBackend string `json:"vector_backend"`
	Degraded      bool   `json:"degraded"`
}

// Stats holds store and index statistics.
type Stats struct {
	TotalMemories          int            `json:"total_memories"`
	LayerDistribution      map[Layer]int  `json:"layer_distribution"`
	TotalAccessCount       int            `json:"total_access_count"`
	ImportanceDistribution map[string]int `json:"importance_distribution"`
	StoragePath            string         `json:"storage_path"`
	KeywordTerms           int            `json:"keyword_terms"`
	Vectors                int            `json:"vectors"`
	Capabilities           Capabilities   `json:"capabilities"`
}

// ExportDocument is the on-disk export format.
type ExportDocument struct {
	ExportTime time.Time `json:"export_time"`
	Layer      string    `json:"layer"`
	Count      int       `json:"count"`
	Memories   []Record  `json:"memories"`
}
