package embedding

import (
	"context"
	"net/http"
	"net/url"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
)

// Provider names accepted by New.
const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Options selects and configures an embedding provider.
type Options struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dims      int
	MaxTokens int
}

// New creates the embedder named by opts.Provider. An empty provider selects
// the hash fallback.
func New(opts Options) (Embedder, error) {
	switch opts.Provider {
	case "", ProviderHash:
		return NewHashEmbedder(opts.Dims, opts.MaxTokens), nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(opts.BaseURL, opts.APIKey, opts.Model, opts.Dims)
	case ProviderOllama:
		return NewOllamaEmbedder(opts.BaseURL, opts.Model, opts.Dims)
	default:
		return nil, goerr.New("unknown embedding provider", goerr.V("provider", opts.Provider))
	}
}

// --- Ollama Provider ---

// OllamaEmbedder uses a local Ollama instance for embeddings.
type OllamaEmbedder struct {
	client *api.Client
	model  string
	dims   int
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
// Default model: nomic-embed-text (768 dims), all-minilm (384 dims).
func NewOllamaEmbedder(baseURL, model string, dims int) (*OllamaEmbedder, error) {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid ollama url", goerr.V("url", baseURL))
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dims == 0 {
		dims = 768
		if model == "all-minilm" {
			dims = 384
		}
	}
	return &OllamaEmbedder{
		client: api.NewClient(uri, http.DefaultClient),
		model:  model,
		dims:   dims,
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "ollama embedding failed", goerr.V("model", e.model))
	}
	vec := make(Vector, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (e *OllamaEmbedder) Dims() int { return e.dims }

func (e *OllamaEmbedder) Name() string { return ProviderOllama }

// --- OpenAI-compatible Provider ---

// OpenAIEmbedder uses any OpenAI-compatible embedding API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dims   int
}

// NewOpenAIEmbedder creates an embedder using an OpenAI-compatible API.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, goerr.New("openai embedding provider requires an API key")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	m := openai.SmallEmbedding3
	if model != "" {
		m = openai.EmbeddingModel(model)
	}
	if dims == 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  m,
		dims:   dims,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "openai embedding failed", goerr.V("model", string(e.model)))
	}
	if len(resp.Data) == 0 {
		return nil, goerr.New("no embedding returned", goerr.V("model", string(e.model)))
	}
	return resp.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }

func (e *OpenAIEmbedder) Name() string { return ProviderOpenAI }
