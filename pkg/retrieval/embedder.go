package retrieval

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/veritas-engine/veritas/pkg/errkind"
)

// Embedder encodes text into the dense vector space of the document index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingClient is the subset of the go-openai client the embedder uses.
type EmbeddingClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder calls an OpenAI-compatible embedding endpoint. Local
// inference servers expose the same API for sentence-transformer models.
type OpenAIEmbedder struct {
	client EmbeddingClient
	model  string
}

// NewOpenAIEmbedder builds an embedder for the given model name.
func NewOpenAIEmbedder(client EmbeddingClient, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model}
}

// Embed encodes one query string.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "embedding request failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, errkind.New(errkind.KindResourceUnavailable, "embedding response is empty")
	}
	return resp.Data[0].Embedding, nil
}
