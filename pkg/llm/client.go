// Package llm provides the client used for all model calls: a channel-based
// streaming API over an OpenAI-compatible inference server, plus the model
// registry that tracks context windows.
package llm

import "context"

// Client is the interface all engine components use for model calls.
// Implementations must be safe for concurrent use; the engine shares one
// client across requests.
type Client interface {
	// Generate sends a conversation to the LLM and returns a stream of
	// chunks. The returned channel is closed when the stream completes.
	// Errors are delivered as ErrorChunk values in the channel.
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)

	// Complete is the non-streaming convenience form: it drains the stream
	// and returns the concatenated text and usage.
	Complete(ctx context.Context, input *GenerateInput) (*Completion, error)

	// ListModels returns the models the server advertises.
	ListModels(ctx context.Context) ([]string, error)

	// Close releases the underlying connection resources.
	Close() error
}

// GenerateInput is one model request.
type GenerateInput struct {
	RequestID       string
	Model           string // empty = client default
	Messages        []Message
	MaxOutputTokens int // 0 = provider default; the budget always sets this
	Temperature     float64
	Stop            []string
}

// Message is one conversation turn.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Completion is the drained result of a Generate stream.
type Completion struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage aggregates token consumption for one call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeUsage ChunkType = "usage"
	ChunkTypeError ChunkType = "error"
)

// TextChunk is a chunk of the LLM's text response.
type TextChunk struct{ Content string }

// UsageChunk reports token consumption for this call.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int }

// ErrorChunk signals an error from the provider.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType  { return ChunkTypeText }
func (c *UsageChunk) chunkType() ChunkType { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType { return ChunkTypeError }

// Roles for Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
