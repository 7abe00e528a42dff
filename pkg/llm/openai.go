package llm

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/errkind"
)

// ChatClient captures the subset of the go-openai client used by the
// adapter. Satisfied by *openai.Client; tests pass a mock.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIClient implements Client against any OpenAI-compatible inference
// server (vLLM, Ollama, llama.cpp) via BaseURL override.
type OpenAIClient struct {
	chat         ChatClient
	defaultModel string
	temperature  float64
}

// NewOpenAIClient builds a client from the LLM configuration. The API key is
// read from the configured environment variable; local servers accept any
// non-empty value.
func NewOpenAIClient(cfg *config.LLMConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("llm base URL is required")
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		apiKey = "veritas-local"
	}
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = cfg.BaseURL
	return &OpenAIClient{
		chat:         openai.NewClientWithConfig(oc),
		defaultModel: cfg.DefaultModel,
		temperature:  cfg.Temperature,
	}, nil
}

// NewOpenAIClientWith wires an explicit ChatClient; used by tests.
func NewOpenAIClientWith(chat ChatClient, defaultModel string, temperature float64) *OpenAIClient {
	return &OpenAIClient{chat: chat, defaultModel: defaultModel, temperature: temperature}
}

// NewEmbeddingClient builds a raw go-openai client against the same
// inference server, for callers that need the embedding endpoint.
func NewEmbeddingClient(cfg *config.LLMConfig) *openai.Client {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		apiKey = "veritas-local"
	}
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = cfg.BaseURL
	return openai.NewClientWithConfig(oc)
}

// Generate sends a conversation to the server and returns a channel of chunks.
func (c *OpenAIClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	stream, err := c.chat.CreateChatCompletionStream(ctx, c.buildRequest(input, true))
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "llm stream open failed", err)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case ch <- &ErrorChunk{Message: err.Error(), Retryable: retryableAPIError(err)}:
				case <-ctx.Done():
				}
				return
			}
			if resp.Usage != nil {
				usage := &UsageChunk{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
					TotalTokens:  resp.Usage.TotalTokens,
				}
				select {
				case ch <- usage:
				case <-ctx.Done():
					return
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case ch <- &TextChunk{Content: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete issues a non-streaming completion and returns the full text.
func (c *OpenAIClient) Complete(ctx context.Context, input *GenerateInput) (*Completion, error) {
	resp, err := c.chat.CreateChatCompletion(ctx, c.buildRequest(input, false))
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "llm completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errkind.New(errkind.KindResourceUnavailable, "llm returned no choices")
	}
	return &Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// ListModels returns the model names the server advertises.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.chat.ListModels(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "list models failed", err)
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.ID)
	}
	return names, nil
}

// Close is a no-op for the HTTP transport; kept for the Client contract.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) buildRequest(input *GenerateInput, stream bool) openai.ChatCompletionRequest {
	model := input.Model
	if model == "" {
		model = c.defaultModel
	}
	temperature := input.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(input.Messages))
	for _, m := range input.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   input.MaxOutputTokens,
		Temperature: float32(temperature),
		Stop:        input.Stop,
		Stream:      stream,
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

// retryableAPIError classifies provider errors that are worth retrying.
func retryableAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "timeout")
}

var _ Client = (*OpenAIClient)(nil)
