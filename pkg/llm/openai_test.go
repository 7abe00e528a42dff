package llm

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/errkind"
)

// mockChat implements ChatClient for tests.
type mockChat struct {
	completion openai.ChatCompletionResponse
	modelsList openai.ModelsList
	err        error

	lastRequest openai.ChatCompletionRequest
}

func (m *mockChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.lastRequest = req
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return m.completion, nil
}

func (m *mockChat) CreateChatCompletionStream(_ context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	m.lastRequest = req
	return nil, m.err
}

func (m *mockChat) ListModels(context.Context) (openai.ModelsList, error) {
	if m.err != nil {
		return openai.ModelsList{}, m.err
	}
	return m.modelsList, nil
}

func TestCompleteReturnsTextAndUsage(t *testing.T) {
	mock := &mockChat{
		completion: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "Die Baugenehmigung ist..."}},
			},
			Usage: openai.Usage{PromptTokens: 120, CompletionTokens: 45, TotalTokens: 165},
		},
	}
	client := NewOpenAIClientWith(mock, "qwen2.5:14b", 0.2)

	out, err := client.Complete(context.Background(), &GenerateInput{
		Messages: []Message{{Role: RoleUser, Content: "Was ist eine Baugenehmigung?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Die Baugenehmigung ist...", out.Text)
	assert.Equal(t, 165, out.Usage.TotalTokens)
	assert.Equal(t, "qwen2.5:14b", mock.lastRequest.Model, "default model applied")
}

func TestCompleteAppliesRequestOverrides(t *testing.T) {
	mock := &mockChat{
		completion: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
		},
	}
	client := NewOpenAIClientWith(mock, "qwen2.5:14b", 0.2)

	_, err := client.Complete(context.Background(), &GenerateInput{
		Model:           "mistral:7b",
		MaxOutputTokens: 512,
		Temperature:     0.7,
		Messages:        []Message{{Role: RoleUser, Content: "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "mistral:7b", mock.lastRequest.Model)
	assert.Equal(t, 512, mock.lastRequest.MaxTokens)
	assert.InDelta(t, 0.7, float64(mock.lastRequest.Temperature), 1e-6)
}

func TestCompleteClassifiesBackendFailure(t *testing.T) {
	mock := &mockChat{err: errors.New("connection refused")}
	client := NewOpenAIClientWith(mock, "qwen2.5:14b", 0.2)

	_, err := client.Complete(context.Background(), &GenerateInput{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.Equal(t, errkind.KindResourceUnavailable, errkind.KindOf(err))
	assert.True(t, errkind.Retryable(err))
}

func TestGenerateStreamOpenFailure(t *testing.T) {
	mock := &mockChat{err: errors.New("dial tcp: connection refused")}
	client := NewOpenAIClientWith(mock, "qwen2.5:14b", 0.2)

	_, err := client.Generate(context.Background(), &GenerateInput{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.Equal(t, errkind.KindResourceUnavailable, errkind.KindOf(err))
}

func TestListModels(t *testing.T) {
	mock := &mockChat{
		modelsList: openai.ModelsList{Models: []openai.Model{{ID: "qwen2.5:14b"}, {ID: "mistral:7b"}}},
	}
	client := NewOpenAIClientWith(mock, "qwen2.5:14b", 0.2)

	names, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5:14b", "mistral:7b"}, names)
}

func TestNewOpenAIClientRequiresBaseURL(t *testing.T) {
	_, err := NewOpenAIClient(&config.LLMConfig{})
	require.Error(t, err)
}
