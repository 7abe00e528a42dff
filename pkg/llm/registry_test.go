package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/errkind"
)

// fakeListClient implements Client with a canned model list.
type fakeListClient struct {
	Client
	names []string
	err   error
}

func (f *fakeListClient) ListModels(context.Context) ([]string, error) {
	return f.names, f.err
}

func testRegistry() *ModelRegistry {
	return NewModelRegistry(&config.ModelRegistryConfig{
		Models: map[string]config.ModelSpecConfig{
			"qwen2.5:14b": {ContextWindow: 32768},
			"phi3:medium": {ContextWindow: 4096},
		},
	}, "qwen2.5:14b")
}

func TestResolveDefaultModel(t *testing.T) {
	reg := testRegistry()
	spec, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:14b", spec.ModelName)
	assert.Equal(t, 32768, spec.ContextWindow)
}

func TestResolveUnknownModelIsInputError(t *testing.T) {
	reg := testRegistry()
	_, err := reg.Resolve("gpt-oss:120b")
	require.Error(t, err)
	assert.Equal(t, errkind.KindInput, errkind.KindOf(err))
}

func TestSyncNarrowsToServedModels(t *testing.T) {
	reg := testRegistry()
	reg.Sync(context.Background(), &fakeListClient{names: []string{"qwen2.5:14b"}})

	_, err := reg.Resolve("qwen2.5:14b")
	assert.NoError(t, err)

	_, err = reg.Resolve("phi3:medium")
	require.Error(t, err)
	assert.Equal(t, errkind.KindInput, errkind.KindOf(err))
}

func TestSyncFailureKeepsLocalRegistry(t *testing.T) {
	reg := testRegistry()
	reg.Sync(context.Background(), &fakeListClient{err: errors.New("unreachable")})

	_, err := reg.Resolve("phi3:medium")
	assert.NoError(t, err, "unreachable server must not narrow the registry")
}

func TestListIsSorted(t *testing.T) {
	reg := testRegistry()
	specs := reg.List()
	require.Len(t, specs, 2)
	assert.Equal(t, "phi3:medium", specs[0].ModelName)
	assert.Equal(t, "qwen2.5:14b", specs[1].ModelName)
}
