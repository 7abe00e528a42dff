package config

import "time"

// LLMConfig holds the connection settings for the OpenAI-compatible
// inference server the engine talks to.
type LLMConfig struct {
	// BaseURL of the inference server, e.g. http://localhost:11434/v1.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	// Local inference servers usually accept any value.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// DefaultModel used when a request does not name one.
	DefaultModel string `yaml:"default_model"`

	// Temperature used when a request does not set one.
	Temperature float64 `yaml:"temperature"`

	// RequestTimeout bounds a single generate call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		BaseURL:        "http://localhost:11434/v1",
		APIKeyEnv:      "LLM_API_KEY",
		DefaultModel:   "qwen2.5:14b",
		Temperature:    0.2,
		RequestTimeout: 120 * time.Second,
	}
}

// ModelSpecConfig declares one model the synthesiser may target.
type ModelSpecConfig struct {
	ContextWindow int    `yaml:"context_window"`
	Notes         string `yaml:"notes,omitempty"`
}

// ModelRegistryConfig holds the local model specs that are cross-referenced
// against the server's list_models at startup.
type ModelRegistryConfig struct {
	Models map[string]ModelSpecConfig `yaml:"models"`
}

// DefaultModelRegistryConfig returns the built-in model registry.
func DefaultModelRegistryConfig() *ModelRegistryConfig {
	return &ModelRegistryConfig{
		Models: map[string]ModelSpecConfig{
			"qwen2.5:14b":  {ContextWindow: 32768},
			"llama3.1:8b":  {ContextWindow: 131072},
			"mistral:7b":   {ContextWindow: 32768},
			"phi3:medium":  {ContextWindow: 4096, Notes: "small window; overflow strategies expected"},
			"gemma2:9b":    {ContextWindow: 8192},
		},
	}
}
