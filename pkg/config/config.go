// Package config loads and validates the VERITAS engine configuration from
// veritas.yaml, with environment expansion and built-in defaults merged in.
package config

// Config is the umbrella configuration object returned by Initialize() and
// injected into every shared resource at startup.
type Config struct {
	configDir string

	// Engine-wide tunables
	Budget    *BudgetConfig
	Retrieval *RetrievalConfig
	Pipeline  *PipelineConfig
	Streaming *StreamingConfig

	// Domain knowledge
	Domains *DomainConfig

	// Component registries
	AgentRegistry *AgentConfigRegistry
	Models        *ModelRegistryConfig
	LLM           *LLMConfig
}

// Stats contains statistics about the loaded configuration.
type Stats struct {
	Agents  int
	Models  int
	Domains int
}

// Stats returns configuration statistics for startup logging.
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.AgentRegistry != nil {
		s.Agents = c.AgentRegistry.Len()
	}
	if c.Models != nil {
		s.Models = len(c.Models.Models)
	}
	if c.Domains != nil {
		s.Domains = len(c.Domains.Weights)
	}
	return s
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
