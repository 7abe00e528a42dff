package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// veritasYAML represents the complete veritas.yaml file structure.
type veritasYAML struct {
	Budget    *BudgetConfig          `yaml:"budget"`
	Retrieval *RetrievalConfig       `yaml:"retrieval"`
	Pipeline  *PipelineConfig        `yaml:"pipeline"`
	Streaming *StreamingConfig       `yaml:"streaming"`
	Domains   *DomainConfig          `yaml:"domains"`
	Agents    map[string]AgentConfig `yaml:"agents"`
	Models    *ModelRegistryConfig   `yaml:"models"`
	LLM       *LLMConfig             `yaml:"llm"`
}

// Initialize loads veritas.yaml from configDir, expands environment
// variables, merges built-in defaults into missing sections, and validates
// the result. A missing file yields a fully defaulted configuration.
func Initialize(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "veritas.yaml")

	var raw veritasYAML
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Warn("No veritas.yaml found, using built-in defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(ExpandEnv(data), &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
		}
	}

	cfg, err := assemble(configDir, &raw)
	if err != nil {
		return nil, err
	}

	if errs := Validate(cfg); len(errs) > 0 {
		for _, verr := range errs {
			slog.Error("Configuration validation error", "error", verr)
		}
		return nil, fmt.Errorf("%w: %d error(s)", ErrValidationFailed, len(errs))
	}

	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"agents", stats.Agents,
		"models", stats.Models,
		"domains", stats.Domains)
	return cfg, nil
}

// assemble merges defaults into every missing or partial section.
func assemble(configDir string, raw *veritasYAML) (*Config, error) {
	cfg := &Config{
		configDir: configDir,
		Budget:    raw.Budget,
		Retrieval: raw.Retrieval,
		Pipeline:  raw.Pipeline,
		Streaming: raw.Streaming,
		Domains:   raw.Domains,
		Models:    raw.Models,
		LLM:       raw.LLM,
	}

	if cfg.Budget == nil {
		cfg.Budget = DefaultBudgetConfig()
	} else if err := mergo.Merge(cfg.Budget, DefaultBudgetConfig()); err != nil {
		return nil, fmt.Errorf("merging budget defaults: %w", err)
	}
	if cfg.Retrieval == nil {
		cfg.Retrieval = DefaultRetrievalConfig()
	} else if err := mergo.Merge(cfg.Retrieval, DefaultRetrievalConfig()); err != nil {
		return nil, fmt.Errorf("merging retrieval defaults: %w", err)
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = DefaultPipelineConfig()
	} else if err := mergo.Merge(cfg.Pipeline, DefaultPipelineConfig()); err != nil {
		return nil, fmt.Errorf("merging pipeline defaults: %w", err)
	}
	if cfg.Streaming == nil {
		cfg.Streaming = DefaultStreamingConfig()
	} else if err := mergo.Merge(cfg.Streaming, DefaultStreamingConfig()); err != nil {
		return nil, fmt.Errorf("merging streaming defaults: %w", err)
	}
	if cfg.Domains == nil {
		cfg.Domains = DefaultDomainConfig()
	}
	if cfg.Models == nil {
		cfg.Models = DefaultModelRegistryConfig()
	}
	if cfg.LLM == nil {
		cfg.LLM = DefaultLLMConfig()
	} else if err := mergo.Merge(cfg.LLM, DefaultLLMConfig()); err != nil {
		return nil, fmt.Errorf("merging llm defaults: %w", err)
	}

	agents := raw.Agents
	if len(agents) == 0 {
		agents = DefaultAgents()
	}
	cfg.AgentRegistry = NewAgentConfigRegistry(agents)

	return cfg, nil
}
