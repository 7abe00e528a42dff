package config

import "fmt"

// Validate checks the assembled configuration and returns all violations
// found, not just the first. An empty slice means the config is usable.
func Validate(cfg *Config) []error {
	var errs []error

	b := cfg.Budget
	if b.TokenMin <= 0 || b.TokenMax <= 0 || b.TokenMin > b.TokenMax {
		errs = append(errs, &ValidationError{
			Component: "budget", Field: "token_min/token_max",
			Err: fmt.Errorf("%w: min=%d max=%d", ErrInvalidValue, b.TokenMin, b.TokenMax),
		})
	}
	if b.TokenBase < b.TokenMin || b.TokenBase > b.TokenMax {
		errs = append(errs, &ValidationError{
			Component: "budget", Field: "token_base",
			Err: fmt.Errorf("%w: base=%d outside [%d,%d]", ErrInvalidValue, b.TokenBase, b.TokenMin, b.TokenMax),
		})
	}
	if b.SafetyFactor <= 0 || b.SafetyFactor > 1 {
		errs = append(errs, &ValidationError{
			Component: "budget", Field: "safety_factor",
			Err: fmt.Errorf("%w: %v not in (0,1]", ErrInvalidValue, b.SafetyFactor),
		})
	}

	r := cfg.Retrieval
	if r.RRFK <= 0 {
		errs = append(errs, &ValidationError{
			Component: "retrieval", Field: "rrf_k",
			Err: fmt.Errorf("%w: %d", ErrInvalidValue, r.RRFK),
		})
	}
	if r.VectorTopK <= 0 || r.SparseTopK <= 0 || r.GraphTopK <= 0 {
		errs = append(errs, &ValidationError{
			Component: "retrieval", Field: "top_k",
			Err: fmt.Errorf("%w: all top_k values must be positive", ErrInvalidValue),
		})
	}
	if r.BM25K1 <= 0 || r.BM25B < 0 || r.BM25B > 1 {
		errs = append(errs, &ValidationError{
			Component: "retrieval", Field: "bm25",
			Err: fmt.Errorf("%w: k1=%v b=%v", ErrInvalidValue, r.BM25K1, r.BM25B),
		})
	}
	if r.VectorWeight <= 0 || r.SparseWeight <= 0 || r.GraphWeight <= 0 {
		errs = append(errs, &ValidationError{
			Component: "retrieval", Field: "weights",
			Err: fmt.Errorf("%w: fusion weights must be positive", ErrInvalidValue),
		})
	}
	if r.BackendConcurrency <= 0 {
		errs = append(errs, &ValidationError{
			Component: "retrieval", Field: "backend_concurrency",
			Err: fmt.Errorf("%w: %d", ErrInvalidValue, r.BackendConcurrency),
		})
	}

	p := cfg.Pipeline
	if p.WorkerPoolSize <= 0 {
		errs = append(errs, &ValidationError{
			Component: "pipeline", Field: "worker_pool_size",
			Err: fmt.Errorf("%w: %d", ErrInvalidValue, p.WorkerPoolSize),
		})
	}
	if p.MaxAttempts <= 0 || p.BackoffBase <= 0 || p.BackoffFactor < 1 {
		errs = append(errs, &ValidationError{
			Component: "pipeline", Field: "retry",
			Err: fmt.Errorf("%w: attempts=%d base=%v factor=%v", ErrInvalidValue, p.MaxAttempts, p.BackoffBase, p.BackoffFactor),
		})
	}

	if cfg.Streaming.QueueCapacity <= 0 {
		errs = append(errs, &ValidationError{
			Component: "streaming", Field: "queue_capacity",
			Err: fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Streaming.QueueCapacity),
		})
	}

	for _, name := range cfg.AgentRegistry.Names() {
		agent, _ := cfg.AgentRegistry.Get(name)
		if len(agent.Capabilities) == 0 {
			errs = append(errs, &ValidationError{
				Component: "agent", ID: name, Field: "capabilities",
				Err: fmt.Errorf("%w: at least one capability required", ErrInvalidValue),
			})
		}
	}

	for name, spec := range cfg.Models.Models {
		if spec.ContextWindow <= 0 {
			errs = append(errs, &ValidationError{
				Component: "model", ID: name, Field: "context_window",
				Err: fmt.Errorf("%w: %d", ErrInvalidValue, spec.ContextWindow),
			})
		}
	}

	if cfg.LLM.BaseURL == "" {
		errs = append(errs, &ValidationError{
			Component: "llm", Field: "base_url",
			Err: fmt.Errorf("%w: must not be empty", ErrInvalidValue),
		})
	}

	return errs
}
