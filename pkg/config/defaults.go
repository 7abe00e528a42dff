package config

import "time"

// BudgetConfig contains the token-budget calculator tunables.
type BudgetConfig struct {
	// TokenMin / TokenMax clamp every allocation.
	TokenMin int `yaml:"token_min"`
	TokenMax int `yaml:"token_max"`

	// TokenBase is the starting allocation before factors apply.
	TokenBase int `yaml:"token_base"`

	// SafetyFactor is the fraction of the model context window the engine
	// is allowed to occupy (prompt + output).
	SafetyFactor float64 `yaml:"safety_factor"`
}

// DefaultBudgetConfig returns the built-in budget defaults.
func DefaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		TokenMin:     250,
		TokenMax:     4000,
		TokenBase:    600,
		SafetyFactor: 0.8,
	}
}

// RetrievalConfig contains hybrid retriever tunables.
type RetrievalConfig struct {
	// RRFK is the Reciprocal Rank Fusion constant.
	RRFK int `yaml:"rrf_k"`

	// VectorTopK / SparseTopK / GraphTopK are per-backend result caps.
	// Each backend over-fetches 2× before fusion.
	VectorTopK int `yaml:"vector_top_k"`
	SparseTopK int `yaml:"sparse_top_k"`
	GraphTopK  int `yaml:"graph_top_k"`

	// BM25K1 / BM25B are the Okapi BM25 parameters of the sparse index.
	BM25K1 float64 `yaml:"bm25_k1"`
	BM25B  float64 `yaml:"bm25_b"`

	// Fusion weights per source. Must be positive; exposed to callers.
	VectorWeight float64 `yaml:"vector_weight"`
	SparseWeight float64 `yaml:"sparse_weight"`
	GraphWeight  float64 `yaml:"graph_weight"`

	// EnableHybridSearch gates the sparse and graph backends entirely.
	EnableHybridSearch bool `yaml:"enable_hybrid_search"`

	// EnableSparse gates the BM25 backend.
	EnableSparse bool `yaml:"enable_sparse"`

	// EnableQueryExpansion issues one LLM rewrite before retrieval.
	// Off by default: adds 2–10 s of LLM latency per query.
	EnableQueryExpansion bool `yaml:"enable_query_expansion"`

	// EnableReranking gates the cross-encoder re-rank pass.
	EnableReranking bool `yaml:"enable_reranking"`

	// RerankThreshold is the minimum fused-candidate count before the
	// cross-encoder pass runs.
	RerankThreshold int `yaml:"rerank_threshold"`

	// MaxHybridLatency is the retrieval SLA target; backends exceeding it
	// are abandoned for the current request.
	MaxHybridLatency time.Duration `yaml:"max_hybrid_latency"`

	// BackendConcurrency bounds the retrieval fan-out.
	BackendConcurrency int `yaml:"backend_concurrency"`
}

// DefaultRetrievalConfig returns the built-in retrieval defaults.
func DefaultRetrievalConfig() *RetrievalConfig {
	return &RetrievalConfig{
		RRFK:               60,
		VectorTopK:         20,
		SparseTopK:         20,
		GraphTopK:          20,
		BM25K1:             1.5,
		BM25B:              0.75,
		VectorWeight:       0.5,
		SparseWeight:       0.3,
		GraphWeight:        0.2,
		EnableHybridSearch: true,
		EnableSparse:       true,
		RerankThreshold:    5,
		MaxHybridLatency:   200 * time.Millisecond,
		BackendConcurrency: 3,
	}
}

// PipelineConfig contains the per-request executor tunables.
type PipelineConfig struct {
	// WorkerPoolSize is the per-request concurrency bound.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// MaxAttempts / BackoffBase / BackoffFactor form the per-step retry policy.
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffFactor float64       `yaml:"backoff_factor"`

	// StepTimeout bounds a single step attempt.
	StepTimeout time.Duration `yaml:"step_timeout"`

	// GracePeriod is how long cancellation waits for running workers
	// before abandoning them.
	GracePeriod time.Duration `yaml:"grace_period"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		WorkerPoolSize: 5,
		MaxAttempts:    3,
		BackoffBase:    200 * time.Millisecond,
		BackoffFactor:  2,
		StepTimeout:    60 * time.Second,
		GracePeriod:    2 * time.Second,
	}
}

// StreamingConfig contains the per-request event channel tunables.
type StreamingConfig struct {
	// QueueCapacity bounds the per-request event queue. A full queue blocks
	// the producing step (backpressure).
	QueueCapacity int `yaml:"queue_capacity"`

	// HeartbeatInterval is the maximum silence before a heartbeat event.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ReleaseLinger keeps a released channel retrievable so a subscriber
	// that arrives after a fast run can still drain the queued events.
	ReleaseLinger time.Duration `yaml:"release_linger"`
}

// DefaultStreamingConfig returns the built-in streaming defaults.
func DefaultStreamingConfig() *StreamingConfig {
	return &StreamingConfig{
		QueueCapacity:     256,
		HeartbeatInterval: 1 * time.Second,
		ReleaseLinger:     30 * time.Second,
	}
}

// DomainConfig holds the domain weight table used by the complexity scorer
// and the domain tags the analyser may emit.
type DomainConfig struct {
	// Weights boosts domain vocabularies during complexity scoring,
	// e.g. administrative-law vocabulary ×1.5.
	Weights map[string]float64 `yaml:"weights"`

	// Vocabulary maps a domain tag to its keyword list.
	Vocabulary map[string][]string `yaml:"vocabulary"`
}

// DefaultDomainConfig returns the built-in German administrative/legal/
// environmental domain table.
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		Weights: map[string]float64{
			"verwaltungsrecht": 1.5,
			"baurecht":         1.3,
			"umweltrecht":      1.3,
			"kommunalrecht":    1.2,
			"allgemein":        1.0,
		},
		Vocabulary: map[string][]string{
			"verwaltungsrecht": {
				"verwaltungsakt", "ermessen", "vwvfg", "widerspruch", "behörde",
				"verwaltungsverfahren", "anhörung", "bescheid", "ermessensfehler",
				"verhältnismäßigkeit", "rechtsbehelf",
			},
			"baurecht": {
				"baugenehmigung", "bebauungsplan", "lbo", "baugb", "bauantrag",
				"nutzungsänderung", "abstandsfläche", "bauordnung",
			},
			"umweltrecht": {
				"immissionsschutz", "bimschg", "umweltverträglichkeit", "naturschutz",
				"emission", "wasserhaushaltsgesetz", "whg", "abfall", "lärmschutz",
			},
			"kommunalrecht": {
				"gemeinderat", "satzung", "gemeindeordnung", "bürgermeister",
				"kommunalabgaben", "hauptsatzung",
			},
		},
	}
}
