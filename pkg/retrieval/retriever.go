package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/models"
)

// Request describes one hybrid retrieval.
type Request struct {
	Query   string
	TopK    int
	Filters Filters

	// Sources restricts the fan-out; empty means all configured backends.
	Sources []models.RetrievalSource

	// Weights overrides the configured fusion weights per source. Zero
	// entries keep the defaults.
	Weights Weights
}

// Result is the fused retrieval outcome. Degraded lists backends that were
// skipped this request with the reason; it is diagnostic, not evidence.
type Result struct {
	Chunks        []models.EvidenceChunk
	SourcesUsed   []models.RetrievalSource
	Degraded      map[models.RetrievalSource]string
	ExpandedQuery string
	Reranked      bool
}

// Retriever fans a query out across the dense, sparse, and graph backends,
// fuses the rankings, and optionally re-ranks. Backends are optional; a nil
// backend is simply not consulted.
type Retriever struct {
	cfg      *config.RetrievalConfig
	embedder Embedder
	vector   VectorStore
	sparse   SparseStore
	graph    GraphStore
	reranker Reranker
	expander QueryExpander
}

// Options carries the optional backends for NewRetriever.
type Options struct {
	Embedder Embedder
	Vector   VectorStore
	Sparse   SparseStore
	Graph    GraphStore
	Reranker Reranker
	Expander QueryExpander
}

// NewRetriever assembles a retriever from the configured backends.
func NewRetriever(cfg *config.RetrievalConfig, opts Options) *Retriever {
	return &Retriever{
		cfg:      cfg,
		embedder: opts.Embedder,
		vector:   opts.Vector,
		sparse:   opts.Sparse,
		graph:    opts.Graph,
		reranker: opts.Reranker,
		expander: opts.Expander,
	}
}

// Retrieve runs the hybrid pipeline. A failing backend is logged and
// skipped; only context cancellation aborts the whole call. All backends
// failing yields an empty result with diagnostics, not an error.
func (r *Retriever) Retrieve(ctx context.Context, req *Request) (*Result, error) {
	res := &Result{Degraded: make(map[models.RetrievalSource]string)}

	query := strings.TrimSpace(req.Query)
	if query == "" || req.TopK <= 0 {
		return res, nil
	}

	if r.cfg.EnableQueryExpansion && r.expander != nil {
		if expanded, err := r.expander.Expand(ctx, query); err != nil {
			slog.Warn("Query expansion failed, using original query", "error", err)
		} else if expanded != query {
			res.ExpandedQuery = expanded
			query = expanded
		}
	}

	sources := r.enabledSources(req.Sources)
	overFetch := 2 * req.TopK

	var mu sync.Mutex
	ranked := make(map[models.RetrievalSource][]models.EvidenceChunk)

	record := func(source models.RetrievalSource, chunks []models.EvidenceChunk, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			slog.Warn("Retrieval backend degraded", "source", source, "error", err)
			res.Degraded[source] = err.Error()
			return
		}
		ranked[source] = chunks
		res.SourcesUsed = append(res.SourcesUsed, source)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.BackendConcurrency)

	for _, source := range sources {
		source := source
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, r.backendTimeout())
			defer cancel()
			chunks, err := r.searchOne(cctx, source, query, overFetch, req.Filters)
			record(source, chunks, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if len(ranked) == 0 {
		slog.Warn("All retrieval backends degraded", "query_len", len(query))
		return res, nil
	}

	res.Chunks = FuseRRF(ranked, r.effectiveWeights(req.Weights), r.cfg.RRFK, req.TopK)
	r.maybeRerank(ctx, query, res)
	return res, nil
}

// Index exposes the sparse index for ingestion when the retriever owns one.
func (r *Retriever) Index(chunk models.EvidenceChunk) {
	if idx, ok := r.sparse.(*BM25Index); ok {
		idx.Add(chunk)
	}
}

func (r *Retriever) searchOne(ctx context.Context, source models.RetrievalSource, query string, topK int, filters Filters) ([]models.EvidenceChunk, error) {
	switch source {
	case models.SourceVector:
		embedding, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		return r.vector.Search(ctx, embedding, topK, filters)
	case models.SourceSparse:
		return r.sparse.Search(ctx, query, topK)
	default:
		return r.graph.Search(ctx, query, topK)
	}
}

func (r *Retriever) maybeRerank(ctx context.Context, query string, res *Result) {
	if !r.cfg.EnableReranking || r.reranker == nil || len(res.Chunks) < r.cfg.RerankThreshold {
		return
	}
	scores, err := r.reranker.Score(ctx, query, res.Chunks)
	if err != nil {
		// Fused order is already useful; reranking is an upgrade, not a gate.
		slog.Warn("Reranking degraded, keeping fused order", "error", err)
		return
	}
	res.Chunks = applyRerank(res.Chunks, scores)
	res.Reranked = true
}

// enabledSources intersects the configured backends with the request's
// source restriction.
func (r *Retriever) enabledSources(requested []models.RetrievalSource) []models.RetrievalSource {
	allowed := func(s models.RetrievalSource) bool {
		if len(requested) == 0 {
			return true
		}
		for _, rs := range requested {
			if rs == s {
				return true
			}
		}
		return false
	}

	var sources []models.RetrievalSource
	if r.embedder != nil && r.vector != nil && allowed(models.SourceVector) {
		sources = append(sources, models.SourceVector)
	}
	if r.cfg.EnableHybridSearch {
		if r.cfg.EnableSparse && r.sparse != nil && allowed(models.SourceSparse) {
			sources = append(sources, models.SourceSparse)
		}
		if r.graph != nil && allowed(models.SourceGraph) {
			sources = append(sources, models.SourceGraph)
		}
	}
	return sources
}

func (r *Retriever) effectiveWeights(override Weights) Weights {
	w := Weights{
		models.SourceVector: r.cfg.VectorWeight,
		models.SourceSparse: r.cfg.SparseWeight,
		models.SourceGraph:  r.cfg.GraphWeight,
	}
	for s, v := range override {
		if v > 0 {
			w[s] = v
		}
	}
	return w
}

func (r *Retriever) backendTimeout() time.Duration {
	if r.cfg.MaxHybridLatency > 0 {
		return r.cfg.MaxHybridLatency
	}
	return 200 * time.Millisecond
}
