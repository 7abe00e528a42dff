package retrieval

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

// Reranker scores (query, chunk) pairs with a cross-encoder. Scores align
// index-wise with the input chunks.
type Reranker interface {
	Score(ctx context.Context, query string, chunks []models.EvidenceChunk) ([]float64, error)
}

// maxSequenceChars truncates chunk text sent to the cross-encoder; the model
// caps sequences at 512 tokens anyway.
const maxSequenceChars = 2000

// HTTPReranker calls a cross-encoder inference service.
type HTTPReranker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPReranker builds a reranker against the given endpoint.
func NewHTTPReranker(endpoint string, timeout time.Duration) *HTTPReranker {
	return &HTTPReranker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Score sends one batched scoring request.
func (r *HTTPReranker) Score(ctx context.Context, query string, chunks []models.EvidenceChunk) ([]float64, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		t := c.Content
		if len(t) > maxSequenceChars {
			t = t[:maxSequenceChars]
		}
		texts[i] = t
	}
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "rerank request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Newf(errkind.KindResourceUnavailable, "rerank service returned %d", resp.StatusCode)
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errkind.Wrap(errkind.KindDataIntegrity, "rerank response malformed", err)
	}
	if len(out.Scores) != len(chunks) {
		return nil, errkind.Newf(errkind.KindDataIntegrity, "rerank returned %d scores for %d chunks", len(out.Scores), len(chunks))
	}
	return out.Scores, nil
}

// ScoreCache caches cross-encoder scores keyed by (query, chunk) pair.
// A miss is reported as ok=false, never as an error.
type ScoreCache interface {
	Get(ctx context.Context, keys []string) map[string]float64
	Set(ctx context.Context, scores map[string]float64)
}

// RedisScoreCache stores scores in Redis with a TTL. Cache failures degrade
// to recomputation.
type RedisScoreCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisScoreCache wraps a Redis client.
func NewRedisScoreCache(client *redis.Client, ttl time.Duration) *RedisScoreCache {
	return &RedisScoreCache{client: client, ttl: ttl}
}

// Get fetches cached scores for the keys; absent or unreachable entries are
// simply missing from the result.
func (c *RedisScoreCache) Get(ctx context.Context, keys []string) map[string]float64 {
	if len(keys) == 0 {
		return nil
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Warn("Rerank cache read failed", "error", err)
		return nil
	}
	out := make(map[string]float64)
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			out[keys[i]] = f
		}
	}
	return out
}

// Set writes scores back with the configured TTL.
func (c *RedisScoreCache) Set(ctx context.Context, scores map[string]float64) {
	if len(scores) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for k, v := range scores {
		pipe.Set(ctx, k, strconv.FormatFloat(v, 'f', -1, 64), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("Rerank cache write failed", "error", err)
	}
}

// CachedReranker fronts a Reranker with a ScoreCache, scoring only the pairs
// the cache does not know.
type CachedReranker struct {
	inner Reranker
	cache ScoreCache
}

// NewCachedReranker wraps inner with cache.
func NewCachedReranker(inner Reranker, cache ScoreCache) *CachedReranker {
	return &CachedReranker{inner: inner, cache: cache}
}

// Score resolves cached pairs first and batches the rest to the inner
// reranker.
func (r *CachedReranker) Score(ctx context.Context, query string, chunks []models.EvidenceChunk) ([]float64, error) {
	keys := make([]string, len(chunks))
	for i, c := range chunks {
		keys[i] = cacheKey(query, c)
	}
	cached := r.cache.Get(ctx, keys)

	var missing []models.EvidenceChunk
	var missingIdx []int
	for i, k := range keys {
		if _, ok := cached[k]; !ok {
			missing = append(missing, chunks[i])
			missingIdx = append(missingIdx, i)
		}
	}

	scores := make([]float64, len(chunks))
	for i, k := range keys {
		scores[i] = cached[k]
	}
	if len(missing) > 0 {
		fresh, err := r.inner.Score(ctx, query, missing)
		if err != nil {
			return nil, err
		}
		toCache := make(map[string]float64, len(fresh))
		for j, s := range fresh {
			scores[missingIdx[j]] = s
			toCache[keys[missingIdx[j]]] = s
		}
		r.cache.Set(ctx, toCache)
	}
	return scores, nil
}

// cacheKey fingerprints the (query, chunk content) pair so stale content
// never reuses an old score.
func cacheKey(query string, c models.EvidenceChunk) string {
	h := sha256.Sum256([]byte(query + "\x00" + c.Key() + "\x00" + c.Content))
	return "veritas:rerank:" + hex.EncodeToString(h[:16])
}

// applyRerank attaches scores and re-sorts by rerank score descending.
func applyRerank(chunks []models.EvidenceChunk, scores []float64) []models.EvidenceChunk {
	out := append([]models.EvidenceChunk(nil), chunks...)
	for i := range out {
		s := scores[i]
		out[i].RerankScore = &s
	}
	sort.SliceStable(out, func(a, b int) bool {
		return *out[a].RerankScore > *out[b].RerankScore
	})
	return out
}
