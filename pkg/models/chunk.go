package models

// RetrievalSource identifies which backend produced an evidence chunk.
type RetrievalSource string

const (
	SourceVector RetrievalSource = "vector"
	SourceSparse RetrievalSource = "sparse"
	SourceGraph  RetrievalSource = "graph"
)

// IsValid checks if the retrieval source is a known variant.
func (s RetrievalSource) IsValid() bool {
	return s == SourceVector || s == SourceSparse || s == SourceGraph
}

// ChunkMetadata carries enough document metadata to cite the chunk.
type ChunkMetadata struct {
	Title  string   `json:"title,omitempty"`
	Author string   `json:"author,omitempty"`
	Year   int      `json:"year,omitempty"`
	Page   int      `json:"page,omitempty"`
	URL    string   `json:"url,omitempty"`
	Domain string   `json:"domain,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// EvidenceChunk is one retrieved, ranked passage supporting the answer.
// Unique per (DocumentID, ChunkID) within a single retrieval.
type EvidenceChunk struct {
	ChunkID     string          `json:"chunk_id"`
	DocumentID  string          `json:"document_id"`
	Content     string          `json:"content"`
	Metadata    ChunkMetadata   `json:"metadata"`
	Source      RetrievalSource `json:"source"`
	RawScore    float64         `json:"raw_score"`
	RRFRank     int             `json:"rrf_rank"`
	FusedScore  float64         `json:"fused_score"`
	RerankScore *float64        `json:"rerank_score,omitempty"`
	Confidence  float64         `json:"confidence"` // [0,1]
}

// Key returns the dedup identity of the chunk within one retrieval.
func (c EvidenceChunk) Key() string {
	return c.DocumentID + "\x00" + c.ChunkID
}
