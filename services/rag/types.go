package rag

import (
	"context"

	"github.com/upb/answer-engine/models"
)

// Embedder turns text into a vector. Errors propagate to the caller.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex performs similarity search within one namespace.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Candidate, error)
}

// ChunkStore batch-fetches chunk bodies. Result order is not guaranteed and
// missing ids are silently absent.
type ChunkStore interface {
	GetChunks(ctx context.Context, ids []string) ([]models.Chunk, error)
}

// AgentStore loads an agent with its active knowledge base bindings.
// A missing agent is reported with a not-found DomainError.
type AgentStore interface {
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
}

// CompletionInvoker generates text for a prompt.
type CompletionInvoker interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Cache stores serialized answers with a fixed TTL.
type Cache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
}

// AnswerRecorder receives a log entry per answered request. Implementations
// must not block.
type AnswerRecorder interface {
	Record(entry *models.AnswerLog)
}

// SearchOptions scopes a vector search.
type SearchOptions struct {
	TopK      int
	Namespace string
}

// Candidate is a scored reference to a chunk; Score is in [0,1].
type Candidate struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Source is a cited chunk in an answer.
type Source struct {
	ChunkID       string  `json:"chunk_id"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	DocumentTitle string  `json:"document_title"`
	SourceURL     *string `json:"source_url,omitempty"`
}

// RetrievalResult is the assembled context for a query.
type RetrievalResult struct {
	Context string   `json:"context"`
	Sources []Source `json:"sources"`
}

// ProcessResult is a generated answer. Cached results are returned unchanged,
// including the original LatencyMs. Callers that joined a concurrent
// generation get a copy with LatencyMs measured from their own start.
type ProcessResult struct {
	Response  string   `json:"response"`
	Sources   []Source `json:"sources"`
	TokensIn  int      `json:"tokens_in"`
	TokensOut int      `json:"tokens_out"`
	CostUSD   float64  `json:"cost_usd"`
	LatencyMs int64    `json:"latency_ms"`
	Model     string   `json:"model"`
}

// Message roles
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one turn of a completion prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is sent to the CompletionInvoker.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// CompletionResponse carries the generated text and its usage.
type CompletionResponse struct {
	Content   string  `json:"content"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
	Model     string  `json:"model"`
}
