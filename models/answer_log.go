package models

import (
	"time"

	"github.com/google/uuid"
)

// AnswerLog records the outcome of one answer request
type AnswerLog struct {
	ID           uuid.UUID `json:"id" db:"id"`
	AgentID      string    `json:"agent_id" db:"agent_id"`
	CacheKey     string    `json:"cache_key" db:"cache_key"`
	RequestID    string    `json:"request_id" db:"request_id"`
	Model        string    `json:"model" db:"model"`
	CacheHit     bool      `json:"cache_hit" db:"cache_hit"`
	Grounded     bool      `json:"grounded" db:"grounded"`
	SourceCount  int       `json:"source_count" db:"source_count"`
	TokensIn     int       `json:"tokens_in" db:"tokens_in"`
	TokensOut    int       `json:"tokens_out" db:"tokens_out"`
	CostUSD      float64   `json:"cost_usd" db:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms" db:"latency_ms"`
	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AnswerLog model
func (AnswerLog) TableName() string {
	return "answer_logs"
}

// NewAnswerLog creates a new AnswerLog instance
func NewAnswerLog(agentID, cacheKey string) *AnswerLog {
	return &AnswerLog{
		ID:        uuid.New(),
		AgentID:   agentID,
		CacheKey:  cacheKey,
		CreatedAt: time.Now(),
	}
}

// WithRequest sets the request id
func (l *AnswerLog) WithRequest(requestID string) *AnswerLog {
	l.RequestID = requestID
	return l
}

// WithUsage sets generation metrics
func (l *AnswerLog) WithUsage(model string, tokensIn, tokensOut int, costUSD float64, latencyMs int64) *AnswerLog {
	l.Model = model
	l.TokensIn = tokensIn
	l.TokensOut = tokensOut
	l.CostUSD = costUSD
	l.LatencyMs = latencyMs
	return l
}

// WithSources marks the answer as grounded when at least one source was cited
func (l *AnswerLog) WithSources(count int) *AnswerLog {
	l.SourceCount = count
	l.Grounded = count > 0
	return l
}

// WithCacheHit flags an answer served from cache
func (l *AnswerLog) WithCacheHit(hit bool) *AnswerLog {
	l.CacheHit = hit
	return l
}

// WithError sets error information
func (l *AnswerLog) WithError(errorMessage string) *AnswerLog {
	l.ErrorMessage = &errorMessage
	return l
}
