package repositories

import (
	"context"

	"github.com/upb/answer-engine/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Commits if fn succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// AgentRepository loads agents with their active knowledge base bindings
type AgentRepository interface {
	// GetAgent returns the agent with KnowledgeBases ordered by priority.
	// Soft-deleted knowledge bases are excluded. Unknown ids yield
	// services.ErrAgentNotFound.
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
}

// ChunkRepository fetches chunk bodies with their document metadata
type ChunkRepository interface {
	// GetChunks returns the chunks that exist among ids, in no particular order
	GetChunks(ctx context.Context, ids []string) ([]models.Chunk, error)
}

// AnswerLogRepository persists answer logs
type AnswerLogRepository interface {
	// Insert inserts one answer log. It joins the transaction carried by ctx, if any.
	Insert(ctx context.Context, log *models.AnswerLog) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Agents     AgentRepository
	Chunks     ChunkRepository
	AnswerLogs AnswerLogRepository
}
