package postgres

import (
	"context"
	"fmt"

	"github.com/upb/answer-engine/models"
	"github.com/upb/answer-engine/repositories"
	"go.uber.org/zap"
)

// AnswerLogRepository implements the repositories.AnswerLogRepository interface
type AnswerLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAnswerLogRepository creates a new answer log repository
func NewAnswerLogRepository(db *DB, logger *zap.Logger) repositories.AnswerLogRepository {
	return &AnswerLogRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new answer log entry
func (r *AnswerLogRepository) Insert(ctx context.Context, log *models.AnswerLog) error {
	query := `
		INSERT INTO answer_logs (
			id, agent_id, cache_key, request_id, model, cache_hit, grounded,
			source_count, tokens_in, tokens_out, cost_usd, latency_ms, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.AgentID,
		log.CacheKey,
		log.RequestID,
		log.Model,
		log.CacheHit,
		log.Grounded,
		log.SourceCount,
		log.TokensIn,
		log.TokensOut,
		log.CostUSD,
		log.LatencyMs,
		log.ErrorMessage,
		log.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert answer log: %w", err)
	}

	r.logger.Debug("answer log inserted", zap.String("id", log.ID.String()), zap.String("agent_id", log.AgentID))
	return nil
}
