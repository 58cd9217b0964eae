package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/answer-engine/models"
	"github.com/upb/answer-engine/repositories"
	"github.com/upb/answer-engine/services"
	"go.uber.org/zap"
)

// AgentRepository implements the repositories.AgentRepository interface
type AgentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *DB, logger *zap.Logger) repositories.AgentRepository {
	return &AgentRepository{
		db:     db,
		logger: logger,
	}
}

// GetAgent retrieves an agent and its active knowledge base bindings
func (r *AgentRepository) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	query := `
		SELECT id, name, model, temperature, max_tokens, system_prompt, custom_instructions,
		       tone, auto_escalate, confidence_threshold, created_at, updated_at
		FROM agents
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	agent := &models.Agent{}

	err := executor.QueryRowContext(ctx, query, agentID).Scan(
		&agent.ID,
		&agent.Name,
		&agent.Model,
		&agent.Temperature,
		&agent.MaxTokens,
		&agent.SystemPrompt,
		&agent.CustomInstructions,
		&agent.Tone,
		&agent.AutoEscalate,
		&agent.ConfidenceThreshold,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.NewAgentNotFoundError(agentID)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	bindings, err := r.getBindings(ctx, executor, agentID)
	if err != nil {
		return nil, err
	}
	agent.KnowledgeBases = bindings

	return agent, nil
}

// getBindings loads the agent's knowledge bases, skipping soft-deleted ones
func (r *AgentRepository) getBindings(ctx context.Context, executor Executor, agentID string) ([]models.KnowledgeBaseBinding, error) {
	query := `
		SELECT akb.knowledge_base_id, akb.priority
		FROM agent_knowledge_bases akb
		JOIN knowledge_bases kb ON kb.id = akb.knowledge_base_id
		WHERE akb.agent_id = $1 AND kb.deleted_at IS NULL
		ORDER BY akb.priority ASC, akb.knowledge_base_id ASC
	`

	rows, err := executor.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge bases: %w", err)
	}
	defer rows.Close()

	bindings := []models.KnowledgeBaseBinding{}
	for rows.Next() {
		var binding models.KnowledgeBaseBinding
		if err := rows.Scan(&binding.KnowledgeBaseID, &binding.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge base: %w", err)
		}
		bindings = append(bindings, binding)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge bases: %w", err)
	}

	r.logger.Debug("agent knowledge bases loaded",
		zap.String("agent_id", agentID),
		zap.Int("count", len(bindings)))

	return bindings, nil
}
