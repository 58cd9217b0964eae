package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/upb/answer-engine/models"
	"github.com/upb/answer-engine/repositories"
	"go.uber.org/zap"
)

// ChunkRepository implements the repositories.ChunkRepository interface
type ChunkRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *DB, logger *zap.Logger) repositories.ChunkRepository {
	return &ChunkRepository{
		db:     db,
		logger: logger,
	}
}

// GetChunks fetches the chunks among ids that still exist, joined with their document
func (r *ChunkRepository) GetChunks(ctx context.Context, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return []models.Chunk{}, nil
	}

	query := `
		SELECT c.id, c.document_id, c.content, d.title, d.source_url
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id = ANY($1)
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]models.Chunk, 0, len(ids))
	for rows.Next() {
		var chunk models.Chunk
		if err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Content,
			&chunk.DocumentTitle,
			&chunk.SourceURL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	if len(chunks) < len(ids) {
		r.logger.Debug("some chunks were not found",
			zap.Int("requested", len(ids)),
			zap.Int("found", len(chunks)))
	}

	return chunks, nil
}
