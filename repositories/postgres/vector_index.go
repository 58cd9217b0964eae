package postgres

import (
	"context"
	"errors"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"
	"github.com/upb/answer-engine/services/rag"
	"go.uber.org/zap"
)

// VectorIndex implements rag.VectorIndex with cosine similarity over chunk_embeddings
type VectorIndex struct {
	db         *DB
	dimensions int
	logger     *zap.Logger
}

// NewVectorIndex creates a vector index over chunk_embeddings. dimensions of
// zero or less defaults to EmbeddingDimensions.
func NewVectorIndex(db *DB, dimensions int, logger *zap.Logger) *VectorIndex {
	if dimensions <= 0 {
		dimensions = EmbeddingDimensions
	}
	return &VectorIndex{
		db:         db,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Search returns up to opts.TopK chunks of opts.Namespace nearest to vector, best first
func (v *VectorIndex) Search(ctx context.Context, vector []float32, opts rag.SearchOptions) ([]rag.Candidate, error) {
	if len(vector) != v.dimensions {
		return nil, fmt.Errorf("vector search: query dimension mismatch (got %d want %d)", len(vector), v.dimensions)
	}
	if opts.Namespace == "" {
		return nil, errors.New("vector search: namespace is required")
	}
	if opts.TopK <= 0 {
		return []rag.Candidate{}, nil
	}

	query := `
		SELECT chunk_id, 1 - (embedding <=> $1) AS score
		FROM chunk_embeddings
		WHERE namespace = $2
		ORDER BY embedding <=> $1 ASC
		LIMIT $3
	`

	executor := GetExecutor(ctx, v.db)
	rows, err := executor.QueryContext(ctx, query, pgvector.NewVector(vector), opts.Namespace, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	candidates := make([]rag.Candidate, 0, opts.TopK)
	for rows.Next() {
		var candidate rag.Candidate
		if err := rows.Scan(&candidate.ChunkID, &candidate.Score); err != nil {
			return nil, fmt.Errorf("vector search: scan: %w", err)
		}
		candidate.Score = clampScore(candidate.Score)
		candidates = append(candidates, candidate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search: rows: %w", err)
	}

	v.logger.Debug("vector search completed",
		zap.String("namespace", opts.Namespace),
		zap.Int("results", len(candidates)))

	return candidates, nil
}

// clampScore maps cosine similarity, which ranges over [-1,1], into [0,1]
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
