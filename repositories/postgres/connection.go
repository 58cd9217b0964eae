package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/answer-engine/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// WrapDB wraps an open *sql.DB without pinging it
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// EmbeddingDimensions is the width of chunk_embeddings.embedding. It matches
// text-embedding-3-small; changing the embedding model requires a re-index.
const EmbeddingDimensions = 1536

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		-- Agents table
		CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			model VARCHAR(100) NOT NULL,
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0.7,
			max_tokens INTEGER NOT NULL DEFAULT 1024,
			system_prompt TEXT NOT NULL DEFAULT '',
			custom_instructions TEXT NOT NULL DEFAULT '',
			tone VARCHAR(50) NOT NULL DEFAULT 'professional',
			auto_escalate BOOLEAN NOT NULL DEFAULT false,
			confidence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.8,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Knowledge bases table
		CREATE TABLE IF NOT EXISTS knowledge_bases (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted_at TIMESTAMP
		);

		-- Agent to knowledge base bindings
		CREATE TABLE IF NOT EXISTS agent_knowledge_bases (
			agent_id VARCHAR(64) NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			knowledge_base_id VARCHAR(64) NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
			priority INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (agent_id, knowledge_base_id)
		);

		-- Documents table
		CREATE TABLE IF NOT EXISTS documents (
			id VARCHAR(64) PRIMARY KEY,
			knowledge_base_id VARCHAR(64) NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
			title VARCHAR(500) NOT NULL,
			source_url TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Chunks table
		CREATE TABLE IF NOT EXISTS chunks (
			id VARCHAR(64) PRIMARY KEY,
			document_id VARCHAR(64) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0
		);

		-- Chunk embeddings, namespaced by knowledge base
		CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id VARCHAR(64) PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
			namespace VARCHAR(64) NOT NULL,
			embedding vector(%d) NOT NULL
		);

		-- Answer logs table
		CREATE TABLE IF NOT EXISTS answer_logs (
			id UUID PRIMARY KEY,
			agent_id VARCHAR(64) NOT NULL,
			cache_key VARCHAR(64) NOT NULL,
			request_id VARCHAR(255),
			model VARCHAR(100),
			cache_hit BOOLEAN NOT NULL DEFAULT false,
			grounded BOOLEAN NOT NULL DEFAULT false,
			source_count INTEGER NOT NULL DEFAULT 0,
			tokens_in INTEGER,
			tokens_out INTEGER,
			cost_usd DECIMAL(12, 8),
			latency_ms INTEGER,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_agent_knowledge_bases_agent_id ON agent_knowledge_bases(agent_id, priority);
		CREATE INDEX IF NOT EXISTS idx_documents_knowledge_base_id ON documents(knowledge_base_id);
		CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
		CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_namespace ON chunk_embeddings(namespace);
		CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_embedding ON chunk_embeddings
			USING hnsw (embedding vector_cosine_ops);

		CREATE INDEX IF NOT EXISTS idx_answer_logs_agent_id ON answer_logs(agent_id);
		CREATE INDEX IF NOT EXISTS idx_answer_logs_created_at ON answer_logs(created_at);
		CREATE INDEX IF NOT EXISTS idx_answer_logs_request_id ON answer_logs(request_id);
	`, EmbeddingDimensions)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
