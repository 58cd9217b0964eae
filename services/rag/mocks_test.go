package rag

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/upb/answer-engine/models"
)

// MockAgentStore is a mock implementation of AgentStore
type MockAgentStore struct {
	mock.Mock
}

func (m *MockAgentStore) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Agent), args.Error(1)
}

// MockEmbedder is a mock implementation of Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockVectorIndex is a mock implementation of VectorIndex
type MockVectorIndex struct {
	mock.Mock
}

func (m *MockVectorIndex) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Candidate, error) {
	args := m.Called(ctx, vector, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Candidate), args.Error(1)
}

// MockChunkStore is a mock implementation of ChunkStore
type MockChunkStore struct {
	mock.Mock
}

func (m *MockChunkStore) GetChunks(ctx context.Context, ids []string) ([]models.Chunk, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Chunk), args.Error(1)
}

// MockCompletionInvoker is a mock implementation of CompletionInvoker
type MockCompletionInvoker struct {
	mock.Mock
}

func (m *MockCompletionInvoker) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CompletionResponse), args.Error(1)
}

// MockCache is a mock implementation of Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	args := m.Called(ctx, key, dst)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, key string, value interface{}) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

// recorderStub collects answer logs
type recorderStub struct {
	mu      sync.Mutex
	entries []*models.AnswerLog
}

func (r *recorderStub) Record(entry *models.AnswerLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorderStub) all() []*models.AnswerLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.AnswerLog(nil), r.entries...)
}
