package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/answer-engine/models"
	"github.com/upb/answer-engine/services"
	"github.com/upb/answer-engine/services/cache"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testVector = []float32{0.1, 0.2, 0.3}

type fixture struct {
	agents      *MockAgentStore
	embedder    *MockEmbedder
	index       *MockVectorIndex
	chunks      *MockChunkStore
	completions *MockCompletionInvoker
	cache       *cache.AnswerCache
	recorder    *recorderStub
	logs        *observer.ObservedLogs
	svc         *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	f := &fixture{
		agents:      new(MockAgentStore),
		embedder:    new(MockEmbedder),
		index:       new(MockVectorIndex),
		chunks:      new(MockChunkStore),
		completions: new(MockCompletionInvoker),
		cache:       cache.NewAnswerCache(cache.NewMemoryStore(100), cache.DefaultTTL, zap.NewNop()),
		recorder:    &recorderStub{},
		logs:        logs,
	}
	f.svc = NewService(f.agents, f.embedder, f.index, f.chunks, f.completions, f.cache, f.recorder, nil, cfg, logger)

	// Each call to now advances 125ms.
	var mu sync.Mutex
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(125 * time.Millisecond)
		return clock
	}
	return f
}

func testAgent(kbs ...string) *models.Agent {
	agent := &models.Agent{
		ID:                  "a1",
		Model:               "gpt-4o-mini",
		Temperature:         0.3,
		MaxTokens:           500,
		SystemPrompt:        "You are the Acme support assistant.",
		CustomInstructions:  "Keep answers short.",
		Tone:                models.ToneFriendly,
		AutoEscalate:        true,
		ConfidenceThreshold: 0.8,
	}
	for i, kb := range kbs {
		agent.KnowledgeBases = append(agent.KnowledgeBases, models.KnowledgeBaseBinding{KnowledgeBaseID: kb, Priority: i})
	}
	return agent
}

func testChunks() []models.Chunk {
	url := "https://help.acme.test/refunds"
	// Deliberately out of rank order
	return []models.Chunk{
		{ID: "c2", Content: "Refunds are issued to the original payment method.", DocumentTitle: "Payments FAQ"},
		{ID: "c1", Content: "Refunds are processed within 5 business days.", DocumentTitle: "Refund Policy", SourceURL: &url},
	}
}

func completionResponse(content string) *CompletionResponse {
	return &CompletionResponse{Content: content, TokensIn: 320, TokensOut: 48, CostUSD: 0.0012, Model: "gpt-4o-mini"}
}

func captureRequest(target *CompletionRequest) func(mock.Arguments) {
	return func(args mock.Arguments) {
		*target = args.Get(1).(CompletionRequest)
	}
}

func TestProcess_GroundedAnswer(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	query := "How long do refunds take?"

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1"), nil)
	f.embedder.On("Embed", ctx, query).Return(testVector, nil)
	f.index.On("Search", ctx, testVector, SearchOptions{TopK: 10, Namespace: "kb-1"}).
		Return([]Candidate{{ChunkID: "c2", Score: 0.85}, {ChunkID: "c1", Score: 0.9}}, nil)
	f.chunks.On("GetChunks", ctx, []string{"c1", "c2"}).Return(testChunks(), nil)

	var req CompletionRequest
	f.completions.On("Complete", ctx, mock.Anything).Run(captureRequest(&req)).
		Return(completionResponse("Refunds take 5 business days [Source 1]."), nil)

	result, err := f.svc.Process(ctx, query, "a1", Options{})
	require.NoError(t, err)

	require.Len(t, result.Sources, 2)
	assert.Equal(t, "c1", result.Sources[0].ChunkID)
	assert.Equal(t, 0.9, result.Sources[0].Score)
	assert.Equal(t, "Refund Policy", result.Sources[0].DocumentTitle)
	require.NotNil(t, result.Sources[0].SourceURL)
	assert.Equal(t, "c2", result.Sources[1].ChunkID)
	assert.Nil(t, result.Sources[1].SourceURL)

	assert.Equal(t, "Refunds take 5 business days [Source 1].", result.Response)
	assert.Equal(t, 320, result.TokensIn)
	assert.Equal(t, 48, result.TokensOut)
	assert.Equal(t, 0.0012, result.CostUSD)
	assert.Equal(t, "gpt-4o-mini", result.Model)
	assert.Equal(t, int64(125), result.LatencyMs)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "[Source 1: Refund Policy]\nRefunds are processed within 5 business days.")
	assert.Contains(t, req.Messages[0].Content, "[Source 2: Payments FAQ]")
	assert.Equal(t, Message{Role: RoleUser, Content: query}, req.Messages[1])
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, 0.3, req.Temperature)
	assert.Equal(t, 500, req.MaxTokens)

	f.embedder.AssertNumberOfCalls(t, "Embed", 1)
	f.chunks.AssertNumberOfCalls(t, "GetChunks", 1)

	var cached ProcessResult
	found, err := f.cache.Get(ctx, cache.Key("a1", query, DefaultTopK, DefaultMinScore), &cached)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, *result, cached)
}

func TestProcess_HighThresholdAnswersWithoutSources(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	query := "How long do refunds take?"

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1"), nil)
	f.embedder.On("Embed", ctx, query).Return(testVector, nil)
	f.index.On("Search", ctx, testVector, SearchOptions{TopK: 10, Namespace: "kb-1"}).
		Return([]Candidate{{ChunkID: "c1", Score: 0.9}, {ChunkID: "c2", Score: 0.85}}, nil)

	var req CompletionRequest
	f.completions.On("Complete", ctx, mock.Anything).Run(captureRequest(&req)).
		Return(completionResponse("I'm not sure, let me check."), nil)

	result, err := f.svc.Process(ctx, query, "a1", Options{MinScore: Float64(0.95)})
	require.NoError(t, err)

	assert.NotNil(t, result.Sources)
	assert.Empty(t, result.Sources)
	assert.Equal(t, "I'm not sure, let me check.", result.Response)
	assert.NotContains(t, req.Messages[0].Content, "[Source")
	f.chunks.AssertNotCalled(t, "GetChunks", mock.Anything, mock.Anything)
}

func TestProcess_MaxThresholdFallsBackToUngrounded(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	query := "What are your support hours?"

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1"), nil)
	f.embedder.On("Embed", ctx, query).Return(testVector, nil)
	f.index.On("Search", ctx, testVector, SearchOptions{TopK: 10, Namespace: "kb-1"}).
		Return([]Candidate{{ChunkID: "c1", Score: 0.99}}, nil)

	var req CompletionRequest
	f.completions.On("Complete", ctx, mock.Anything).Run(captureRequest(&req)).
		Return(completionResponse("We are open 9 to 5."), nil)

	result, err := f.svc.Process(ctx, query, "a1", Options{MinScore: Float64(1.0)})
	require.NoError(t, err)

	assert.Empty(t, result.Sources)
	assert.NotContains(t, req.Messages[0].Content, "Use the following context")
	f.chunks.AssertNotCalled(t, "GetChunks", mock.Anything, mock.Anything)
}

func TestProcess_NoKnowledgeBasesMatchesNoCandidates(t *testing.T) {
	ctx := context.Background()
	query := "What are your support hours?"

	unbound := newFixture(t, DefaultConfig())
	unbound.agents.On("GetAgent", ctx, "a1").Return(testAgent(), nil)
	var unboundReq CompletionRequest
	unbound.completions.On("Complete", ctx, mock.Anything).Run(captureRequest(&unboundReq)).
		Return(completionResponse("We are open 9 to 5."), nil)

	empty := newFixture(t, DefaultConfig())
	empty.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1"), nil)
	empty.embedder.On("Embed", ctx, query).Return(testVector, nil)
	empty.index.On("Search", ctx, testVector, mock.Anything).Return([]Candidate{}, nil)
	var emptyReq CompletionRequest
	empty.completions.On("Complete", ctx, mock.Anything).Run(captureRequest(&emptyReq)).
		Return(completionResponse("We are open 9 to 5."), nil)

	r1, err := unbound.svc.Process(ctx, query, "a1", Options{})
	require.NoError(t, err)
	r2, err := empty.svc.Process(ctx, query, "a1", Options{})
	require.NoError(t, err)

	assert.Equal(t, unboundReq, emptyReq)
	assert.Equal(t, r1, r2)
	unbound.embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestProcess_UnknownAgent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	f.agents.On("GetAgent", ctx, "missing").Return(nil, services.NewAgentNotFoundError("missing"))

	result, err := f.svc.Process(ctx, "hello", "missing", Options{})
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
	assert.ErrorIs(t, err, services.ErrAgentNotFound)
	f.agents.AssertNumberOfCalls(t, "GetAgent", 1)
	f.completions.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)

	entries := f.recorder.all()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ErrorMessage)
}

func TestProcess_CacheHitSkipsPipeline(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	query := "How long do refunds take?"

	seeded := ProcessResult{
		Response:  "Cached answer",
		Sources:   []Source{{ChunkID: "c1", Content: "body", Score: 0.9, DocumentTitle: "Refund Policy"}},
		TokensIn:  10,
		TokensOut: 5,
		CostUSD:   0.0001,
		LatencyMs: 900,
		Model:     "gpt-4o-mini",
	}
	require.NoError(t, f.cache.Set(ctx, cache.Key("a1", query, 5, 0.7), seeded))

	result, err := f.svc.Process(ctx, query, "a1", Options{})
	require.NoError(t, err)

	assert.Equal(t, seeded, *result)
	f.agents.AssertNotCalled(t, "GetAgent", mock.Anything, mock.Anything)
	f.completions.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)

	entries := f.recorder.all()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CacheHit)
	assert.True(t, entries[0].Grounded)
}

func TestProcess_SecondCallServedFromCache(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent(), nil)
	f.completions.On("Complete", ctx, mock.Anything).Return(completionResponse("Hi!"), nil).Once()

	first, err := f.svc.Process(ctx, "hello", "a1", Options{})
	require.NoError(t, err)
	second, err := f.svc.Process(ctx, "hello", "a1", Options{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	f.completions.AssertNumberOfCalls(t, "Complete", 1)
}

func TestProcess_SkipCache(t *testing.T) {
	ctx := context.Background()
	store := new(MockCache)
	agents := new(MockAgentStore)
	completions := new(MockCompletionInvoker)
	svc := NewService(agents, nil, nil, nil, completions, store, nil, nil, DefaultConfig(), zap.NewNop())

	agents.On("GetAgent", ctx, "a1").Return(testAgent(), nil)
	completions.On("Complete", ctx, mock.Anything).Return(completionResponse("fresh"), nil)
	store.On("Set", ctx, cache.Key("a1", "hello", 5, 0.7), mock.AnythingOfType("*rag.ProcessResult")).Return(nil)

	result, err := svc.Process(ctx, "hello", "a1", Options{SkipCache: true})
	require.NoError(t, err)

	assert.Equal(t, "fresh", result.Response)
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestProcess_CacheUnavailableFailsOpen(t *testing.T) {
	ctx := context.Background()
	store := new(MockCache)
	agents := new(MockAgentStore)
	completions := new(MockCompletionInvoker)
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewService(agents, nil, nil, nil, completions, store, nil, nil, DefaultConfig(), zap.New(core))

	cacheErr := services.WrapUnavailable("redis get failed", errors.New("connection refused"))
	store.On("Get", ctx, mock.Anything, mock.Anything).Return(false, cacheErr)
	store.On("Set", ctx, mock.Anything, mock.Anything).Return(cacheErr)
	agents.On("GetAgent", ctx, "a1").Return(testAgent(), nil)
	completions.On("Complete", ctx, mock.Anything).Return(completionResponse("still answered"), nil)

	result, err := svc.Process(ctx, "hello", "a1", Options{})
	require.NoError(t, err)

	assert.Equal(t, "still answered", result.Response)
	assert.Equal(t, 1, logs.FilterMessage("answer cache unavailable, continuing without it").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to store answer in cache").Len())
}

func TestProcess_NamespaceFailureIsIsolated(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	query := "How long do refunds take?"

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1", "kb-2"), nil)
	f.embedder.On("Embed", ctx, query).Return(testVector, nil)
	f.index.On("Search", ctx, testVector, SearchOptions{TopK: 10, Namespace: "kb-1"}).
		Return(nil, errors.New("index timeout"))
	f.index.On("Search", ctx, testVector, SearchOptions{TopK: 10, Namespace: "kb-2"}).
		Return([]Candidate{{ChunkID: "c1", Score: 0.9}}, nil)
	f.chunks.On("GetChunks", ctx, []string{"c1"}).Return(testChunks(), nil)
	f.completions.On("Complete", ctx, mock.Anything).Return(completionResponse("ok"), nil)

	result, err := f.svc.Process(ctx, query, "a1", Options{})
	require.NoError(t, err)

	require.Len(t, result.Sources, 1)
	assert.Equal(t, "c1", result.Sources[0].ChunkID)

	warnings := f.logs.FilterMessage("namespace search failed")
	require.Equal(t, 1, warnings.Len())
	assert.Equal(t, zapcore.WarnLevel, warnings.All()[0].Level)
	assert.Equal(t, "kb-1", warnings.All()[0].ContextMap()["namespace"])
}

func TestProcess_AllNamespacesFailAnswersUngrounded(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1", "kb-2"), nil)
	f.embedder.On("Embed", ctx, "hello").Return(testVector, nil)
	f.index.On("Search", ctx, testVector, mock.Anything).Return(nil, errors.New("index down"))
	f.completions.On("Complete", ctx, mock.Anything).Return(completionResponse("Hi!"), nil)

	result, err := f.svc.Process(ctx, "hello", "a1", Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Sources)
	assert.Equal(t, 2, f.logs.FilterMessage("namespace search failed").Len())
}

func TestProcess_EmbeddingErrorPropagates(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	embedErr := errors.New("embedding quota exceeded")

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1"), nil)
	f.embedder.On("Embed", ctx, "hello").Return(nil, embedErr)

	result, err := f.svc.Process(ctx, "hello", "a1", Options{})
	assert.Nil(t, result)
	assert.Same(t, embedErr, err)
	f.completions.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestProcess_CompletionErrorPropagatesAndIsNotCached(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	completionErr := errors.New("model overloaded")

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent(), nil)
	f.completions.On("Complete", ctx, mock.Anything).Return(nil, completionErr)

	result, err := f.svc.Process(ctx, "hello", "a1", Options{})
	assert.Nil(t, result)
	assert.Same(t, completionErr, err)

	var cached ProcessResult
	found, _ := f.cache.Get(ctx, cache.Key("a1", "hello", 5, 0.7), &cached)
	assert.False(t, found)
}

func TestProcess_OptionOverrides(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent(), nil)
	var req CompletionRequest
	f.completions.On("Complete", ctx, mock.Anything).Run(captureRequest(&req)).
		Return(&CompletionResponse{Content: "ok"}, nil)

	result, err := f.svc.Process(ctx, "hello", "a1", Options{
		Model:        "claude-3-5-haiku-latest",
		Temperature:  Float64(0),
		MaxTokens:    64,
		SystemPrompt: "ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-haiku-latest", req.Model)
	assert.Equal(t, 0.0, req.Temperature)
	assert.Equal(t, 64, req.MaxTokens)
	assert.NotContains(t, req.Messages[0].Content, "ignored")
	assert.Equal(t, "claude-3-5-haiku-latest", result.Model, "falls back to the requested model")
}

func TestProcess_TopKAppliesToSearchAndSources(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1"), nil)
	f.embedder.On("Embed", ctx, "refund").Return(testVector, nil)
	f.index.On("Search", ctx, testVector, SearchOptions{TopK: 2, Namespace: "kb-1"}).
		Return([]Candidate{{ChunkID: "c1", Score: 0.9}, {ChunkID: "c2", Score: 0.85}}, nil)
	f.chunks.On("GetChunks", ctx, []string{"c1"}).Return(testChunks(), nil)
	f.completions.On("Complete", ctx, mock.Anything).Return(completionResponse("ok"), nil)

	result, err := f.svc.Process(ctx, "refund", "a1", Options{TopK: 1})
	require.NoError(t, err)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "c1", result.Sources[0].ChunkID)
}

func TestProcess_InvalidInput(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		opts  Options
	}{
		{"blank query", "   ", Options{}},
		{"min score above one", "hello", Options{MinScore: Float64(1.5)}},
		{"negative top k", "hello", Options{TopK: -1}},
		{"temperature too high", "hello", Options{Temperature: Float64(3)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Process(ctx, tt.query, "a1", tt.opts)
			require.Error(t, err)
			assert.True(t, services.IsValidationError(err))
		})
	}
	f.agents.AssertNotCalled(t, "GetAgent", mock.Anything, mock.Anything)
}

func TestProcess_RecordsAnswerLog(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent(), nil)
	f.completions.On("Complete", ctx, mock.Anything).Return(completionResponse("Hi!"), nil)

	_, err := f.svc.Process(ctx, "hello", "a1", Options{})
	require.NoError(t, err)

	entries := f.recorder.all()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "a1", entry.AgentID)
	assert.Equal(t, cache.Key("a1", "hello", 5, 0.7), entry.CacheKey)
	assert.False(t, entry.CacheHit)
	assert.False(t, entry.Grounded)
	assert.Equal(t, 320, entry.TokensIn)
	assert.Equal(t, "gpt-4o-mini", entry.Model)
	assert.Nil(t, entry.ErrorMessage)
}

func TestProcess_ExpandedQueriesMergeBestScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpandQueries = true
	f := newFixture(t, cfg)
	ctx := context.Background()
	query := "Where is my order?"
	expansionVector := []float32{0.9, 0.8, 0.7}

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1"), nil)
	f.embedder.On("Embed", ctx, query).Return(testVector, nil)
	f.embedder.On("Embed", ctx, "order status and tracking").Return(expansionVector, nil)
	f.embedder.On("Embed", ctx, "shipping and delivery times").Return(nil, errors.New("rate limited"))
	f.index.On("Search", ctx, testVector, mock.Anything).Return([]Candidate{{ChunkID: "c1", Score: 0.75}}, nil)
	f.index.On("Search", ctx, expansionVector, mock.Anything).
		Return([]Candidate{{ChunkID: "c1", Score: 0.88}, {ChunkID: "c2", Score: 0.8}}, nil)
	f.chunks.On("GetChunks", ctx, []string{"c1", "c2"}).Return(testChunks(), nil)
	f.completions.On("Complete", ctx, mock.Anything).Return(completionResponse("Your order ships today."), nil)

	result, err := f.svc.Process(ctx, query, "a1", Options{})
	require.NoError(t, err)

	require.Len(t, result.Sources, 2)
	assert.Equal(t, "c1", result.Sources[0].ChunkID)
	assert.Equal(t, 0.88, result.Sources[0].Score)
	assert.Equal(t, 1, f.logs.FilterMessage("failed to embed query expansion").Len())
}

// blockingInvoker holds every completion until release is closed, or until
// the request context ends.
type blockingInvoker struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newBlockingInvoker() *blockingInvoker {
	return &blockingInvoker{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingInvoker) Complete(ctx context.Context, _ CompletionRequest) (*CompletionResponse, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	select {
	case <-b.release:
		return completionResponse("Hi!"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// countingCache always misses and reports each lookup to lookups.
type countingCache struct {
	lookups *sync.WaitGroup
}

func (c countingCache) Get(context.Context, string, interface{}) (bool, error) {
	c.lookups.Done()
	return false, nil
}

func (c countingCache) Set(context.Context, string, interface{}) error { return nil }

func TestProcess_ConcurrentCallsAreSafe(t *testing.T) {
	const callers = 16

	agents := new(MockAgentStore)
	agents.On("GetAgent", mock.Anything, "a1").Return(testAgent(), nil)
	invoker := newBlockingInvoker()

	var lookups sync.WaitGroup
	lookups.Add(callers)
	svc := NewService(agents, new(MockEmbedder), new(MockVectorIndex), new(MockChunkStore),
		invoker, countingCache{lookups: &lookups}, nil, nil, DefaultConfig(), zap.NewNop())

	var wg sync.WaitGroup
	results := make([]*ProcessResult, callers)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.Process(context.Background(), "hello", "a1", Options{})
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	// Every caller has missed the cache before the completion is released.
	lookups.Wait()
	<-invoker.started
	time.Sleep(20 * time.Millisecond)
	close(invoker.release)
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "Hi!", r.Response)
	}
	assert.Equal(t, int32(1), invoker.calls.Load())
	agents.AssertNumberOfCalls(t, "GetAgent", 1)
}

func TestProcess_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.agents.On("GetAgent", mock.Anything, "a1").Return(testAgent(), nil)
	invoker := newBlockingInvoker()
	svc := NewService(f.agents, f.embedder, f.index, f.chunks, invoker, f.cache, nil, nil, DefaultConfig(), zap.NewNop())

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Process(firstCtx, "hello", "a1", Options{})
		firstErr <- err
	}()
	<-invoker.started

	type outcome struct {
		result *ProcessResult
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		r, err := svc.Process(context.Background(), "hello", "a1", Options{})
		second <- outcome{r, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(invoker.release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, "Hi!", got.result.Response)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never received the answer")
	}
	assert.Equal(t, int32(1), invoker.calls.Load())

	// The shared generation still populated the cache.
	var cached ProcessResult
	found, err := f.cache.Get(context.Background(), cache.Key("a1", "hello", DefaultTopK, DefaultMinScore), &cached)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSharedResultMeasuresCallerLatency(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	original := &ProcessResult{Response: "r", LatencyMs: 900, Sources: []Source{{ChunkID: "c1"}}}

	start := f.svc.now()
	shared := f.svc.sharedResult(original, start)

	assert.Equal(t, int64(125), shared.LatencyMs)
	assert.Equal(t, int64(900), original.LatencyMs)
	assert.Equal(t, "r", shared.Response)
}

func TestRetrieveContext_ReturnsCitedContext(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	query := "How long do refunds take?"

	f.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1"), nil)
	f.embedder.On("Embed", ctx, query).Return(testVector, nil)
	f.index.On("Search", ctx, testVector, SearchOptions{TopK: 10, Namespace: "kb-1"}).
		Return([]Candidate{{ChunkID: "c1", Score: 0.9}, {ChunkID: "c2", Score: 0.85}}, nil)
	f.chunks.On("GetChunks", ctx, []string{"c1", "c2"}).Return(testChunks(), nil)

	result, err := f.svc.RetrieveContext(ctx, query, "a1", Options{})
	require.NoError(t, err)

	require.Len(t, result.Sources, 2)
	blocks := strings.Split(result.Context, "\n[Source ")
	require.Len(t, blocks, 2)
	assert.True(t, strings.HasPrefix(blocks[0], "[Source 1: Refund Policy]\n"))
	assert.True(t, strings.HasPrefix(blocks[1], "2: Payments FAQ]\n"))
	f.embedder.AssertNumberOfCalls(t, "Embed", 1)
	f.completions.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestRetrieveContext_EmptyResults(t *testing.T) {
	ctx := context.Background()

	t.Run("no knowledge bases", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.agents.On("GetAgent", ctx, "a1").Return(testAgent(), nil)

		result, err := f.svc.RetrieveContext(ctx, "hello", "a1", Options{})
		require.NoError(t, err)
		assert.Equal(t, "", result.Context)
		assert.NotNil(t, result.Sources)
		assert.Empty(t, result.Sources)
		f.embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	})

	t.Run("nothing above threshold", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.agents.On("GetAgent", ctx, "a1").Return(testAgent("kb-1"), nil)
		f.embedder.On("Embed", ctx, "hello").Return(testVector, nil)
		f.index.On("Search", ctx, testVector, mock.Anything).Return([]Candidate{{ChunkID: "c1", Score: 0.2}}, nil)

		result, err := f.svc.RetrieveContext(ctx, "hello", "a1", Options{})
		require.NoError(t, err)
		assert.Equal(t, "", result.Context)
		assert.Empty(t, result.Sources)
	})

	t.Run("unknown agent", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.agents.On("GetAgent", ctx, "missing").Return(nil, services.NewAgentNotFoundError("missing"))

		_, err := f.svc.RetrieveContext(ctx, "hello", "missing", Options{})
		assert.True(t, services.IsNotFoundError(err))
	})
}

func TestCloneResult(t *testing.T) {
	original := &ProcessResult{Response: "r", Sources: []Source{{ChunkID: "c1"}}}
	clone := cloneResult(original)
	clone.Sources[0].ChunkID = "changed"

	assert.Equal(t, "c1", original.Sources[0].ChunkID)
	assert.NotNil(t, cloneResult(&ProcessResult{}).Sources)
}
