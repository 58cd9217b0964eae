package rag

import (
	"context"
	"strings"
	"time"

	"github.com/upb/answer-engine/internal/observability"
	"github.com/upb/answer-engine/models"
	"github.com/upb/answer-engine/services"
	"github.com/upb/answer-engine/services/cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config holds retrieval defaults applied to every request.
type Config struct {
	DefaultTopK     int
	DefaultMinScore float64

	// ExpandQueries also embeds and searches the phrasings produced by
	// Expand, merging candidates per chunk with the best score.
	ExpandQueries bool
}

// DefaultConfig returns the standard retrieval defaults
func DefaultConfig() Config {
	return Config{
		DefaultTopK:     DefaultTopK,
		DefaultMinScore: DefaultMinScore,
	}
}

// Service answers queries for an agent, grounding the answer in the agent's
// knowledge bases when relevant context exists.
type Service struct {
	agents      AgentStore
	embedder    Embedder
	index       VectorIndex
	chunks      ChunkStore
	completions CompletionInvoker
	cache       Cache
	recorder    AnswerRecorder
	metrics     observability.Metrics
	config      Config
	logger      *zap.Logger

	flights singleflight.Group
	now     func() time.Time
}

// NewService creates a new answer service. cache, recorder and metrics may be nil.
func NewService(
	agents AgentStore,
	embedder Embedder,
	index VectorIndex,
	chunks ChunkStore,
	completions CompletionInvoker,
	answerCache Cache,
	recorder AnswerRecorder,
	metrics observability.Metrics,
	config Config,
	logger *zap.Logger,
) *Service {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = DefaultTopK
	}
	return &Service{
		agents:      agents,
		embedder:    embedder,
		index:       index,
		chunks:      chunks,
		completions: completions,
		cache:       answerCache,
		recorder:    recorder,
		metrics:     metrics,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// Process produces an answer for query on behalf of agentID.
//
// Unless opts.SkipCache is set, a cached answer for the same agent, query,
// topK and minScore is returned unchanged. Otherwise the agent is loaded,
// context is retrieved when possible, and a completion is generated. When
// no context clears the relevance threshold the answer is generated without
// context rather than failing.
func (s *Service) Process(ctx context.Context, query, agentID string, opts Options) (*ProcessResult, error) {
	start := s.now()

	if strings.TrimSpace(query) == "" {
		return nil, services.ErrEmptyQuery
	}
	resolved, err := opts.resolve(s.config.DefaultTopK, s.config.DefaultMinScore)
	if err != nil {
		return nil, err
	}

	key := cache.Key(agentID, query, resolved.topK, resolved.minScore)
	logFields := append(observability.ContextFields(ctx),
		zap.String("agent_id", agentID),
		zap.String("cache_key", key),
	)

	if !resolved.skipCache {
		s.logger.Debug("step 1: checking answer cache", logFields...)
		if cached := s.lookup(ctx, key, logFields); cached != nil {
			s.finish(ctx, agentID, key, cached, observability.OutcomeCacheHit, nil)
			return cached, nil
		}
	}

	var result *ProcessResult
	if resolved.skipCache {
		result, err = s.generate(ctx, query, agentID, key, resolved, start, logFields)
	} else {
		result, err = s.generateShared(ctx, query, agentID, key, resolved, start, logFields)
	}

	if err != nil {
		s.finish(ctx, agentID, key, &ProcessResult{Model: resolved.model}, observability.OutcomeError, err)
		return nil, err
	}

	outcome := observability.OutcomeUngrounded
	if len(result.Sources) > 0 {
		outcome = observability.OutcomeGrounded
	}
	s.finish(ctx, agentID, key, result, outcome, nil)
	return result, nil
}

// generateShared coalesces identical concurrent misses into one generation.
// The generation does not inherit any caller's cancellation. A caller whose
// ctx ends stops waiting and the others still receive the result.
func (s *Service) generateShared(
	ctx context.Context,
	query, agentID, key string,
	opts resolvedOptions,
	start time.Time,
	logFields []zap.Field,
) (*ProcessResult, error) {
	flightCtx := ctx
	if ctx.Done() != nil {
		flightCtx = context.WithoutCancel(ctx)
	}

	ch := s.flights.DoChan(key, func() (interface{}, error) {
		return s.generate(flightCtx, query, agentID, key, opts, start, logFields)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := res.Val.(*ProcessResult)
		if res.Shared {
			result = s.sharedResult(result, start)
		}
		return result, nil
	}
}

// sharedResult copies a coalesced result and measures LatencyMs from this
// caller's own start.
func (s *Service) sharedResult(r *ProcessResult, start time.Time) *ProcessResult {
	out := cloneResult(r)
	out.LatencyMs = s.now().Sub(start).Milliseconds()
	return out
}

// generate runs the cache-miss pipeline and stores the result.
func (s *Service) generate(
	ctx context.Context,
	query, agentID, key string,
	opts resolvedOptions,
	start time.Time,
	logFields []zap.Field,
) (*ProcessResult, error) {
	s.logger.Debug("step 2: loading agent", logFields...)
	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("step 3: retrieving context",
		append(logFields, zap.Int("knowledge_bases", len(agent.KnowledgeBases)))...)
	retrieval, err := s.attemptGroundedRetrieval(ctx, query, agent, opts)
	if err != nil {
		return nil, err
	}

	contextText := ""
	sources := []Source{}
	if retrieval != nil {
		contextText = retrieval.Context
		sources = retrieval.Sources
	} else {
		s.logger.Info("no relevant context, answering ungrounded", logFields...)
	}

	req := CompletionRequest{
		Model: firstNonEmpty(opts.model, agent.Model),
		Messages: []Message{
			{Role: RoleSystem, Content: BuildSystemPrompt(agent, contextText)},
			{Role: RoleUser, Content: query},
		},
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	}
	if opts.temperature != nil {
		req.Temperature = *opts.temperature
	}
	if opts.maxTokens > 0 {
		req.MaxTokens = opts.maxTokens
	}

	s.logger.Debug("step 4: generating answer",
		append(logFields, zap.String("model", req.Model), zap.Int("sources", len(sources)))...)
	resp, err := s.completions.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	latency := s.now().Sub(start).Milliseconds()

	result := &ProcessResult{
		Response:  resp.Content,
		Sources:   sources,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		CostUSD:   resp.CostUSD,
		LatencyMs: latency,
		Model:     firstNonEmpty(resp.Model, req.Model),
	}

	if s.cache != nil {
		s.logger.Debug("step 5: storing answer", logFields...)
		if err := s.cache.Set(ctx, key, result); err != nil {
			// Don't fail the request, the answer is still valid
			s.logger.Warn("failed to store answer in cache", append(logFields, zap.Error(err))...)
		}
	}

	return result, nil
}

// RetrieveContext returns the cited context for query without generating an
// answer. An agent with no knowledge bases, or a query with no candidate
// above the threshold, yields an empty context and no sources.
func (s *Service) RetrieveContext(ctx context.Context, query, agentID string, opts Options) (*RetrievalResult, error) {
	start := s.now()

	if strings.TrimSpace(query) == "" {
		return nil, services.ErrEmptyQuery
	}
	resolved, err := opts.resolve(s.config.DefaultTopK, s.config.DefaultMinScore)
	if err != nil {
		return nil, err
	}

	labels := observability.RequestLabels{Operation: "retrieve", Outcome: observability.OutcomeError}
	defer func() {
		s.metrics.RecordRequest(ctx, labels)
		s.metrics.RecordLatency(ctx, s.now().Sub(start).Seconds(), labels)
	}()

	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	result, err := s.attemptGroundedRetrieval(ctx, query, agent, resolved)
	if err != nil {
		return nil, err
	}
	if result == nil {
		labels.Outcome = observability.OutcomeUngrounded
		return &RetrievalResult{Context: "", Sources: []Source{}}, nil
	}

	labels.Outcome = observability.OutcomeGrounded
	return result, nil
}

// attemptGroundedRetrieval is shared by Process and RetrieveContext. It
// returns nil, without error, whenever the answer must be ungrounded.
// Embedding and chunk fetch errors propagate; search errors do not.
func (s *Service) attemptGroundedRetrieval(ctx context.Context, query string, agent *models.Agent, opts resolvedOptions) (*RetrievalResult, error) {
	if !agent.HasKnowledgeBases() {
		return nil, nil
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	namespaces := agent.Namespaces()
	perNamespace := opts.topK * 2
	candidates := s.searchNamespaces(ctx, vector, namespaces, perNamespace)

	if s.config.ExpandQueries {
		candidates = append(candidates, s.searchExpansions(ctx, query, namespaces, perNamespace)...)
	}

	ranked := Rerank(query, candidates, opts.topK, opts.minScore)
	if len(ranked) == 0 {
		return nil, nil
	}

	result, err := assembleContext(ctx, s.chunks, ranked)
	if err != nil {
		return nil, err
	}
	if len(result.Sources) == 0 {
		return nil, nil
	}
	return result, nil
}

// searchExpansions searches the alternative phrasings of query. They are an
// auxiliary signal, so embedding failures here are logged and skipped.
func (s *Service) searchExpansions(ctx context.Context, query string, namespaces []string, perNamespace int) []Candidate {
	var out []Candidate
	for _, phrasing := range Expand(query)[1:] {
		vector, err := s.embedder.Embed(ctx, phrasing)
		if err != nil {
			s.logger.Warn("failed to embed query expansion",
				append(observability.ContextFields(ctx), zap.String("phrasing", phrasing), zap.Error(err))...)
			continue
		}
		out = append(out, s.searchNamespaces(ctx, vector, namespaces, perNamespace)...)
	}
	return out
}

// lookup reads the cache. Cache failures are treated as a miss.
func (s *Service) lookup(ctx context.Context, key string, logFields []zap.Field) *ProcessResult {
	if s.cache == nil {
		return nil
	}

	var cached ProcessResult
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("answer cache unavailable, continuing without it", append(logFields, zap.Error(err))...)
		found = false
	}
	s.metrics.RecordCacheLookup(ctx, found)
	if !found {
		return nil
	}
	return &cached
}

// finish records metrics and the answer log for a Process call.
func (s *Service) finish(ctx context.Context, agentID, key string, result *ProcessResult, outcome string, err error) {
	labels := observability.RequestLabels{Operation: "process", Model: result.Model, Outcome: outcome}
	s.metrics.RecordRequest(ctx, labels)
	if outcome != observability.OutcomeCacheHit && err == nil {
		s.metrics.RecordLatency(ctx, float64(result.LatencyMs)/1000, labels)
		s.metrics.RecordTokens(ctx, result.TokensIn, result.TokensOut, labels)
		s.metrics.RecordCost(ctx, result.CostUSD, labels)
	}

	if s.recorder == nil {
		return
	}
	entry := models.NewAnswerLog(agentID, key).
		WithRequest(observability.RequestID(ctx)).
		WithUsage(result.Model, result.TokensIn, result.TokensOut, result.CostUSD, result.LatencyMs).
		WithSources(len(result.Sources)).
		WithCacheHit(outcome == observability.OutcomeCacheHit)
	if err != nil {
		entry.WithError(err.Error())
	}
	s.recorder.Record(entry)
}

func cloneResult(r *ProcessResult) *ProcessResult {
	out := *r
	out.Sources = append([]Source(nil), r.Sources...)
	if out.Sources == nil {
		out.Sources = []Source{}
	}
	return &out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
