package providers

import (
	"context"

	"github.com/upb/answer-engine/services"
	"github.com/upb/answer-engine/services/rag"
	"go.uber.org/zap"
)

// Invoker routes completion requests to the provider serving the requested
// model and prices the result from the model's per-token rates.
type Invoker struct {
	registry *Registry
	logger   *zap.Logger
}

// NewInvoker creates a new invoker backed by registry
func NewInvoker(registry *Registry, logger *zap.Logger) *Invoker {
	return &Invoker{
		registry: registry,
		logger:   logger,
	}
}

// Complete implements rag.CompletionInvoker
func (i *Invoker) Complete(ctx context.Context, req rag.CompletionRequest) (*rag.CompletionResponse, error) {
	provider, err := i.registry.GetProviderForModel(req.Model)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid model specified", err).
			WithDetail("model", req.Model)
	}

	chatReq := &ChatRequest{
		Model:       req.Model,
		Messages:    make([]Message, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for idx, msg := range req.Messages {
		chatReq.Messages[idx] = Message{Role: msg.Role, Content: msg.Content}
	}

	resp, err := provider.ChatCompletion(ctx, chatReq)
	if err != nil {
		i.logger.Warn("completion failed",
			zap.String("provider", provider.Name()),
			zap.String("model", req.Model),
			zap.Error(err),
		)
		return nil, ToDomainError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, ToDomainError(NewProviderError(provider.Name(), "EMPTY_RESPONSE", "completion returned no choices", 0, false, nil))
	}

	// Providers report dated snapshots (gpt-4o-mini-2024-07-18); price by the requested id.
	cost := 0.0
	if info, err := provider.GetModelInfo(req.Model); err == nil {
		cost = info.Cost(resp.Usage)
	} else {
		i.logger.Debug("no pricing for model", zap.String("model", req.Model))
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return &rag.CompletionResponse{
		Content:   resp.Content(),
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		CostUSD:   cost,
		Model:     model,
	}, nil
}
