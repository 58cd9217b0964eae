package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/upb/answer-engine/services/providers"
)

const (
	providerName = "openai"

	// DefaultEmbeddingModel is used when no embedding model is configured
	DefaultEmbeddingModel = string(goopenai.SmallEmbedding3)
)

// OpenAIAdapter implements providers.Provider and rag.Embedder on the OpenAI API
type OpenAIAdapter struct {
	config         providers.ProviderConfig
	client         *goopenai.Client
	embeddingModel goopenai.EmbeddingModel
	models         map[string]*providers.ModelInfo
}

// NewOpenAIAdapter creates a new OpenAI adapter. embeddingModel may be empty.
func NewOpenAIAdapter(config providers.ProviderConfig, embeddingModel string) *OpenAIAdapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	clientConfig := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.OrgID = config.OrgID
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	adapter := &OpenAIAdapter{
		config:         config,
		client:         goopenai.NewClientWithConfig(clientConfig),
		embeddingModel: goopenai.EmbeddingModel(embeddingModel),
	}
	adapter.initModels()

	return adapter
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return providerName
}

// ChatCompletion performs a chat completion request, retrying rate limits and 5xx
func (a *OpenAIAdapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	startTime := time.Now()

	if err := a.ValidateModel(req.Model); err != nil {
		return nil, providers.NewProviderError(a.Name(), "INVALID_MODEL", err.Error(), http.StatusBadRequest, false, err)
	}

	openaiReq := a.buildOpenAIRequest(req)

	var openaiResp goopenai.ChatCompletionResponse
	err := providers.Retry(ctx, a.config, func() error {
		var callErr error
		openaiResp, callErr = a.client.CreateChatCompletion(ctx, openaiReq)
		return a.classifyError(callErr)
	})
	if err != nil {
		return nil, err
	}

	return a.convertToUnifiedResponse(&openaiResp, time.Since(startTime)), nil
}

// Embed returns the embedding of text under the configured embedding model
func (a *OpenAIAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp goopenai.EmbeddingResponse
	err := providers.Retry(ctx, a.config, func() error {
		var callErr error
		resp, callErr = a.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
			Input: []string{text},
			Model: a.embeddingModel,
		})
		return a.classifyError(callErr)
	})
	if err != nil {
		return nil, providers.ToDomainError(err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, providers.ToDomainError(
			providers.NewProviderError(a.Name(), "EMPTY_EMBEDDING", "embedding response contained no vectors", 0, false, nil))
	}
	return resp.Data[0].Embedding, nil
}

// IsAvailable checks if the API answers a model listing
func (a *OpenAIAdapter) IsAvailable(ctx context.Context) bool {
	_, err := a.client.ListModels(ctx)
	return err == nil
}

// ValidateModel checks if a model is supported
func (a *OpenAIAdapter) ValidateModel(model string) error {
	if _, exists := a.models[model]; !exists {
		return fmt.Errorf("model %s is not supported by OpenAI provider", model)
	}
	return nil
}

// GetModelInfo returns information about a specific model
func (a *OpenAIAdapter) GetModelInfo(model string) (*providers.ModelInfo, error) {
	info, exists := a.models[model]
	if !exists {
		return nil, fmt.Errorf("model %s not found", model)
	}
	return info, nil
}

// ListModels returns all available models
func (a *OpenAIAdapter) ListModels() []string {
	models := make([]string, 0, len(a.models))
	for model := range a.models {
		models = append(models, model)
	}
	return models
}

// initModels initializes the model information map
func (a *OpenAIAdapter) initModels() {
	a.models = map[string]*providers.ModelInfo{
		"gpt-4o": {
			ID:                        "gpt-4o",
			Name:                      "GPT-4o",
			Provider:                  providerName,
			MaxTokens:                 16384,
			ContextWindow:             128000,
			PricingPerPromptToken:     0.0000025, // $2.50 per 1M tokens
			PricingPerCompletionToken: 0.00001,   // $10 per 1M tokens
		},
		"gpt-4o-mini": {
			ID:                        "gpt-4o-mini",
			Name:                      "GPT-4o Mini",
			Provider:                  providerName,
			MaxTokens:                 16384,
			ContextWindow:             128000,
			PricingPerPromptToken:     0.00000015, // $0.15 per 1M tokens
			PricingPerCompletionToken: 0.0000006,  // $0.60 per 1M tokens
		},
		"gpt-4-turbo": {
			ID:                        "gpt-4-turbo",
			Name:                      "GPT-4 Turbo",
			Provider:                  providerName,
			MaxTokens:                 4096,
			ContextWindow:             128000,
			PricingPerPromptToken:     0.00001, // $10 per 1M tokens
			PricingPerCompletionToken: 0.00003, // $30 per 1M tokens
		},
		"gpt-3.5-turbo": {
			ID:                        "gpt-3.5-turbo",
			Name:                      "GPT-3.5 Turbo",
			Provider:                  providerName,
			MaxTokens:                 4096,
			ContextWindow:             16385,
			PricingPerPromptToken:     0.0000005, // $0.50 per 1M tokens
			PricingPerCompletionToken: 0.0000015, // $1.50 per 1M tokens
		},
	}
}

// buildOpenAIRequest converts a unified request to the OpenAI format
func (a *OpenAIAdapter) buildOpenAIRequest(req *providers.ChatRequest) goopenai.ChatCompletionRequest {
	openaiReq := goopenai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  make([]goopenai.ChatCompletionMessage, len(req.Messages)),
		MaxTokens: req.MaxTokens,
		User:      req.User,
	}

	for i, msg := range req.Messages {
		openaiReq.Messages[i] = goopenai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	// A zero temperature is dropped by omitempty; send the smallest
	// non-zero value so deterministic agents stay deterministic.
	openaiReq.Temperature = float32(req.Temperature)
	if req.Temperature == 0 {
		openaiReq.Temperature = math.SmallestNonzeroFloat32
	}

	return openaiReq
}

// convertToUnifiedResponse converts an OpenAI response to the unified format
func (a *OpenAIAdapter) convertToUnifiedResponse(openaiResp *goopenai.ChatCompletionResponse, latency time.Duration) *providers.ChatResponse {
	resp := &providers.ChatResponse{
		ID:       openaiResp.ID,
		Model:    openaiResp.Model,
		Provider: a.Name(),
		Choices:  make([]providers.Choice, len(openaiResp.Choices)),
		Usage: providers.Usage{
			PromptTokens:     openaiResp.Usage.PromptTokens,
			CompletionTokens: openaiResp.Usage.CompletionTokens,
			TotalTokens:      openaiResp.Usage.TotalTokens,
		},
		Latency: latency,
		Created: time.Unix(openaiResp.Created, 0),
	}

	for i, choice := range openaiResp.Choices {
		resp.Choices[i] = providers.Choice{
			Index: choice.Index,
			Message: providers.Message{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: string(choice.FinishReason),
		}
	}

	return resp
}

// classifyError converts go-openai errors into provider errors
func (a *OpenAIAdapter) classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return providers.NewProviderError(
			a.Name(),
			apiErr.Type,
			apiErr.Message,
			apiErr.HTTPStatusCode,
			providers.RetryableStatus(apiErr.HTTPStatusCode),
			err,
		)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return providers.NewProviderError(
			a.Name(),
			"REQUEST_ERROR",
			"request failed",
			reqErr.HTTPStatusCode,
			providers.RetryableStatus(reqErr.HTTPStatusCode),
			err,
		)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return providers.NewProviderError(a.Name(), "CANCELED", "request canceled", 0, false, err)
	}

	// Transport failures
	return providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
}
