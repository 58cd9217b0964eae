// Package anthropic serves Claude models through the official Anthropic SDK.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/upb/answer-engine/services/providers"
)

const (
	providerName = "anthropic"

	// defaultMaxTokens is sent when the request leaves MaxTokens unset; the
	// Messages API requires one.
	defaultMaxTokens = 1024
)

// Adapter implements providers.Provider on the Anthropic Messages API
type Adapter struct {
	config providers.ProviderConfig
	client sdk.Client
	models map[string]*providers.ModelInfo
}

// NewAdapter creates a new Anthropic adapter. Retries are handled by
// providers.Retry, so the SDK's own retry loop is disabled.
func NewAdapter(config providers.ProviderConfig) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Adapter{
		config: config,
		client: sdk.NewClient(opts...),
		models: defaultModels(),
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return providerName
}

// ChatCompletion sends the conversation to the Messages API. System messages
// are lifted into the request's system blocks.
func (a *Adapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	startTime := time.Now()

	if err := a.ValidateModel(req.Model); err != nil {
		return nil, providers.NewProviderError(a.Name(), "INVALID_MODEL", err.Error(), http.StatusBadRequest, false, err)
	}

	params := a.buildParams(req)

	var msg *sdk.Message
	err := providers.Retry(ctx, a.config, func() error {
		var callErr error
		msg, callErr = a.client.Messages.New(ctx, params)
		return a.classifyError(callErr)
	})
	if err != nil {
		return nil, err
	}

	return a.convertResponse(msg, time.Since(startTime)), nil
}

// IsAvailable checks if the API answers a model listing
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.client.Models.List(ctx, sdk.ModelListParams{})
	return err == nil
}

// ValidateModel checks if a model is supported
func (a *Adapter) ValidateModel(model string) error {
	if _, ok := a.models[model]; !ok {
		return fmt.Errorf("model %s is not supported by Anthropic provider", model)
	}
	return nil
}

// GetModelInfo returns information about a specific model
func (a *Adapter) GetModelInfo(model string) (*providers.ModelInfo, error) {
	info, ok := a.models[model]
	if !ok {
		return nil, fmt.Errorf("model %s not found", model)
	}
	return info, nil
}

// ListModels returns all available models
func (a *Adapter) ListModels() []string {
	models := make([]string, 0, len(a.models))
	for model := range a.models {
		models = append(models, model)
	}
	return models
}

func (a *Adapter) buildParams(req *providers.ChatRequest) sdk.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(req.Model),
		MaxTokens:   maxTokens,
		Temperature: sdk.Float(req.Temperature),
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case providers.RoleSystem:
			params.System = append(params.System, sdk.TextBlockParam{Text: msg.Content})
		case providers.RoleAssistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		}
	}

	return params
}

func (a *Adapter) convertResponse(msg *sdk.Message, latency time.Duration) *providers.ChatResponse {
	text := ""
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	prompt := int(msg.Usage.InputTokens)
	completion := int(msg.Usage.OutputTokens)

	return &providers.ChatResponse{
		ID:       msg.ID,
		Model:    string(msg.Model),
		Provider: a.Name(),
		Choices: []providers.Choice{
			{
				Message:      providers.Message{Role: providers.RoleAssistant, Content: text},
				FinishReason: string(msg.StopReason),
			},
		},
		Usage: providers.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		Latency: latency,
		Created: time.Now(),
	}
}

// classifyError converts SDK errors into provider errors
func (a *Adapter) classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return providers.NewProviderError(
			a.Name(),
			"API_ERROR",
			"anthropic api error",
			apiErr.StatusCode,
			providers.RetryableStatus(apiErr.StatusCode),
			err,
		)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return providers.NewProviderError(a.Name(), "CANCELED", "request canceled", 0, false, err)
	}

	return providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
}

func defaultModels() map[string]*providers.ModelInfo {
	models := map[string]*providers.ModelInfo{}
	add := func(id, name string, maxTokens int, promptPerMillion, completionPerMillion float64) {
		models[id] = &providers.ModelInfo{
			ID:                        id,
			Name:                      name,
			Provider:                  providerName,
			MaxTokens:                 maxTokens,
			ContextWindow:             200000,
			PricingPerPromptToken:     promptPerMillion / 1e6,
			PricingPerCompletionToken: completionPerMillion / 1e6,
		}
	}

	add("claude-3-7-sonnet-20250219", "Claude 3.7 Sonnet", 8192, 3, 15)
	add("claude-3-5-sonnet-20241022", "Claude 3.5 Sonnet", 8192, 3, 15)
	add("claude-3-5-haiku-20241022", "Claude 3.5 Haiku", 8192, 0.8, 4)
	add("claude-3-opus-20240229", "Claude 3 Opus", 4096, 15, 75)
	add("claude-3-haiku-20240307", "Claude 3 Haiku", 4096, 0.25, 1.25)

	return models
}
