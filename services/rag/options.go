package rag

import (
	"github.com/upb/answer-engine/services"
	"github.com/upb/answer-engine/utils"
)

// Retrieval defaults
const (
	DefaultTopK     = 5
	DefaultMinScore = 0.7
)

// Options tune a single Process or RetrieveContext call. Zero values mean
// "use the default"; pointer fields distinguish an explicit zero.
type Options struct {
	TopK        int      `json:"top_k,omitempty" validate:"gte=0,lte=50"`
	MinScore    *float64 `json:"min_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	Model       string   `json:"model,omitempty" validate:"omitempty,max=100"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int      `json:"max_tokens,omitempty" validate:"gte=0,lte=32768"`
	// SystemPrompt is accepted and validated but not applied; the agent
	// persona always drives the system prompt.
	SystemPrompt string `json:"system_prompt,omitempty" validate:"max=8000"`
	SkipCache    bool   `json:"skip_cache,omitempty"`
}

// Float64 returns a pointer to v, for Options literals.
func Float64(v float64) *float64 {
	return &v
}

// resolvedOptions are Options after defaulting and validation.
type resolvedOptions struct {
	topK        int
	minScore    float64
	model       string
	temperature *float64
	maxTokens   int
	skipCache   bool
}

// resolve validates opts and applies defaults. It is called once per request
// at the service boundary.
func (o Options) resolve(defaultTopK int, defaultMinScore float64) (resolvedOptions, error) {
	if err := utils.ValidateStruct(o); err != nil {
		return resolvedOptions{}, services.NewDomainError(services.ErrorTypeValidation, "invalid retrieval options", err).
			WithDetail("fields", utils.GetValidationFields(err))
	}

	r := resolvedOptions{
		topK:        o.TopK,
		minScore:    defaultMinScore,
		model:       o.Model,
		temperature: o.Temperature,
		maxTokens:   o.MaxTokens,
		skipCache:   o.SkipCache,
	}
	if r.topK == 0 {
		r.topK = defaultTopK
	}
	if o.MinScore != nil {
		r.minScore = *o.MinScore
	}
	return r, nil
}
