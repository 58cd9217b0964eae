package models

import (
	"time"
)

// Tone describes the voice an agent answers in
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"
)

// Agent is an answering persona with generation defaults and bound knowledge bases
type Agent struct {
	ID                  string    `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	Model               string    `json:"model" db:"model"`
	Temperature         float64   `json:"temperature" db:"temperature"`
	MaxTokens           int       `json:"max_tokens" db:"max_tokens"`
	SystemPrompt        string    `json:"system_prompt" db:"system_prompt"`
	CustomInstructions  string    `json:"custom_instructions,omitempty" db:"custom_instructions"`
	Tone                Tone      `json:"tone" db:"tone"`
	AutoEscalate        bool      `json:"auto_escalate" db:"auto_escalate"`
	ConfidenceThreshold float64   `json:"confidence_threshold" db:"confidence_threshold"` // 0..1
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`

	// Active bindings only, ordered by priority.
	KnowledgeBases []KnowledgeBaseBinding `json:"knowledge_bases" db:"-"`
}

// KnowledgeBaseBinding links an agent to a knowledge base. The knowledge base
// id doubles as the vector index namespace.
type KnowledgeBaseBinding struct {
	KnowledgeBaseID string `json:"knowledge_base_id" db:"knowledge_base_id"`
	Priority        int    `json:"priority" db:"priority"`
}

// TableName returns the table name for the Agent model
func (Agent) TableName() string {
	return "agents"
}

// HasKnowledgeBases reports whether the agent can answer from retrieved context
func (a *Agent) HasKnowledgeBases() bool {
	return len(a.KnowledgeBases) > 0
}

// Namespaces returns the bound knowledge base ids in priority order
func (a *Agent) Namespaces() []string {
	namespaces := make([]string, 0, len(a.KnowledgeBases))
	for _, kb := range a.KnowledgeBases {
		namespaces = append(namespaces, kb.KnowledgeBaseID)
	}
	return namespaces
}
