package rag

import (
	"fmt"
	"math"
	"strings"

	"github.com/upb/answer-engine/models"
)

const defaultPersona = "You are a helpful support assistant."

var behaviorRules = []string{
	"Always answer in the same language as the user's question.",
	"When you use information from the context, cite it as [Source N].",
	"If the context does not contain the answer, say you are not sure instead of guessing.",
}

// BuildSystemPrompt composes the system prompt for an agent. Sections are
// separated by blank lines; the context section is omitted when empty.
func BuildSystemPrompt(agent *models.Agent, context string) string {
	var sections []string

	persona := strings.TrimSpace(agent.SystemPrompt)
	if persona == "" {
		persona = defaultPersona
	}
	if agent.Tone != "" {
		persona += fmt.Sprintf(" Respond in a %s tone.", agent.Tone)
	}
	sections = append(sections, persona)

	if instructions := strings.TrimSpace(agent.CustomInstructions); instructions != "" {
		sections = append(sections, "Additional instructions:\n"+instructions)
	}

	if context != "" {
		sections = append(sections, "Use the following context to answer the question:\n\n"+context)
	}

	sections = append(sections, "Rules:\n- "+strings.Join(behaviorRules, "\n- "))

	if agent.AutoEscalate {
		sections = append(sections, fmt.Sprintf(
			"If your confidence in the answer is below %d%%, tell the user you will escalate the question to a human agent.",
			thresholdPercent(agent.ConfidenceThreshold),
		))
	}

	return strings.Join(sections, "\n\n")
}

func thresholdPercent(threshold float64) int {
	return int(math.Round(threshold * 100))
}
