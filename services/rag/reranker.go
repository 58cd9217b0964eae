package rag

import (
	"regexp"
	"sort"
)

const (
	// UrgencyBonus is added to every candidate score when the query reads as urgent.
	UrgencyBonus = 0.03

	maxScore = 1.0
)

var urgencyPattern = regexp.MustCompile(`(?i)\b(urgent|urgently|asap|emergency|immediately|right now|critical|not working|broken)\b`)

// IsUrgent reports whether the query matches the urgency vocabulary.
func IsUrgent(query string) bool {
	return urgencyPattern.MatchString(query)
}

// Rerank merges candidates from all namespaces and returns at most topK of
// them with score >= minScore, best first. Duplicate chunk ids keep their
// highest score. Ties are broken by chunk id so the output is deterministic.
// The input slice is not modified.
func Rerank(query string, candidates []Candidate, topK int, minScore float64) []Candidate {
	bonus := 0.0
	if IsUrgent(query) {
		bonus = UrgencyBonus
	}

	best := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		score := clampScore(c.Score + bonus)
		if prev, ok := best[c.ChunkID]; !ok || score > prev {
			best[c.ChunkID] = score
		}
	}

	ranked := make([]Candidate, 0, len(best))
	for id, score := range best {
		if score >= minScore {
			ranked = append(ranked, Candidate{ChunkID: id, Score: score})
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ChunkID < ranked[j].ChunkID
	})

	if topK >= 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

func clampScore(s float64) float64 {
	if s > maxScore {
		return maxScore
	}
	if s < 0 {
		return 0
	}
	return s
}
