package rag

import (
	"regexp"
	"strings"
)

// MaxExpansions bounds the number of phrasings Expand returns, original included.
const MaxExpansions = 4

// expansionRule appends phrasings when its pattern matches the query.
type expansionRule struct {
	pattern   *regexp.Regexp
	phrasings []string
}

// Trigger vocabulary, checked in order.
var expansionRules = []expansionRule{
	{
		pattern:   regexp.MustCompile(`(?i)\b(order|orders|purchase|package|delivery|shipping|shipment|tracking)\b`),
		phrasings: []string{"order status and tracking", "shipping and delivery times"},
	},
	{
		pattern:   regexp.MustCompile(`(?i)\b(refund|refunds|return|returns|money back|reimburse|chargeback)\b`),
		phrasings: []string{"refund policy", "how to return an item"},
	},
	{
		pattern:   regexp.MustCompile(`(?i)\b(price|prices|pricing|cost|costs|plan|plans|subscription|fee|fees|billing)\b`),
		phrasings: []string{"pricing plans", "billing and subscription fees"},
	},
	{
		pattern:   regexp.MustCompile(`(?i)\b(login|log in|password|account|sign in)\b`),
		phrasings: []string{"account access help", "reset password"},
	},
}

// Expand returns up to MaxExpansions distinct phrasings of query. The trimmed
// query is always first; whitespace-only input yields an empty slice.
func Expand(query string) []string {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return []string{}
	}

	out := []string{trimmed}
	seen := map[string]struct{}{strings.ToLower(trimmed): {}}

	for _, rule := range expansionRules {
		if !rule.pattern.MatchString(trimmed) {
			continue
		}
		for _, phrasing := range rule.phrasings {
			if len(out) == MaxExpansions {
				return out
			}
			key := strings.ToLower(phrasing)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, phrasing)
		}
	}
	return out
}
