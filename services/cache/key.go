package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

const (
	// KeyPrefix namespaces answer cache keys in shared stores
	KeyPrefix = "rag:"

	keyHashLength = 16
)

// Key derives the cache key for an answer request. Each component is length
// prefixed so that no two distinct tuples share a pre-image.
func Key(agentID, query string, topK int, minScore float64) string {
	score := strconv.FormatFloat(minScore, 'f', -1, 64)
	tuple := fmt.Sprintf("%d:%s|%d:%s|%d|%s", len(agentID), agentID, len(query), query, topK, score)

	sum := sha256.Sum256([]byte(tuple))
	return KeyPrefix + hex.EncodeToString(sum[:])[:keyHashLength]
}
