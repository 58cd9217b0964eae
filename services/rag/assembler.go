package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/upb/answer-engine/models"
)

// assembleContext fetches the bodies of ranked candidates in one batch and
// renders them as cited blocks. Candidates whose chunk is missing from the
// store are dropped, so a source is never emitted without content.
func assembleContext(ctx context.Context, store ChunkStore, ranked []Candidate) (*RetrievalResult, error) {
	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ChunkID
	}

	chunks, err := store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}

	byID := make(map[string]models.Chunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
	}

	sources := make([]Source, 0, len(ranked))
	for _, c := range ranked {
		chunk, ok := byID[c.ChunkID]
		if !ok {
			continue
		}
		sources = append(sources, Source{
			ChunkID:       c.ChunkID,
			Content:       chunk.Content,
			Score:         c.Score,
			DocumentTitle: chunk.DocumentTitle,
			SourceURL:     chunk.SourceURL,
		})
	}

	return &RetrievalResult{
		Context: RenderContext(sources),
		Sources: sources,
	}, nil
}

// RenderContext formats sources as "[Source <rank>: <title>]\n<content>"
// blocks joined by newlines. Ranks start at 1.
func RenderContext(sources []Source) string {
	blocks := make([]string, len(sources))
	for i, src := range sources {
		blocks[i] = fmt.Sprintf("[Source %d: %s]\n%s", i+1, src.DocumentTitle, src.Content)
	}
	return strings.Join(blocks, "\n")
}
