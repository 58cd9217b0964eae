package rag

import (
	"context"
	"sync"

	"github.com/upb/answer-engine/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// searchNamespaces issues one search per namespace concurrently and merges
// the results. A failing namespace is logged and contributes no candidates;
// this function never returns an error of its own.
func (s *Service) searchNamespaces(ctx context.Context, vector []float32, namespaces []string, perNamespace int) []Candidate {
	var (
		mu     sync.Mutex
		merged []Candidate
	)

	// Tasks never return errors, so one failure cannot cancel its siblings.
	var g errgroup.Group
	for _, ns := range namespaces {
		ns := ns
		g.Go(func() error {
			found, err := s.index.Search(ctx, vector, SearchOptions{TopK: perNamespace, Namespace: ns})
			if err != nil {
				s.logger.Warn("namespace search failed",
					append(observability.ContextFields(ctx),
						zap.String("namespace", ns),
						zap.Error(err),
					)...)
				s.metrics.RecordSearchFailure(ctx, ns)
				return nil
			}

			mu.Lock()
			merged = append(merged, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return merged
}
