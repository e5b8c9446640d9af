// Package recall implements hybrid memory retrieval: BM25 lexical ranking
// and embedding similarity fused with reciprocal rank fusion.
package recall

import (
	"context"

	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/rank"
	"github.com/a-marczewski/mnemo/internal/semantic"
)

// candidateMultiple oversamples each ranker relative to the final limit so
// fusion has distinct lists to merge.
const candidateMultiple = 3

// Engine runs hybrid retrieval over a user's valid memories.
type Engine struct {
	memories *memory.Service
	embedder semantic.Embedder // nil when semantic search is disabled
	lexical  *rank.LexicalRanker
	vectors  *rank.EmbeddingRanker
	config   *config.Config
	logger   *zap.Logger
}

// NewEngine creates a retrieval engine. embedder may be nil, in which case
// recall is lexical-only.
func NewEngine(memories *memory.Service, embedder semantic.Embedder, cfg *config.Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		memories: memories,
		embedder: embedder,
		lexical:  rank.NewLexicalRanker(cfg.BM25K1, cfg.BM25B),
		vectors:  rank.NewEmbeddingRanker(),
		config:   cfg,
		logger:   logger,
	}
}

// Query describes one retrieval request.
type Query struct {
	Text    string
	Context string // optional: restrict to one fact context
	Limit   int    // defaults to the configured recall limit
}

// Result is a retrieved memory with its fused score.
type Result struct {
	Memory *memory.Memory
	Score  float64
}

// Recall retrieves the memories most relevant to the query. Both rankers run
// over the current valid set; embedding failures degrade to lexical-only
// retrieval rather than failing the query. Each returned memory gets its
// access metadata bumped; a memory pruned between ranking and the bump is
// skipped silently.
func (e *Engine) Recall(ctx context.Context, userID string, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = e.config.RecallLimit
	}

	candidates, err := e.memories.ListMemories(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	if q.Context != "" {
		filtered := candidates[:0]
		for _, mem := range candidates {
			if mem.Context == q.Context {
				filtered = append(filtered, mem)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	perList := limit * candidateMultiple
	lists := make([][]rank.Scored, 0, 2)
	if lexical := e.lexical.Rank(q.Text, candidates, perList); len(lexical) > 0 {
		lists = append(lists, lexical)
	}

	if e.embedder != nil && q.Text != "" {
		queryVec, err := e.embedder.Embed(ctx, q.Text)
		if err != nil {
			e.logger.Warn("embedding unavailable, falling back to lexical recall",
				zap.String("user", userID), zap.Error(err))
		} else if vecs := e.vectors.Rank(queryVec, candidates, perList); len(vecs) > 0 {
			lists = append(lists, vecs)
		}
	}

	if len(lists) == 0 {
		return nil, nil
	}
	fused := rank.FuseRRF(e.config.RRFK, limit, lists...)

	results := make([]Result, 0, len(fused))
	for _, item := range fused {
		if err := e.memories.RecordAccess(ctx, userID, item.Memory.ID); err != nil {
			e.logger.Warn("failed to record access",
				zap.String("id", item.Memory.ID), zap.Error(err))
		}
		results = append(results, Result{Memory: item.Memory, Score: item.Score})
	}
	return results, nil
}
