// Package rank scores retrieval candidates. It provides a lexical BM25
// ranker, a cosine-similarity embedding ranker, and reciprocal rank fusion
// to merge their result lists.
package rank

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/a-marczewski/mnemo/internal/memory"
)

// Scored pairs a memory with a ranking score. Lists are always ordered by
// descending score.
type Scored struct {
	Memory *memory.Memory
	Score  float64
}

// LexicalRanker scores candidates with BM25 computed over the candidate set
// itself. Document frequencies are per-query, not a persistent index; at
// per-user corpus sizes a full pass is cheaper than maintaining one.
type LexicalRanker struct {
	k1 float64
	b  float64
}

// NewLexicalRanker returns a BM25 ranker with the given parameters.
func NewLexicalRanker(k1, b float64) *LexicalRanker {
	return &LexicalRanker{k1: k1, b: b}
}

// Rank scores candidates against the query. Candidates sharing no term with
// the query are excluded rather than returned with zero scores. An empty
// query yields an empty result.
func (r *LexicalRanker) Rank(query string, candidates []*memory.Memory, limit int) []Scored {
	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 || len(candidates) == 0 {
		return nil
	}

	docs := make([][]string, len(candidates))
	totalLen := 0
	for i, mem := range candidates {
		docs[i] = Tokenize(mem.Content)
		totalLen += len(docs[i])
	}
	avgLen := float64(totalLen) / float64(len(candidates))
	if avgLen == 0 {
		return nil
	}

	// Document frequency per query term over the candidate set.
	df := make(map[string]int, len(queryTerms))
	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, term := range doc {
			seen[term] = true
		}
		for _, term := range queryTerms {
			if seen[term] {
				df[term]++
			}
		}
	}

	n := float64(len(candidates))
	scored := make([]Scored, 0, len(candidates))
	for i, mem := range candidates {
		tf := make(map[string]int, len(docs[i]))
		for _, term := range docs[i] {
			tf[term]++
		}
		score := 0.0
		for _, term := range queryTerms {
			freq := float64(tf[term])
			if freq == 0 {
				continue
			}
			idf := math.Log((n-float64(df[term])+0.5)/(float64(df[term])+0.5) + 1.0)
			norm := freq * (r.k1 + 1) /
				(freq + r.k1*(1-r.b+r.b*float64(len(docs[i]))/avgLen))
			score += idf * norm
		}
		if score > 0 {
			scored = append(scored, Scored{Memory: mem, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Tokenize lower-cases the text and splits it on any non-alphanumeric rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
