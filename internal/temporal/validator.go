// Package temporal detects and resolves contradictions between memories that
// describe the same aspect of the user's life at different times. The newer
// statement wins: older contradicted memories are invalidated with a reason
// pointing at their successor.
package temporal

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/rank"
)

// supersededPrefixLen bounds how much of the newer statement is quoted in the
// invalidation reason.
const supersededPrefixLen = 80

// negationPatterns mark a statement as revoking an earlier one when it shares
// enough vocabulary with it.
var negationPatterns = []string{
	"no longer", "not anymore", "used to", "stopped", "quit", "moved away from",
}

// attributePattern matches statements of the form "favorite color is blue" or
// "preferred airline is KLM", capturing the attribute and the value.
var attributePattern = regexp.MustCompile(`(?i)\b(?:favorite|favourite|preferred)\s+([a-z ]+?)\s+is\s+(.+)$`)

// Validator scans a user's fact base for temporal contradictions.
type Validator struct {
	memories *memory.Service
	config   *config.Config
	logger   *zap.Logger
}

// NewValidator creates a temporal validator.
func NewValidator(memories *memory.Service, cfg *config.Config, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{memories: memories, config: cfg, logger: logger}
}

// Result reports what one validation pass changed.
type Result struct {
	Invalidated int
	Flagged     int
}

// Validate runs one pass: memories are grouped by context, each group is
// ordered newest-first by validity time, and every older memory contradicted
// by a newer one is invalidated. Memories in volatile contexts that have not
// been validated within the staleness horizon are flagged for review instead
// of invalidated. A second pass over unchanged data is a no-op.
func (v *Validator) Validate(ctx context.Context, userID string, now time.Time) (*Result, error) {
	memories, err := v.memories.ListMemories(ctx, userID, false)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*memory.Memory)
	for _, mem := range memories {
		groups[mem.Context] = append(groups[mem.Context], mem)
	}

	result := &Result{}
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].ValidAt.After(group[j].ValidAt)
		})
		for i, newer := range group {
			if !newer.Valid() {
				continue
			}
			for _, older := range group[i+1:] {
				if !older.Valid() || newer.ID == older.ID {
					continue
				}
				if !contradicts(newer, older) {
					continue
				}
				reason := "superseded by: " + prefix(newer.Content, supersededPrefixLen)
				if err := v.memories.Invalidate(ctx, userID, older.ID, reason); err != nil {
					return result, fmt.Errorf("invalidate %s: %w", older.ID, err)
				}
				older.InvalidAt = &now // keep the in-memory view consistent
				result.Invalidated++
				v.logger.Info("invalidated contradicted memory",
					zap.String("user", userID),
					zap.String("old", older.ID),
					zap.String("new", newer.ID))
			}
		}
	}

	flagged, err := v.flagStale(ctx, userID, memories, now)
	if err != nil {
		return result, err
	}
	result.Flagged = flagged
	return result, nil
}

// flagStale marks volatile-context memories past the staleness horizon for
// re-verification. They stay retrievable; staleness alone is not evidence of
// falsehood.
func (v *Validator) flagStale(ctx context.Context, userID string, memories []*memory.Memory, now time.Time) (int, error) {
	horizon := now.AddDate(0, 0, -v.config.StaleAfterDays)
	flagged := 0
	for _, mem := range memories {
		if !mem.Valid() || mem.FlaggedForReview {
			continue
		}
		if !v.isVolatile(mem.Context) {
			continue
		}
		if mem.LastValidated.IsZero() || !mem.LastValidated.Before(horizon) {
			continue
		}
		if err := v.memories.FlagForReview(ctx, userID, mem.ID); err != nil {
			return flagged, err
		}
		flagged++
	}
	return flagged, nil
}

func (v *Validator) isVolatile(context string) bool {
	for _, volatile := range v.config.VolatileContexts {
		if context == volatile {
			return true
		}
	}
	return false
}

// contradicts reports whether the newer statement supersedes the older one.
func contradicts(newer, older *memory.Memory) bool {
	// Same fact key with a different value is the strongest signal.
	if newer.FactKey != "" && newer.FactKey == older.FactKey {
		return memory.NormalizeValue(newer.Content) != memory.NormalizeValue(older.Content)
	}

	// "favorite X is Y" against "favorite X is Z".
	if attr, val, ok := parseAttribute(newer.Content); ok {
		if oldAttr, oldVal, ok := parseAttribute(older.Content); ok && attr == oldAttr {
			return val != oldVal
		}
	}

	// A negated restatement: "no longer works at Acme" vs "works at Acme".
	lowerNewer := strings.ToLower(newer.Content)
	for _, pattern := range negationPatterns {
		if strings.Contains(lowerNewer, pattern) && sharesSubject(newer.Content, older.Content) {
			return true
		}
	}
	return false
}

// parseAttribute extracts the attribute/value pair from preference statements.
func parseAttribute(content string) (attr, value string, ok bool) {
	match := attributePattern.FindStringSubmatch(content)
	if match == nil {
		return "", "", false
	}
	return memory.NormalizeValue(match[1]), memory.NormalizeValue(match[2]), true
}

// sharesSubject checks token overlap between two statements, ignoring the
// negation vocabulary itself and short function words.
func sharesSubject(a, b string) bool {
	skip := map[string]bool{
		"no": true, "longer": true, "not": true, "anymore": true, "used": true,
		"to": true, "stopped": true, "quit": true, "the": true, "a": true,
		"an": true, "is": true, "at": true, "in": true, "of": true,
	}
	tokensA := make(map[string]bool)
	for _, tok := range rank.Tokenize(a) {
		if !skip[tok] {
			tokensA[tok] = true
		}
	}
	shared := 0
	for _, tok := range rank.Tokenize(b) {
		if tokensA[tok] && !skip[tok] {
			shared++
		}
	}
	return shared >= 2
}

// prefix truncates on a rune boundary so the cut never splits a multi-byte
// character.
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
