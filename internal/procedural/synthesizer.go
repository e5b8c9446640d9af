// Package procedural mines episodic history for recurring behaviors and
// distills them into rules agents can follow. Rule text is generated from a
// deterministic template; a language model may polish the phrasing, but a
// polish failure never blocks synthesis.
package procedural

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/llm"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/rank"
)

// Synthesizer derives procedural rules from episodes.
type Synthesizer struct {
	memories *memory.Service
	client   llm.CompletionClient // nil disables phrasing polish
	config   *config.Config
	logger   *zap.Logger
}

// NewSynthesizer creates a rule synthesizer. client may be nil.
func NewSynthesizer(memories *memory.Service, client llm.CompletionClient, cfg *config.Config, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{memories: memories, client: client, config: cfg, logger: logger}
}

type pattern struct {
	agentType string
	action    string
	successes int
	failures  int
	episodes  []string
}

func (p *pattern) total() int { return p.successes + p.failures }

func (p *pattern) key() string {
	return p.agentType + "|" + normalizeAction(p.action)
}

// Synthesize mines the user's episodes for action patterns that recur at
// least the configured minimum number of times with a sufficient success
// ratio, and saves or refreshes one rule per pattern. Returns how many rules
// were created or updated.
func (s *Synthesizer) Synthesize(ctx context.Context, userID string) (int, error) {
	episodes, err := s.memories.ListEpisodes(ctx, userID)
	if err != nil {
		return 0, err
	}

	patterns := make(map[string]*pattern)
	for _, ep := range episodes {
		if ep.Action == "" {
			continue
		}
		key := ep.AgentType + "|" + normalizeAction(ep.Action)
		p, ok := patterns[key]
		if !ok {
			p = &pattern{agentType: ep.AgentType, action: ep.Action}
			patterns[key] = p
		}
		if ep.Outcome == memory.OutcomeSuccess {
			p.successes++
		} else {
			p.failures++
		}
		p.episodes = append(p.episodes, ep.ID)
	}

	existing, err := s.memories.ListRules(ctx, userID)
	if err != nil {
		return 0, err
	}
	byPattern := make(map[string]*memory.ProceduralRule, len(existing))
	for _, rule := range existing {
		if rule.Pattern != "" {
			byPattern[rule.Pattern] = rule
		}
	}

	changed := 0
	for _, p := range patterns {
		if p.total() < s.config.RuleMinSupport {
			continue
		}
		ratio := float64(p.successes) / float64(p.total())
		if ratio < s.config.RuleSuccessRatio {
			continue
		}
		confidence := ruleConfidence(ratio, p.total())

		if rule, ok := byPattern[p.key()]; ok {
			// Refresh support and confidence; keep the (possibly polished)
			// phrasing.
			rule.Confidence = confidence
			rule.DerivedFrom = p.episodes
			rule.LastValidated = time.Now()
			if err := s.memories.SaveRule(ctx, userID, rule); err != nil {
				return changed, err
			}
			changed++
			continue
		}

		text := fmt.Sprintf("When handling %s tasks, %s (worked in %d of %d cases)",
			p.agentType, p.action, p.successes, p.total())
		text = s.polish(ctx, userID, text)

		rule := &memory.ProceduralRule{
			AgentType:     p.agentType,
			Pattern:       p.key(),
			Rule:          text,
			Confidence:    confidence,
			DerivedFrom:   p.episodes,
			CreatedAt:     time.Now(),
			LastValidated: time.Now(),
		}
		if err := s.memories.SaveRule(ctx, userID, rule); err != nil {
			return changed, err
		}
		changed++
		s.logger.Info("synthesized rule",
			zap.String("user", userID),
			zap.String("agent_type", p.agentType),
			zap.Int("support", p.total()))
	}
	return changed, nil
}

// polish asks the model to rephrase the templated rule as one imperative
// sentence. Any failure returns the template unchanged.
func (s *Synthesizer) polish(ctx context.Context, userID, text string) string {
	if s.client == nil {
		return text
	}
	resp, err := s.client.Complete(ctx, userID, llm.Request{
		Operation: "rule_synthesis",
		Messages: []llm.Message{
			{Role: "system", Content: "Rephrase the given behavioral observation as a single imperative rule. Reply with the rule only."},
			{Role: "user", Content: text},
		},
		MaxTokens:   100,
		Temperature: 0.2,
	})
	if err != nil {
		s.logger.Warn("rule polish failed, keeping template", zap.Error(err))
		return text
	}
	polished := strings.TrimSpace(resp.Content)
	if polished == "" || strings.Contains(polished, "\n") {
		return text
	}
	return polished
}

// ruleConfidence grows with the success ratio and with support, approaching
// the ratio asymptotically as evidence accumulates.
func ruleConfidence(ratio float64, support int) float64 {
	return ratio * (1 - 1/float64(support+1))
}

// normalizeAction reduces an action description to its token sequence so
// trivial punctuation or casing differences group together.
func normalizeAction(action string) string {
	return strings.Join(rank.Tokenize(action), " ")
}
