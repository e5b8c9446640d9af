// Package assemble builds the memory context block injected into downstream
// agent prompts: relevant facts with confidence, recent episodes for the
// agent type as few-shot examples, and active behavioral rules.
package assemble

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/recall"
	"github.com/a-marczewski/mnemo/internal/tokens"
)

// Assembler composes prompt context from the memory subsystems.
type Assembler struct {
	memories *memory.Service
	recall   *recall.Engine
	config   *config.Config
	logger   *zap.Logger
}

// NewAssembler creates a context assembler.
func NewAssembler(memories *memory.Service, engine *recall.Engine, cfg *config.Config, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{memories: memories, recall: engine, config: cfg, logger: logger}
}

// Request describes what context to assemble.
type Request struct {
	Query        string
	AgentType    string
	MemoryLimit  int // defaults to config recall limit
	EpisodeLimit int // defaults to config episode examples
	MaxTokens    int // defaults to config context budget
}

// Context is the assembled block plus its parts for callers that want
// structure instead of text.
type Context struct {
	UserID   string
	Memories []recall.Result
	Episodes []*memory.Episode
	Rules    []*memory.ProceduralRule
}

// Stats summarizes an assembled context.
type Stats struct {
	Memories        int
	Episodes        int
	Rules           int
	EstimatedTokens int
}

// Assemble gathers memories, episodes and rules for one request. When the
// rendered block exceeds the token budget, the lowest-ranked memories are
// dropped first; episodes and rules are kept intact because they are already
// capped at small counts.
func (a *Assembler) Assemble(ctx context.Context, userID string, req Request) (*Context, error) {
	memoryLimit := req.MemoryLimit
	if memoryLimit <= 0 {
		memoryLimit = a.config.RecallLimit
	}
	episodeLimit := req.EpisodeLimit
	if episodeLimit <= 0 {
		episodeLimit = a.config.EpisodeExamples
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.config.ContextMaxTokens
	}

	out := &Context{UserID: userID}

	results, err := a.recall.Recall(ctx, userID, recall.Query{Text: req.Query, Limit: memoryLimit})
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	out.Memories = results

	if req.AgentType != "" {
		episodes, err := a.memories.RecentEpisodes(ctx, userID, req.AgentType, episodeLimit)
		if err != nil {
			return nil, fmt.Errorf("episodes: %w", err)
		}
		out.Episodes = episodes

		rules, err := a.memories.ActiveRules(ctx, userID, req.AgentType)
		if err != nil {
			return nil, fmt.Errorf("rules: %w", err)
		}
		out.Rules = rules
	}

	for len(out.Memories) > 0 && tokens.Count(out.Render()) > maxTokens {
		out.Memories = out.Memories[:len(out.Memories)-1]
	}
	return out, nil
}

// Render formats the context as prompt text. Empty sections are omitted; an
// entirely empty context renders as an empty string.
func (c *Context) Render() string {
	var b strings.Builder

	if len(c.Memories) > 0 {
		b.WriteString("Known facts about the user:\n")
		for _, r := range c.Memories {
			fmt.Fprintf(&b, "- %s (confidence %.0f%%)\n", r.Memory.Content, r.Memory.Confidence*100)
		}
	}
	if len(c.Episodes) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Recent interactions:\n")
		for _, ep := range c.Episodes {
			fmt.Fprintf(&b, "- [%s] %s -> %s (%s)\n", ep.Timestamp.Format("2006-01-02"), ep.Situation, ep.Action, ep.Outcome)
		}
	}
	if len(c.Rules) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Behavioral rules:\n")
		for _, rule := range c.Rules {
			fmt.Fprintf(&b, "- %s\n", rule.Rule)
		}
	}
	return b.String()
}

// Stats returns counts and the estimated token length of the rendered block.
func (c *Context) Stats() Stats {
	return Stats{
		Memories:        len(c.Memories),
		Episodes:        len(c.Episodes),
		Rules:           len(c.Rules),
		EstimatedTokens: tokens.Count(c.Render()),
	}
}
