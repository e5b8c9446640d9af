package reflect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/entity"
	"github.com/a-marczewski/mnemo/internal/llm"
	"github.com/a-marczewski/mnemo/internal/logging"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/procedural"
	"github.com/a-marczewski/mnemo/internal/temporal"
)

// summarySearchLimit caps how many memories feed one domain summary.
const summarySearchLimit = 20

// Orchestrator runs maintenance phases in a fixed order. It holds no state
// between runs; scheduling state lives in the trigger manager. At most one
// reflection runs per user at a time.
type Orchestrator struct {
	memories    *memory.Service
	validator   *temporal.Validator
	synthesizer *procedural.Synthesizer
	extractor   *entity.Extractor
	client      llm.CompletionClient // nil disables summarization
	config      *config.Config
	logger      *zap.Logger

	mu      sync.Mutex
	running map[string]*sync.Mutex
}

// NewOrchestrator wires the maintenance phases together.
func NewOrchestrator(
	memories *memory.Service,
	validator *temporal.Validator,
	synthesizer *procedural.Synthesizer,
	extractor *entity.Extractor,
	client llm.CompletionClient,
	cfg *config.Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		memories:    memories,
		validator:   validator,
		synthesizer: synthesizer,
		extractor:   extractor,
		client:      client,
		config:      cfg,
		logger:      logger,
		running:     make(map[string]*sync.Mutex),
	}
}

// Result records what one reflection pass changed. Zero counts are a normal
// outcome, not an error.
type Result struct {
	Trigger           Trigger
	Pruned            int
	Summaries         int
	RulesGenerated    int
	Invalidated       int
	Flagged           int
	EntitiesExtracted int
	Duration          time.Duration
}

// Reflect runs one maintenance pass. Phase order is fixed: consolidation
// happens at write time and is not re-run here; then decay and prune,
// summarization (weekly trigger only), procedural synthesis, temporal
// validation, and entity extraction. A store failure aborts the run but
// phases already committed keep their effects; the partial result is
// returned alongside the error.
func (o *Orchestrator) Reflect(ctx context.Context, userID string, trigger Trigger) (*Result, error) {
	lock := o.userRunLock(userID)
	lock.Lock()
	defer lock.Unlock()

	// Callers may attach a request-scoped logger to the context.
	logger := o.logger
	if l, ok := logging.LoggerFromContext(ctx); ok {
		logger = l
	}

	start := time.Now()
	result := &Result{Trigger: trigger}
	logger.Info("reflection started",
		zap.String("user", userID),
		zap.String("trigger", string(trigger.Kind)))

	pruned, err := o.memories.DecayAndPrune(ctx, userID, start)
	result.Pruned = pruned
	if err != nil {
		return result, fmt.Errorf("decay phase: %w", err)
	}

	if trigger.Kind == TriggerWeeklyMaintenance {
		summaries, err := o.summarize(ctx, userID)
		result.Summaries = summaries
		if err != nil {
			return result, fmt.Errorf("summarization phase: %w", err)
		}
	}

	rules, err := o.synthesizer.Synthesize(ctx, userID)
	result.RulesGenerated = rules
	if err != nil {
		return result, fmt.Errorf("synthesis phase: %w", err)
	}

	validation, err := o.validator.Validate(ctx, userID, time.Now())
	if validation != nil {
		result.Invalidated = validation.Invalidated
		result.Flagged = validation.Flagged
	}
	if err != nil {
		return result, fmt.Errorf("validation phase: %w", err)
	}

	extracted, err := o.extractor.Extract(ctx, userID)
	result.EntitiesExtracted = extracted
	if err != nil {
		return result, fmt.Errorf("extraction phase: %w", err)
	}

	result.Duration = time.Since(start)
	logger.Info("reflection complete",
		zap.String("user", userID),
		zap.String("trigger", string(trigger.Kind)),
		zap.Int("pruned", result.Pruned),
		zap.Int("rules", result.RulesGenerated),
		zap.Int("invalidated", result.Invalidated),
		zap.Int("entities", result.EntitiesExtracted),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// summarize writes one CommunitySummary per tracked domain with enough
// recent matching memories. Completion failures skip the domain; only store
// failures abort.
func (o *Orchestrator) summarize(ctx context.Context, userID string) (int, error) {
	if o.client == nil {
		return 0, nil
	}
	written := 0
	for _, domain := range o.config.TrackedDomains {
		hits, err := o.memories.SearchMemories(ctx, userID, domain, summarySearchLimit)
		if err != nil {
			return written, err
		}
		if len(hits) < o.config.SummaryMinMemories {
			continue
		}
		var facts strings.Builder
		for _, mem := range hits {
			fmt.Fprintf(&facts, "- %s\n", mem.Content)
		}
		resp, err := o.client.Complete(ctx, userID, llm.Request{
			Operation: "summarization",
			Messages: []llm.Message{
				{Role: "system", Content: fmt.Sprintf("Summarize what is known about the user's %s in 2-3 sentences.", domain)},
				{Role: "user", Content: facts.String()},
			},
			MaxTokens: 200,
		})
		if err != nil {
			o.logger.Warn("domain summary skipped",
				zap.String("domain", domain), zap.Error(err))
			continue
		}
		summary := &memory.CommunitySummary{
			Domain:      domain,
			Summary:     strings.TrimSpace(resp.Content),
			MemoryCount: len(hits),
		}
		if err := o.memories.SaveSummary(ctx, userID, summary); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (o *Orchestrator) userRunLock(userID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.running[userID]
	if !ok {
		lock = &sync.Mutex{}
		o.running[userID] = lock
	}
	return lock
}
