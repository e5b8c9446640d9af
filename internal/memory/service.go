package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/store"
)

// accessBoost is the strength reinforcement applied on each retrieval hit.
const accessBoost = 0.1

// initialStrength seeds new memories; strength then rises with access and
// decays with disuse.
const initialStrength = 0.5

// Service is the memory lifecycle manager: it owns creation, reconciliation,
// decay and pruning of per-user memories, and typed access to the other
// record kinds.
type Service struct {
	store  store.Store
	config *config.Config
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewService creates a lifecycle service over the given store.
func NewService(st store.Store, cfg *config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		config: cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Observation is a single atomic fact submitted for storage.
type Observation struct {
	Content     string
	Context     string
	FactKey     string
	Strength    float64 // evidence strength in [0,1]; defaults to 0.7
	Source      string
	PrivacyTier PrivacyTier
	Embedding   []float32
}

// Remember stores an observation. When a valid memory with the same fact key
// exists in the same context, the observation reconciles against it instead
// of creating a duplicate: a matching value reinforces confidence, a
// different value weakens the existing memory and records contradicting
// provenance before a new memory is created for the new value.
func (s *Service) Remember(ctx context.Context, userID string, obs Observation) (*Memory, error) {
	if obs.Content == "" {
		return nil, fmt.Errorf("observation content is empty")
	}
	if obs.Strength <= 0 || obs.Strength > 1 {
		obs.Strength = 0.7
	}
	if obs.PrivacyTier == "" {
		obs.PrivacyTier = TierSensitive
	}

	if obs.FactKey != "" {
		existing, err := s.findByFactKey(ctx, userID, obs.Context, obs.FactKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if NormalizeValue(existing.Content) == NormalizeValue(obs.Content) {
				return s.reinforce(ctx, userID, existing, obs)
			}
			if err := s.weaken(ctx, userID, existing, obs); err != nil {
				return nil, err
			}
		}
	}

	now := time.Now()
	mem := &Memory{
		ID:            uuid.NewString(),
		Content:       obs.Content,
		Context:       obs.Context,
		FactKey:       obs.FactKey,
		Confidence:    obs.Strength, // first observation seeds confidence directly
		Strength:      initialStrength,
		ValidAt:       now,
		CreatedAt:     now,
		LastAccessed:  now,
		LastValidated: now,
		EvidenceCount: 1,
		PrivacyTier:   obs.PrivacyTier,
		Embedding:     obs.Embedding,
	}
	if obs.Source != "" {
		mem.Sources = []string{obs.Source}
	}
	if err := s.putMemory(ctx, userID, mem); err != nil {
		return nil, err
	}
	s.logger.Debug("memory created",
		zap.String("user", userID),
		zap.String("id", mem.ID),
		zap.String("context", mem.Context))
	return mem, nil
}

// reinforce applies the reconciliation update for a repeated observation.
// Confidence approaches but never reaches 1.0.
func (s *Service) reinforce(ctx context.Context, userID string, mem *Memory, obs Observation) (*Memory, error) {
	rs := s.recallStrength()
	mem.Confidence = mem.Confidence + (1-mem.Confidence)*rs
	mem.Strength = mem.Strength + (1-mem.Strength)*rs
	mem.EvidenceCount++
	mem.LastValidated = time.Now()
	mem.FlaggedForReview = false
	if obs.Source != "" {
		mem.Sources = appendBounded(mem.Sources, obs.Source, s.config.ProvenanceWindow)
	}
	if mem.Embedding == nil && obs.Embedding != nil {
		mem.Embedding = obs.Embedding
	}
	if err := s.putMemory(ctx, userID, mem); err != nil {
		return nil, err
	}
	s.logger.Debug("memory reinforced",
		zap.String("user", userID),
		zap.String("id", mem.ID),
		zap.Float64("confidence", mem.Confidence))
	return mem, nil
}

// weaken reduces confidence on a contradicted memory and records the
// contradicting source. The temporal validator resolves the pair later.
func (s *Service) weaken(ctx context.Context, userID string, mem *Memory, obs Observation) error {
	mem.Confidence = mem.Confidence * (1 - obs.Strength*s.config.ContradictionStrength)
	if obs.Source != "" {
		mem.Contradicting = appendBounded(mem.Contradicting, obs.Source, s.config.ProvenanceWindow)
	}
	return s.putMemory(ctx, userID, mem)
}

// recallStrength draws a reinforcement factor from the configured band.
func (s *Service) recallStrength() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := s.config.RecallStrengthMax - s.config.RecallStrengthMin
	return s.config.RecallStrengthMin + s.rng.Float64()*span
}

// RecordAccess bumps access metadata after a retrieval hit. A missing memory
// is not an error: it may have been pruned by a concurrent reflection run.
func (s *Service) RecordAccess(ctx context.Context, userID, memoryID string) error {
	mem, err := s.GetMemory(ctx, userID, memoryID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if !mem.Valid() {
		return nil
	}
	mem.AccessCount++
	mem.LastAccessed = time.Now()
	mem.Strength = mem.Strength + (1-mem.Strength)*accessBoost
	return s.putMemory(ctx, userID, mem)
}

// Invalidate marks a memory as superseded. Invalidated memories are immutable
// afterwards except for provenance appends, so a second call is a no-op.
func (s *Service) Invalidate(ctx context.Context, userID, memoryID, reason string) error {
	mem, err := s.GetMemory(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if !mem.Valid() {
		return nil
	}
	now := time.Now()
	mem.InvalidAt = &now
	mem.InvalidReason = reason
	return s.putMemory(ctx, userID, mem)
}

// EffectiveStrength computes the decayed strength at the given instant without
// mutating stored state. Corrupt records (zero timestamps) are treated as not
// stale.
func (s *Service) EffectiveStrength(mem *Memory, now time.Time) float64 {
	if mem.LastAccessed.IsZero() {
		return mem.Strength
	}
	age := now.Sub(mem.LastAccessed)
	if age <= 0 {
		return mem.Strength
	}
	lambda := math.Ln2 / s.config.StrengthHalfLife.Seconds()
	return mem.Strength * math.Exp(-lambda*age.Seconds())
}

// EffectiveConfidence applies staleness-driven confidence decay (1% per week
// since last validation by default) without mutating stored state.
func (s *Service) EffectiveConfidence(mem *Memory, now time.Time) float64 {
	if mem.LastValidated.IsZero() {
		return mem.Confidence
	}
	days := now.Sub(mem.LastValidated).Hours() / 24
	if days <= 0 {
		return mem.Confidence
	}
	decay := s.config.ConfidenceDecayWeekly * (days / 7)
	c := mem.Confidence * (1 - decay)
	if c < 0 {
		return 0
	}
	return c
}

// DecayAndPrune removes low-value memories: effective strength and confidence
// under their floors with at most PruneMaxAccess accesses. Decay is computed
// from stored timestamps rather than persisted, so running the phase twice
// with no new writes prunes nothing further. Returns the prune count.
func (s *Service) DecayAndPrune(ctx context.Context, userID string, now time.Time) (int, error) {
	memories, err := s.ListMemories(ctx, userID, true)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, mem := range memories {
		if !mem.Valid() {
			continue
		}
		// Corrupt records are kept: without timestamps they cannot be scored
		// for staleness.
		if mem.LastAccessed.IsZero() || mem.CreatedAt.IsZero() {
			continue
		}
		strength := s.EffectiveStrength(mem, now)
		confidence := s.EffectiveConfidence(mem, now)
		if strength < s.config.StrengthFloor &&
			confidence < s.config.ConfidenceFloor &&
			mem.AccessCount <= s.config.PruneMaxAccess {
			if err := s.deleteMemory(ctx, userID, mem.ID); err != nil {
				return pruned, err
			}
			pruned++
		}
	}

	if pruned > 0 {
		s.logger.Info("pruned memories",
			zap.String("user", userID),
			zap.Int("count", pruned))
	}
	return pruned, nil
}

// GetMemory loads one memory. Returns store.ErrNotFound when absent.
func (s *Service) GetMemory(ctx context.Context, userID, memoryID string) (*Memory, error) {
	data, err := s.store.Get(ctx, store.Namespace(userID, store.KindMemories), memoryID)
	if err != nil {
		return nil, err
	}
	return decodeMemory(data)
}

// ListMemories returns all memories for the user. With includeAll false,
// invalidated memories are filtered out.
func (s *Service) ListMemories(ctx context.Context, userID string, includeAll bool) ([]*Memory, error) {
	items, err := s.store.List(ctx, store.Namespace(userID, store.KindMemories))
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	memories := make([]*Memory, 0, len(items))
	for _, it := range items {
		mem, err := decodeMemory(it.Value)
		if err != nil {
			// Malformed persisted data is skipped for retrieval but never
			// fails the listing.
			s.logger.Warn("skipping malformed memory record",
				zap.String("key", it.Key), zap.Error(err))
			continue
		}
		if !includeAll && !mem.Valid() {
			continue
		}
		memories = append(memories, mem)
	}
	return memories, nil
}

// SearchMemories runs the store's lexical search and decodes valid hits.
func (s *Service) SearchMemories(ctx context.Context, userID, query string, limit int) ([]*Memory, error) {
	items, err := s.store.Search(ctx, store.Namespace(userID, store.KindMemories), query, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	memories := make([]*Memory, 0, len(items))
	for _, it := range items {
		mem, err := decodeMemory(it.Value)
		if err != nil || !mem.Valid() {
			continue
		}
		memories = append(memories, mem)
	}
	return memories, nil
}

// MarkEntitiesExtracted flags a memory as processed by the entity extractor.
func (s *Service) MarkEntitiesExtracted(ctx context.Context, userID, memoryID string) error {
	mem, err := s.GetMemory(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	mem.EntitiesExtracted = true
	return s.putMemory(ctx, userID, mem)
}

// FlagForReview marks a volatile-context memory as needing re-verification.
func (s *Service) FlagForReview(ctx context.Context, userID, memoryID string) error {
	mem, err := s.GetMemory(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if mem.FlaggedForReview {
		return nil
	}
	mem.FlaggedForReview = true
	return s.putMemory(ctx, userID, mem)
}

func (s *Service) findByFactKey(ctx context.Context, userID, context_, factKey string) (*Memory, error) {
	memories, err := s.ListMemories(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	for _, mem := range memories {
		if mem.FactKey == factKey && mem.Context == context_ {
			return mem, nil
		}
	}
	return nil, nil
}

func (s *Service) putMemory(ctx context.Context, userID string, mem *Memory) error {
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode memory %s: %w", mem.ID, err)
	}
	if err := s.store.Put(ctx, store.Namespace(userID, store.KindMemories), mem.ID, data); err != nil {
		return fmt.Errorf("store memory %s: %w", mem.ID, err)
	}
	return nil
}

func (s *Service) deleteMemory(ctx context.Context, userID, memoryID string) error {
	if err := s.store.Delete(ctx, store.Namespace(userID, store.KindMemories), memoryID); err != nil {
		return fmt.Errorf("delete memory %s: %w", memoryID, err)
	}
	return nil
}

func decodeMemory(data []byte) (*Memory, error) {
	var mem Memory
	if err := json.Unmarshal(data, &mem); err != nil {
		return nil, fmt.Errorf("decode memory: %w", err)
	}
	// Non-numeric confidence in hand-edited records decodes as NaN via
	// math.NaN-producing paths upstream; clamp to a weak default instead of
	// propagating.
	if math.IsNaN(mem.Confidence) || mem.Confidence < 0 || mem.Confidence > 1 {
		mem.Confidence = 0
	}
	return &mem, nil
}

func appendBounded(list []string, item string, window int) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	list = append(list, item)
	if window > 0 && len(list) > window+1 {
		list = list[len(list)-window-1:]
	}
	return list
}
