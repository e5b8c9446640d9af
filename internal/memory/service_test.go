package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/store"
)

func newTestService() (*Service, store.Store) {
	st := store.NewMemoryStore()
	return NewService(st, config.Default(), zap.NewNop()), st
}

func TestRememberCreatesMemory(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	mem, err := svc.Remember(ctx, "user-1", Observation{
		Content:  "favorite color is blue",
		Context:  "preferences",
		FactKey:  "favorite_color",
		Strength: 0.8,
		Source:   "episode-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, mem.ID)
	assert.InDelta(t, 0.8, mem.Confidence, 1e-9)
	assert.Equal(t, 1, mem.EvidenceCount)
	assert.True(t, mem.Valid())
	assert.Equal(t, []string{"episode-1"}, mem.Sources)
}

func TestReconciliationMonotonicAndBounded(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	obs := Observation{
		Content:  "drinks oat milk lattes",
		Context:  "dining",
		FactKey:  "coffee_order",
		Strength: 0.6,
	}
	mem, err := svc.Remember(ctx, "user-1", obs)
	require.NoError(t, err)

	prev := mem.Confidence
	for i := 0; i < 200; i++ {
		obs.Source = fmt.Sprintf("episode-%d", i)
		mem, err = svc.Remember(ctx, "user-1", obs)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, mem.Confidence, prev, "confidence must never decrease")
		assert.Less(t, mem.Confidence, 1.0, "confidence must never reach 1.0")
		prev = mem.Confidence
	}
	// After many reinforcements confidence is close to, but below, 1.0.
	assert.Greater(t, mem.Confidence, 0.99)

	// Provenance is bounded to the recent window plus the newest entry.
	assert.LessOrEqual(t, len(mem.Sources), config.DefaultProvenanceWindow+1)
}

func TestReconciliationDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	for i := 0; i < 3; i++ {
		_, err := svc.Remember(ctx, "user-1", Observation{
			Content: "lives in Lisbon",
			Context: "location",
			FactKey: "home_city",
		})
		require.NoError(t, err)
	}
	memories, err := svc.ListMemories(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Len(t, memories, 1)
	assert.Equal(t, 3, memories[0].EvidenceCount)
}

func TestContradictingObservationWeakensExisting(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	first, err := svc.Remember(ctx, "user-1", Observation{
		Content:  "favorite color is blue",
		Context:  "preferences",
		FactKey:  "favorite_color",
		Strength: 0.8,
	})
	require.NoError(t, err)

	second, err := svc.Remember(ctx, "user-1", Observation{
		Content:  "favorite color is red",
		Context:  "preferences",
		FactKey:  "favorite_color",
		Strength: 0.8,
		Source:   "episode-2",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	weakened, err := svc.GetMemory(ctx, "user-1", first.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8*(1-0.8*0.5), weakened.Confidence, 1e-9)
	assert.Equal(t, []string{"episode-2"}, weakened.Contradicting)
}

func TestContradictionStrengthConfigurable(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.ContradictionStrength = 0.9
	svc := NewService(store.NewMemoryStore(), cfg, zap.NewNop())

	first, err := svc.Remember(ctx, "user-1", Observation{
		Content:  "favorite color is blue",
		Context:  "preferences",
		FactKey:  "favorite_color",
		Strength: 0.8,
	})
	require.NoError(t, err)

	_, err = svc.Remember(ctx, "user-1", Observation{
		Content:  "favorite color is red",
		Context:  "preferences",
		FactKey:  "favorite_color",
		Strength: 0.8,
	})
	require.NoError(t, err)

	weakened, err := svc.GetMemory(ctx, "user-1", first.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8*(1-0.8*0.9), weakened.Confidence, 1e-9)
}

func TestDecayAndPruneScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	now := time.Now()

	// 50 pruning-eligible memories: low strength, low confidence, no recent
	// access.
	old := now.Add(-180 * 24 * time.Hour)
	for i := 0; i < 50; i++ {
		mem := &Memory{
			ID:            fmt.Sprintf("stale-%d", i),
			Content:       fmt.Sprintf("stale fact %d", i),
			Context:       "misc",
			Confidence:    0.1,
			Strength:      0.2,
			CreatedAt:     old,
			ValidAt:       old,
			LastAccessed:  old,
			LastValidated: old,
		}
		require.NoError(t, svc.putMemory(ctx, "user-1", mem))
	}
	// 5 healthy memories.
	for i := 0; i < 5; i++ {
		mem := &Memory{
			ID:            fmt.Sprintf("healthy-%d", i),
			Content:       fmt.Sprintf("healthy fact %d", i),
			Context:       "misc",
			Confidence:    0.9,
			Strength:      0.9,
			CreatedAt:     now,
			ValidAt:       now,
			LastAccessed:  now,
			LastValidated: now,
			AccessCount:   10,
		}
		require.NoError(t, svc.putMemory(ctx, "user-1", mem))
	}

	pruned, err := svc.DecayAndPrune(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 50, pruned)

	remaining, err := svc.ListMemories(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Len(t, remaining, 5)

	// Idempotent: a second run with no new writes prunes nothing further.
	pruned, err = svc.DecayAndPrune(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, pruned)
}

func TestDecayAndPruneKeepsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	// A record with missing timestamps must be treated as valid-but-unscored,
	// never pruned and never an error.
	raw, err := json.Marshal(map[string]interface{}{
		"id":      "corrupt-1",
		"content": "partial record",
	})
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, store.Namespace("user-1", store.KindMemories), "corrupt-1", raw))

	pruned, err := svc.DecayAndPrune(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, pruned)

	memories, err := svc.ListMemories(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Len(t, memories, 1)
}

func TestInvalidateIsTerminal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	mem, err := svc.Remember(ctx, "user-1", Observation{
		Content: "works at Acme",
		Context: "employment",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Invalidate(ctx, "user-1", mem.ID, "superseded by: works at Initech"))

	got, err := svc.GetMemory(ctx, "user-1", mem.ID)
	require.NoError(t, err)
	require.False(t, got.Valid())
	firstInvalidAt := *got.InvalidAt

	// A second invalidation must not rewrite the record.
	require.NoError(t, svc.Invalidate(ctx, "user-1", mem.ID, "other reason"))
	got, err = svc.GetMemory(ctx, "user-1", mem.ID)
	require.NoError(t, err)
	assert.Equal(t, firstInvalidAt, *got.InvalidAt)
	assert.Equal(t, "superseded by: works at Initech", got.InvalidReason)

	// Invalidated memories are excluded from the active listing.
	valid, err := svc.ListMemories(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Empty(t, valid)
}

func TestRecordAccessBumpsStrength(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	mem, err := svc.Remember(ctx, "user-1", Observation{Content: "runs on Tuesdays", Context: "health"})
	require.NoError(t, err)

	require.NoError(t, svc.RecordAccess(ctx, "user-1", mem.ID))
	got, err := svc.GetMemory(ctx, "user-1", mem.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.Greater(t, got.Strength, mem.Strength)

	// Accessing a pruned memory is not an error.
	require.NoError(t, svc.RecordAccess(ctx, "user-1", "gone"))
}

func TestRecordEpisodeValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	err := svc.RecordEpisode(ctx, "user-1", &Episode{Outcome: OutcomeSuccess})
	assert.Error(t, err)

	err = svc.RecordEpisode(ctx, "user-1", &Episode{AgentType: "shopping", Outcome: "meh"})
	assert.Error(t, err)

	ep := &Episode{AgentType: "shopping", Outcome: OutcomeSuccess, Action: "compared prices"}
	require.NoError(t, svc.RecordEpisode(ctx, "user-1", ep))
	assert.NotEmpty(t, ep.ID)
	assert.False(t, ep.Timestamp.IsZero())
}

func TestActiveRulesExcludeOverridden(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	keep := &ProceduralRule{AgentType: "shopping", Rule: "compare at least two offers", Confidence: 0.8}
	retire := &ProceduralRule{AgentType: "shopping", Rule: "always pick the cheapest", Confidence: 0.9}
	require.NoError(t, svc.SaveRule(ctx, "user-1", keep))
	require.NoError(t, svc.SaveRule(ctx, "user-1", retire))

	for i := 0; i < config.DefaultRuleOverrideRetire; i++ {
		require.NoError(t, svc.RecordRuleOverride(ctx, "user-1", retire.ID))
	}

	active, err := svc.ActiveRules(ctx, "user-1", "shopping")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.ID, active[0].ID)

	// Retired rules remain stored for audit.
	all, err := svc.ListRules(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
