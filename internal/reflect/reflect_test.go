package reflect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/entity"
	"github.com/a-marczewski/mnemo/internal/llm"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/procedural"
	"github.com/a-marczewski/mnemo/internal/store"
	"github.com/a-marczewski/mnemo/internal/temporal"
)

func setupTriggers(t *testing.T) *Triggers {
	t.Helper()
	return NewTriggers(store.NewMemoryStore(), config.Default(), zap.NewNop())
}

func setupOrchestrator(t *testing.T, client llm.CompletionClient) (*Orchestrator, *memory.Service) {
	t.Helper()
	cfg := config.Default()
	svc := memory.NewService(store.NewMemoryStore(), cfg, zap.NewNop())
	return NewOrchestrator(
		svc,
		temporal.NewValidator(svc, cfg, zap.NewNop()),
		procedural.NewSynthesizer(svc, client, cfg, zap.NewNop()),
		entity.NewExtractor(svc, client, cfg, zap.NewNop()),
		client,
		cfg,
		zap.NewNop(),
	), svc
}

func TestEpisodeTriggerFiresAtThreshold(t *testing.T) {
	ctx := context.Background()
	triggers := setupTriggers(t)

	for i := 0; i < 4; i++ {
		trigger, err := triggers.OnEpisodeSaved(ctx, "user-1")
		require.NoError(t, err)
		assert.Nil(t, trigger, "save %d must not fire", i+1)
	}

	trigger, err := triggers.OnEpisodeSaved(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, trigger, "5th save fires")
	assert.Equal(t, TriggerAfterEpisodes, trigger.Kind)
	assert.Equal(t, 5, trigger.EpisodeCount)

	// Counter reset: the 6th save counts from 1.
	trigger, err = triggers.OnEpisodeSaved(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, trigger)

	state, err := triggers.State(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.EpisodesSinceLastReflection)
}

func TestNegativeFeedbackFiresImmediately(t *testing.T) {
	ctx := context.Background()
	triggers := setupTriggers(t)

	trigger, err := triggers.OnNegativeFeedback(ctx, "user-1", "ep-42")
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, TriggerAfterNegativeFeedback, trigger.Kind)
	assert.Equal(t, "ep-42", trigger.EpisodeID)
}

func TestTickDailyIdleOncePerDay(t *testing.T) {
	ctx := context.Background()
	triggers := setupTriggers(t)

	// Monday 03:10, inside the idle hour, not on the maintenance day.
	monday := time.Date(2025, 6, 2, 3, 10, 0, 0, time.UTC)
	require.Equal(t, time.Monday, monday.Weekday())

	trigger, err := triggers.Tick(ctx, "user-1", monday)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, TriggerDailyIdle, trigger.Kind)

	// Same day, later in the idle hour: no double fire.
	trigger, err = triggers.Tick(ctx, "user-1", monday.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, trigger)

	// Outside the idle hour: nothing.
	trigger, err = triggers.Tick(ctx, "user-1", monday.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, trigger)

	// Next day fires again.
	trigger, err = triggers.Tick(ctx, "user-1", monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, TriggerDailyIdle, trigger.Kind)
}

func TestTickWeeklySubsumesDaily(t *testing.T) {
	ctx := context.Background()
	triggers := setupTriggers(t)

	// Sunday 03:00, the idle hour on the maintenance day.
	sunday := time.Date(2025, 6, 8, 3, 0, 0, 0, time.UTC)
	require.Equal(t, time.Sunday, sunday.Weekday())

	trigger, err := triggers.Tick(ctx, "user-1", sunday)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, TriggerWeeklyMaintenance, trigger.Kind)

	// Weekly implies daily: no daily fire later the same day.
	trigger, err = triggers.Tick(ctx, "user-1", sunday.Add(45*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, trigger)

	state, err := triggers.State(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, state.LastDailyReflection.Equal(sunday))
	assert.True(t, state.LastWeeklyReflection.Equal(sunday))

	// Next Sunday is a new ISO week: weekly fires again.
	trigger, err = triggers.Tick(ctx, "user-1", sunday.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, TriggerWeeklyMaintenance, trigger.Kind)
}

func TestTriggerStatePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := config.Default()

	first := NewTriggers(st, cfg, zap.NewNop())
	for i := 0; i < 3; i++ {
		_, err := first.OnEpisodeSaved(ctx, "user-1")
		require.NoError(t, err)
	}

	// A fresh manager over the same store continues the count.
	second := NewTriggers(st, cfg, zap.NewNop())
	trigger, err := second.OnEpisodeSaved(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, trigger)
	trigger, err = second.OnEpisodeSaved(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, 5, trigger.EpisodeCount)
}

func TestReflectRunsAllPhases(t *testing.T) {
	ctx := context.Background()
	mock := llm.NewMockClient()
	mock.Respond("entity_extraction", `[{"name": "Acme Corp", "type": "organization"}]`)
	mock.Fallback = "fallback"
	orch, svc := setupOrchestrator(t, mock)

	// Contradiction pair for the validation phase.
	_, err := svc.Remember(ctx, "user-1", memory.Observation{
		Content: "works at Acme Corp", Context: "employment",
	})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = svc.Remember(ctx, "user-1", memory.Observation{
		Content: "no longer works at Acme Corp", Context: "employment",
	})
	require.NoError(t, err)

	// Episodes for the synthesis phase.
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordEpisode(ctx, "user-1", &memory.Episode{
			AgentType: "shopping", Action: "compared prices", Outcome: memory.OutcomeSuccess,
		}))
	}

	result, err := orch.Reflect(ctx, "user-1", Trigger{Kind: TriggerAfterEpisodes, EpisodeCount: 5})
	require.NoError(t, err)
	assert.Equal(t, TriggerAfterEpisodes, result.Trigger.Kind)
	assert.Equal(t, 1, result.Invalidated)
	assert.Equal(t, 1, result.RulesGenerated)
	assert.Equal(t, 1, result.EntitiesExtracted)
	assert.Zero(t, result.Summaries, "summaries only run on weekly maintenance")
	assert.GreaterOrEqual(t, result.Duration, time.Duration(0))
}

func TestReflectWeeklyWritesSummaries(t *testing.T) {
	ctx := context.Background()
	mock := llm.NewMockClient()
	mock.Respond("summarization", "The user dines out often and prefers Thai food.")
	mock.Fallback = "[]"
	orch, svc := setupOrchestrator(t, mock)

	for _, content := range []string{
		"enjoys dining at Thai restaurants",
		"dining reservations usually for two",
		"prefers early dining times",
	} {
		_, err := svc.Remember(ctx, "user-1", memory.Observation{Content: content, Context: "dining"})
		require.NoError(t, err)
	}

	result, err := orch.Reflect(ctx, "user-1", Trigger{Kind: TriggerWeeklyMaintenance})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summaries, "only the dining domain has enough memories")

	summaries, err := svc.ListSummaries(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "dining", summaries[0].Domain)
	assert.Equal(t, 3, summaries[0].MemoryCount)
}

func TestReflectZeroCountsAreNotErrors(t *testing.T) {
	ctx := context.Background()
	orch, _ := setupOrchestrator(t, nil)

	result, err := orch.Reflect(ctx, "user-1", Trigger{Kind: TriggerDailyIdle})
	require.NoError(t, err)
	assert.Zero(t, result.Pruned)
	assert.Zero(t, result.RulesGenerated)
	assert.Zero(t, result.Invalidated)
	assert.Zero(t, result.EntitiesExtracted)
}
