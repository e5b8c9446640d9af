package temporal

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/store"
)

func setupValidator(t *testing.T) (*Validator, *memory.Service) {
	t.Helper()
	cfg := config.Default()
	svc := memory.NewService(store.NewMemoryStore(), cfg, zap.NewNop())
	return NewValidator(svc, cfg, zap.NewNop()), svc
}

func rememberAt(t *testing.T, svc *memory.Service, userID string, obs memory.Observation) *memory.Memory {
	t.Helper()
	mem, err := svc.Remember(context.Background(), userID, obs)
	require.NoError(t, err)
	return mem
}

func TestValidateNegationSupersedes(t *testing.T) {
	ctx := context.Background()
	v, svc := setupValidator(t)

	older := rememberAt(t, svc, "user-1", memory.Observation{
		Content: "works at Acme Corp", Context: "employment",
	})
	time.Sleep(2 * time.Millisecond) // distinct ValidAt ordering
	newer := rememberAt(t, svc, "user-1", memory.Observation{
		Content: "no longer works at Acme Corp", Context: "employment",
	})

	result, err := v.Validate(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Invalidated)

	got, err := svc.GetMemory(ctx, "user-1", older.ID)
	require.NoError(t, err)
	assert.False(t, got.Valid())
	assert.Contains(t, got.InvalidReason, "superseded by: no longer works at Acme Corp")

	kept, err := svc.GetMemory(ctx, "user-1", newer.ID)
	require.NoError(t, err)
	assert.True(t, kept.Valid())
}

func TestValidateAttributeChange(t *testing.T) {
	ctx := context.Background()
	v, svc := setupValidator(t)

	older := rememberAt(t, svc, "user-1", memory.Observation{
		Content: "favorite color is blue", Context: "preferences",
	})
	time.Sleep(2 * time.Millisecond)
	rememberAt(t, svc, "user-1", memory.Observation{
		Content: "favorite color is red", Context: "preferences",
	})
	// Different attribute must not collide.
	rememberAt(t, svc, "user-1", memory.Observation{
		Content: "favorite cuisine is Thai", Context: "preferences",
	})

	result, err := v.Validate(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Invalidated)

	got, err := svc.GetMemory(ctx, "user-1", older.ID)
	require.NoError(t, err)
	assert.False(t, got.Valid())
}

func TestValidateFactKeyChange(t *testing.T) {
	ctx := context.Background()
	v, svc := setupValidator(t)

	// The lifecycle already weakened the older memory on write; the validator
	// resolves the pair by invalidating it.
	older := rememberAt(t, svc, "user-1", memory.Observation{
		Content: "lives in Paris", Context: "location", FactKey: "home_city",
	})
	time.Sleep(2 * time.Millisecond)
	rememberAt(t, svc, "user-1", memory.Observation{
		Content: "lives in Berlin", Context: "location", FactKey: "home_city",
	})

	result, err := v.Validate(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Invalidated)

	got, err := svc.GetMemory(ctx, "user-1", older.ID)
	require.NoError(t, err)
	assert.False(t, got.Valid())
}

func TestValidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	v, svc := setupValidator(t)

	rememberAt(t, svc, "user-1", memory.Observation{
		Content: "works at Acme Corp", Context: "employment",
	})
	time.Sleep(2 * time.Millisecond)
	rememberAt(t, svc, "user-1", memory.Observation{
		Content: "no longer works at Acme Corp", Context: "employment",
	})

	first, err := v.Validate(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Invalidated)

	second, err := v.Validate(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Zero(t, second.Invalidated, "second run over unchanged data invalidates nothing")
}

func TestValidateContextsDoNotCross(t *testing.T) {
	ctx := context.Background()
	v, svc := setupValidator(t)

	rememberAt(t, svc, "user-1", memory.Observation{
		Content: "favorite color is blue", Context: "preferences",
	})
	time.Sleep(2 * time.Millisecond)
	rememberAt(t, svc, "user-1", memory.Observation{
		Content: "favorite color is red", Context: "art_class_notes",
	})

	result, err := v.Validate(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Zero(t, result.Invalidated, "grouping is per context")
}

func TestValidateReasonKeepsRuneBoundary(t *testing.T) {
	ctx := context.Background()
	v, svc := setupValidator(t)

	older := rememberAt(t, svc, "user-1", memory.Observation{
		Content: "works at the café downtown", Context: "employment",
	})
	time.Sleep(2 * time.Millisecond)
	// Long enough that the quoted prefix would cut inside a multi-byte rune.
	rememberAt(t, svc, "user-1", memory.Observation{
		Content: "no longer works at the café " + strings.Repeat("é", 40),
		Context: "employment",
	})

	result, err := v.Validate(ctx, "user-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.Invalidated)

	got, err := svc.GetMemory(ctx, "user-1", older.ID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(got.InvalidReason))
	assert.Contains(t, got.InvalidReason, "superseded by: no longer works at the café")
}

func TestValidateFlagsStaleVolatileMemories(t *testing.T) {
	ctx := context.Background()
	v, svc := setupValidator(t)

	stale := rememberAt(t, svc, "user-1", memory.Observation{
		Content: "lives in Madrid", Context: "location",
	})
	fresh := rememberAt(t, svc, "user-1", memory.Observation{
		Content: "favorite color is green", Context: "preferences",
	})

	// Validate as seen from 400 days in the future: past the staleness
	// horizon for the volatile location context.
	future := time.Now().AddDate(0, 0, 400)
	result, err := v.Validate(ctx, "user-1", future)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Flagged)

	got, err := svc.GetMemory(ctx, "user-1", stale.ID)
	require.NoError(t, err)
	assert.True(t, got.Valid(), "stale memories are flagged, never invalidated")
	assert.True(t, got.FlaggedForReview)

	other, err := svc.GetMemory(ctx, "user-1", fresh.ID)
	require.NoError(t, err)
	assert.False(t, other.FlaggedForReview, "non-volatile contexts are not flagged")
}
