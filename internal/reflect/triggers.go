// Package reflect schedules and runs background memory maintenance. The
// trigger manager decides when a reflection pass is due; the orchestrator
// executes the pass phase by phase.
package reflect

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/store"
)

// TriggerKind is the closed set of reflection causes.
type TriggerKind string

const (
	TriggerAfterEpisodes         TriggerKind = "after_episodes"
	TriggerDailyIdle             TriggerKind = "daily_idle"
	TriggerAfterNegativeFeedback TriggerKind = "after_negative_feedback"
	TriggerWeeklyMaintenance     TriggerKind = "weekly_maintenance"
)

// Trigger is one firing. EpisodeCount is set for after_episodes, EpisodeID
// for after_negative_feedback.
type Trigger struct {
	Kind         TriggerKind
	EpisodeCount int
	EpisodeID    string
	FiredAt      time.Time
}

const triggerStateKey = "state"

// Triggers owns the per-user scheduling state. It is the only writer of
// TriggerState records; concurrent notifications for the same user are
// serialized with a per-user lock so counter updates are never lost.
type Triggers struct {
	store  store.Store
	config *config.Config
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTriggers creates a trigger manager.
func NewTriggers(st store.Store, cfg *config.Config, logger *zap.Logger) *Triggers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Triggers{
		store:  st,
		config: cfg,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (t *Triggers) userLock(userID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[userID] = lock
	}
	return lock
}

// OnEpisodeSaved records one episode save. When the counter reaches the
// configured threshold the returned trigger is non-nil and the counter
// resets, so the next save counts from 1.
func (t *Triggers) OnEpisodeSaved(ctx context.Context, userID string) (*Trigger, error) {
	lock := t.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	state, err := t.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	state.EpisodesSinceLastReflection++

	var trigger *Trigger
	if state.EpisodesSinceLastReflection >= t.config.EpisodeThreshold {
		trigger = &Trigger{
			Kind:         TriggerAfterEpisodes,
			EpisodeCount: state.EpisodesSinceLastReflection,
			FiredAt:      time.Now(),
		}
		state.EpisodesSinceLastReflection = 0
		state.LastReflectionTime = trigger.FiredAt
	}
	if err := t.saveState(ctx, userID, state); err != nil {
		return nil, err
	}
	return trigger, nil
}

// OnNegativeFeedback fires immediately, bypassing the episode counter.
func (t *Triggers) OnNegativeFeedback(ctx context.Context, userID, episodeID string) (*Trigger, error) {
	lock := t.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	state, err := t.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	trigger := &Trigger{
		Kind:      TriggerAfterNegativeFeedback,
		EpisodeID: episodeID,
		FiredAt:   time.Now(),
	}
	state.LastReflectionTime = trigger.FiredAt
	if err := t.saveState(ctx, userID, state); err != nil {
		return nil, err
	}
	return trigger, nil
}

// Tick evaluates the wall-clock schedule at the given instant. During the
// idle hour it fires daily_idle once per calendar day; on the maintenance
// weekday it fires weekly_maintenance instead, at most once per ISO week,
// updating both timestamps since weekly maintenance subsumes the daily pass.
func (t *Triggers) Tick(ctx context.Context, userID string, now time.Time) (*Trigger, error) {
	lock := t.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if now.Hour() != t.config.IdleHour {
		return nil, nil
	}
	state, err := t.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sameDay(state.LastDailyReflection, now) {
		return nil, nil
	}

	var trigger *Trigger
	if now.Weekday() == t.config.MaintenanceDay && !sameWeek(state.LastWeeklyReflection, now) {
		trigger = &Trigger{Kind: TriggerWeeklyMaintenance, FiredAt: now}
		state.LastWeeklyReflection = now
	} else {
		trigger = &Trigger{Kind: TriggerDailyIdle, FiredAt: now}
	}
	state.LastDailyReflection = now
	state.LastReflectionTime = now
	if err := t.saveState(ctx, userID, state); err != nil {
		return nil, err
	}
	return trigger, nil
}

// State returns a copy of the current scheduling state for inspection.
func (t *Triggers) State(ctx context.Context, userID string) (*memory.TriggerState, error) {
	lock := t.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return t.loadState(ctx, userID)
}

func (t *Triggers) loadState(ctx context.Context, userID string) (*memory.TriggerState, error) {
	data, err := t.store.Get(ctx, store.Namespace(userID, store.KindTriggerState), triggerStateKey)
	if err == store.ErrNotFound {
		return &memory.TriggerState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load trigger state: %w", err)
	}
	var state memory.TriggerState
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt state record resets the schedule rather than wedging it.
		t.logger.Warn("resetting corrupt trigger state", zap.String("user", userID), zap.Error(err))
		return &memory.TriggerState{}, nil
	}
	return &state, nil
}

func (t *Triggers) saveState(ctx context.Context, userID string, state *memory.TriggerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode trigger state: %w", err)
	}
	if err := t.store.Put(ctx, store.Namespace(userID, store.KindTriggerState), triggerStateKey, data); err != nil {
		return fmt.Errorf("persist trigger state: %w", err)
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameWeek(a, b time.Time) bool {
	ay, aw := a.ISOWeek()
	by, bw := b.ISOWeek()
	return ay == by && aw == bw
}
