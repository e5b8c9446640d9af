package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/a-marczewski/mnemo/internal/store"
)

// RecordEpisode appends an episode. Episodes are never mutated afterwards;
// they are only read back for pattern mining and few-shot examples.
func (s *Service) RecordEpisode(ctx context.Context, userID string, ep *Episode) error {
	if ep.AgentType == "" {
		return fmt.Errorf("episode agent type is empty")
	}
	if ep.Outcome != OutcomeSuccess && ep.Outcome != OutcomeFailure {
		return fmt.Errorf("invalid episode outcome %q", ep.Outcome)
	}
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now()
	}
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("encode episode: %w", err)
	}
	return s.store.Put(ctx, store.Namespace(userID, store.KindEpisodes), ep.ID, data)
}

// ListEpisodes returns all episodes for the user, newest first.
func (s *Service) ListEpisodes(ctx context.Context, userID string) ([]*Episode, error) {
	items, err := s.store.List(ctx, store.Namespace(userID, store.KindEpisodes))
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	episodes := make([]*Episode, 0, len(items))
	for _, it := range items {
		var ep Episode
		if err := json.Unmarshal(it.Value, &ep); err != nil {
			continue
		}
		episodes = append(episodes, &ep)
	}
	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].Timestamp.After(episodes[j].Timestamp)
	})
	return episodes, nil
}

// RecentEpisodes returns up to limit episodes for one agent type, newest first.
func (s *Service) RecentEpisodes(ctx context.Context, userID, agentType string, limit int) ([]*Episode, error) {
	episodes, err := s.ListEpisodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*Episode, 0, limit)
	for _, ep := range episodes {
		if ep.AgentType != agentType {
			continue
		}
		out = append(out, ep)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SaveRule persists a procedural rule.
func (s *Service) SaveRule(ctx context.Context, userID string, rule *ProceduralRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	return s.store.Put(ctx, store.Namespace(userID, store.KindRules), rule.ID, data)
}

// ListRules returns all procedural rules for the user.
func (s *Service) ListRules(ctx context.Context, userID string) ([]*ProceduralRule, error) {
	items, err := s.store.List(ctx, store.Namespace(userID, store.KindRules))
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	rules := make([]*ProceduralRule, 0, len(items))
	for _, it := range items {
		var rule ProceduralRule
		if err := json.Unmarshal(it.Value, &rule); err != nil {
			continue
		}
		rules = append(rules, &rule)
	}
	return rules, nil
}

// ActiveRules returns rules for one agent type that have not been retired by
// overrides. Retired rules stay stored for audit.
func (s *Service) ActiveRules(ctx context.Context, userID, agentType string) ([]*ProceduralRule, error) {
	rules, err := s.ListRules(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := make([]*ProceduralRule, 0, len(rules))
	for _, rule := range rules {
		if rule.AgentType != agentType {
			continue
		}
		if rule.OverrideCount >= s.config.RuleOverrideLimit {
			continue
		}
		active = append(active, rule)
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Confidence > active[j].Confidence
	})
	return active, nil
}

// RecordRuleOverride increments a rule's override counter. Rules exceeding
// the configured limit become retirement candidates.
func (s *Service) RecordRuleOverride(ctx context.Context, userID, ruleID string) error {
	data, err := s.store.Get(ctx, store.Namespace(userID, store.KindRules), ruleID)
	if err != nil {
		return err
	}
	var rule ProceduralRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return fmt.Errorf("decode rule %s: %w", ruleID, err)
	}
	rule.OverrideCount++
	return s.SaveRule(ctx, userID, &rule)
}

// SaveEntity persists an extracted entity.
func (s *Service) SaveEntity(ctx context.Context, userID string, ent *ExtractedEntity) error {
	if ent.ID == "" {
		ent.ID = uuid.NewString()
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("encode entity: %w", err)
	}
	return s.store.Put(ctx, store.Namespace(userID, store.KindEntities), ent.ID, data)
}

// ListEntities returns the user's entity table.
func (s *Service) ListEntities(ctx context.Context, userID string) ([]*ExtractedEntity, error) {
	items, err := s.store.List(ctx, store.Namespace(userID, store.KindEntities))
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	entities := make([]*ExtractedEntity, 0, len(items))
	for _, it := range items {
		var ent ExtractedEntity
		if err := json.Unmarshal(it.Value, &ent); err != nil {
			continue
		}
		entities = append(entities, &ent)
	}
	return entities, nil
}

// SaveRelationship persists an entity relationship.
func (s *Service) SaveRelationship(ctx context.Context, userID string, rel *EntityRelationship) error {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rel)
	if err != nil {
		return fmt.Errorf("encode relationship: %w", err)
	}
	return s.store.Put(ctx, store.Namespace(userID, store.KindRelationships), rel.ID, data)
}

// ListRelationships returns all recorded relationships.
func (s *Service) ListRelationships(ctx context.Context, userID string) ([]*EntityRelationship, error) {
	items, err := s.store.List(ctx, store.Namespace(userID, store.KindRelationships))
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	rels := make([]*EntityRelationship, 0, len(items))
	for _, it := range items {
		var rel EntityRelationship
		if err := json.Unmarshal(it.Value, &rel); err != nil {
			continue
		}
		rels = append(rels, &rel)
	}
	return rels, nil
}

// SaveSummary persists a weekly domain summary.
func (s *Service) SaveSummary(ctx context.Context, userID string, sum *CommunitySummary) error {
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return s.store.Put(ctx, store.Namespace(userID, store.KindSummaries), sum.ID, data)
}

// ListSummaries returns stored domain summaries.
func (s *Service) ListSummaries(ctx context.Context, userID string) ([]*CommunitySummary, error) {
	items, err := s.store.List(ctx, store.Namespace(userID, store.KindSummaries))
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	sums := make([]*CommunitySummary, 0, len(items))
	for _, it := range items {
		var sum CommunitySummary
		if err := json.Unmarshal(it.Value, &sum); err != nil {
			continue
		}
		sums = append(sums, &sum)
	}
	return sums, nil
}
