package memory

import (
	"strings"
	"time"
)

// PrivacyTier orders how widely a memory may be shared.
type PrivacyTier string

const (
	TierPublic    PrivacyTier = "public"
	TierSensitive PrivacyTier = "sensitive"
	TierPrivate   PrivacyTier = "private"
)

// Memory is a single semantic fact about the user.
type Memory struct {
	ID            string      `json:"id"`
	Content       string      `json:"content"`
	Context       string      `json:"context"`
	FactKey       string      `json:"fact_key,omitempty"`
	Confidence    float64     `json:"confidence"`
	Strength      float64     `json:"strength"`
	ValidAt       time.Time   `json:"valid_at"`
	CreatedAt     time.Time   `json:"created_at"`
	LastAccessed  time.Time   `json:"last_accessed"`
	LastValidated time.Time   `json:"last_validated"`
	AccessCount   int         `json:"access_count"`
	EvidenceCount int         `json:"evidence_count"`
	Sources       []string    `json:"sources,omitempty"`
	Contradicting []string    `json:"contradicting,omitempty"`
	PrivacyTier   PrivacyTier `json:"privacy_tier"`
	Embedding     []float32   `json:"embedding,omitempty"`

	// InvalidAt is set once the memory is superseded. Invalidated memories are
	// excluded from retrieval but retained for audit; only provenance appends
	// are allowed afterwards.
	InvalidAt     *time.Time `json:"invalid_at,omitempty"`
	InvalidReason string     `json:"invalid_reason,omitempty"`

	EntitiesExtracted bool `json:"entities_extracted"`
	FlaggedForReview  bool `json:"flagged_for_review"`
}

// Valid reports whether the memory is still part of the active fact base.
func (m *Memory) Valid() bool {
	return m.InvalidAt == nil
}

// Outcome classifies how an episode ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Episode is an append-only record of one agent interaction.
type Episode struct {
	ID           string    `json:"id"`
	Situation    string    `json:"situation"`
	Reasoning    string    `json:"reasoning"`
	Action       string    `json:"action"`
	Outcome      Outcome   `json:"outcome"`
	AgentType    string    `json:"agent_type"`
	MissionID    string    `json:"mission_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Tags         []string  `json:"tags,omitempty"`
	UserFeedback string    `json:"user_feedback,omitempty"`
}

// ProceduralRule is a behavioral rule distilled from episodic history.
// Pattern identifies the recurring behavior the rule was mined from, so
// repeated synthesis runs update the rule instead of duplicating it.
type ProceduralRule struct {
	ID            string    `json:"id"`
	AgentType     string    `json:"agent_type"`
	Pattern       string    `json:"pattern,omitempty"`
	Rule          string    `json:"rule"`
	Confidence    float64   `json:"confidence"`
	DerivedFrom   []string  `json:"derived_from"`
	CreatedAt     time.Time `json:"created_at"`
	LastValidated time.Time `json:"last_validated"`
	OverrideCount int       `json:"override_count"`
}

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityPlace        EntityType = "place"
	EntityProduct      EntityType = "product"
	EntityEvent        EntityType = "event"
)

// ValidEntityType reports whether t is one of the known entity types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityPerson, EntityOrganization, EntityPlace, EntityProduct, EntityEvent:
		return true
	}
	return false
}

// ExtractedEntity is a named entity mentioned across memories.
type ExtractedEntity struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           EntityType        `json:"type"`
	Properties     map[string]string `json:"properties,omitempty"`
	FirstSeen      time.Time         `json:"first_seen"`
	LastMentioned  time.Time         `json:"last_mentioned"`
	MentionCount   int               `json:"mention_count"`
	SourceMemories []string          `json:"source_memories,omitempty"`
}

// UserEntity is the sentinel id for the profile owner in relationships.
const UserEntity = "USER"

// EntityRelationship links two entities (or the user and an entity).
type EntityRelationship struct {
	ID             string            `json:"id"`
	FromEntity     string            `json:"from_entity"`
	ToEntity       string            `json:"to_entity"`
	Type           string            `json:"type"`
	ValidAt        time.Time         `json:"valid_at"`
	CreatedAt      time.Time         `json:"created_at"`
	Properties     map[string]string `json:"properties,omitempty"`
	SourceMemories []string          `json:"source_memories,omitempty"`
}

// CommunitySummary is a weekly digest of one tracked domain.
type CommunitySummary struct {
	ID          string    `json:"id"`
	Domain      string    `json:"domain"`
	Summary     string    `json:"summary"`
	MemoryCount int       `json:"memory_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// TriggerState is the scheduler's persisted record. It is owned exclusively
// by the trigger manager: loaded at startup, written after every mutation.
type TriggerState struct {
	EpisodesSinceLastReflection int       `json:"episodes_since_last_reflection"`
	LastReflectionTime          time.Time `json:"last_reflection_time"`
	LastDailyReflection         time.Time `json:"last_daily_reflection"`
	LastWeeklyReflection        time.Time `json:"last_weekly_reflection"`
}

// NormalizeValue canonicalizes a fact value for comparison: lower-cased,
// whitespace-trimmed.
func NormalizeValue(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
