// Package entity pulls named entities out of stored memories and maintains
// the per-user entity table and relationship edges. Extraction runs during
// reflection in bounded batches; a failed or malformed model response leaves
// the batch unprocessed for the next cycle.
package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/llm"
	"github.com/a-marczewski/mnemo/internal/memory"
)

// Extractor runs model-backed entity extraction over unprocessed memories.
type Extractor struct {
	memories *memory.Service
	client   llm.CompletionClient
	config   *config.Config
	logger   *zap.Logger
}

// NewExtractor creates an entity extractor. client may be nil, which makes
// every run a no-op.
func NewExtractor(memories *memory.Service, client llm.CompletionClient, cfg *config.Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{memories: memories, client: client, config: cfg, logger: logger}
}

// extractedItem mirrors the JSON shape the model is instructed to emit.
type extractedItem struct {
	Name               string            `json:"name"`
	Type               string            `json:"type"`
	Properties         map[string]string `json:"properties"`
	RelationshipToUser string            `json:"relationship_to_user"`
	SourceIDs          []string          `json:"source_ids"`
}

const extractionSystemPrompt = `Extract named entities from the numbered user facts.
Reply with a JSON array only. Each element:
{"name": string, "type": "person"|"organization"|"place"|"product"|"event",
 "properties": {string: string}, "relationship_to_user": string or "",
 "source_ids": [fact ids the entity appears in]}
Return [] when there are no entities.`

// Extract processes one batch of memories that have not been through
// extraction yet. Entities already known (case-insensitive name match,
// either exact or containment) are updated in place rather than duplicated.
// Returns the number of entities created or updated.
func (e *Extractor) Extract(ctx context.Context, userID string) (int, error) {
	if e.client == nil {
		return 0, nil
	}

	batch, err := e.pendingBatch(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	var prompt strings.Builder
	for _, mem := range batch {
		fmt.Fprintf(&prompt, "[%s] %s\n", mem.ID, mem.Content)
	}

	resp, err := e.client.Complete(ctx, userID, llm.Request{
		Operation: "entity_extraction",
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: prompt.String()},
		},
		MaxTokens: 1500,
	})
	if err != nil {
		e.logger.Warn("entity extraction unavailable", zap.Error(err))
		return 0, nil
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == nil {
		e.logger.Warn("entity extraction returned no parseable JSON")
		return 0, nil
	}
	var items []extractedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		e.logger.Warn("entity extraction returned malformed JSON", zap.Error(err))
		return 0, nil
	}

	existing, err := e.memories.ListEntities(ctx, userID)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, item := range items {
		item.Name = strings.TrimSpace(item.Name)
		if item.Name == "" || !memory.ValidEntityType(memory.EntityType(item.Type)) {
			continue
		}
		ent := matchExisting(existing, item.Name)
		now := time.Now()
		if ent == nil {
			ent = &memory.ExtractedEntity{
				Name:      item.Name,
				Type:      memory.EntityType(item.Type),
				FirstSeen: now,
			}
			existing = append(existing, ent)
		}
		ent.MentionCount++
		ent.LastMentioned = now
		for k, v := range item.Properties {
			if ent.Properties == nil {
				ent.Properties = make(map[string]string)
			}
			ent.Properties[k] = v
		}
		for _, src := range item.SourceIDs {
			ent.SourceMemories = appendUnique(ent.SourceMemories, src)
		}
		if err := e.memories.SaveEntity(ctx, userID, ent); err != nil {
			return changed, err
		}
		changed++

		if item.RelationshipToUser != "" {
			rel := &memory.EntityRelationship{
				FromEntity:     memory.UserEntity,
				ToEntity:       ent.ID,
				Type:           item.RelationshipToUser,
				ValidAt:        now,
				SourceMemories: item.SourceIDs,
			}
			if err := e.memories.SaveRelationship(ctx, userID, rel); err != nil {
				return changed, err
			}
		}
	}

	// The batch only counts as processed once a well-formed response was
	// applied; failures above leave it pending for the next cycle.
	for _, mem := range batch {
		if err := e.memories.MarkEntitiesExtracted(ctx, userID, mem.ID); err != nil {
			return changed, err
		}
	}
	e.logger.Info("entity extraction complete",
		zap.String("user", userID),
		zap.Int("memories", len(batch)),
		zap.Int("entities", changed))
	return changed, nil
}

func (e *Extractor) pendingBatch(ctx context.Context, userID string) ([]*memory.Memory, error) {
	memories, err := e.memories.ListMemories(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	batch := make([]*memory.Memory, 0, e.config.EntityBatchLimit)
	for _, mem := range memories {
		if mem.EntitiesExtracted {
			continue
		}
		batch = append(batch, mem)
		if len(batch) >= e.config.EntityBatchLimit {
			break
		}
	}
	return batch, nil
}

// matchExisting finds a known entity with the same name, case-insensitively.
// Containment either way counts as a match so "Dr. Chen" and "Chen" merge.
func matchExisting(entities []*memory.ExtractedEntity, name string) *memory.ExtractedEntity {
	lower := strings.ToLower(name)
	for _, ent := range entities {
		existing := strings.ToLower(ent.Name)
		if existing == lower || strings.Contains(existing, lower) || strings.Contains(lower, existing) {
			return ent
		}
	}
	return nil
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
