// Package store defines the persistence contract for the memory engine.
//
// All records are namespaced per user and per kind (memories, episodes, rules,
// entities, relationships, trigger-state, summaries). Values are opaque JSON;
// typed access lives in the services that own each namespace.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no item exists under the given key.
var ErrNotFound = errors.New("store: item not found")

// Item is a single stored record.
type Item struct {
	Namespace string
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// Store is the key/value + list/search interface backing all engine state.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) ([]Item, error)
	// Search returns items in the namespace whose value matches the free-text
	// query, best match first. An empty query returns newest items first.
	Search(ctx context.Context, namespace, query string, limit int) ([]Item, error)
}

// Namespace builds the per-user namespace for a record kind.
func Namespace(userID, kind string) string {
	return userID + "/" + kind
}

// Record kinds used across the engine.
const (
	KindMemories      = "memories"
	KindEpisodes      = "episodes"
	KindRules         = "rules"
	KindEntities      = "entities"
	KindRelationships = "relationships"
	KindTriggerState  = "trigger-state"
	KindSummaries     = "summaries"
)
