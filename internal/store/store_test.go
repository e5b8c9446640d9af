package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ns := Namespace("user-1", KindMemories)

			_, err := s.Get(ctx, ns, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, ns, "m1", []byte(`{"content":"likes jazz"}`)))
			value, err := s.Get(ctx, ns, "m1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"content":"likes jazz"}`, string(value))

			// Put replaces.
			require.NoError(t, s.Put(ctx, ns, "m1", []byte(`{"content":"likes blues"}`)))
			value, err = s.Get(ctx, ns, "m1")
			require.NoError(t, err)
			assert.Contains(t, string(value), "blues")

			require.NoError(t, s.Delete(ctx, ns, "m1"))
			_, err = s.Get(ctx, ns, "m1")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting twice is fine.
			require.NoError(t, s.Delete(ctx, ns, "m1"))
		})
	}
}

// The pool is capped at one connection, so any query issued while a write
// transaction is open would wait on that transaction forever. A lone write on
// a fresh database must complete promptly.
func TestSQLiteWriteCompletesOnSingleConnection(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	done := make(chan error, 1)
	go func() {
		ns := Namespace("user-1", KindMemories)
		if err := s.Put(ctx, ns, "m1", []byte(`{"content":"likes jazz"}`)); err != nil {
			done <- err
			return
		}
		done <- s.Delete(ctx, ns, "m1")
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write did not complete; connection held by an open transaction")
	}
}

func TestStoreNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	for name, s := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			nsA := Namespace("user-a", KindMemories)
			nsB := Namespace("user-b", KindMemories)

			require.NoError(t, s.Put(ctx, nsA, "m1", []byte(`{"content":"a"}`)))
			require.NoError(t, s.Put(ctx, nsB, "m1", []byte(`{"content":"b"}`)))

			_, err := s.Get(ctx, nsA, "m1")
			require.NoError(t, err)

			items, err := s.List(ctx, nsA)
			require.NoError(t, err)
			assert.Len(t, items, 1)
			assert.Equal(t, nsA, items[0].Namespace)
		})
	}
}

func TestStoreSearch(t *testing.T) {
	ctx := context.Background()
	for name, s := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ns := Namespace("user-1", KindMemories)
			require.NoError(t, s.Put(ctx, ns, "m1", []byte(`{"content":"favorite restaurant is Chez Panisse"}`)))
			require.NoError(t, s.Put(ctx, ns, "m2", []byte(`{"content":"allergic to peanuts"}`)))
			require.NoError(t, s.Put(ctx, ns, "m3", []byte(`{"content":"works at a restaurant supply company"}`)))

			items, err := s.Search(ctx, ns, "restaurant", 10)
			require.NoError(t, err)
			require.Len(t, items, 2)

			items, err = s.Search(ctx, ns, "peanuts", 10)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, "m2", items[0].Key)

			// Limit is respected.
			items, err = s.Search(ctx, ns, "restaurant", 1)
			require.NoError(t, err)
			assert.Len(t, items, 1)

			// Empty query returns items up to the limit.
			items, err = s.Search(ctx, ns, "", 2)
			require.NoError(t, err)
			assert.Len(t, items, 2)
		})
	}
}
