/*
store.go - Key-value persistence interface

PURPOSE:
  The ledger persists exactly one blob per store instance: the JSON
  document, under a fixed key. Backends only need to get and put bytes.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and ephemeral runs
  - store/sqlite/sqlite.go: Local file database (default)
  - store/postgres/postgres.go: PostgreSQL, for hosted single-tenant runs

CONTRACT:
  Put replaces the whole value in a single write. There is no partial
  update, so a reader never sees half a document.
*/
package ledger

import "context"

// DefaultStorageKey is where the document lives unless Options.Key is set.
const DefaultStorageKey = "stockflux/ledger"

// Storage is a minimal key-value store.
type Storage interface {
	// Get returns the value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value atomically.
	Put(ctx context.Context, key string, value []byte) error
}
