package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"sync"    // standard Go package for concurrency primitives like Mutex

	interfaces "github.com/sheikh-saqib/equipment-funding-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"                // domain models: Collection
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage"               // shared store errors
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// It keeps one collection and is safe for concurrent use.
type MemoryLedgerStore struct {
	mu         sync.Mutex        // protects collection from concurrent access
	collection models.Collection // the whole ledger state
}

// NewMemoryLedgerStore creates and returns an empty MemoryLedgerStore
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		collection: models.NewCollection(),
	}
}

// Load returns a copy of the stored collection.
// Implements the LedgerStore interface.
func (m *MemoryLedgerStore) Load(ctx context.Context) (models.Collection, error) {

	m.mu.Lock()         // lock to prevent concurrent modification while reading
	defer m.mu.Unlock() // unlock automatically at the end

	return m.collection.Clone(), nil // return a copy so external code can't modify internal state
}

// Save replaces the stored collection when the caller's version is current.
func (m *MemoryLedgerStore) Save(ctx context.Context, collection models.Collection) error {

	if err := ctx.Err(); err != nil {
		return storage.WriteFailure(err)
	}

	m.mu.Lock()         // lock the mutex to prevent concurrent writes
	defer m.mu.Unlock() // unlock automatically when function exits (even if error occurs)

	if collection.Version != m.collection.Version {
		return storage.Conflict(collection.Version, m.collection.Version)
	}

	next := collection.Clone()
	next.Version++
	m.collection = next // swap in one step, readers never see half a write
	return nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
