package interfaces

import (
	"context"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
)

// LedgerStore holds the whole collection of equipment and donations.
// Load never fails on a store that was never written: it returns an empty collection.
// Save replaces everything atomically and rejects a collection whose Version no
// longer matches what is stored (storage.ErrConcurrencyConflict).
type LedgerStore interface {
	Load(ctx context.Context) (models.Collection, error)
	Save(ctx context.Context, collection models.Collection) error
}
