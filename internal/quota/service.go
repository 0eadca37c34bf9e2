package quota

import (
	"context"

	"github.com/avetrin/govault/internal/config"
	"github.com/google/uuid"
)

// recordStore abstracts the persistence layer.
type recordStore interface {
	Create(ctx context.Context, ownerID uuid.UUID, memoryAllocated, apiCallsAllocated int64) error
	Get(ctx context.Context, ownerID uuid.UUID) (Record, error)
	Increment(ctx context.Context, ownerID uuid.UUID, bytesDelta, callsDelta int64) error
	Delete(ctx context.Context, ownerID uuid.UUID) error
}

// Ledger provides admission control over per-user storage and API budgets.
//
// CheckAndReserve and Commit are deliberately two separate steps: the check
// reads current usage and the commit increments it later, so concurrent
// uploads from one owner can both pass a stale check and jointly overshoot
// the allocation. That race is accepted; the counters themselves are only
// ever moved by atomic single-row increments.
type Ledger struct {
	store recordStore
	cfg   config.QuotaConfig
}

// NewLedger constructs a Ledger with default allocations from config.
func NewLedger(store recordStore, cfg config.QuotaConfig) *Ledger {
	return &Ledger{store: store, cfg: cfg}
}

// Create provisions a record with default allocations for a new account.
func (l *Ledger) Create(ctx context.Context, ownerID uuid.UUID) error {
	return l.store.Create(ctx, ownerID, l.cfg.DefaultMemoryBytes, l.cfg.DefaultAPICalls)
}

// Get returns the owner's current record.
func (l *Ledger) Get(ctx context.Context, ownerID uuid.UUID) (Record, error) {
	return l.store.Get(ctx, ownerID)
}

// CheckAndReserve admits an operation that will add additionalBytes of
// storage and one API call. The returned record reflects usage at check
// time; nothing is persisted until Commit.
func (l *Ledger) CheckAndReserve(ctx context.Context, ownerID uuid.UUID, additionalBytes int64) (Record, error) {
	rec, err := l.store.Get(ctx, ownerID)
	if err != nil {
		return Record{}, err
	}

	if rec.MemoryUsed+additionalBytes >= rec.MemoryAllocated {
		return Record{}, &ExceededError{Reason: ReasonMemory}
	}
	if rec.APICallsUsed+1 >= rec.APICallsAllocated {
		return Record{}, &ExceededError{Reason: ReasonAPICalls}
	}
	return rec, nil
}

// Commit applies usage deltas atomically. Deletes pass a negative byte
// delta and a positive call delta.
func (l *Ledger) Commit(ctx context.Context, ownerID uuid.UUID, bytesDelta, callsDelta int64) error {
	return l.store.Increment(ctx, ownerID, bytesDelta, callsDelta)
}

// Remove drops the record during full account teardown.
func (l *Ledger) Remove(ctx context.Context, ownerID uuid.UUID) error {
	return l.store.Delete(ctx, ownerID)
}
