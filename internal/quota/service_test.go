package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/avetrin/govault/internal/config"
	"github.com/google/uuid"
)

type fakeStore struct {
	records    map[uuid.UUID]Record
	increments int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[uuid.UUID]Record)}
}

func (f *fakeStore) Create(ctx context.Context, ownerID uuid.UUID, memoryAllocated, apiCallsAllocated int64) error {
	if _, ok := f.records[ownerID]; ok {
		return nil
	}
	f.records[ownerID] = Record{
		OwnerID:           ownerID,
		MemoryAllocated:   memoryAllocated,
		APICallsAllocated: apiCallsAllocated,
	}
	return nil
}

func (f *fakeStore) Get(ctx context.Context, ownerID uuid.UUID) (Record, error) {
	rec, ok := f.records[ownerID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (f *fakeStore) Increment(ctx context.Context, ownerID uuid.UUID, bytesDelta, callsDelta int64) error {
	rec, ok := f.records[ownerID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.MemoryUsed += bytesDelta
	if rec.MemoryUsed < 0 {
		rec.MemoryUsed = 0
	}
	rec.APICallsUsed += callsDelta
	if rec.APICallsUsed < 0 {
		rec.APICallsUsed = 0
	}
	f.records[ownerID] = rec
	f.increments++
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, ownerID uuid.UUID) error {
	delete(f.records, ownerID)
	return nil
}

func newTestLedger(store *fakeStore) *Ledger {
	return NewLedger(store, config.QuotaConfig{DefaultMemoryBytes: 1000, DefaultAPICalls: 10})
}

func TestCheckAndReserveAdmitsWithinAllocation(t *testing.T) {
	store := newFakeStore()
	ledger := newTestLedger(store)
	owner := uuid.New()

	if err := ledger.Create(context.Background(), owner); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := ledger.CheckAndReserve(context.Background(), owner, 500)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if rec.MemoryUsed != 0 {
		t.Fatalf("expected untouched usage, got %d", rec.MemoryUsed)
	}
	if store.increments != 0 {
		t.Fatalf("check must not persist anything, saw %d increments", store.increments)
	}
}

func TestCheckAndReserveRejectsMemoryOverrun(t *testing.T) {
	store := newFakeStore()
	ledger := newTestLedger(store)
	owner := uuid.New()

	if err := ledger.Create(context.Background(), owner); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := ledger.CheckAndReserve(context.Background(), owner, 1000)
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError, got %v", err)
	}
	if exceeded.Reason != ReasonMemory {
		t.Fatalf("expected memory reason, got %q", exceeded.Reason)
	}

	rec, _ := ledger.Get(context.Background(), owner)
	if rec.MemoryUsed != 0 {
		t.Fatalf("rejection must leave usage unchanged, got %d", rec.MemoryUsed)
	}
}

func TestCheckAndReserveRejectsAPICallOverrun(t *testing.T) {
	store := newFakeStore()
	ledger := newTestLedger(store)
	owner := uuid.New()

	if err := ledger.Create(context.Background(), owner); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ledger.Commit(context.Background(), owner, 0, 9); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, err := ledger.CheckAndReserve(context.Background(), owner, 1)
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError, got %v", err)
	}
	if exceeded.Reason != ReasonAPICalls {
		t.Fatalf("expected api-calls reason, got %q", exceeded.Reason)
	}
}

func TestCommitAppliesSignedDeltas(t *testing.T) {
	store := newFakeStore()
	ledger := newTestLedger(store)
	owner := uuid.New()

	if err := ledger.Create(context.Background(), owner); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ledger.Commit(context.Background(), owner, 226, 1); err != nil {
		t.Fatalf("upload commit: %v", err)
	}
	if err := ledger.Commit(context.Background(), owner, -226, 1); err != nil {
		t.Fatalf("delete commit: %v", err)
	}

	rec, err := ledger.Get(context.Background(), owner)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.MemoryUsed != 0 {
		t.Fatalf("expected memory usage back to 0, got %d", rec.MemoryUsed)
	}
	if rec.APICallsUsed != 2 {
		t.Fatalf("expected 2 api calls used, got %d", rec.APICallsUsed)
	}
}

func TestRemoveDropsRecord(t *testing.T) {
	store := newFakeStore()
	ledger := newTestLedger(store)
	owner := uuid.New()

	if err := ledger.Create(context.Background(), owner); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ledger.Remove(context.Background(), owner); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := ledger.Get(context.Background(), owner); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}
