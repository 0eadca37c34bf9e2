package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repositoryTimeout = 5 * time.Second

// Repository persists quota records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a quota repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a record with the given allocations. Re-creating an
// existing record is a no-op so account provisioning stays idempotent.
func (r *Repository) Create(ctx context.Context, ownerID uuid.UUID, memoryAllocated, apiCallsAllocated int64) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO quota_records (owner_id, memory_allocated, memory_used, api_calls_allocated, api_calls_used)
VALUES ($1, $2, 0, $3, 0)
ON CONFLICT (owner_id) DO NOTHING;`

	if _, err := r.pool.Exec(ctx, query, ownerID, memoryAllocated, apiCallsAllocated); err != nil {
		return fmt.Errorf("create quota record: %w", err)
	}
	return nil
}

// Get fetches the owner's record.
func (r *Repository) Get(ctx context.Context, ownerID uuid.UUID) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT owner_id, memory_allocated, memory_used, api_calls_allocated, api_calls_used, created_at, updated_at
FROM quota_records
WHERE owner_id = $1;`

	var rec Record
	err := r.pool.QueryRow(ctx, query, ownerID).Scan(
		&rec.OwnerID,
		&rec.MemoryAllocated,
		&rec.MemoryUsed,
		&rec.APICallsAllocated,
		&rec.APICallsUsed,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("get quota record: %w", err)
	}
	return rec, nil
}

// Increment applies usage deltas as a single atomic update. Negative deltas
// floor at zero so delete compensation can never drive usage negative.
func (r *Repository) Increment(ctx context.Context, ownerID uuid.UUID, bytesDelta, callsDelta int64) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE quota_records
SET memory_used    = GREATEST(memory_used + $2, 0),
    api_calls_used = GREATEST(api_calls_used + $3, 0),
    updated_at     = NOW()
WHERE owner_id = $1;`

	tag, err := r.pool.Exec(ctx, query, ownerID, bytesDelta, callsDelta)
	if err != nil {
		return fmt.Errorf("increment quota usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes the owner's record.
func (r *Repository) Delete(ctx context.Context, ownerID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `DELETE FROM quota_records WHERE owner_id = $1;`, ownerID); err != nil {
		return fmt.Errorf("delete quota record: %w", err)
	}
	return nil
}
