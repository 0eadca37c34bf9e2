package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repositoryTimeout = 5 * time.Second

const containerColumns = `id, owner_id, name, memory_used, memory_allocated, created_at, updated_at`

// Repository persists container records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a container repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new container for the owner.
func (r *Repository) Create(ctx context.Context, c Container) (Container, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO containers (id, owner_id, name, memory_used, memory_allocated)
VALUES ($1, $2, $3, 0, $4)
RETURNING ` + containerColumns + `;`

	row := r.pool.QueryRow(ctx, query, c.ID, c.OwnerID, c.Name, c.MemoryAllocated)

	stored, err := scanContainer(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Container{}, ErrNameExists
		}
		return Container{}, fmt.Errorf("create container: %w", err)
	}
	return stored, nil
}

// GetByID fetches a container ensuring ownership.
func (r *Repository) GetByID(ctx context.Context, ownerID, containerID uuid.UUID) (Container, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + containerColumns + ` FROM containers WHERE id = $1 AND owner_id = $2;`
	c, err := scanContainer(r.pool.QueryRow(ctx, query, containerID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Container{}, ErrContainerNotFound
		}
		return Container{}, fmt.Errorf("get container: %w", err)
	}
	return c, nil
}

// GetByName resolves a user-chosen name to the owner's container.
func (r *Repository) GetByName(ctx context.Context, ownerID uuid.UUID, name string) (Container, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + containerColumns + ` FROM containers WHERE owner_id = $1 AND name = $2;`
	c, err := scanContainer(r.pool.QueryRow(ctx, query, ownerID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Container{}, ErrContainerNotFound
		}
		return Container{}, fmt.Errorf("get container by name: %w", err)
	}
	return c, nil
}

// List returns all containers owned by the user.
func (r *Repository) List(ctx context.Context, ownerID uuid.UUID) ([]Container, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + containerColumns + ` FROM containers WHERE owner_id = $1 ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	defer rows.Close()

	var containers []Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		containers = append(containers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate containers: %w", err)
	}
	return containers, nil
}

// Delete removes a container owned by the user.
func (r *Repository) Delete(ctx context.Context, ownerID, containerID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM containers WHERE id = $1 AND owner_id = $2;`, containerID, ownerID)
	if err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContainerNotFound
	}
	return nil
}

// IncrementUsage adjusts memory_used by delta as a single atomic update.
func (r *Repository) IncrementUsage(ctx context.Context, containerID uuid.UUID, deltaBytes int64) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE containers
SET memory_used = GREATEST(memory_used + $2, 0),
    updated_at  = NOW()
WHERE id = $1;`

	tag, err := r.pool.Exec(ctx, query, containerID, deltaBytes)
	if err != nil {
		return fmt.Errorf("increment container usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContainerNotFound
	}
	return nil
}

func scanContainer(row pgx.Row) (Container, error) {
	var c Container
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.MemoryUsed, &c.MemoryAllocated, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
