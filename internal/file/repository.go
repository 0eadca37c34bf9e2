package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const recordColumns = `id, owner_id, container_id, container_name, parent_id, name, remote_id,
size_bytes, mime_type, is_public, public_url, encoded, meta, created_at, updated_at`

// Repository provides access to file metadata storage.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new file repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts metadata for a new file.
func (r *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO files (id, owner_id, container_id, container_name, parent_id, name, remote_id,
                   size_bytes, mime_type, is_public, public_url, encoded, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING ` + recordColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		rec.ID,
		rec.OwnerID,
		rec.ContainerID,
		rec.ContainerName,
		rec.ParentID,
		rec.Name,
		rec.RemoteID,
		rec.SizeBytes,
		rec.MimeType,
		rec.IsPublic,
		rec.PublicURL,
		rec.Encoded,
		rec.Meta,
	)

	stored, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("create file record: %w", err)
	}
	return stored, nil
}

// Get fetches a single record ensuring ownership.
func (r *Repository) Get(ctx context.Context, ownerID, fileID uuid.UUID) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM files WHERE id = $1 AND owner_id = $2;`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, fileID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrFileNotFound
		}
		return Record{}, fmt.Errorf("get file record: %w", err)
	}
	return rec, nil
}

// ListByContainer returns files in a container, newest first.
func (r *Repository) ListByContainer(ctx context.Context, ownerID, containerID uuid.UUID) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM files
WHERE container_id = $1 AND owner_id = $2 ORDER BY created_at DESC;`
	return r.queryRecords(ctx, query, containerID, ownerID)
}

// ListChildren returns direct children of the given file.
func (r *Repository) ListChildren(ctx context.Context, ownerID, parentID uuid.UUID) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM files WHERE parent_id = $1 AND owner_id = $2;`
	return r.queryRecords(ctx, query, parentID, ownerID)
}

// Delete removes a record and returns it.
func (r *Repository) Delete(ctx context.Context, ownerID, fileID uuid.UUID) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `DELETE FROM files WHERE id = $1 AND owner_id = $2 RETURNING ` + recordColumns + `;`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, fileID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrFileNotFound
		}
		return Record{}, fmt.Errorf("delete file record: %w", err)
	}
	return rec, nil
}

// SetMeta replaces the opaque meta blob.
func (r *Repository) SetMeta(ctx context.Context, ownerID, fileID uuid.UUID, meta json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `UPDATE files SET meta = $3, updated_at = NOW() WHERE id = $1 AND owner_id = $2;`
	tag, err := r.pool.Exec(ctx, query, fileID, ownerID, meta)
	if err != nil {
		return fmt.Errorf("set file meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// Rename updates the display name.
func (r *Repository) Rename(ctx context.Context, ownerID, fileID uuid.UUID, name string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `UPDATE files SET name = $3, updated_at = NOW()
WHERE id = $1 AND owner_id = $2 RETURNING ` + recordColumns + `;`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, fileID, ownerID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrFileNotFound
		}
		return Record{}, fmt.Errorf("rename file: %w", err)
	}
	return rec, nil
}

// SetVisibility flips the public flag and stores the URL issued for it.
func (r *Repository) SetVisibility(ctx context.Context, ownerID, fileID uuid.UUID, public bool, url string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `UPDATE files SET is_public = $3, public_url = $4, updated_at = NOW()
WHERE id = $1 AND owner_id = $2 RETURNING ` + recordColumns + `;`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, fileID, ownerID, public, url))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrFileNotFound
		}
		return Record{}, fmt.Errorf("set file visibility: %w", err)
	}
	return rec, nil
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.ContainerID,
		&rec.ContainerName,
		&rec.ParentID,
		&rec.Name,
		&rec.RemoteID,
		&rec.SizeBytes,
		&rec.MimeType,
		&rec.IsPublic,
		&rec.PublicURL,
		&rec.Encoded,
		&rec.Meta,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}
