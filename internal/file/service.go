package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/avetrin/govault/internal/container"
	"github.com/avetrin/govault/internal/event"
	"github.com/avetrin/govault/internal/remote"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type recordStore interface {
	Create(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, ownerID, fileID uuid.UUID) (Record, error)
	ListByContainer(ctx context.Context, ownerID, containerID uuid.UUID) ([]Record, error)
	ListChildren(ctx context.Context, ownerID, parentID uuid.UUID) ([]Record, error)
	Delete(ctx context.Context, ownerID, fileID uuid.UUID) (Record, error)
	SetMeta(ctx context.Context, ownerID, fileID uuid.UUID, meta json.RawMessage) error
	Rename(ctx context.Context, ownerID, fileID uuid.UUID, name string) (Record, error)
	SetVisibility(ctx context.Context, ownerID, fileID uuid.UUID, public bool, url string) (Record, error)
}

type containerStore interface {
	Get(ctx context.Context, ownerID, containerID uuid.UUID) (container.Container, error)
	IncrementUsage(ctx context.Context, containerID uuid.UUID, deltaBytes int64) error
}

type ledger interface {
	Commit(ctx context.Context, ownerID uuid.UUID, bytesDelta, callsDelta int64) error
}

// Service manages file metadata lifecycle and keeps the remote backend,
// container usage, and quota ledger consistent across delete paths.
type Service struct {
	repo       recordStore
	containers containerStore
	backend    remote.Backend
	quotas     ledger
	events     event.Sink
	log        *zap.Logger
}

// NewService constructs a file service.
func NewService(repo recordStore, containers containerStore, backend remote.Backend, quotas ledger, events event.Sink, log *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		containers: containers,
		backend:    backend,
		quotas:     quotas,
		events:     events,
		log:        log,
	}
}

// Create inserts a record. Used by the upload coordinator after the
// physical upload succeeded.
func (s *Service) Create(ctx context.Context, rec Record) (Record, error) {
	return s.repo.Create(ctx, rec)
}

// Get fetches a record ensuring ownership.
func (s *Service) Get(ctx context.Context, ownerID, fileID uuid.UUID) (Record, error) {
	return s.repo.Get(ctx, ownerID, fileID)
}

// List returns files in a container the user owns.
func (s *Service) List(ctx context.Context, ownerID, containerID uuid.UUID) ([]Record, error) {
	if _, err := s.containers.Get(ctx, ownerID, containerID); err != nil {
		return nil, err
	}
	return s.repo.ListByContainer(ctx, ownerID, containerID)
}

// Delete removes the file and, transitively, every file referencing it as
// parent. Children go first so their container bookkeeping still resolves.
// Returns the identifiers removed, depth-first.
func (s *Service) Delete(ctx context.Context, ownerID, fileID uuid.UUID) ([]uuid.UUID, error) {
	children, err := s.repo.ListChildren(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	var removed []uuid.UUID
	for _, child := range children {
		childRemoved, err := s.Delete(ctx, ownerID, child.ID)
		if err != nil {
			return removed, err
		}
		removed = append(removed, childRemoved...)
	}

	rec, err := s.repo.Delete(ctx, ownerID, fileID)
	if err != nil {
		return removed, err
	}

	if err := s.backend.Remove(ctx, rec.ContainerID.String(), rec.RemoteID); err != nil {
		return removed, fmt.Errorf("remove remote object: %w", err)
	}

	if err := s.containers.IncrementUsage(ctx, rec.ContainerID, -rec.SizeBytes); err != nil {
		s.log.Warn("container usage decrement failed",
			zap.String("file", rec.ID.String()), zap.Error(err))
	}
	if err := s.quotas.Commit(ctx, ownerID, -rec.SizeBytes, 1); err != nil {
		s.log.Warn("quota decrement failed",
			zap.String("file", rec.ID.String()), zap.Error(err))
	}

	s.events.Notify(event.TypeFileRemoved, map[string]string{
		"id":   rec.ID.String(),
		"name": rec.Name,
	}, ownerID)

	return append(removed, rec.ID), nil
}

// DeleteByParent cascades from every child of the given parent without
// touching the parent itself.
func (s *Service) DeleteByParent(ctx context.Context, ownerID, parentID uuid.UUID) ([]uuid.UUID, error) {
	children, err := s.repo.ListChildren(ctx, ownerID, parentID)
	if err != nil {
		return nil, err
	}
	var removed []uuid.UUID
	for _, child := range children {
		childRemoved, err := s.Delete(ctx, ownerID, child.ID)
		if err != nil {
			return removed, err
		}
		removed = append(removed, childRemoved...)
	}
	return removed, nil
}

// PurgeContainer removes every file in the container. Files already taken
// out by an earlier cascade step are skipped.
func (s *Service) PurgeContainer(ctx context.Context, ownerID, containerID uuid.UUID) ([]uuid.UUID, error) {
	records, err := s.repo.ListByContainer(ctx, ownerID, containerID)
	if err != nil {
		return nil, err
	}

	var removed []uuid.UUID
	for _, rec := range records {
		recRemoved, err := s.Delete(ctx, ownerID, rec.ID)
		removed = append(removed, recRemoved...)
		if err != nil {
			if err == ErrFileNotFound {
				continue
			}
			return removed, err
		}
	}
	return removed, nil
}

// Rename updates the file's display name.
func (s *Service) Rename(ctx context.Context, ownerID, fileID uuid.UUID, name string) (Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Record{}, ErrInvalidName
	}
	return s.repo.Rename(ctx, ownerID, fileID, name)
}

// GetMeta returns the opaque meta blob.
func (s *Service) GetMeta(ctx context.Context, ownerID, fileID uuid.UUID) (json.RawMessage, error) {
	rec, err := s.repo.Get(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	return rec.Meta, nil
}

// SetMeta validates and stores the meta blob.
func (s *Service) SetMeta(ctx context.Context, ownerID, fileID uuid.UUID, meta json.RawMessage) error {
	if len(meta) > 0 && !json.Valid(meta) {
		return ErrInvalidMeta
	}
	return s.repo.SetMeta(ctx, ownerID, fileID, meta)
}

// SetVisibility toggles the public flag, re-issuing the URL appropriate for
// the new visibility. Setting the current state again is a no-op rewrite.
func (s *Service) SetVisibility(ctx context.Context, ownerID, fileID uuid.UUID, public bool) (Record, error) {
	rec, err := s.repo.Get(ctx, ownerID, fileID)
	if err != nil {
		return Record{}, err
	}

	url, err := s.backend.FileURL(ctx, rec.ContainerID.String(), rec.RemoteID, public)
	if err != nil {
		return Record{}, err
	}

	return s.repo.SetVisibility(ctx, ownerID, fileID, public, url)
}

// Download opens the stored object and adapts its encoding to what the
// client accepts. The returned contentEncoding names the encoding of the
// stream ("gzip", "deflate", or empty for identity).
func (s *Service) Download(ctx context.Context, ownerID, fileID uuid.UUID, acceptEncoding string) (Record, io.ReadCloser, string, error) {
	rec, err := s.repo.Get(ctx, ownerID, fileID)
	if err != nil {
		return Record{}, nil, "", err
	}

	stored, err := s.backend.Open(ctx, rec.ContainerID.String(), rec.RemoteID)
	if err != nil {
		if err == remote.ErrNotFound {
			return Record{}, nil, "", ErrFileNotFound
		}
		return Record{}, nil, "", err
	}

	body, encoding, err := negotiateEncoding(stored, rec.Encoded, acceptEncoding)
	if err != nil {
		stored.Close()
		return Record{}, nil, "", err
	}
	return rec, body, encoding, nil
}
