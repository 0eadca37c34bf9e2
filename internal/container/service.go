package container

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/avetrin/govault/internal/event"
	"github.com/avetrin/govault/internal/remote"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// FilePurger removes every file record in a container, cascading through
// parent/child chains, and returns the removed identifiers. Implemented by
// the file service.
type FilePurger interface {
	PurgeContainer(ctx context.Context, ownerID, containerID uuid.UUID) ([]uuid.UUID, error)
}

type repository interface {
	Create(ctx context.Context, c Container) (Container, error)
	GetByID(ctx context.Context, ownerID, containerID uuid.UUID) (Container, error)
	GetByName(ctx context.Context, ownerID uuid.UUID, name string) (Container, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]Container, error)
	Delete(ctx context.Context, ownerID, containerID uuid.UUID) error
	IncrementUsage(ctx context.Context, containerID uuid.UUID, deltaBytes int64) error
}

type ledger interface {
	Commit(ctx context.Context, ownerID uuid.UUID, bytesDelta, callsDelta int64) error
}

// Service orchestrates container lifecycle against the remote backend,
// the record store, and the quota ledger.
type Service struct {
	repo            repository
	backend         remote.Backend
	quotas          ledger
	files           FilePurger
	events          event.Sink
	log             *zap.Logger
	memoryAllocated int64
}

// NewService constructs a container service. files may be set later via
// SetFilePurger to break the construction cycle with the file service.
func NewService(repo repository, backend remote.Backend, quotas ledger, events event.Sink, log *zap.Logger, memoryAllocated int64) *Service {
	return &Service{
		repo:            repo,
		backend:         backend,
		quotas:          quotas,
		events:          events,
		log:             log,
		memoryAllocated: memoryAllocated,
	}
}

// SetFilePurger wires the file cascade used by container deletion.
func (s *Service) SetFilePurger(p FilePurger) {
	s.files = p
}

// Create validates the name, creates the physical container, and records it.
// The name-uniqueness check and the insert are not atomic against identical
// concurrent requests; the unique index catches the loser.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, name string) (Container, error) {
	name = strings.TrimSpace(name)
	if name == "" || !nameRe.MatchString(name) {
		return Container{}, ErrInvalidName
	}

	if _, err := s.repo.GetByName(ctx, ownerID, name); err == nil {
		return Container{}, ErrNameExists
	} else if err != ErrContainerNotFound {
		return Container{}, err
	}

	c := Container{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Name:            name,
		MemoryAllocated: s.memoryAllocated,
	}

	if err := s.backend.CreateContainer(ctx, c.ID.String()); err != nil {
		return Container{}, fmt.Errorf("create remote container: %w", err)
	}

	stored, err := s.repo.Create(ctx, c)
	if err != nil {
		if rmErr := s.backend.RemoveContainer(ctx, c.ID.String()); rmErr != nil {
			s.log.Warn("orphaned remote container after failed insert",
				zap.String("container", c.ID.String()), zap.Error(rmErr))
		}
		return Container{}, err
	}

	if err := s.quotas.Commit(ctx, ownerID, 0, 1); err != nil {
		s.log.Warn("container create accounting failed", zap.Error(err))
	}

	s.events.Notify(event.TypeContainerCreated, stored, ownerID)
	return stored, nil
}

// Resolve finds a container by identifier or by user-chosen name.
func (s *Service) Resolve(ctx context.Context, ownerID uuid.UUID, nameOrID string) (Container, error) {
	if id, err := uuid.Parse(nameOrID); err == nil {
		if c, err := s.repo.GetByID(ctx, ownerID, id); err == nil {
			return c, nil
		} else if err != ErrContainerNotFound {
			return Container{}, err
		}
	}
	return s.repo.GetByName(ctx, ownerID, nameOrID)
}

// Get fetches a container ensuring ownership.
func (s *Service) Get(ctx context.Context, ownerID, containerID uuid.UUID) (Container, error) {
	return s.repo.GetByID(ctx, ownerID, containerID)
}

// List returns the user's containers with usage.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]Container, error) {
	return s.repo.List(ctx, ownerID)
}

// IncrementUsage adjusts the container's memory_used counter.
func (s *Service) IncrementUsage(ctx context.Context, containerID uuid.UUID, deltaBytes int64) error {
	return s.repo.IncrementUsage(ctx, containerID, deltaBytes)
}

// Delete purges the container's files, removes the physical container, and
// deletes the record. A file-removal failure aborts the whole deletion;
// files already removed by then stay removed (accepted degraded state, no
// transaction spans the cascade).
func (s *Service) Delete(ctx context.Context, ownerID uuid.UUID, nameOrID string) (uuid.UUID, error) {
	c, err := s.Resolve(ctx, ownerID, nameOrID)
	if err != nil {
		return uuid.Nil, err
	}

	if s.files != nil {
		if _, err := s.files.PurgeContainer(ctx, ownerID, c.ID); err != nil {
			return uuid.Nil, fmt.Errorf("purge container files: %w", err)
		}
	}

	if err := s.backend.RemoveContainer(ctx, c.ID.String()); err != nil {
		return uuid.Nil, fmt.Errorf("remove remote container: %w", err)
	}

	if err := s.repo.Delete(ctx, ownerID, c.ID); err != nil {
		return uuid.Nil, err
	}

	if err := s.quotas.Commit(ctx, ownerID, 0, 1); err != nil {
		s.log.Warn("container delete accounting failed", zap.Error(err))
	}

	s.events.Notify(event.TypeContainerRemoved, map[string]string{
		"id":   c.ID.String(),
		"name": c.Name,
	}, ownerID)

	return c.ID, nil
}
