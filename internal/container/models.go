package container

import (
	"time"

	"github.com/google/uuid"
)

// Container is a named, owner-scoped storage namespace ("volume").
type Container struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         uuid.UUID `json:"owner_id"`
	Name            string    `json:"name"`
	MemoryUsed      int64     `json:"memory_used"`
	MemoryAllocated int64     `json:"memory_allocated"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
