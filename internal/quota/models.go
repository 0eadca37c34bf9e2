package quota

import (
	"time"

	"github.com/google/uuid"
)

// Record tracks a user's storage and API-call allocations.
type Record struct {
	OwnerID           uuid.UUID `json:"owner_id"`
	MemoryAllocated   int64     `json:"memory_allocated"`
	MemoryUsed        int64     `json:"memory_used"`
	APICallsAllocated int64     `json:"api_calls_allocated"`
	APICallsUsed      int64     `json:"api_calls_used"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
