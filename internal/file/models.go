package file

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is the stored metadata for one file.
//
// RemoteID is the backend-assigned identifier of the physical object (a
// filename on the local backend, a UUID key on the cloud backend).
// ContainerName is denormalized for display and is not authoritative.
type Record struct {
	ID            uuid.UUID       `json:"id"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	ContainerID   uuid.UUID       `json:"container_id"`
	ContainerName string          `json:"container_name"`
	ParentID      *uuid.UUID      `json:"parent_id,omitempty"`
	Name          string          `json:"name"`
	RemoteID      string          `json:"remote_id"`
	SizeBytes     int64           `json:"size_bytes"`
	MimeType      string          `json:"mime_type"`
	IsPublic      bool            `json:"is_public"`
	PublicURL     string          `json:"public_url"`
	Encoded       bool            `json:"encoded"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
