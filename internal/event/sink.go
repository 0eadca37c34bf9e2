// Package event delivers storage notifications to connected clients.
package event

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types emitted by the storage pipeline.
const (
	TypeFileUploaded     = "file:uploaded"
	TypeFileRemoved      = "file:removed"
	TypeContainerCreated = "container:created"
	TypeContainerRemoved = "container:removed"
)

// Envelope is the wire shape delivered to subscribers.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Sink receives storage notifications. Implementations are fire-and-forget:
// delivery failures are logged, never returned, so they can never roll back
// a storage operation.
type Sink interface {
	// Notify delivers to the target owner's connections. A nil owner id
	// broadcasts to everyone.
	Notify(eventType string, payload interface{}, ownerID uuid.UUID)
}

// LogSink records events to the logger only. Used when no websocket hub is
// mounted and as the default in tests.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink builds a log-only sink.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(eventType string, payload interface{}, ownerID uuid.UUID) {
	s.log.Debug("event",
		zap.String("type", eventType),
		zap.String("owner", ownerID.String()),
		zap.Any("payload", payload),
	)
}
