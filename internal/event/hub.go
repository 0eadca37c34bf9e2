package event

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 32
)

// subscriber owns one websocket connection. The connection forbids
// concurrent writers, so every frame goes through the send channel and a
// single writer goroutine.
type subscriber struct {
	conn *websocket.Conn
	send chan Envelope
	done chan struct{}
}

// Hub fans events out to websocket subscribers grouped by owner.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[uuid.UUID]map[*subscriber]struct{}
}

// NewHub builds an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]map[*subscriber]struct{}),
	}
}

// Subscribe upgrades the request and registers the connection under the
// owner until the peer disconnects.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, ownerID uuid.UUID) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan Envelope, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.conns[ownerID] == nil {
		h.conns[ownerID] = make(map[*subscriber]struct{})
	}
	h.conns[ownerID][sub] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(ownerID, sub)

	// Drain control frames; removal happens when the read loop ends.
	go func() {
		defer h.drop(ownerID, sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	return nil
}

// writeLoop is the only goroutine allowed to write to the connection.
func (h *Hub) writeLoop(ownerID uuid.UUID, sub *subscriber) {
	for {
		select {
		case env := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteJSON(env); err != nil {
				h.log.Warn("event delivery failed",
					zap.String("type", env.Type),
					zap.Error(err),
				)
				h.drop(ownerID, sub)
				return
			}
		case <-sub.done:
			return
		}
	}
}

// Notify delivers the event to the owner's connections, or to every
// connection when ownerID is uuid.Nil. The enqueue never blocks: a
// subscriber that cannot keep up loses the event, never stalls the
// storage operation.
func (h *Hub) Notify(eventType string, payload interface{}, ownerID uuid.UUID) {
	env := Envelope{Type: eventType, Payload: payload}

	h.mu.RLock()
	var targets []*subscriber
	if ownerID == uuid.Nil {
		for _, set := range h.conns {
			for sub := range set {
				targets = append(targets, sub)
			}
		}
	} else {
		for sub := range h.conns[ownerID] {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.send <- env:
		case <-sub.done:
		default:
			h.log.Warn("subscriber buffer full, event dropped",
				zap.String("type", eventType))
		}
	}
}

// drop unregisters the subscriber and stops its writer. Safe to call from
// both the read and the write loop; done is closed exactly once, on the
// call that actually removes the subscriber.
func (h *Hub) drop(ownerID uuid.UUID, sub *subscriber) {
	h.mu.Lock()
	removed := false
	for owner, set := range h.conns {
		if ownerID != uuid.Nil && owner != ownerID {
			continue
		}
		if _, ok := set[sub]; ok {
			delete(set, sub)
			removed = true
			if len(set) == 0 {
				delete(h.conns, owner)
			}
		}
	}
	h.mu.Unlock()

	if removed {
		close(sub.done)
	}
	sub.conn.Close()
}
