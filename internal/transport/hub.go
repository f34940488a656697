// Package transport connects views to the orchestrator: an observer hub for
// events, an HTTP/SSE server and a JSON-lines stdio loop.
package transport

import (
	"sync"

	"github.com/joss/clash/internal/logging"
	"github.com/joss/clash/internal/protocol"
)

// queueSize bounds events buffered for a slow observer.
const queueSize = 256

// Hub fans orchestrator events out to at most one observer. Attaching a new
// observer detaches the previous one; with no observer events are dropped.
type Hub struct {
	log *logging.Logger

	mu      sync.Mutex
	current *Subscription
	seq     uint64
}

// Subscription is one attached observer.
type Subscription struct {
	ID     uint64
	events chan *protocol.Envelope
	done   chan struct{}
	once   sync.Once
}

// Events delivers emitted envelopes in order.
func (s *Subscription) Events() <-chan *protocol.Envelope { return s.events }

// Done is closed when the subscription is replaced or detached.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates a hub with no observer.
func NewHub() *Hub {
	return &Hub{log: logging.New("hub")}
}

// Attach makes a new subscription current.
func (h *Hub) Attach() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil {
		h.log.Info("observer_replaced", map[string]interface{}{"previous": h.current.ID})
		h.current.close()
	}
	h.seq++
	s := &Subscription{
		ID:     h.seq,
		events: make(chan *protocol.Envelope, queueSize),
		done:   make(chan struct{}),
	}
	h.current = s
	h.log.Debug("observer_attached", map[string]interface{}{"id": s.ID})
	return s
}

// Detach releases s if it is still current.
func (h *Hub) Detach(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s.close()
	if h.current == s {
		h.current = nil
		h.log.Debug("observer_detached", map[string]interface{}{"id": s.ID})
	}
}

// Attached reports whether an observer is connected.
func (h *Hub) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}

// Emit implements orchestrator.Emitter. It never blocks.
func (h *Hub) Emit(env *protocol.Envelope) {
	h.mu.Lock()
	s := h.current
	h.mu.Unlock()
	if s == nil {
		return
	}

	select {
	case s.events <- env:
	default:
		h.log.Warn("event_dropped", map[string]interface{}{
			"type":     string(env.Type),
			"observer": s.ID,
		}, nil)
	}
}
