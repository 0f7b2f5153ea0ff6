package service

import (
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
)

const defaultHubBuffer = 64

// EventHub fans call events out to the connected UI clients. A subscriber
// that falls behind loses events rather than stalling the call.
type EventHub struct {
	log    *slog.Logger
	buffer int

	mu   sync.RWMutex
	next uint64
	subs map[uint64]chan domain.Event
}

func NewEventHub(buffer int, log *slog.Logger) *EventHub {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	return &EventHub{
		log:    log,
		buffer: buffer,
		subs:   make(map[uint64]chan domain.Event),
	}
}

func (h *EventHub) Subscribe() (uint64, <-chan domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	ch := make(chan domain.Event, h.buffer)
	h.subs[h.next] = ch
	return h.next, ch
}

func (h *EventHub) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *EventHub) Publish(e domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.log.Debug("dropping event",
				slog.Uint64("subscriber", id),
				slog.String("type", string(e.Type)),
				slog.String("call_id", e.CallID),
			)
		}
	}
}

// Navigate tells the UI which screen to show once a call is over.
func (h *EventHub) Navigate(callID string, route domain.Route) {
	h.Publish(domain.NewEvent(domain.EventNavigate, callID, map[string]any{
		"route": string(route),
	}))
}

func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
