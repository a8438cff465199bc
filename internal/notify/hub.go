// Package notify hands monitor notifications from the worker goroutine to
// consumers running elsewhere, such as HTTP streams.
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mrlokans/circulation/internal/monitor"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Hub fans notifications out to subscribers without ever blocking the sender.
// A subscriber whose buffer is full misses that notification.
type Hub struct {
	log    logrus.FieldLogger
	buffer int

	mu      sync.RWMutex
	subs    map[uint64]chan monitor.Notification
	nextID  uint64
	latest  *monitor.Notification
	dropped uint64
}

func NewHub(log logrus.FieldLogger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		log:    log,
		buffer: buffer,
		subs:   make(map[uint64]chan monitor.Notification),
	}
}

// OnOverdueDetected implements monitor.Handler.
func (h *Hub) OnOverdueDetected(n monitor.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = &n
	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.dropped++
			h.log.WithField("subscriber", id).Warn("Notification hub: subscriber is full, dropping notification")
		}
	}
}

// Subscribe returns a channel of future notifications and a cancel function
// that closes it. cancel is safe to call more than once.
func (h *Hub) Subscribe() (<-chan monitor.Notification, func()) {
	ch := make(chan monitor.Notification, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Latest returns the most recent notification, if any arrived.
func (h *Hub) Latest() (monitor.Notification, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return monitor.Notification{}, false
	}
	return *h.latest, true
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
