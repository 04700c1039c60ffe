package status

import (
	"sync"
	"time"

	"github.com/keshon/melodeck/internal/metrics"
	"github.com/rs/zerolog"
)

const DefaultBacklog = 256

// Hub holds one channel per tenant. Channels are created on first use and
// live as long as the Hub, so observers can attach before a session exists.
type Hub struct {
	backlog int
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	channels map[string]*channel
	all      map[*Subscription]struct{}
	closed   bool
}

type channel struct {
	mu   sync.Mutex
	seq  uint64
	subs map[*Subscription]struct{}
}

func NewHub(backlog int, log zerolog.Logger) *Hub {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Hub{
		backlog:  backlog,
		log:      log,
		now:      time.Now,
		channels: make(map[string]*channel),
		all:      make(map[*Subscription]struct{}),
	}
}

func (h *Hub) channel(tenantID string) *channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[tenantID]
	if !ok {
		ch = &channel{subs: make(map[*Subscription]struct{})}
		h.channels[tenantID] = ch
	}
	return ch
}

// Publish stamps and delivers an event without blocking on subscribers.
func (h *Hub) Publish(tenantID string, kind Kind, snap Snapshot) Event {
	ch := h.channel(tenantID)

	ch.mu.Lock()
	ch.seq++
	ev := Event{Seq: ch.seq, Kind: kind, TenantID: tenantID, At: h.now(), Snapshot: snap}
	for sub := range ch.subs {
		sub.push(ev)
	}
	// global subscribers are fed under the tenant lock so their per-tenant
	// order matches
	h.mu.Lock()
	for sub := range h.all {
		sub.push(ev)
	}
	h.mu.Unlock()
	ch.mu.Unlock()

	metrics.IncEvent(string(kind))
	h.log.Debug().Str("tenant", tenantID).Str("kind", string(kind)).Uint64("seq", ev.Seq).Msg("event")
	return ev
}

// Subscribe attaches to one tenant. Only events published afterwards are
// delivered.
func (h *Hub) Subscribe(tenantID string) *Subscription {
	sub := newSubscription(h.backlog, h.log)
	if h.isClosed() {
		sub.Close()
		return sub
	}

	ch := h.channel(tenantID)
	sub.detach = func() {
		ch.mu.Lock()
		delete(ch.subs, sub)
		ch.mu.Unlock()
	}
	ch.mu.Lock()
	ch.subs[sub] = struct{}{}
	ch.mu.Unlock()

	// Close sets closed before scanning channels, so a subscription attached
	// after its scan sees the flag here.
	if h.isClosed() {
		sub.Close()
	}
	return sub
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// SubscribeAll attaches to every tenant, present and future.
func (h *Hub) SubscribeAll() *Subscription {
	sub := newSubscription(h.backlog, h.log)
	sub.detach = func() {
		h.mu.Lock()
		delete(h.all, sub)
		h.mu.Unlock()
	}

	h.mu.Lock()
	closed := h.closed
	if !closed {
		h.all[sub] = struct{}{}
	}
	h.mu.Unlock()

	if closed {
		sub.Close()
	}
	return sub
}

// Close ends every subscription. Publishing after Close still works but
// reaches nobody.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var subs []*Subscription
	for sub := range h.all {
		subs = append(subs, sub)
	}
	channels := make([]*channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		ch.mu.Lock()
		for sub := range ch.subs {
			subs = append(subs, sub)
		}
		ch.mu.Unlock()
	}
	for _, sub := range subs {
		sub.Close()
	}
}
