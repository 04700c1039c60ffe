package status

import (
	"sync"

	"github.com/keshon/melodeck/internal/metrics"
	"github.com/rs/zerolog"
)

// Subscription is an ordered event stream. Publishers append to a bounded
// backlog; a pump goroutine feeds Events. When the backlog is full the oldest
// event is dropped.
type Subscription struct {
	limit int
	log   zerolog.Logger

	mu      sync.Mutex
	backlog []Event
	dropped uint64
	closed  bool

	wake   chan struct{}
	done   chan struct{}
	out    chan Event
	once   sync.Once
	detach func()
}

func newSubscription(limit int, log zerolog.Logger) *Subscription {
	s := &Subscription{
		limit: limit,
		log:   log,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		out:   make(chan Event),
	}
	go s.pump()
	return s
}

// Events is closed after Close.
func (s *Subscription) Events() <-chan Event { return s.out }

// Dropped counts events lost to backlog overflow.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.backlog = nil
		s.mu.Unlock()
		if s.detach != nil {
			s.detach()
		}
		close(s.done)
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.backlog) >= s.limit {
		s.backlog = s.backlog[1:]
		s.dropped++
		metrics.EventsDropped.Inc()
		s.log.Warn().Str("tenant", ev.TenantID).Uint64("dropped", s.dropped).Msg("subscriber backlog full, dropping oldest event")
	}
	s.backlog = append(s.backlog, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.backlog) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
