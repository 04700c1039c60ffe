// Package scheduler runs the per-tenant timeout policy: wait, fade the volume
// down, then pause or leave.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/keshon/melodeck/internal/metrics"
	"github.com/keshon/melodeck/internal/music/sink"
	"github.com/rs/zerolog"
)

type Action string

const (
	FadeOutAndLeave Action = "fadeOutAndLeave"
	FadeOut         Action = "fadeOut"
	Leave           Action = "leave"
	Stop            Action = "stop"
)

var Actions = []Action{FadeOutAndLeave, FadeOut, Leave, Stop}

var (
	ErrInvalidMinutes = errors.New("timeout must be at least one minute")
	ErrUnknownAction  = errors.New("unknown timeout action")
	ErrClosed         = errors.New("scheduler closed")
)

func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if strings.EqualFold(s, string(a)) {
			return a, nil
		}
	}
	if s == "" {
		return FadeOutAndLeave, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

func (a Action) fades() bool  { return a == FadeOut || a == FadeOutAndLeave }
func (a Action) leaves() bool { return a == Leave || a == FadeOutAndLeave }

type State string

const (
	StateArmed  State = "armed"
	StateFading State = "fading"
)

// Policy is the armed timeout of one tenant.
type Policy struct {
	Minutes    int
	Action     Action
	StartedAt  time.Time
	DeadlineAt time.Time
	State      State
}

// Target is the session side the scheduler mutates. Every call re-checks
// that the tenant still has a session.
type Target interface {
	Exists(tenantID string) bool
	Volume(tenantID string) (int, bool)
	ApplyVolume(tenantID string, volume int) error
	PausePlayback(tenantID string) error
	Teardown(tenantID string) error
}

type Config struct {
	Unit     time.Duration // length of one "minute"
	Steps    int
	Interval time.Duration // between fade steps
	Floor    int           // lowest fade volume, at least 1
}

func DefaultConfig() Config {
	return Config{Unit: time.Minute, Steps: 10, Interval: 2 * time.Second, Floor: 5}
}

type Scheduler struct {
	cfg    Config
	target Target
	sink   sink.Sink
	log    zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	timers map[string]*entry
	closed bool
	wg     sync.WaitGroup
}

type entry struct {
	tenantID string
	notifyCh string
	policy   Policy
	stop     chan struct{}
	once     sync.Once
}

func (e *entry) cancel() { e.once.Do(func() { close(e.stop) }) }

func New(cfg Config, target Target, out sink.Sink, log zerolog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Unit <= 0 {
		cfg.Unit = def.Unit
	}
	if cfg.Steps <= 0 {
		cfg.Steps = def.Steps
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Floor < 1 {
		cfg.Floor = 1
	}
	if out == nil {
		out = sink.Discard{}
	}
	return &Scheduler{
		cfg:    cfg,
		target: target,
		sink:   out,
		log:    log,
		now:    time.Now,
		timers: make(map[string]*entry),
	}
}

// SetTarget binds the session side after construction, for callers that
// build both halves together.
func (s *Scheduler) SetTarget(t Target) {
	s.mu.Lock()
	s.target = t
	s.mu.Unlock()
}

// Arm replaces any timer of the tenant with a new one firing after
// minutes × Unit.
func (s *Scheduler) Arm(tenantID, notifyChannelID string, minutes int, action Action) (Policy, error) {
	if minutes < 1 {
		return Policy{}, ErrInvalidMinutes
	}
	if _, err := ParseAction(string(action)); err != nil || action == "" {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	now := s.now()
	d := time.Duration(minutes) * s.cfg.Unit
	e := &entry{
		tenantID: tenantID,
		notifyCh: notifyChannelID,
		policy: Policy{
			Minutes:    minutes,
			Action:     action,
			StartedAt:  now,
			DeadlineAt: now.Add(d),
			State:      StateArmed,
		},
		stop: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Policy{}, ErrClosed
	}
	if old, ok := s.timers[tenantID]; ok {
		old.cancel()
	}
	s.timers[tenantID] = e
	s.wg.Add(1)
	policy := e.policy
	s.mu.Unlock()

	go s.run(e, d)

	s.log.Debug().Str("tenant", tenantID).Int("minutes", minutes).Str("action", string(action)).Msg("timeout armed")
	return policy, nil
}

// Cancel drops the tenant's timer, aborting a running fade. It reports
// whether one was pending.
func (s *Scheduler) Cancel(tenantID string) bool {
	s.mu.Lock()
	e, ok := s.timers[tenantID]
	if ok {
		delete(s.timers, tenantID)
	}
	s.mu.Unlock()
	if ok {
		e.cancel()
	}
	return ok
}

// Pending returns the tenant's active policy.
func (s *Scheduler) Pending(tenantID string) (Policy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[tenantID]
	if !ok {
		return Policy{}, false
	}
	return e.policy, true
}

// Close cancels every timer and waits for running fades to stop.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, e := range s.timers {
		e.cancel()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// current reports whether e is still the tenant's timer and the session
// still exists.
func (s *Scheduler) current(e *entry) (Target, bool) {
	s.mu.Lock()
	active := s.timers[e.tenantID] == e
	target := s.target
	s.mu.Unlock()
	if !active || target == nil {
		return nil, false
	}
	return target, target.Exists(e.tenantID)
}

func (s *Scheduler) run(e *entry, d time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.stop:
		return
	case <-timer.C:
	}

	log := s.log.With().Str("tenant", e.tenantID).Str("action", string(e.policy.Action)).Logger()

	target, ok := s.current(e)
	if !ok {
		s.release(e)
		return
	}
	metrics.TimeoutsFired.WithLabelValues(string(e.policy.Action)).Inc()
	log.Info().Msg("timeout fired")

	restore := -1
	if e.policy.Action.fades() {
		s.mu.Lock()
		e.policy.State = StateFading
		s.mu.Unlock()

		v0, _ := target.Volume(e.tenantID)
		restore = v0
		if !s.fade(e, v0, log) {
			log.Debug().Msg("fade aborted")
			return
		}
	}

	// terminal: the timer is spent before the action runs
	if target, ok = s.current(e); !ok {
		s.release(e)
		return
	}
	s.release(e)

	var err error
	var text string
	if e.policy.Action.leaves() {
		err = target.Teardown(e.tenantID)
		text = fmt.Sprintf("Timeout of %d min reached. Left the voice channel.", e.policy.Minutes)
	} else {
		err = target.PausePlayback(e.tenantID)
		if err == nil && restore > 0 {
			err = target.ApplyVolume(e.tenantID, restore)
		}
		text = fmt.Sprintf("Timeout of %d min reached. Playback paused.", e.policy.Minutes)
	}
	if err != nil {
		log.Warn().Err(err).Msg("timeout action failed")
		return
	}
	s.notify(e, text, log)
}

// fade steps the volume linearly from v0 to the floor. It returns false when
// the timer was cancelled or the session vanished.
func (s *Scheduler) fade(e *entry, v0 int, log zerolog.Logger) bool {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	prev := v0
	for i := 1; i <= s.cfg.Steps; i++ {
		select {
		case <-e.stop:
			return false
		case <-ticker.C:
		}
		target, ok := s.current(e)
		if !ok {
			s.release(e)
			return false
		}
		nv := FadeVolume(v0, s.cfg.Floor, i, s.cfg.Steps)
		if nv == prev {
			continue
		}
		if err := target.ApplyVolume(e.tenantID, nv); err != nil {
			log.Warn().Err(err).Int("step", i).Msg("fade step failed")
			s.release(e)
			return false
		}
		prev = nv
	}
	return true
}

// FadeVolume is the volume at step i of steps, falling linearly from v0 to
// floor. A volume already at or below the floor is left alone.
func FadeVolume(v0, floor, i, steps int) int {
	if v0 <= floor || steps <= 0 {
		return v0
	}
	if i >= steps {
		return floor
	}
	return v0 - (v0-floor)*i/steps
}

func (s *Scheduler) release(e *entry) {
	s.mu.Lock()
	if s.timers[e.tenantID] == e {
		delete(s.timers, e.tenantID)
	}
	s.mu.Unlock()
}

func (s *Scheduler) notify(e *entry, text string, log zerolog.Logger) {
	if e.notifyCh == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.sink.Send(ctx, e.notifyCh, sink.Message{
		Title:       "⏰ Timeout",
		Description: text,
		Color:       0xFEE75C,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to send timeout notice")
	}
}
