// Package player owns the playback sessions of all tenants. The Registry is
// the only mutator of session lifecycle and publishes every observable change
// to the status hub while the session lock is held, so each tenant's event
// stream follows mutation order.
package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keshon/melodeck/internal/metrics"
	"github.com/keshon/melodeck/internal/music/nowplaying"
	"github.com/keshon/melodeck/internal/music/sink"
	"github.com/keshon/melodeck/internal/music/status"
	"github.com/keshon/melodeck/internal/music/track"
	"github.com/rs/zerolog"
)

const (
	fallbackVolume  = 80
	announceBacklog = 4
	failureColor    = 0xED4245
)

type Registry struct {
	deps Deps
	log  zerolog.Logger

	mu         sync.Mutex
	sessions   map[string]*Session
	connecting map[string]chan struct{}

	wg sync.WaitGroup
}

func NewRegistry(deps Deps) *Registry {
	if deps.DefaultVolume <= 0 || deps.DefaultVolume > 100 {
		deps.DefaultVolume = fallbackVolume
	}
	return &Registry{
		deps:       deps,
		log:        deps.Logger,
		sessions:   make(map[string]*Session),
		connecting: make(map[string]chan struct{}),
	}
}

// GetOrCreate returns the tenant's session, joining voiceChannelID to build a
// new one when none exists. created reports whether this call built it.
func (r *Registry) GetOrCreate(ctx context.Context, tenantID string, kind Kind, voiceChannelID, textChannelID string) (s *Session, created bool, err error) {
	return r.getOrCreate(ctx, tenantID, kind, voiceChannelID, textChannelID, false)
}

// getOrCreate is GetOrCreate that, with hold, takes a retrieval hold on the
// session while the registry lock is held, so the session cannot end as
// idle between lookup and hold. The caller releases it with releaseRetrieval.
func (r *Registry) getOrCreate(ctx context.Context, tenantID string, kind Kind, voiceChannelID, textChannelID string, hold bool) (*Session, bool, error) {
	for {
		r.mu.Lock()
		if s, ok := r.sessions[tenantID]; ok {
			// a session in the map is never closed: teardown removes it first
			s.mu.Lock()
			if textChannelID != "" {
				s.textChannelID = textChannelID
			}
			if hold {
				s.retrieving++
			}
			s.mu.Unlock()
			r.mu.Unlock()
			return s, false, nil
		}
		if wait, ok := r.connecting[tenantID]; ok {
			r.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}
		if voiceChannelID == "" {
			r.mu.Unlock()
			return nil, false, ErrChannelUnavailable
		}
		done := make(chan struct{})
		r.connecting[tenantID] = done
		r.mu.Unlock()

		s, err := r.create(ctx, tenantID, kind, voiceChannelID, textChannelID)

		r.mu.Lock()
		delete(r.connecting, tenantID)
		if err == nil {
			if hold {
				s.mu.Lock()
				s.retrieving++
				s.mu.Unlock()
			}
			r.sessions[tenantID] = s
		}
		r.mu.Unlock()
		close(done)

		if err != nil {
			return nil, false, err
		}
		return s, true, nil
	}
}

func (r *Registry) create(ctx context.Context, tenantID string, kind Kind, voiceChannelID, textChannelID string) (*Session, error) {
	if kind == "" {
		kind = KindMusic
	}
	conn, err := r.deps.Transport.Connect(ctx, tenantID, voiceChannelID)
	if err != nil {
		return nil, fmt.Errorf("connect to voice channel: %w", err)
	}

	life, endLife := context.WithCancel(context.Background())
	s := &Session{
		tenantID:       tenantID,
		voiceChannelID: voiceChannelID,
		textChannelID:  textChannelID,
		kind:           kind,
		queue:          []track.Track{},
		volume:         r.deps.DefaultVolume,
		loop:           track.LoopOff,
		conn:           conn,
		colors:         nowplaying.NewColorCache(),
		life:           life,
		endLife:        endLife,
	}
	if r.deps.Prefs != nil {
		if prefs, ok := r.deps.Prefs.PlayerPrefs(tenantID); ok {
			if prefs.Volume >= 0 && prefs.Volume <= 100 {
				s.volume = prefs.Volume
			}
			if prefs.Loop != "" {
				s.loop = prefs.Loop
			}
		}
	}
	conn.SetVolume(s.volume)

	if r.deps.Announcer != nil {
		s.announce = make(chan status.Snapshot, announceBacklog)
		r.wg.Add(1)
		go r.runAnnouncer(s, s.announce)
	}

	metrics.SessionsActive.Inc()
	r.log.Info().
		Str("tenant", tenantID).
		Str("voice_channel", voiceChannelID).
		Str("kind", string(kind)).
		Int("volume", s.volume).
		Msg("session created")
	return s, nil
}

// Session returns the tenant's live session.
func (r *Registry) Session(tenantID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

// Tenants lists the tenants with a live session.
func (r *Registry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Enqueue appends tracks. An idle session starts the head right away and
// publishes track-start before returning; otherwise queue-add is published.
func (r *Registry) Enqueue(s *Session, tracks ...track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoActiveSession
	}
	if len(tracks) == 0 {
		return nil
	}
	s.queue = append(s.queue, tracks...)
	if s.current == nil {
		r.startLocked(s)
		return nil
	}
	r.publishLocked(s, status.QueueAdd)
	return nil
}

// Teardown ends the tenant's session. It is a no-op when none exists.
func (r *Registry) Teardown(tenantID string) error {
	return r.teardown(tenantID, false)
}

// teardown removes the session; with idleOnly it leaves a session alone
// that started a new track in the meantime or is still retrieving tracks.
func (r *Registry) teardown(tenantID string, idleOnly bool) error {
	r.mu.Lock()
	s, ok := r.sessions[tenantID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	s.mu.Lock()
	if idleOnly && (s.current != nil || s.retrieving > 0) {
		s.mu.Unlock()
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, tenantID)
	r.mu.Unlock()

	if r.deps.Timeouts != nil {
		r.deps.Timeouts.Cancel(tenantID)
	}

	s.closed = true
	s.endLife()
	s.gen++
	if s.cancelPlay != nil {
		s.cancelPlay()
		s.cancelPlay = nil
	}
	s.queue = nil
	s.current = nil
	s.paused = false
	r.publishLocked(s, status.SessionEnd)
	if s.announce != nil {
		close(s.announce)
		s.announce = nil
	}
	s.mu.Unlock()

	metrics.SessionsActive.Dec()
	r.log.Info().Str("tenant", tenantID).Msg("session ended")

	if err := s.conn.Disconnect(); err != nil {
		r.log.Warn().Err(err).Str("tenant", tenantID).Msg("failed to disconnect voice")
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Shutdown ends every session and waits for playback goroutines to exit.
func (r *Registry) Shutdown() {
	for _, id := range r.Tenants() {
		_ = r.Teardown(id)
	}
	r.wg.Wait()
}

// startLocked promotes queue[0] and launches its playback goroutine.
func (r *Registry) startLocked(s *Session) {
	t := s.queue[0]
	s.current = &t
	s.paused = false
	s.gen++
	gen := s.gen

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelPlay = cancel

	snap := r.publishLocked(s, status.TrackStart)
	r.announceLocked(s, snap)

	r.wg.Add(1)
	go r.playback(ctx, s, gen, t)
}

// advanceLocked clears the current track and starts the next one. It returns
// true when the queue ran dry.
func (r *Registry) advanceLocked(s *Session) bool {
	s.current = nil
	s.paused = false
	if s.cancelPlay != nil {
		s.cancelPlay()
		s.cancelPlay = nil
	}
	if len(s.queue) > 0 {
		r.startLocked(s)
		return false
	}
	r.publishLocked(s, status.EmptyQueue)
	return true
}

func (r *Registry) playback(ctx context.Context, s *Session, gen uint64, t track.Track) {
	defer r.wg.Done()
	log := r.log.With().Str("tenant", s.tenantID).Str("track", t.ID).Logger()

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("playback panic: %v", rec)
			}
		}()
		input, err := r.input(ctx, s.kind, t)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		log.Debug().Str("input", input).Msg("playback starting")
		return s.conn.Play(ctx, input)
	}()

	if ctx.Err() != nil {
		// skipped, stopped or torn down; whoever cancelled moved the queue on
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("playback failed, dropping track")
	}
	r.finish(s, gen, err)
}

func (r *Registry) input(ctx context.Context, kind Kind, t track.Track) (string, error) {
	local := t.Mode == track.ModeDownload && t.LocalPath != ""
	if local || kind == KindRadio || r.deps.Streamer == nil {
		return t.Input(), nil
	}
	resolveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return r.deps.Streamer.StreamURL(resolveCtx, t)
}

// finish handles the end of the current track reported by playback gen.
func (r *Registry) finish(s *Session, gen uint64, playErr error) {
	s.mu.Lock()
	if s.closed || s.gen != gen || s.current == nil {
		s.mu.Unlock()
		return
	}
	r.publishErrLocked(s, status.TrackFinish, playErr)

	head := s.queue[0]
	switch {
	case playErr != nil:
		s.queue = s.queue[1:]
	case s.loop == track.LoopTrack:
	case s.loop == track.LoopQueue:
		s.queue = append(s.queue[1:], head)
	default:
		s.queue = s.queue[1:]
	}
	empty := r.advanceLocked(s)
	channelID := s.textChannelID
	s.mu.Unlock()

	if playErr != nil {
		r.reportFailure(s.tenantID, channelID, head, playErr)
	}
	if empty {
		if err := r.teardown(s.tenantID, true); err != nil {
			r.log.Warn().Err(err).Str("tenant", s.tenantID).Msg("teardown after empty queue")
		}
	}
}

// reportFailure tells the tenant a track was dropped. Best effort.
func (r *Registry) reportFailure(tenantID, channelID string, t track.Track, cause error) {
	if r.deps.Notices == nil || channelID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.deps.Notices.Send(ctx, channelID, sink.Message{
		Title:       "Playback failed",
		Description: fmt.Sprintf("Could not play **%s**, skipped it.", t.DisplayTitle()),
		Color:       failureColor,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("tenant", tenantID).AnErr("cause", cause).Msg("failed to report playback failure")
	}
}

// publishLocked stamps the session state into an event. Caller holds s.mu.
func (r *Registry) publishLocked(s *Session, kind status.Kind) status.Snapshot {
	return r.publishErrLocked(s, kind, nil)
}

// publishErrLocked is publishLocked carrying the failure that ended a track.
func (r *Registry) publishErrLocked(s *Session, kind status.Kind, cause error) status.Snapshot {
	snap := s.snapshotLocked(r.timeoutInfo(s.tenantID))
	if cause != nil {
		snap.Error = cause.Error()
	}
	if kind == status.TrackStart {
		snap.PositionMs = 0
	}
	if r.deps.Hub != nil {
		r.deps.Hub.Publish(s.tenantID, kind, snap)
	}
	return snap
}

func (r *Registry) timeoutInfo(tenantID string) *status.TimeoutInfo {
	if r.deps.Timeouts == nil {
		return nil
	}
	p, ok := r.deps.Timeouts.Pending(tenantID)
	if !ok {
		return nil
	}
	return &status.TimeoutInfo{
		Minutes:    p.Minutes,
		Action:     string(p.Action),
		StartedAt:  p.StartedAt,
		DeadlineAt: p.DeadlineAt,
	}
}

func (r *Registry) announceLocked(s *Session, snap status.Snapshot) {
	if s.announce == nil {
		return
	}
	select {
	case s.announce <- snap:
	default:
		r.log.Warn().Str("tenant", s.tenantID).Msg("now playing update dropped (channel full)")
	}
}

// runAnnouncer owns the now-playing message of one session.
func (r *Registry) runAnnouncer(s *Session, updates <-chan status.Snapshot) {
	defer r.wg.Done()

	var ref sink.MessageRef
	for snap := range updates {
		snap, open := latest(snap, updates)
		if !open {
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		next, err := r.deps.Announcer.Announce(ctx, s.TextChannelID(), ref, snap, s.colors)
		cancel()
		if err != nil {
			r.log.Warn().Err(err).Str("tenant", s.tenantID).Msg("failed to announce track")
		}
		ref = next
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.deps.Announcer.Clear(ctx, ref)
}

// latest drains queued updates and keeps the newest. open is false once the
// session has ended.
func latest(snap status.Snapshot, updates <-chan status.Snapshot) (status.Snapshot, bool) {
	for {
		select {
		case next, ok := <-updates:
			if !ok {
				return snap, false
			}
			snap = next
		default:
			return snap, true
		}
	}
}
