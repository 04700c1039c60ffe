package player

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/keshon/melodeck/internal/music/prefetch"
	"github.com/keshon/melodeck/internal/music/resolver"
	"github.com/keshon/melodeck/internal/music/scheduler"
	"github.com/keshon/melodeck/internal/music/status"
	"github.com/keshon/melodeck/internal/music/track"
	"github.com/keshon/melodeck/internal/storage"
)

type PlayRequest struct {
	TenantID       string
	VoiceChannelID string // the requester's current voice channel
	TextChannelID  string
	RequestedBy    string
	Query          string
	Mode           track.Mode
	Kind           Kind

	// optional
	TimeoutMinutes int
	TimeoutAction  scheduler.Action
	Loop           track.LoopMode
}

type PlayResult struct {
	Tracks        []track.Track // what was queued
	PlaylistTitle string
	Started       bool // the first queued track started right away
	Created       bool // the call created the session
	Failed        int  // tracks dropped because retrieval failed
}

// Play resolves a query and queues the result for the tenant, creating the
// session when needed. Download-mode tracks are prefetched one by one and
// queued as soon as each is on disk.
func (r *Registry) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if _, ok := r.Session(req.TenantID); !ok && req.VoiceChannelID == "" {
		return PlayResult{}, ErrChannelUnavailable
	}
	if req.Kind == "" {
		req.Kind = KindMusic
	}
	if req.Kind == KindRadio || req.Mode == "" {
		req.Mode = track.ModeStream
	}
	if req.Loop != "" {
		if _, err := track.ParseLoopMode(string(req.Loop)); err != nil {
			return PlayResult{}, err
		}
	}
	if req.TimeoutMinutes > 0 {
		action, err := scheduler.ParseAction(string(req.TimeoutAction))
		if err != nil {
			return PlayResult{}, err
		}
		req.TimeoutAction = action
	}
	if r.deps.Resolver == nil {
		return PlayResult{}, resolver.ErrNoMatches
	}

	res, err := r.deps.Resolver.Tracks(ctx, req.TenantID, req.RequestedBy, req.Query)
	if err != nil {
		return PlayResult{}, err
	}

	// The hold keeps the session from ending as idle until every track is
	// queued; releasing it ends a session left with nothing to play.
	s, created, err := r.getOrCreate(ctx, req.TenantID, req.Kind, req.VoiceChannelID, req.TextChannelID, true)
	if err != nil {
		return PlayResult{}, err
	}
	defer r.releaseRetrieval(s)
	out := PlayResult{PlaylistTitle: res.PlaylistTitle, Created: created}

	tracks := make([]track.Track, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		tracks = append(tracks, t.WithMode(req.Mode, req.RequestedBy))
	}

	var lastErr error
	if req.Mode == track.ModeDownload && r.deps.Prefetcher != nil {
		// Downloads are bounded by the transfer, not the caller's deadline;
		// they stop when the session ends.
		fetchCtx := s.life
		for _, t := range tracks {
			h, err := r.deps.Prefetcher.Prefetch(fetchCtx, prefetch.Request{
				TenantID:  req.TenantID,
				ChannelID: req.TextChannelID,
				Track:     t,
			})
			if err != nil {
				if fetchCtx.Err() != nil {
					return out, ErrNoActiveSession
				}
				out.Failed++
				lastErr = err
				continue
			}
			t.LocalPath = h.Path
			started, err := r.enqueue(s, t)
			if err != nil {
				return out, err
			}
			if len(out.Tracks) == 0 {
				out.Started = started
			}
			out.Tracks = append(out.Tracks, t)
		}
	} else {
		started, err := r.enqueue(s, tracks...)
		if err != nil {
			return out, err
		}
		out.Started = started
		out.Tracks = tracks
	}

	if len(out.Tracks) == 0 {
		if lastErr == nil {
			lastErr = resolver.ErrNoMatches
		}
		return out, lastErr
	}

	if req.Loop != "" {
		if err := r.SetLoop(req.TenantID, req.Loop); err != nil {
			r.log.Warn().Err(err).Str("tenant", req.TenantID).Msg("failed to apply loop mode")
		}
	}
	if req.TimeoutMinutes > 0 {
		if _, err := r.SetTimeout(req.TenantID, req.TimeoutMinutes, req.TimeoutAction); err != nil {
			r.log.Warn().Err(err).Str("tenant", req.TenantID).Msg("failed to arm timeout")
		}
	}

	r.log.Info().
		Str("tenant", req.TenantID).
		Str("query", req.Query).
		Str("mode", string(req.Mode)).
		Int("queued", len(out.Tracks)).
		Int("failed", out.Failed).
		Msg("play request handled")
	return out, nil
}

// releaseRetrieval drops a hold taken by getOrCreate and ends the session when nothing is
// left to play.
func (r *Registry) releaseRetrieval(s *Session) {
	s.mu.Lock()
	s.retrieving--
	idle := !s.closed && s.retrieving == 0 && s.current == nil
	s.mu.Unlock()
	if idle {
		if err := r.teardown(s.tenantID, true); err != nil {
			r.log.Warn().Err(err).Str("tenant", s.tenantID).Msg("teardown after retrieval")
		}
	}
}

func (r *Registry) enqueue(s *Session, tracks ...track.Track) (bool, error) {
	s.mu.Lock()
	idle := s.current == nil
	s.mu.Unlock()
	if err := r.Enqueue(s, tracks...); err != nil {
		return false, err
	}
	return idle && len(tracks) > 0, nil
}

// locked runs fn with the tenant's session locked.
func (r *Registry) locked(tenantID string, fn func(s *Session) error) error {
	s, ok := r.Session(tenantID)
	if !ok {
		return ErrNoActiveSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoActiveSession
	}
	return fn(s)
}

func (r *Registry) Pause(tenantID string) error {
	return r.locked(tenantID, func(s *Session) error {
		if s.current == nil {
			return ErrQueueEmpty
		}
		if s.paused {
			return nil
		}
		if err := s.conn.Pause(); err != nil {
			return fmt.Errorf("pause: %w", err)
		}
		s.paused = true
		r.publishLocked(s, status.Pause)
		return nil
	})
}

func (r *Registry) Resume(tenantID string) error {
	return r.locked(tenantID, func(s *Session) error {
		if s.current == nil {
			return ErrQueueEmpty
		}
		if !s.paused {
			return nil
		}
		if err := s.conn.Resume(); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		s.paused = false
		r.publishLocked(s, status.Resume)
		return nil
	})
}

// Skip ends the current track and starts the next. The skipped track goes to
// the tail when the whole queue loops.
func (r *Registry) Skip(tenantID string) error {
	empty := false
	err := r.locked(tenantID, func(s *Session) error {
		if s.current == nil {
			return ErrQueueEmpty
		}
		r.publishLocked(s, status.TrackSkip)
		r.publishLocked(s, status.TrackFinish)

		head := s.queue[0]
		s.queue = s.queue[1:]
		if s.loop == track.LoopQueue {
			s.queue = append(s.queue, head)
		}
		empty = r.advanceLocked(s)
		return nil
	})
	if err != nil {
		return err
	}
	if empty {
		return r.teardown(tenantID, true)
	}
	return nil
}

// Stop ends the tenant's session.
func (r *Registry) Stop(tenantID string) error {
	if _, ok := r.Session(tenantID); !ok {
		return ErrNoActiveSession
	}
	return r.Teardown(tenantID)
}

func (r *Registry) Seek(tenantID string, ms int64) error {
	return r.locked(tenantID, func(s *Session) error {
		if s.current == nil {
			return ErrQueueEmpty
		}
		if s.kind == KindRadio || s.current.Duration <= 0 {
			return ErrNotSeekable
		}
		if ms < 0 || ms > s.current.DurationMs() {
			return ErrInvalidSeek
		}
		if err := s.conn.Seek(time.Duration(ms) * time.Millisecond); err != nil {
			return fmt.Errorf("seek: %w", err)
		}
		r.publishLocked(s, status.Seek)
		return nil
	})
}

// SetVolume changes the volume and remembers it for the tenant.
func (r *Registry) SetVolume(tenantID string, volume int) error {
	return r.setVolume(tenantID, volume, true)
}

func (r *Registry) setVolume(tenantID string, volume int, persist bool) error {
	if volume < 0 || volume > 100 {
		return ErrInvalidVolume
	}
	var prefs storage.PlayerPrefs
	err := r.locked(tenantID, func(s *Session) error {
		s.conn.SetVolume(volume)
		s.volume = volume
		r.publishLocked(s, status.VolumeChange)
		prefs = storage.PlayerPrefs{Volume: s.volume, Loop: s.loop}
		return nil
	})
	if err == nil && persist {
		r.savePrefs(tenantID, prefs)
	}
	return err
}

func (r *Registry) SetLoop(tenantID string, mode track.LoopMode) error {
	mode, err := track.ParseLoopMode(string(mode))
	if err != nil {
		return err
	}
	var prefs storage.PlayerPrefs
	err = r.locked(tenantID, func(s *Session) error {
		s.loop = mode
		r.publishLocked(s, status.LoopChange)
		prefs = storage.PlayerPrefs{Volume: s.volume, Loop: s.loop}
		return nil
	})
	if err == nil {
		r.savePrefs(tenantID, prefs)
	}
	return err
}

func (r *Registry) savePrefs(tenantID string, prefs storage.PlayerPrefs) {
	if r.deps.Prefs == nil {
		return
	}
	if err := r.deps.Prefs.SetPlayerPrefs(tenantID, prefs); err != nil {
		r.log.Warn().Err(err).Str("tenant", tenantID).Msg("failed to save player preferences")
	}
}

// Shuffle reorders the upcoming tracks; the current track stays at the head.
func (r *Registry) Shuffle(tenantID string) error {
	return r.locked(tenantID, func(s *Session) error {
		upcoming := s.queue
		if s.current != nil {
			upcoming = s.queue[1:]
		}
		if len(upcoming) == 0 {
			return ErrQueueEmpty
		}
		rand.Shuffle(len(upcoming), func(i, j int) {
			upcoming[i], upcoming[j] = upcoming[j], upcoming[i]
		})
		r.publishLocked(s, status.QueueShuffle)
		return nil
	})
}

// Remove drops the upcoming track at position, counted from 1 after the
// current track.
func (r *Registry) Remove(tenantID string, position int) (track.Track, error) {
	var removed track.Track
	err := r.locked(tenantID, func(s *Session) error {
		if position < 1 || position >= len(s.queue) {
			return ErrInvalidPosition
		}
		removed = s.queue[position]
		s.queue = append(s.queue[:position], s.queue[position+1:]...)
		r.publishLocked(s, status.QueueRemove)
		return nil
	})
	return removed, err
}

// SetTimeout arms the tenant's timeout policy, replacing any earlier one.
// Zero minutes cancels it.
func (r *Registry) SetTimeout(tenantID string, minutes int, action scheduler.Action) (scheduler.Policy, error) {
	if r.deps.Timeouts == nil {
		return scheduler.Policy{}, errors.New("timeouts are not available")
	}
	s, ok := r.Session(tenantID)
	if !ok {
		return scheduler.Policy{}, ErrNoActiveSession
	}
	if minutes == 0 {
		r.deps.Timeouts.Cancel(tenantID)
		return scheduler.Policy{}, nil
	}
	return r.deps.Timeouts.Arm(tenantID, s.TextChannelID(), minutes, action)
}

// Subscribe attaches to the tenant's event stream. It works with or without
// a live session.
func (r *Registry) Subscribe(tenantID string) *status.Subscription {
	return r.deps.Hub.Subscribe(tenantID)
}

// Snapshot copies the tenant's session. ok is false when there is none, in
// which case an idle snapshot is returned.
func (r *Registry) Snapshot(tenantID string) (snap status.Snapshot, ok bool) {
	err := r.locked(tenantID, func(s *Session) error {
		snap = s.snapshotLocked(r.timeoutInfo(tenantID))
		return nil
	})
	if err != nil {
		return status.Snapshot{TenantID: tenantID, State: status.StateIdle, Queue: []track.Track{}, Loop: track.LoopOff}, false
	}
	return snap, true
}

// Exists reports whether the tenant has a live session.
func (r *Registry) Exists(tenantID string) bool {
	_, ok := r.Session(tenantID)
	return ok
}

// IsPlaying reports whether the tenant has a current track, paused or not.
func (r *Registry) IsPlaying(tenantID string) bool {
	playing := false
	_ = r.locked(tenantID, func(s *Session) error {
		playing = s.current != nil
		return nil
	})
	return playing
}

func (r *Registry) Volume(tenantID string) (int, bool) {
	v, ok := -1, false
	_ = r.locked(tenantID, func(s *Session) error {
		v, ok = s.volume, true
		return nil
	})
	return v, ok
}

// ApplyVolume changes the volume without remembering it, for fades.
func (r *Registry) ApplyVolume(tenantID string, volume int) error {
	return r.setVolume(tenantID, volume, false)
}

// PausePlayback pauses if something is playing.
func (r *Registry) PausePlayback(tenantID string) error {
	err := r.Pause(tenantID)
	if errors.Is(err, ErrQueueEmpty) {
		return nil
	}
	return err
}

var (
	_ scheduler.Target  = (*Registry)(nil)
	_ prefetch.Activity = (*Registry)(nil)
)
