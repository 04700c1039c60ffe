package player

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/keshon/melodeck/internal/music/nowplaying"
	"github.com/keshon/melodeck/internal/music/status"
	"github.com/keshon/melodeck/internal/music/track"
)

// Kind is what a session plays. Radio sessions stream endless URLs and are
// never prefetched or seeked.
type Kind string

const (
	KindMusic Kind = "music"
	KindRadio Kind = "radio"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindMusic:
		return KindMusic, nil
	case KindRadio:
		return KindRadio, nil
	}
	return "", fmt.Errorf("unknown session kind %q", s)
}

// Session is the playback state of one tenant. All fields are guarded by mu;
// queue[0] is the current track while one is active.
type Session struct {
	mu sync.Mutex

	tenantID       string
	voiceChannelID string
	textChannelID  string
	kind           Kind

	queue   []track.Track
	current *track.Track
	volume  int
	loop    track.LoopMode
	paused  bool

	conn   Connection
	colors *nowplaying.ColorCache

	// gen identifies the playback goroutine allowed to report a finish.
	gen        uint64
	cancelPlay context.CancelFunc

	announce chan status.Snapshot
	closed   bool

	// retrieving counts Play calls still downloading tracks for the session;
	// an idle session is kept while it is non-zero.
	retrieving int
	// life is cancelled when the session ends.
	life    context.Context
	endLife context.CancelFunc
}

func (s *Session) TenantID() string { return s.tenantID }

func (s *Session) TextChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textChannelID
}

// snapshotLocked copies the session. Caller holds mu.
func (s *Session) snapshotLocked(timeout *status.TimeoutInfo) status.Snapshot {
	snap := status.Snapshot{
		TenantID: s.tenantID,
		State:    status.StateIdle,
		Kind:     string(s.kind),
		Queue:    append([]track.Track{}, s.queue...),
		Volume:   s.volume,
		Loop:     s.loop,
		Timeout:  timeout,
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
		snap.State = status.StatePlaying
		if s.paused {
			snap.State = status.StatePaused
		}
		if s.conn != nil {
			snap.PositionMs = s.conn.Position().Milliseconds()
		}
	}
	return snap
}
