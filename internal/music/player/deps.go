package player

import (
	"context"
	"time"

	"github.com/keshon/melodeck/internal/music/nowplaying"
	"github.com/keshon/melodeck/internal/music/prefetch"
	"github.com/keshon/melodeck/internal/music/resolver"
	"github.com/keshon/melodeck/internal/music/scheduler"
	"github.com/keshon/melodeck/internal/music/sink"
	"github.com/keshon/melodeck/internal/music/status"
	"github.com/keshon/melodeck/internal/music/track"
	"github.com/keshon/melodeck/internal/storage"
	"github.com/rs/zerolog"
)

// Transport connects sessions to a tenant's audio channel.
type Transport interface {
	Connect(ctx context.Context, tenantID, channelID string) (Connection, error)
}

// Connection is one joined audio channel.
type Connection interface {
	// Play blocks until input ends or ctx is cancelled. A cancelled play
	// returns ctx.Err().
	Play(ctx context.Context, input string) error
	SetVolume(volume int)
	Pause() error
	Resume() error
	Seek(pos time.Duration) error
	Position() time.Duration
	Disconnect() error
}

type TrackResolver interface {
	Tracks(ctx context.Context, tenantID, requestedBy, query string) (resolver.Result, error)
}

type Prefetcher interface {
	Prefetch(ctx context.Context, req prefetch.Request) (prefetch.Handle, error)
}

type Streamer interface {
	StreamURL(ctx context.Context, t track.Track) (string, error)
}

type Announcer interface {
	Announce(ctx context.Context, channelID string, prev sink.MessageRef, snap status.Snapshot, cache *nowplaying.ColorCache) (sink.MessageRef, error)
	Clear(ctx context.Context, ref sink.MessageRef)
}

type Timeouts interface {
	Arm(tenantID, notifyChannelID string, minutes int, action scheduler.Action) (scheduler.Policy, error)
	Cancel(tenantID string) bool
	Pending(tenantID string) (scheduler.Policy, bool)
}

type PrefsStore interface {
	PlayerPrefs(guildID string) (storage.PlayerPrefs, bool)
	SetPlayerPrefs(guildID string, prefs storage.PlayerPrefs) error
}

// Deps are the collaborators of a Registry. Resolver, Prefetcher, Streamer,
// Announcer, Timeouts, Prefs and Notices are optional.
type Deps struct {
	Transport  Transport
	Resolver   TrackResolver
	Prefetcher Prefetcher
	Streamer   Streamer
	Announcer  Announcer
	Timeouts   Timeouts
	Prefs      PrefsStore
	Hub        *status.Hub
	// Notices receives failure reports for the tenant's text channel.
	Notices sink.Sink

	DefaultVolume int
	Logger        zerolog.Logger
}
