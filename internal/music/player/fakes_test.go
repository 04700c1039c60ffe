package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keshon/melodeck/internal/music/nowplaying"
	"github.com/keshon/melodeck/internal/music/prefetch"
	"github.com/keshon/melodeck/internal/music/resolver"
	"github.com/keshon/melodeck/internal/music/sink"
	"github.com/keshon/melodeck/internal/music/status"
	"github.com/keshon/melodeck/internal/music/track"
	"github.com/keshon/melodeck/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu           sync.Mutex
	volume       int
	paused       bool
	seeks        []time.Duration
	inputs       []string
	ends         []chan error
	disconnected int

	started chan string
}

func newFakeConn() *fakeConn {
	return &fakeConn{started: make(chan string, 64)}
}

func (c *fakeConn) Play(ctx context.Context, input string) error {
	end := make(chan error, 1)
	c.mu.Lock()
	c.inputs = append(c.inputs, input)
	c.ends = append(c.ends, end)
	c.mu.Unlock()
	c.started <- input

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-end:
		return err
	}
}

// finish ends the newest Play with err.
func (c *fakeConn) finish(err error) {
	c.mu.Lock()
	end := c.ends[len(c.ends)-1]
	c.mu.Unlock()
	end <- err
}

func (c *fakeConn) SetVolume(v int) {
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()
}

func (c *fakeConn) Pause() error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Resume() error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Seek(d time.Duration) error {
	c.mu.Lock()
	c.seeks = append(c.seeks, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Position() time.Duration { return 0 }

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	c.disconnected++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

type fakeTransport struct {
	mu       sync.Mutex
	conn     *fakeConn
	connects int
}

func (f *fakeTransport) Connect(context.Context, string, string) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.conn, nil
}

// fakeResolver answers "song X" with a single track X and "list" with a
// playlist of three.
type fakeResolver struct{}

func (fakeResolver) Tracks(_ context.Context, _, _, query string) (resolver.Result, error) {
	switch {
	case query == "list":
		return resolver.Result{Kind: resolver.Playlist, PlaylistTitle: "mix", Tracks: []track.Track{
			songTrack("L1"), songTrack("L2"), songTrack("L3"),
		}}, nil
	case len(query) > 5 && query[:5] == "song ":
		return resolver.Result{Kind: resolver.Single, Tracks: []track.Track{songTrack(query[5:])}}, nil
	}
	return resolver.Result{}, resolver.ErrNoMatches
}

func songTrack(id string) track.Track {
	return track.Track{ID: id, Title: "Song " + id, SourceRef: "https://media.example/" + id, Duration: 3 * time.Minute}
}

type fakePrefetcher struct {
	mu   sync.Mutex
	fail map[string]bool
	reqs []prefetch.Request
	// during runs before each download with the download context.
	during func(ctx context.Context, req prefetch.Request) error
}

func (f *fakePrefetcher) Prefetch(ctx context.Context, req prefetch.Request) (prefetch.Handle, error) {
	if f.during != nil {
		if err := f.during(ctx, req); err != nil {
			return prefetch.Handle{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.fail[req.Track.ID] {
		return prefetch.Handle{}, errors.Join(prefetch.ErrRetrievalFailed, errors.New("broken"))
	}
	return prefetch.Handle{Path: "/media/" + req.Track.ID, Size: 10}, nil
}

type fakePrefs struct {
	mu    sync.Mutex
	prefs map[string]storage.PlayerPrefs
}

func (f *fakePrefs) PlayerPrefs(id string) (storage.PlayerPrefs, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prefs[id]
	return p, ok
}

func (f *fakePrefs) SetPlayerPrefs(id string, p storage.PlayerPrefs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefs[id] = p
	return nil
}

type fakeAnnouncer struct {
	mu      sync.Mutex
	titles  []string
	cleared int
}

func (f *fakeAnnouncer) Announce(_ context.Context, _ string, _ sink.MessageRef, snap status.Snapshot, _ *nowplaying.ColorCache) (sink.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, snap.Current.Title)
	return sink.MessageRef{MessageID: snap.Current.ID}, nil
}

func (f *fakeAnnouncer) Clear(context.Context, sink.MessageRef) {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

type fakeSink struct {
	mu   sync.Mutex
	sent []sink.Message
	to   []string
}

func (f *fakeSink) Send(_ context.Context, channelID string, msg sink.Message) (sink.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	f.to = append(f.to, channelID)
	return sink.MessageRef{ChannelID: channelID, MessageID: "m"}, nil
}

func (f *fakeSink) Edit(context.Context, sink.MessageRef, sink.Message) error { return nil }
func (f *fakeSink) Delete(context.Context, sink.MessageRef) error             { return nil }

func (f *fakeSink) messages() []sink.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sink.Message{}, f.sent...)
}

type fixture struct {
	reg       *Registry
	hub       *status.Hub
	conn      *fakeConn
	transport *fakeTransport
	prefetch  *fakePrefetcher
	prefs     *fakePrefs
	notices   *fakeSink
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		hub:      status.NewHub(256, zerolog.Nop()),
		conn:     newFakeConn(),
		prefetch: &fakePrefetcher{fail: map[string]bool{}},
		prefs:    &fakePrefs{prefs: map[string]storage.PlayerPrefs{}},
		notices:  &fakeSink{},
	}
	f.transport = &fakeTransport{conn: f.conn}
	deps := Deps{
		Transport:     f.transport,
		Resolver:      fakeResolver{},
		Prefetcher:    f.prefetch,
		Prefs:         f.prefs,
		Hub:           f.hub,
		Notices:       f.notices,
		DefaultVolume: 100,
		Logger:        zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&deps)
	}
	f.reg = NewRegistry(deps)
	t.Cleanup(func() {
		f.reg.Shutdown()
		f.hub.Close()
	})
	return f
}

func (f *fixture) play(t *testing.T, query string) PlayResult {
	t.Helper()
	res, err := f.reg.Play(context.Background(), PlayRequest{
		TenantID:       "t1",
		VoiceChannelID: "voice",
		TextChannelID:  "text",
		RequestedBy:    "u1",
		Query:          query,
	})
	require.NoError(t, err)
	return res
}

func waitStarted(t *testing.T, c *fakeConn) string {
	t.Helper()
	select {
	case in := <-c.started:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not start")
	}
	return ""
}

func nextEvent(t *testing.T, sub *status.Subscription) status.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return status.Event{}
}

func expectKinds(t *testing.T, sub *status.Subscription, kinds ...status.Kind) []status.Event {
	t.Helper()
	out := make([]status.Event, 0, len(kinds))
	for _, want := range kinds {
		ev := nextEvent(t, sub)
		require.Equal(t, want, ev.Kind, "event %d", len(out))
		out = append(out, ev)
	}
	return out
}

func queueIDs(snap status.Snapshot) []string {
	ids := make([]string, 0, len(snap.Queue))
	for _, t := range snap.Queue {
		ids = append(ids, t.ID)
	}
	return ids
}
