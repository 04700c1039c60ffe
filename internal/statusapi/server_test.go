package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keshon/melodeck/internal/music/status"
	"github.com/keshon/melodeck/internal/music/track"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type fakeSource struct {
	hub        *status.Hub
	subscribed chan string
}

func (f *fakeSource) Snapshot(tenantID string) (status.Snapshot, bool) {
	if tenantID != "g1" {
		return status.Snapshot{TenantID: tenantID, State: status.StateIdle}, false
	}
	return status.Snapshot{TenantID: tenantID, State: status.StatePlaying, Volume: 70, Current: &track.Track{Title: "Song"}}, true
}

func (f *fakeSource) Subscribe(tenantID string) *status.Subscription {
	sub := f.hub.Subscribe(tenantID)
	f.subscribed <- tenantID
	return sub
}

func newServer(t *testing.T) (*httptest.Server, *fakeSource) {
	t.Helper()
	src := &fakeSource{hub: status.NewHub(16, zerolog.Nop()), subscribed: make(chan string, 4)}
	srv := httptest.NewServer(New(src, zerolog.Nop()).Handler())
	t.Cleanup(func() {
		srv.Close()
		src.hub.Close()
	})
	return srv, src
}

func waitSubscribed(t *testing.T, src *fakeSource) {
	t.Helper()
	select {
	case <-src.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("no subscriber attached")
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSnapshot(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/tenants/g1/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Active   bool            `json:"active"`
		Snapshot status.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Active)
	assert.Equal(t, status.StatePlaying, body.Snapshot.State)
	assert.Equal(t, 70, body.Snapshot.Volume)
	require.NotNil(t, body.Snapshot.Current)
	assert.Equal(t, "Song", body.Snapshot.Current.Title)
}

func TestPollTimesOutWithNoContent(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/tenants/g1/events/poll?timeout=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPollRejectsBadTimeout(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/tenants/g1/events/poll?timeout=soon")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPollReturnsNextEvent(t *testing.T) {
	srv, src := newServer(t)

	type result struct {
		code int
		ev   status.Event
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/tenants/g1/events/poll?timeout=5")
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		var ev status.Event
		err = json.NewDecoder(resp.Body).Decode(&ev)
		done <- result{code: resp.StatusCode, ev: ev, err: err}
	}()

	waitSubscribed(t, src)
	src.hub.Publish("g1", status.Pause, status.Snapshot{TenantID: "g1", State: status.StatePaused})

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, http.StatusOK, res.code)
		assert.Equal(t, status.Pause, res.ev.Kind)
		assert.Equal(t, status.StatePaused, res.ev.Snapshot.State)
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not return")
	}
}

func TestWebsocketStreamsInOrder(t *testing.T) {
	srv, src := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tenants/g1/events/ws"
	conn, _, err := ws.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	waitSubscribed(t, src)
	src.hub.Publish("g2", status.Pause, status.Snapshot{TenantID: "g2"})
	src.hub.Publish("g1", status.TrackStart, status.Snapshot{TenantID: "g1"})
	src.hub.Publish("g1", status.VolumeChange, status.Snapshot{TenantID: "g1", Volume: 30})

	var first, second status.Event
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.NoError(t, wsjson.Read(ctx, conn, &second))

	assert.Equal(t, status.TrackStart, first.Kind)
	assert.Equal(t, status.VolumeChange, second.Kind)
	assert.Equal(t, first.Seq+1, second.Seq)
	assert.Equal(t, 30, second.Snapshot.Volume)

	require.NoError(t, conn.Close(ws.StatusNormalClosure, ""))
}
