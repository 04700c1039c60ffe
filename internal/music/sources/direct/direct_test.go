package direct

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keshon/melodeck/internal/music/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchAcceptsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg; charset=utf-8")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("ID3 data"))
		}
	}))
	defer srv.Close()

	s := New()
	res, err := s.Search(context.Background(), srv.URL+"/live/stream.mp3")
	require.NoError(t, err)
	require.Equal(t, sources.MatchSingle, res.Kind)
	require.Len(t, res.Tracks, 1)

	tr := res.Tracks[0]
	assert.Equal(t, "stream.mp3", tr.Title)
	assert.Equal(t, sources.SourceDirect, tr.Source)
	assert.Len(t, tr.ID, 16)

	u, err := s.StreamURL(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, tr.SourceRef, u)

	body, size, err := s.Download(context.Background(), tr)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "ID3 data", string(data))
	assert.Equal(t, int64(8), size)
}

func TestSearchFallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/ogg")
	}))
	defer srv.Close()

	res, err := New().Search(context.Background(), srv.URL+"/radio")
	require.NoError(t, err)
	assert.Equal(t, sources.MatchSingle, res.Kind)
}

func TestSearchRejectsPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	}))
	defer srv.Close()

	res, err := New().Search(context.Background(), srv.URL+"/index.html")
	require.NoError(t, err)
	assert.Equal(t, sources.MatchNone, res.Kind)
}

func TestHeuristics(t *testing.T) {
	assert.True(t, isLikelyPlaylist("http://radio.example/listen.pls"))
	assert.False(t, isLikelyPlaylist("http://radio.example/listen"))
	assert.True(t, isAllowedType("Audio/AAC"))
	assert.False(t, New().Match("not a url"))
}
