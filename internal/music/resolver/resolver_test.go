package resolver

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/keshon/melodeck/internal/music/sources"
	"github.com/keshon/melodeck/internal/music/track"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	result sources.Result
	err    error
	seen   []string
}

func (p *stubProvider) Name() string            { return "stub" }
func (p *stubProvider) Match(input string) bool { return sources.IsURL(input) }
func (p *stubProvider) Search(_ context.Context, q string) (sources.Result, error) {
	p.seen = append(p.seen, q)
	return p.result, p.err
}

type chooserFunc func(ctx context.Context, set *track.CandidateSet) error

func (f chooserFunc) Present(ctx context.Context, set *track.CandidateSet) error { return f(ctx, set) }

func many(n int) []track.Track {
	out := make([]track.Track, n)
	for i := range out {
		out[i] = track.Track{ID: strconv.Itoa(i)}
	}
	return out
}

func newResolver(p sources.Provider, c Chooser, window time.Duration) *Resolver {
	if c == nil {
		c = chooserFunc(func(context.Context, *track.CandidateSet) error { return nil })
	}
	return New(sources.NewSet(p), c, window, zerolog.Nop())
}

func TestResolveCapsCandidates(t *testing.T) {
	for _, n := range []int{2, 5, 6, 40} {
		p := &stubProvider{result: sources.Result{Kind: sources.MatchSearch, Tracks: many(n)}}
		res, err := newResolver(p, nil, 0).Resolve(context.Background(), "song")
		require.NoError(t, err)
		assert.Equal(t, Ambiguous, res.Kind)
		assert.LessOrEqual(t, len(res.Tracks), track.MaxCandidates)
		for i, tr := range res.Tracks {
			assert.Equal(t, strconv.Itoa(i), tr.ID, "provider order kept")
		}
	}
}

func TestResolveClassifies(t *testing.T) {
	p := &stubProvider{result: sources.Result{Kind: sources.MatchPlaylist, Tracks: many(12), PlaylistTitle: "mix"}}
	res, err := newResolver(p, nil, 0).Resolve(context.Background(), "https://example.com/list")
	require.NoError(t, err)
	assert.Equal(t, Playlist, res.Kind)
	assert.Len(t, res.Tracks, 12)
	assert.Equal(t, "mix", res.PlaylistTitle)

	p.result = sources.Result{Kind: sources.MatchSearch, Tracks: many(1)}
	res, err = newResolver(p, nil, 0).Resolve(context.Background(), "song")
	require.NoError(t, err)
	assert.Equal(t, Single, res.Kind)

	p.result = sources.Result{Kind: sources.MatchNone}
	_, err = newResolver(p, nil, 0).Resolve(context.Background(), "song")
	assert.ErrorIs(t, err, ErrNoMatches)

	_, err = newResolver(p, nil, 0).Resolve(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNoMatches)

	p.err = errors.New("boom")
	_, err = newResolver(p, nil, 0).Resolve(context.Background(), "song")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMatches)
}

func TestTracksWaitsForSelection(t *testing.T) {
	p := &stubProvider{result: sources.Result{Kind: sources.MatchSearch, Tracks: many(4)}}
	chooser := chooserFunc(func(_ context.Context, set *track.CandidateSet) error {
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = set.Select(2)
		}()
		return nil
	})

	res, err := newResolver(p, chooser, time.Second).Tracks(context.Background(), "g1", "u1", "song")
	require.NoError(t, err)
	require.Len(t, res.Tracks, 1)
	assert.Equal(t, "2", res.Tracks[0].ID)
}

func TestChooseTimesOut(t *testing.T) {
	var presented *track.CandidateSet
	chooser := chooserFunc(func(_ context.Context, set *track.CandidateSet) error {
		presented = set
		return nil
	})

	r := newResolver(&stubProvider{}, chooser, 20*time.Millisecond)
	_, err := r.Choose(context.Background(), "g1", "u1", many(3))
	assert.ErrorIs(t, err, ErrSelectionTimeout)

	require.NotNil(t, presented)
	assert.ErrorIs(t, presented.Select(0), track.ErrSelectionClosed)
}

func TestChooseHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newResolver(&stubProvider{}, nil, time.Minute)
	_, err := r.Choose(ctx, "g1", "u1", many(3))
	assert.ErrorIs(t, err, context.Canceled)
}
