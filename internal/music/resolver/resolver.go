// Package resolver turns a user query into tracks, asking the requester to
// disambiguate when a search returns several loose matches.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keshon/melodeck/internal/music/sources"
	"github.com/keshon/melodeck/internal/music/track"
	"github.com/rs/zerolog"
)

var (
	ErrNoMatches        = errors.New("no matches found")
	ErrSelectionTimeout = errors.New("selection timed out")
)

type Kind int

const (
	Single Kind = iota + 1
	Playlist
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Playlist:
		return "playlist"
	case Ambiguous:
		return "ambiguous"
	}
	return "unknown"
}

type Result struct {
	Kind          Kind
	Tracks        []track.Track // for Ambiguous, the candidates
	PlaylistTitle string
}

// Chooser presents a candidate set to the requester. The requester's answer
// arrives through CandidateSet.Select from whatever handles the UI.
type Chooser interface {
	Present(ctx context.Context, set *track.CandidateSet) error
}

type Resolver struct {
	sources *sources.Set
	chooser Chooser
	window  time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// New builds a Resolver. A zero window means track.SelectionWindow.
func New(set *sources.Set, chooser Chooser, window time.Duration, log zerolog.Logger) *Resolver {
	if window <= 0 {
		window = track.SelectionWindow
	}
	return &Resolver{sources: set, chooser: chooser, window: window, log: log, now: time.Now}
}

// Resolve classifies what the matching provider returns for query.
func (r *Resolver) Resolve(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, ErrNoMatches
	}

	provider, err := r.sources.For(query)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNoMatches, err)
	}

	found, err := provider.Search(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("%s search: %w", provider.Name(), err)
	}

	r.log.Debug().
		Str("source", provider.Name()).
		Str("kind", found.Kind.String()).
		Int("results", len(found.Tracks)).
		Msg("query resolved")

	if len(found.Tracks) == 0 {
		return Result{}, ErrNoMatches
	}

	switch found.Kind {
	case sources.MatchSingle:
		return Result{Kind: Single, Tracks: found.Tracks[:1]}, nil
	case sources.MatchPlaylist:
		return Result{Kind: Playlist, Tracks: found.Tracks, PlaylistTitle: found.PlaylistTitle}, nil
	case sources.MatchSearch:
		if len(found.Tracks) == 1 {
			return Result{Kind: Single, Tracks: found.Tracks}, nil
		}
		candidates := found.Tracks
		if len(candidates) > track.MaxCandidates {
			candidates = candidates[:track.MaxCandidates]
		}
		return Result{Kind: Ambiguous, Tracks: candidates}, nil
	}
	return Result{}, ErrNoMatches
}

// Choose presents candidates to the requester and waits for one selection.
// It fails with ErrSelectionTimeout when the window closes first.
func (r *Resolver) Choose(ctx context.Context, tenantID, requestedBy string, candidates []track.Track) (track.Track, error) {
	set := track.NewCandidateSet(tenantID, requestedBy, candidates, r.now())
	set.ExpiresAt = r.now().Add(r.window)

	if err := r.chooser.Present(ctx, set); err != nil {
		set.Expire()
		return track.Track{}, fmt.Errorf("present candidates: %w", err)
	}

	timer := time.NewTimer(r.window)
	defer timer.Stop()

	select {
	case <-set.Done():
	case <-timer.C:
		set.Expire()
	case <-ctx.Done():
		set.Expire()
	}

	t, err := set.Result()
	if errors.Is(err, track.ErrSelectionClosed) {
		if ctx.Err() != nil {
			return track.Track{}, ctx.Err()
		}
		return track.Track{}, ErrSelectionTimeout
	}
	return t, err
}

// Tracks resolves query all the way to the tracks that should be queued,
// running the selection step for ambiguous results.
func (r *Resolver) Tracks(ctx context.Context, tenantID, requestedBy, query string) (Result, error) {
	res, err := r.Resolve(ctx, query)
	if err != nil {
		return Result{}, err
	}
	if res.Kind != Ambiguous {
		return res, nil
	}
	picked, err := r.Choose(ctx, tenantID, requestedBy, res.Tracks)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: Single, Tracks: []track.Track{picked}}, nil
}
