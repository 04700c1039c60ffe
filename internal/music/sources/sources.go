package sources

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/keshon/melodeck/internal/music/track"
)

const (
	SourceYouTube = "youtube"
	SourceDirect  = "direct"
)

var ErrUnsupported = errors.New("operation not supported by source")

// MatchKind classifies what a provider found for a query.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchSingle
	MatchPlaylist
	MatchSearch // several loosely matching results, the user must pick one
)

func (k MatchKind) String() string {
	switch k {
	case MatchSingle:
		return "single"
	case MatchPlaylist:
		return "playlist"
	case MatchSearch:
		return "search"
	default:
		return "none"
	}
}

type Result struct {
	Kind          MatchKind
	Tracks        []track.Track
	PlaylistTitle string
}

// Provider is the media lookup collaborator.
type Provider interface {
	// Name returns the identifier stored in track.Track.Source.
	Name() string

	// Match reports whether the provider owns a direct source reference.
	Match(input string) bool

	// Search turns a query or reference into zero, one or many tracks.
	Search(ctx context.Context, input string) (Result, error)
}

// Downloader fetches the full media of a track for download mode.
type Downloader interface {
	Download(ctx context.Context, t track.Track) (io.ReadCloser, int64, error)
}

// Streamer returns a URL the audio transport can read directly.
type Streamer interface {
	StreamURL(ctx context.Context, t track.Track) (string, error)
}

func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
