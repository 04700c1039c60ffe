// Package youtube is the YouTube media lookup provider. Metadata, playlists
// and media URLs come from kkdai/youtube; free-text search scrapes the results
// page.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/keshon/melodeck/internal/music/sources"
	"github.com/keshon/melodeck/internal/music/track"
	youtube "github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBaseURL = "https://www.youtube.com"

	// SearchLimit is how many ids a free-text search looks up. It matches the
	// candidate cap so no metadata is fetched for results nobody can pick.
	SearchLimit = track.MaxCandidates
)

var ErrNoAudioFormat = errors.New("no audio format available")

type Options struct {
	Proxy   string
	BaseURL string // search page host, overridden in tests
	Logger  zerolog.Logger
}

type Source struct {
	client  *youtube.Client
	http    *http.Client
	baseURL string
	log     zerolog.Logger

	// video resolves one id; replaced in tests.
	video func(ctx context.Context, id string) (track.Track, error)
}

func New(opts Options) (*Source, error) {
	hc, err := newHTTPClient(opts.Proxy, opts.Logger)
	if err != nil {
		return nil, err
	}
	s := &Source{
		client:  &youtube.Client{HTTPClient: hc},
		http:    hc,
		baseURL: opts.BaseURL,
		log:     opts.Logger,
	}
	if s.baseURL == "" {
		s.baseURL = defaultBaseURL
	}
	s.video = s.fetchVideo
	return s, nil
}

func (s *Source) Name() string { return sources.SourceYouTube }

func (s *Source) Match(input string) bool { return isYouTubeURL(input) }

func (s *Source) Search(ctx context.Context, input string) (sources.Result, error) {
	input = strings.TrimSpace(input)

	if isYouTubeURL(input) {
		if list := playlistID(input); list != "" {
			return s.playlist(ctx, list)
		}
		id := videoID(input)
		if id == "" {
			return sources.Result{}, fmt.Errorf("invalid YouTube URL %q", input)
		}
		t, err := s.video(ctx, id)
		if err != nil {
			return sources.Result{}, err
		}
		return sources.Result{Kind: sources.MatchSingle, Tracks: []track.Track{t}}, nil
	}

	ids, err := s.searchIDs(ctx, input, SearchLimit)
	if err != nil {
		return sources.Result{}, err
	}
	tracks, err := s.lookup(ctx, ids)
	if err != nil {
		return sources.Result{}, err
	}

	kind := sources.MatchSearch
	switch len(tracks) {
	case 0:
		kind = sources.MatchNone
	case 1:
		kind = sources.MatchSingle
	}
	return sources.Result{Kind: kind, Tracks: tracks}, nil
}

// lookup resolves ids concurrently and keeps their order. Ids that fail to
// resolve (private, removed, region locked) are skipped.
func (s *Source) lookup(ctx context.Context, ids []string) ([]track.Track, error) {
	resolved := make([]*track.Track, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			t, err := s.video(gctx, id)
			if err != nil {
				s.log.Debug().Err(err).Str("video", id).Msg("skipping search result")
				return nil
			}
			resolved[i] = &t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]track.Track, 0, len(ids))
	for _, t := range resolved {
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Source) fetchVideo(ctx context.Context, id string) (track.Track, error) {
	v, err := s.client.GetVideoContext(ctx, id)
	if err != nil {
		return track.Track{}, fmt.Errorf("get video %s: %w", id, err)
	}
	return s.fromVideo(v), nil
}

func (s *Source) playlist(ctx context.Context, id string) (sources.Result, error) {
	p, err := s.client.GetPlaylistContext(ctx, id)
	if err != nil {
		return sources.Result{}, fmt.Errorf("get playlist %s: %w", id, err)
	}

	tracks := make([]track.Track, 0, len(p.Videos))
	for _, e := range p.Videos {
		tracks = append(tracks, track.Track{
			ID:         e.ID,
			SourceRef:  watchURL(e.ID),
			Source:     sources.SourceYouTube,
			Title:      e.Title,
			Author:     e.Author,
			Duration:   e.Duration,
			ArtworkRef: largestThumbnail(e.Thumbnails),
		})
	}
	if len(tracks) == 0 {
		return sources.Result{Kind: sources.MatchNone}, nil
	}
	return sources.Result{Kind: sources.MatchPlaylist, Tracks: tracks, PlaylistTitle: p.Title}, nil
}

func (s *Source) fromVideo(v *youtube.Video) track.Track {
	return track.Track{
		ID:         v.ID,
		SourceRef:  watchURL(v.ID),
		Source:     sources.SourceYouTube,
		Title:      v.Title,
		Author:     v.Author,
		Duration:   v.Duration,
		ArtworkRef: largestThumbnail(v.Thumbnails),
	}
}

// StreamURL returns a direct media URL for the best audio format.
func (s *Source) StreamURL(ctx context.Context, t track.Track) (string, error) {
	v, format, err := s.audioFormat(ctx, t)
	if err != nil {
		return "", err
	}
	return s.client.GetStreamURLContext(ctx, v, format)
}

// Download opens the best audio format as a byte stream of known size.
func (s *Source) Download(ctx context.Context, t track.Track) (io.ReadCloser, int64, error) {
	v, format, err := s.audioFormat(ctx, t)
	if err != nil {
		return nil, 0, err
	}
	return s.client.GetStreamContext(ctx, v, format)
}

func (s *Source) audioFormat(ctx context.Context, t track.Track) (*youtube.Video, *youtube.Format, error) {
	v, err := s.client.GetVideoContext(ctx, t.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("get video %s: %w", t.ID, err)
	}

	formats := v.Formats.Type("audio")
	if len(formats) == 0 {
		formats = v.Formats.WithAudioChannels()
	}
	if len(formats) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", t.ID, ErrNoAudioFormat)
	}
	formats.Sort()
	return v, &formats[0], nil
}

func largestThumbnail(thumbs youtube.Thumbnails) string {
	var best youtube.Thumbnail
	for _, th := range thumbs {
		if th.Width*th.Height >= best.Width*best.Height {
			best = th
		}
	}
	return best.URL
}
