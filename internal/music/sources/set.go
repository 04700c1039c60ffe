package sources

import (
	"context"
	"fmt"
	"io"

	"github.com/keshon/melodeck/internal/music/track"
)

// Set holds the configured providers in match order. The first provider is
// the default for free-text queries.
type Set struct {
	providers []Provider
	byName    map[string]Provider
}

func NewSet(providers ...Provider) *Set {
	s := &Set{byName: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		s.providers = append(s.providers, p)
		s.byName[p.Name()] = p
	}
	return s
}

// For returns the provider that should handle input.
func (s *Set) For(input string) (Provider, error) {
	if len(s.providers) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}
	if IsURL(input) {
		for _, p := range s.providers {
			if p.Match(input) {
				return p, nil
			}
		}
		return nil, fmt.Errorf("no source accepts %q", input)
	}
	return s.providers[0], nil
}

func (s *Set) Get(name string) (Provider, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Download dispatches to the track's own source.
func (s *Set) Download(ctx context.Context, t track.Track) (io.ReadCloser, int64, error) {
	p, ok := s.byName[t.Source]
	if !ok {
		return nil, 0, fmt.Errorf("unknown source %q", t.Source)
	}
	d, ok := p.(Downloader)
	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", t.Source, ErrUnsupported)
	}
	return d.Download(ctx, t)
}

// StreamURL dispatches to the track's own source.
func (s *Set) StreamURL(ctx context.Context, t track.Track) (string, error) {
	p, ok := s.byName[t.Source]
	if !ok {
		return "", fmt.Errorf("unknown source %q", t.Source)
	}
	st, ok := p.(Streamer)
	if !ok {
		return "", fmt.Errorf("%s: %w", t.Source, ErrUnsupported)
	}
	return st.StreamURL(ctx, t)
}
