// Package direct serves plain media URLs: internet radio streams, playlists
// files and hosted audio files.
package direct

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/keshon/melodeck/internal/music/sources"
	"github.com/keshon/melodeck/internal/music/track"
)

var validContentTypes = []string{
	"audio/",
	"video/",
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
	"application/ogg",
	"application/x-scpls",
	"application/xspf+xml",
	"application/octet-stream",
}

type Source struct {
	checker  *http.Client
	download *http.Client
}

func New() *Source {
	return &Source{
		checker: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		// no timeout: a download lasts as long as the transfer does
		download: &http.Client{},
	}
}

func (s *Source) Name() string { return sources.SourceDirect }

func (s *Source) Match(input string) bool {
	u, err := url.Parse(strings.TrimSpace(input))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Search checks the URL and returns it as a single track when it looks like
// playable media.
func (s *Source) Search(ctx context.Context, input string) (sources.Result, error) {
	input = strings.TrimSpace(input)
	if !s.Match(input) {
		return sources.Result{Kind: sources.MatchNone}, nil
	}

	contentType, finalURL, err := s.fetchContentType(ctx, input)
	if err != nil {
		return sources.Result{}, fmt.Errorf("failed to fetch content type: %w", err)
	}
	if !isAllowedType(contentType) && !isLikelyPlaylist(finalURL) {
		return sources.Result{Kind: sources.MatchNone}, nil
	}

	u, _ := url.Parse(input)
	title := path.Base(u.Path)
	if title == "/" || title == "." {
		title = u.Host
	}

	return sources.Result{
		Kind: sources.MatchSingle,
		Tracks: []track.Track{{
			ID:        trackID(input),
			SourceRef: input,
			Source:    sources.SourceDirect,
			Title:     title,
			Author:    u.Host,
		}},
	}, nil
}

func (s *Source) StreamURL(_ context.Context, t track.Track) (string, error) {
	return t.SourceRef, nil
}

// Download opens the URL for a prefetch. Size is -1 when the server does not
// announce it.
func (s *Source) Download(ctx context.Context, t track.Track) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.SourceRef, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.download.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("download %s: status %d", t.SourceRef, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

func (s *Source) fetchContentType(ctx context.Context, rawURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("request creation failed: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.checker.Do(req)
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			resp.Body.Close()
		}
		// some stream servers reject HEAD
		req.Method = http.MethodGet
		resp, err = s.checker.Do(req)
		if err != nil {
			return "", "", fmt.Errorf("GET fallback failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return "", "", fmt.Errorf("status %d", resp.StatusCode)
		}
		// live streams never end, read only the head of the body
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
	} else {
		defer resp.Body.Close()
	}

	return resp.Header.Get("Content-Type"), resp.Request.URL.String(), nil
}

func isAllowedType(contentType string) bool {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	for _, allowed := range validContentTypes {
		if strings.HasPrefix(contentType, allowed) {
			return true
		}
	}
	return false
}

func isLikelyPlaylist(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".m3u", ".m3u8", ".pls", ".xspf", ".asx":
		return true
	}
	return false
}

func trackID(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:8])
}
