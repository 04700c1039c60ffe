package track

import (
	"fmt"
	"strings"
	"time"
)

// Mode is how a track's media is retrieved before playback.
type Mode string

const (
	ModeStream   Mode = "stream"
	ModeDownload Mode = "download"
)

// ParseMode maps user input to a Mode. Empty input means stream.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStream:
		return ModeStream, nil
	case ModeDownload:
		return ModeDownload, nil
	}
	return "", fmt.Errorf("unknown retrieval mode %q", s)
}

// LoopMode controls what happens when the current track ends.
type LoopMode string

const (
	LoopOff   LoopMode = "off"
	LoopTrack LoopMode = "track"
	LoopQueue LoopMode = "queue"
)

func ParseLoopMode(s string) (LoopMode, error) {
	switch LoopMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", LoopOff:
		return LoopOff, nil
	case LoopTrack:
		return LoopTrack, nil
	case LoopQueue:
		return LoopQueue, nil
	}
	return "", fmt.Errorf("unknown loop mode %q", s)
}

// Label is the short text shown in the now-playing message.
func (m LoopMode) Label() string {
	switch m {
	case LoopTrack:
		return "🔂 Track"
	case LoopQueue:
		return "🔁 Queue"
	default:
		return "Off"
	}
}

// Track is a playable item. A queued Track is owned by exactly one session
// queue and is treated as a value.
type Track struct {
	ID          string        `json:"id"`
	SourceRef   string        `json:"source_ref"`
	Source      string        `json:"source"`
	Title       string        `json:"title"`
	Author      string        `json:"author,omitempty"`
	Duration    time.Duration `json:"duration"`
	ArtworkRef  string        `json:"artwork_ref,omitempty"`
	RequestedBy string        `json:"requested_by,omitempty"`
	Mode        Mode          `json:"mode"`

	// LocalPath points at the prefetched file for download-mode tracks.
	LocalPath string `json:"-"`
}

// WithMode returns a copy of t bound to mode and requester. It is applied once,
// when the track is queued.
func (t Track) WithMode(mode Mode, requestedBy string) Track {
	t.Mode = mode
	t.RequestedBy = requestedBy
	return t
}

// Input is what the audio transport should open: the local file for
// prefetched tracks, the source reference otherwise.
func (t Track) Input() string {
	if t.Mode == ModeDownload && t.LocalPath != "" {
		return t.LocalPath
	}
	return t.SourceRef
}

// DisplayTitle never returns an empty string.
func (t Track) DisplayTitle() string {
	switch {
	case t.Title != "":
		return t.Title
	case t.SourceRef != "":
		return t.SourceRef
	default:
		return "Unknown track"
	}
}

func (t Track) DurationMs() int64 {
	return t.Duration.Milliseconds()
}
