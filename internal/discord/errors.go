package discord

import (
	"context"
	"errors"

	"github.com/keshon/melodeck/internal/music/player"
	"github.com/keshon/melodeck/internal/music/prefetch"
	"github.com/keshon/melodeck/internal/music/resolver"
	"github.com/keshon/melodeck/internal/music/scheduler"
	"github.com/keshon/melodeck/internal/music/track"
)

var errRateLimited = errors.New("rate limited")

var userMessages = []struct {
	err error
	msg string
}{
	{player.ErrChannelUnavailable, "Join a voice channel first."},
	{player.ErrNoActiveSession, "Nothing is playing right now."},
	{player.ErrQueueEmpty, "The queue is empty."},
	{player.ErrInvalidVolume, "Volume must be between 0 and 100."},
	{player.ErrInvalidSeek, "That position is outside the track."},
	{player.ErrNotSeekable, "This track can't be seeked."},
	{player.ErrInvalidPosition, "There is no upcoming track at that position."},
	{resolver.ErrNoMatches, "Nothing found for that query."},
	{resolver.ErrSelectionTimeout, "No track was picked in time."},
	{prefetch.ErrRetrievalFailed, "Couldn't retrieve that track."},
	{scheduler.ErrInvalidMinutes, "The timeout must be at least one minute."},
	{scheduler.ErrUnknownAction, "Unknown timeout action."},
	{track.ErrSelectionClosed, "That selection is no longer open."},
	{track.ErrBadSelection, "That's not one of the options."},
	{errNotRequester, "Only the person who searched can pick."},
	{errRateLimited, "Easy there, try again in a moment."},
	{context.DeadlineExceeded, "That took too long. Try again."},
}

// userMessage turns an engine error into text for the channel. known is
// false for errors the user can't act on; those get logged by the caller.
func userMessage(err error) (msg string, known bool) {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg, true
		}
	}
	return "Something went wrong. Try again later.", false
}
