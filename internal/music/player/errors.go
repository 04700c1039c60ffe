package player

import "errors"

var (
	ErrChannelUnavailable = errors.New("no voice channel to join")
	ErrNoActiveSession    = errors.New("no active session")
	ErrQueueEmpty         = errors.New("queue is empty")
	ErrInvalidVolume      = errors.New("volume must be between 0 and 100")
	ErrInvalidSeek        = errors.New("seek position out of range")
	ErrInvalidPosition    = errors.New("no track at that queue position")
	ErrNotSeekable        = errors.New("current track cannot be seeked")
)
