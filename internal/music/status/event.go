// Package status fans playback events out to observers, one ordered stream
// per tenant.
package status

import (
	"time"

	"github.com/keshon/melodeck/internal/music/track"
)

type Kind string

const (
	TrackStart   Kind = "track-start"
	TrackFinish  Kind = "track-finish"
	TrackSkip    Kind = "track-skip"
	VolumeChange Kind = "volume-change"
	QueueAdd     Kind = "queue-add"
	QueueRemove  Kind = "queue-remove"
	EmptyQueue   Kind = "empty-queue"
	Pause        Kind = "pause"
	Resume       Kind = "resume"
	Seek         Kind = "seek"
	LoopChange   Kind = "loop-change"
	QueueShuffle Kind = "queue-shuffle"
	SessionEnd   Kind = "session-end"
)

type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// TimeoutInfo describes an armed timeout policy.
type TimeoutInfo struct {
	Minutes    int       `json:"minutes"`
	Action     string    `json:"action"`
	StartedAt  time.Time `json:"started_at"`
	DeadlineAt time.Time `json:"deadline_at"`
}

// Remaining is the time left before the policy fires, never negative.
func (t TimeoutInfo) Remaining(now time.Time) time.Duration {
	if d := t.DeadlineAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Snapshot is a read-only copy of one tenant's session.
type Snapshot struct {
	TenantID   string         `json:"tenant_id"`
	State      State          `json:"state"`
	Kind       string         `json:"kind,omitempty"`
	Current    *track.Track   `json:"current,omitempty"`
	Queue      []track.Track  `json:"queue"`
	Volume     int            `json:"volume"`
	Loop       track.LoopMode `json:"loop"`
	Timeout    *TimeoutInfo   `json:"timeout,omitempty"`
	PositionMs int64          `json:"position_ms"`
	// Error is set on a track-finish caused by a playback failure.
	Error string `json:"error,omitempty"`
}

// Event is the envelope delivered to subscribers. Seq increases by one per
// event within a tenant.
type Event struct {
	Seq      uint64    `json:"seq"`
	Kind     Kind      `json:"kind"`
	TenantID string    `json:"tenant_id"`
	At       time.Time `json:"at"`
	Snapshot Snapshot  `json:"snapshot"`
}
