package track

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxCandidates caps a disambiguation list.
	MaxCandidates = 5
	// SelectionWindow is how long a CandidateSet accepts a selection.
	SelectionWindow = 60 * time.Second
)

var (
	ErrSelectionClosed = errors.New("selection already made or expired")
	ErrBadSelection    = errors.New("selection out of range")
)

// CandidateSet is a short-lived list of tracks awaiting one user choice.
// It resolves exactly once, either by Select or by Expire.
type CandidateSet struct {
	ID          string
	TenantID    string
	RequestedBy string
	Candidates  []Track
	ExpiresAt   time.Time

	once   sync.Once
	done   chan struct{}
	choice int
	err    error
}

// NewCandidateSet keeps at most MaxCandidates tracks, in the given order.
func NewCandidateSet(tenantID, requestedBy string, tracks []Track, now time.Time) *CandidateSet {
	if len(tracks) > MaxCandidates {
		tracks = tracks[:MaxCandidates]
	}
	cands := make([]Track, len(tracks))
	copy(cands, tracks)
	return &CandidateSet{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		RequestedBy: requestedBy,
		Candidates:  cands,
		ExpiresAt:   now.Add(SelectionWindow),
		done:        make(chan struct{}),
		choice:      -1,
	}
}

// Select records the user's pick. Only the first call after creation and
// before expiry succeeds.
func (c *CandidateSet) Select(index int) error {
	if index < 0 || index >= len(c.Candidates) {
		return ErrBadSelection
	}
	if time.Now().After(c.ExpiresAt) {
		c.Expire()
		return ErrSelectionClosed
	}
	ok := false
	c.once.Do(func() {
		c.choice = index
		ok = true
		close(c.done)
	})
	if !ok {
		return ErrSelectionClosed
	}
	return nil
}

// Expire closes the set without a selection.
func (c *CandidateSet) Expire() {
	c.once.Do(func() {
		c.err = ErrSelectionClosed
		close(c.done)
	})
}

// Done is closed once the set is resolved.
func (c *CandidateSet) Done() <-chan struct{} {
	return c.done
}

// Result returns the chosen track after Done is closed.
func (c *CandidateSet) Result() (Track, error) {
	select {
	case <-c.done:
	default:
		return Track{}, errors.New("selection pending")
	}
	if c.err != nil {
		return Track{}, c.err
	}
	return c.Candidates[c.choice], nil
}
