package track

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tracks(n int) []Track {
	out := make([]Track, n)
	for i := range out {
		out[i] = Track{ID: strconv.Itoa(i), Title: "song " + strconv.Itoa(i)}
	}
	return out
}

func TestCandidateSetCapsAtFiveInProviderOrder(t *testing.T) {
	set := NewCandidateSet("g1", "u1", tracks(9), time.Now())
	require.Len(t, set.Candidates, MaxCandidates)
	for i, c := range set.Candidates {
		assert.Equal(t, strconv.Itoa(i), c.ID)
	}
	assert.NotEmpty(t, set.ID)
}

func TestCandidateSetSelectsOnce(t *testing.T) {
	set := NewCandidateSet("g1", "u1", tracks(3), time.Now())

	require.NoError(t, set.Select(2))
	assert.ErrorIs(t, set.Select(1), ErrSelectionClosed)

	got, err := set.Result()
	require.NoError(t, err)
	assert.Equal(t, "2", got.ID)
}

func TestCandidateSetExpire(t *testing.T) {
	set := NewCandidateSet("g1", "u1", tracks(2), time.Now())
	set.Expire()

	_, err := set.Result()
	assert.ErrorIs(t, err, ErrSelectionClosed)
	assert.ErrorIs(t, set.Select(0), ErrSelectionClosed)
}

func TestCandidateSetRejectsAfterDeadline(t *testing.T) {
	set := NewCandidateSet("g1", "u1", tracks(2), time.Now().Add(-2*SelectionWindow))
	assert.ErrorIs(t, set.Select(0), ErrSelectionClosed)
	assert.ErrorIs(t, set.Select(5), ErrBadSelection)
}

func TestInputPrefersLocalFileForDownloads(t *testing.T) {
	tr := Track{SourceRef: "https://example.com/a"}.WithMode(ModeDownload, "u1")
	assert.Equal(t, "https://example.com/a", tr.Input())

	tr.LocalPath = "/tmp/a.webm"
	assert.Equal(t, "/tmp/a.webm", tr.Input())
	assert.Equal(t, "u1", tr.RequestedBy)

	streamed := tr.WithMode(ModeStream, "u1")
	assert.Equal(t, "https://example.com/a", streamed.Input())
}

func TestParseModes(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeStream, m)

	m, err = ParseMode("Download")
	require.NoError(t, err)
	assert.Equal(t, ModeDownload, m)

	_, err = ParseMode("torrent")
	assert.Error(t, err)

	l, err := ParseLoopMode("queue")
	require.NoError(t, err)
	assert.Equal(t, LoopQueue, l)
	assert.Equal(t, "Off", LoopOff.Label())
}
