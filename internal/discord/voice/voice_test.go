package voice

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/keshon/melodeck/internal/music/stream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopEncoder struct{}

func (nopEncoder) Encode([]int16, int, int) ([]byte, error) { return []byte{0}, nil }

// endless yields silence forever.
type endless struct{}

func (endless) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
func (endless) Close() error { return nil }

type opens struct {
	mu    sync.Mutex
	seeks []time.Duration
	body  func() io.ReadCloser
}

func (o *opens) open(_ context.Context, _ string, seek time.Duration) (io.ReadCloser, error) {
	o.mu.Lock()
	o.seeks = append(o.seeks, seek)
	o.mu.Unlock()
	return o.body(), nil
}

func (o *opens) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.seeks)
}

func newTestConn(o *opens, out chan []byte) *conn {
	return &conn{
		out:      out,
		enc:      nopEncoder{},
		open:     o.open,
		pipeline: stream.NewPipeline(100),
		log:      zerolog.Nop(),
	}
}

func drain(out chan []byte, stop chan struct{}) {
	for {
		select {
		case <-out:
		case <-stop:
			return
		}
	}
}

func TestPlayEndsWithInput(t *testing.T) {
	o := &opens{body: func() io.ReadCloser { return io.NopCloser(io.LimitReader(endless{}, 3*3840)) }}
	out := make(chan []byte, 8)
	c := newTestConn(o, out)

	require.NoError(t, c.Play(context.Background(), "a"))
	assert.Len(t, out, 3)
	assert.Equal(t, 60*time.Millisecond, c.Position())
}

func TestSeekRestartsDecoder(t *testing.T) {
	o := &opens{body: func() io.ReadCloser { return endless{} }}
	out := make(chan []byte)
	stop := make(chan struct{})
	defer close(stop)
	go drain(out, stop)

	c := newTestConn(o, out)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Play(ctx, "a") }()

	require.Eventually(t, func() bool { return o.count() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Seek(90*time.Second) == nil }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return o.count() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Position() >= 90*time.Second }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []time.Duration{0, 90 * time.Second}, o.seeks)
}

func TestSeekWithoutPlayback(t *testing.T) {
	c := newTestConn(&opens{}, make(chan []byte))
	assert.ErrorIs(t, c.Seek(time.Second), ErrNotPlaying)
}

// failingDecoder yields some audio, then reports an exit failure on Close.
type failingDecoder struct {
	io.Reader
}

func (failingDecoder) Close() error {
	return fmt.Errorf("%w: exit status 1: Invalid data found when processing input", stream.ErrDecoder)
}

func TestPlayReportsDecoderFailure(t *testing.T) {
	o := &opens{body: func() io.ReadCloser { return failingDecoder{io.LimitReader(endless{}, 2*3840)} }}
	out := make(chan []byte, 8)
	c := newTestConn(o, out)

	err := c.Play(context.Background(), "a")
	assert.ErrorIs(t, err, stream.ErrDecoder)
	assert.ErrorContains(t, err, "Invalid data")
}

func TestPlayWithoutAudioFails(t *testing.T) {
	o := &opens{body: func() io.ReadCloser { return io.NopCloser(io.LimitReader(endless{}, 0)) }}
	c := newTestConn(o, make(chan []byte, 1))
	assert.ErrorIs(t, c.Play(context.Background(), "a"), stream.ErrNoAudio)

	o.body = func() io.ReadCloser { return failingDecoder{io.LimitReader(endless{}, 0)} }
	assert.ErrorIs(t, c.Play(context.Background(), "a"), stream.ErrDecoder)
}
