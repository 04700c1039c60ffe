package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keshon/melodeck/internal/music/sink"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeTarget struct {
	mu        sync.Mutex
	exists    bool
	volume    int
	volumes   []int
	paused    int
	teardowns int
	onVolume  func(n int)
	volumeErr error
}

func (f *fakeTarget) Exists(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists
}

func (f *fakeTarget) Volume(string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume, f.exists
}

func (f *fakeTarget) ApplyVolume(_ string, v int) error {
	f.mu.Lock()
	f.volume = v
	f.volumes = append(f.volumes, v)
	n := len(f.volumes)
	hook := f.onVolume
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return f.volumeErr
}

func (f *fakeTarget) PausePlayback(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused++
	return nil
}

func (f *fakeTarget) Teardown(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	f.exists = false
	return nil
}

func (f *fakeTarget) snapshot() (volumes []int, paused, teardowns int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.volumes...), f.paused, f.teardowns
}

type countingSink struct {
	mu   sync.Mutex
	sent []sink.Message
}

func (c *countingSink) Send(_ context.Context, _ string, m sink.Message) (sink.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return sink.MessageRef{MessageID: "1"}, nil
}
func (c *countingSink) Edit(context.Context, sink.MessageRef, sink.Message) error { return nil }
func (c *countingSink) Delete(context.Context, sink.MessageRef) error             { return nil }

func (c *countingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func fastConfig() Config {
	return Config{Unit: 20 * time.Millisecond, Steps: 10, Interval: 2 * time.Millisecond, Floor: 5}
}

func TestArmKeepsSingleTimer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	target := &fakeTarget{exists: true, volume: 80}
	s := New(fastConfig(), target, nil, zerolog.Nop())
	defer s.Close()

	actions := []Action{Stop, FadeOut, Leave, Stop, Leave}
	for i, a := range actions {
		_, err := s.Arm("g1", "", i+1, a)
		require.NoError(t, err)
	}

	p, ok := s.Pending("g1")
	require.True(t, ok)
	assert.Equal(t, 5, p.Minutes)
	assert.Equal(t, Leave, p.Action)
	assert.Equal(t, StateArmed, p.State)

	require.Eventually(t, func() bool {
		_, _, td := target.snapshot()
		return td == 1
	}, time.Second, 5*time.Millisecond)

	// the replaced timers never fire
	time.Sleep(150 * time.Millisecond)
	_, paused, td := target.snapshot()
	assert.Equal(t, 0, paused)
	assert.Equal(t, 1, td)

	_, ok = s.Pending("g1")
	assert.False(t, ok)
}

func TestFadeOutAndLeave(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	target := &fakeTarget{exists: true, volume: 100}
	out := &countingSink{}
	s := New(fastConfig(), target, out, zerolog.Nop())
	defer s.Close()

	_, err := s.Arm("g1", "text", 1, FadeOutAndLeave)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, td := target.snapshot()
		return td == 1
	}, 2*time.Second, 5*time.Millisecond)

	volumes, paused, _ := target.snapshot()
	require.Len(t, volumes, 10)
	for i := 1; i < len(volumes); i++ {
		assert.Less(t, volumes[i], volumes[i-1], "strictly decreasing")
	}
	assert.Equal(t, 5, volumes[len(volumes)-1])
	assert.Equal(t, 0, paused)

	require.Eventually(t, func() bool { return out.count() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := s.Pending("g1")
	assert.False(t, ok)
}

func TestFadeOutPausesAndRestoresVolume(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	target := &fakeTarget{exists: true, volume: 60}
	s := New(fastConfig(), target, nil, zerolog.Nop())
	defer s.Close()

	_, err := s.Arm("g1", "", 1, FadeOut)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, paused, _ := target.snapshot()
		return paused == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		v, _ := target.Volume("g1")
		return v == 60
	}, time.Second, 5*time.Millisecond)

	volumes, _, td := target.snapshot()
	assert.Equal(t, 0, td)
	assert.Equal(t, 5, volumes[len(volumes)-2])
}

func TestStopPausesImmediately(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	target := &fakeTarget{exists: true, volume: 60}
	s := New(fastConfig(), target, nil, zerolog.Nop())
	defer s.Close()

	_, err := s.Arm("g1", "", 1, Stop)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, paused, _ := target.snapshot()
		return paused == 1
	}, time.Second, 5*time.Millisecond)

	volumes, _, _ := target.snapshot()
	assert.Empty(t, volumes)
}

func TestTeardownMidFadeAbortsFade(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	target := &fakeTarget{exists: true, volume: 100}
	cfg := fastConfig()
	cfg.Interval = 10 * time.Millisecond
	s := New(cfg, target, nil, zerolog.Nop())
	defer s.Close()

	target.onVolume = func(n int) {
		if n == 3 {
			target.mu.Lock()
			target.exists = false
			target.mu.Unlock()
		}
	}

	_, err := s.Arm("g1", "", 1, FadeOutAndLeave)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := s.Pending("g1")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	volumes, _, td := target.snapshot()
	assert.Len(t, volumes, 3)
	assert.Equal(t, 0, td)
}

func TestCancelMidFade(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	target := &fakeTarget{exists: true, volume: 100}
	cfg := fastConfig()
	cfg.Interval = 10 * time.Millisecond
	s := New(cfg, target, nil, zerolog.Nop())
	defer s.Close()

	_, err := s.Arm("g1", "", 1, FadeOutAndLeave)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, ok := s.Pending("g1")
		return ok && p.State == StateFading
	}, time.Second, time.Millisecond)

	assert.True(t, s.Cancel("g1"))
	assert.False(t, s.Cancel("g1"))

	time.Sleep(200 * time.Millisecond)
	volumes, _, td := target.snapshot()
	assert.Less(t, len(volumes), 10)
	assert.Equal(t, 0, td)
}

func TestArmValidates(t *testing.T) {
	s := New(fastConfig(), &fakeTarget{}, nil, zerolog.Nop())
	defer s.Close()

	_, err := s.Arm("g1", "", 0, Leave)
	assert.ErrorIs(t, err, ErrInvalidMinutes)
	_, err = s.Arm("g1", "", 1, "explode")
	assert.ErrorIs(t, err, ErrUnknownAction)

	s.Close()
	_, err = s.Arm("g1", "", 1, Leave)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFadeVolumeMonotonicAndFloored(t *testing.T) {
	for v0 := 0; v0 <= 100; v0++ {
		for _, floor := range []int{1, 5, 30} {
			prev := v0
			for i := 1; i <= 10; i++ {
				v := FadeVolume(v0, floor, i, 10)
				assert.LessOrEqual(t, v, prev)
				if v0 > floor {
					assert.GreaterOrEqual(t, v, floor)
				}
				prev = v
			}
			if v0 > floor {
				assert.Equal(t, floor, prev)
			} else {
				assert.Equal(t, v0, prev)
			}
		}
	}
	assert.Equal(t, 91, FadeVolume(100, 1, 1, 10))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("fadeoutandleave")
	require.NoError(t, err)
	assert.Equal(t, FadeOutAndLeave, a)

	a, err = ParseAction("")
	require.NoError(t, err)
	assert.Equal(t, FadeOutAndLeave, a)
}

func TestFailedFadeStepDropsTimer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	target := &fakeTarget{exists: true, volume: 80, volumeErr: errors.New("voice gone")}
	s := New(fastConfig(), target, nil, zerolog.Nop())
	defer s.Close()

	_, err := s.Arm("g1", "", 1, FadeOut)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := s.Pending("g1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	volumes, paused, teardowns := target.snapshot()
	assert.Len(t, volumes, 1)
	assert.Zero(t, paused)
	assert.Zero(t, teardowns)

	_, err = s.Arm("g1", "", 1, Stop)
	require.NoError(t, err)
	p, ok := s.Pending("g1")
	require.True(t, ok)
	assert.Equal(t, StateArmed, p.State)
}
