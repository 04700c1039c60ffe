package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Pipeline encodes PCM into Opus packets for one voice connection. Volume,
// pause and position are safe to change while Run is active.
type Pipeline struct {
	volume atomic.Int32
	frames atomic.Int64
	offset atomic.Int64

	mu     sync.Mutex
	resume chan struct{} // non-nil while paused
}

func NewPipeline(volume int) *Pipeline {
	p := &Pipeline{}
	p.SetVolume(volume)
	return p
}

func (p *Pipeline) SetVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	p.volume.Store(int32(v))
}

func (p *Pipeline) Volume() int { return int(p.volume.Load()) }

func (p *Pipeline) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resume == nil {
		p.resume = make(chan struct{})
	}
}

func (p *Pipeline) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resume != nil {
		close(p.resume)
		p.resume = nil
	}
}

func (p *Pipeline) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resume != nil
}

// Reset starts position accounting over at offset.
func (p *Pipeline) Reset(offset time.Duration) {
	p.frames.Store(0)
	p.offset.Store(int64(offset))
}

// Position is the offset plus the audio sent since the last Reset.
func (p *Pipeline) Position() time.Duration {
	return time.Duration(p.offset.Load()) + time.Duration(p.frames.Load())*FrameDuration
}

func (p *Pipeline) waitResume(ctx context.Context) error {
	p.mu.Lock()
	resume := p.resume
	p.mu.Unlock()
	if resume == nil {
		return nil
	}
	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrNoAudio is returned when src ends before a single frame was sent.
var ErrNoAudio = errors.New("no audio decoded")

// Run reads src until it ends, sending one packet per frame. The end of src
// returns nil, or ErrNoAudio when nothing was sent; a cancelled ctx returns
// ctx.Err().
func (p *Pipeline) Run(ctx context.Context, src io.Reader, enc Encoder, out chan<- []byte) error {
	pcm := make([]byte, frameBytes)
	samples := make([]int16, FrameSize*Channels)
	sent := 0

	for {
		if err := p.waitResume(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := io.ReadFull(src, pcm); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if sent == 0 {
					return ErrNoAudio
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read pcm: %w", err)
		}

		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		}
		ScaleVolume(samples, p.Volume())

		packet, err := enc.Encode(samples, FrameSize, frameBytes)
		if err != nil {
			return fmt.Errorf("encode opus: %w", err)
		}

		select {
		case out <- packet:
			p.frames.Add(1)
			sent++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
