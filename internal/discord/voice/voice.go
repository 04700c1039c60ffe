// Package voice plays audio into Discord voice channels.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/keshon/melodeck/internal/music/player"
	"github.com/keshon/melodeck/internal/music/stream"
	"github.com/rs/zerolog"
	"layeh.com/gopus"
)

var ErrNotPlaying = errors.New("nothing is playing")

// Opener starts the decoder for one input at an offset.
type Opener func(ctx context.Context, input string, seek time.Duration) (io.ReadCloser, error)

type Transport struct {
	dg    *discordgo.Session
	open  Opener
	ready time.Duration
	log   zerolog.Logger
}

func NewTransport(dg *discordgo.Session, log zerolog.Logger) *Transport {
	return &Transport{dg: dg, open: stream.Open, ready: 10 * time.Second, log: log}
}

// Connect joins channelID in guildID and waits for the voice link to come up.
func (t *Transport) Connect(ctx context.Context, guildID, channelID string) (player.Connection, error) {
	vc, err := t.dg.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("join voice channel: %w", err)
	}

	deadline := time.NewTimer(t.ready)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !vcReady(vc) {
		select {
		case <-ctx.Done():
			_ = vc.Disconnect()
			return nil, ctx.Err()
		case <-deadline.C:
			_ = vc.Disconnect()
			return nil, errors.New("voice connection not ready")
		case <-tick.C:
		}
	}

	enc, err := gopus.NewEncoder(stream.SampleRate, stream.Channels, gopus.Audio)
	if err != nil {
		_ = vc.Disconnect()
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	enc.SetBitrate(96000)

	return &conn{
		vc:       vc,
		out:      vc.OpusSend,
		enc:      enc,
		open:     t.open,
		pipeline: stream.NewPipeline(100),
		log:      t.log.With().Str("guild", guildID).Str("voice_channel", channelID).Logger(),
	}, nil
}

func vcReady(vc *discordgo.VoiceConnection) bool {
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

type conn struct {
	vc       *discordgo.VoiceConnection
	out      chan<- []byte
	enc      stream.Encoder
	open     Opener
	pipeline *stream.Pipeline
	log      zerolog.Logger

	playMu sync.Mutex // one Play at a time

	mu      sync.Mutex
	restart context.CancelFunc
	seekTo  *time.Duration
}

// Play decodes input into the voice channel until it ends or ctx is done.
// A Seek restarts the decoder at the new offset without returning.
func (c *conn) Play(ctx context.Context, input string) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	c.speaking(true)
	defer c.speaking(false)

	var pos time.Duration
	for {
		runCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.restart = cancel
		c.mu.Unlock()

		err := c.playFrom(runCtx, input, pos)
		cancel()

		c.mu.Lock()
		c.restart = nil
		next := c.seekTo
		c.seekTo = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if next != nil {
			pos = *next
			c.log.Debug().Dur("position", pos).Msg("restarting decoder after seek")
			continue
		}
		return err
	}
}

func (c *conn) playFrom(ctx context.Context, input string, pos time.Duration) error {
	src, err := c.open(ctx, input, pos)
	if err != nil {
		return err
	}

	c.pipeline.Reset(pos)
	err = c.pipeline.Run(ctx, src, c.enc, c.out)
	if closeErr := src.Close(); closeErr != nil && (err == nil || errors.Is(err, stream.ErrNoAudio)) {
		err = closeErr
	}
	// seeking past the end leaves nothing to decode
	if pos > 0 && errors.Is(err, stream.ErrNoAudio) {
		return nil
	}
	return err
}

func (c *conn) speaking(on bool) {
	if c.vc == nil {
		return
	}
	if err := c.vc.Speaking(on); err != nil {
		c.log.Debug().Err(err).Bool("speaking", on).Msg("speaking update failed")
	}
}

func (c *conn) SetVolume(v int) { c.pipeline.SetVolume(v) }

func (c *conn) Pause() error {
	c.pipeline.Pause()
	return nil
}

func (c *conn) Resume() error {
	c.pipeline.Resume()
	return nil
}

func (c *conn) Seek(pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restart == nil {
		return ErrNotPlaying
	}
	c.seekTo = &pos
	c.restart()
	return nil
}

func (c *conn) Position() time.Duration { return c.pipeline.Position() }

func (c *conn) Disconnect() error {
	c.pipeline.Resume()
	if c.vc == nil {
		return nil
	}
	return c.vc.Disconnect()
}
