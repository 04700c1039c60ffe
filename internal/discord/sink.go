package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/keshon/melodeck/internal/music/sink"
	"github.com/keshon/melodeck/pkg/retrylimit"
	"github.com/rs/zerolog"
)

// Sink posts engine messages to guild text channels.
type Sink struct {
	dg    *discordgo.Session
	lim   *retrylimit.Limiter
	retry retrylimit.Config
	log   zerolog.Logger
}

func NewSink(dg *discordgo.Session, log zerolog.Logger) *Sink {
	cfg := retrylimit.DefaultConfig()
	cfg.Status = restStatus
	cfg.OnRetry = func(attempt int, err error) {
		log.Debug().Err(err).Int("attempt", attempt).Msg("retrying discord request")
	}
	return &Sink{
		dg:    dg,
		lim:   retrylimit.NewLimiter(5, 1, 20),
		retry: cfg,
		log:   log,
	}
}

// restStatus reads the HTTP status of a discordgo REST failure.
func restStatus(err error) int {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode
	}
	return 0
}

func (s *Sink) do(ctx context.Context, fn func() error) error {
	return retrylimit.Do(ctx, s.lim, s.retry, fn)
}

func (s *Sink) Send(ctx context.Context, channelID string, msg sink.Message) (sink.MessageRef, error) {
	if channelID == "" {
		return sink.MessageRef{}, nil
	}
	var m *discordgo.Message
	err := s.do(ctx, func() (err error) {
		m, err = s.dg.ChannelMessageSendEmbed(channelID, toEmbed(msg), discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return sink.MessageRef{}, err
	}
	return sink.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (s *Sink) Edit(ctx context.Context, ref sink.MessageRef, msg sink.Message) error {
	if ref.IsZero() {
		return nil
	}
	return s.do(ctx, func() error {
		_, err := s.dg.ChannelMessageEditEmbed(ref.ChannelID, ref.MessageID, toEmbed(msg), discordgo.WithContext(ctx))
		return err
	})
}

// Delete removes a message; one that is already gone counts as deleted.
func (s *Sink) Delete(ctx context.Context, ref sink.MessageRef) error {
	if ref.IsZero() {
		return nil
	}
	err := s.do(ctx, func() error {
		return s.dg.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
	})
	if restStatus(err) == http.StatusNotFound {
		return nil
	}
	return err
}

var _ sink.Sink = (*Sink)(nil)
