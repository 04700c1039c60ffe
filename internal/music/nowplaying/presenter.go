// Package nowplaying renders the now-playing announcement of a session and
// keeps it as the newest message in the text channel.
package nowplaying

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/keshon/melodeck/internal/music/sink"
	"github.com/keshon/melodeck/internal/music/status"
	"github.com/rs/zerolog"
)

type Presenter struct {
	sink    sink.Sink
	fetcher ArtworkFetcher
	sampler ColorSampler
	log     zerolog.Logger
	now     func() time.Time
}

func New(out sink.Sink, fetcher ArtworkFetcher, sampler ColorSampler, log zerolog.Logger) *Presenter {
	if fetcher == nil {
		fetcher = NewHTTPFetcher()
	}
	if sampler == nil {
		sampler = BucketSampler{}
	}
	return &Presenter{sink: out, fetcher: fetcher, sampler: sampler, log: log, now: time.Now}
}

// Announce replaces prev with a fresh now-playing message. Delete comes
// before send so the announcement stays at the bottom of the channel.
func (p *Presenter) Announce(ctx context.Context, channelID string, prev sink.MessageRef, snap status.Snapshot, cache *ColorCache) (sink.MessageRef, error) {
	p.Clear(ctx, prev)
	if snap.Current == nil || channelID == "" {
		return sink.MessageRef{}, nil
	}
	color := p.DominantColor(ctx, cache, snap.Current.ArtworkRef)
	ref, err := p.sink.Send(ctx, channelID, p.Build(snap, color))
	if err != nil {
		return sink.MessageRef{}, fmt.Errorf("send now playing: %w", err)
	}
	return ref, nil
}

// Clear deletes a now-playing message; failures are only logged.
func (p *Presenter) Clear(ctx context.Context, ref sink.MessageRef) {
	if ref.IsZero() {
		return
	}
	if err := p.sink.Delete(ctx, ref); err != nil {
		p.log.Debug().Err(err).Str("message", ref.MessageID).Msg("failed to delete now playing message")
	}
}

// Build lays out the announcement for the snapshot's current track.
func (p *Presenter) Build(snap status.Snapshot, color RGB) sink.Message {
	t := snap.Current
	if t == nil {
		return sink.Message{Title: "Nothing playing"}
	}

	title := t.DisplayTitle()
	desc := fmt.Sprintf("**[%s](%s)**", escape(title), t.SourceRef)
	if t.Author != "" {
		desc += "\n" + escape(t.Author)
	}

	heading := "🎶 Now playing"
	if snap.State == status.StatePaused {
		heading = "⏸️ Paused"
	}

	msg := sink.Message{
		Title:       heading,
		Description: desc,
		URL:         t.SourceRef,
		Color:       color.Int(),
		Thumbnail:   t.ArtworkRef,
	}

	msg.Fields = append(msg.Fields, sink.Field{
		Name:  "Progress",
		Value: progressBar(time.Duration(snap.PositionMs)*time.Millisecond, t.Duration),
	})
	msg.Fields = append(msg.Fields, sink.Field{Name: "Loop", Value: snap.Loop.Label(), Inline: true})
	msg.Fields = append(msg.Fields, sink.Field{Name: "Volume", Value: fmt.Sprintf("%d%%", snap.Volume), Inline: true})
	if snap.Timeout != nil {
		left := snap.Timeout.Remaining(p.now()).Round(time.Second)
		msg.Fields = append(msg.Fields, sink.Field{
			Name:   "Timeout",
			Value:  fmt.Sprintf("%s (%s)", left, snap.Timeout.Action),
			Inline: true,
		})
	}
	if t.RequestedBy != "" {
		msg.Fields = append(msg.Fields, sink.Field{Name: "Requested by", Value: "<@" + t.RequestedBy + ">", Inline: true})
	}
	if n := len(snap.Queue) - 1; n > 0 {
		msg.Footer = fmt.Sprintf("%d more in queue", n)
	}
	return msg
}

func progressBar(pos, total time.Duration) string {
	const width = 16
	if total <= 0 {
		return "🔴 Live"
	}
	if pos > total {
		pos = total
	}
	idx := int(int64(pos) * width / int64(total))
	if idx >= width {
		idx = width - 1
	}
	var b strings.Builder
	for i := 0; i < width; i++ {
		if i == idx {
			b.WriteString("🔘")
		} else {
			b.WriteString("▬")
		}
	}
	return fmt.Sprintf("`%s` %s `%s`", clock(pos), b.String(), clock(total))
}

func clock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

var markdownEscaper = strings.NewReplacer("*", "\\*", "_", "\\_", "[", "\\[", "]", "\\]", "`", "\\`")

func escape(s string) string { return markdownEscaper.Replace(s) }
