package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/keshon/melodeck/internal/music/track"
	"github.com/rs/zerolog"
)

const pickPrefix = "music-pick:"

var errNoInteraction = errors.New("no interaction to answer")

type interactionKey struct{}

// withReply binds the interaction a play command came from, so the chooser
// can answer the same user.
func withReply(ctx context.Context, r *reply) context.Context {
	return context.WithValue(ctx, interactionKey{}, r)
}

func replyFrom(ctx context.Context) (*reply, bool) {
	r, ok := ctx.Value(interactionKey{}).(*reply)
	return r, ok
}

// Chooser shows ambiguous search results as a select menu and feeds the
// pick back into the candidate set.
type Chooser struct {
	log zerolog.Logger

	mu      sync.Mutex
	pending map[string]*track.CandidateSet
}

func NewChooser(log zerolog.Logger) *Chooser {
	return &Chooser{log: log, pending: make(map[string]*track.CandidateSet)}
}

func (c *Chooser) Present(ctx context.Context, set *track.CandidateSet) error {
	r, ok := replyFrom(ctx)
	if !ok {
		return errNoInteraction
	}

	c.mu.Lock()
	c.pending[set.ID] = set
	c.mu.Unlock()
	go c.forget(set)

	embed := &discordgo.MessageEmbed{
		Title:       "🔎 Pick a track",
		Description: candidateList(set.Candidates),
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Choose within %s", time.Until(set.ExpiresAt).Round(time.Second))},
	}
	if _, err := r.Followup(embed, true, pickMenu(set)); err != nil {
		c.drop(set.ID)
		return fmt.Errorf("send selection menu: %w", err)
	}
	return nil
}

func (c *Chooser) forget(set *track.CandidateSet) {
	timer := time.NewTimer(time.Until(set.ExpiresAt) + time.Second)
	defer timer.Stop()
	select {
	case <-set.Done():
	case <-timer.C:
	}
	c.drop(set.ID)
}

func (c *Chooser) drop(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Pick applies a menu selection made by userID. It returns the chosen track.
func (c *Chooser) Pick(customID, userID string, values []string) (track.Track, error) {
	id, idx, err := parsePick(customID, values)
	if err != nil {
		return track.Track{}, err
	}
	c.mu.Lock()
	set, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return track.Track{}, track.ErrSelectionClosed
	}
	if set.RequestedBy != userID {
		return track.Track{}, errNotRequester
	}
	if err := set.Select(idx); err != nil {
		return track.Track{}, err
	}
	return set.Candidates[idx], nil
}

var errNotRequester = errors.New("only the requester can pick")

func pickMenu(set *track.CandidateSet) discordgo.ActionsRow {
	opts := make([]discordgo.SelectMenuOption, len(set.Candidates))
	for i, t := range set.Candidates {
		var parts []string
		if t.Author != "" {
			parts = append(parts, t.Author)
		}
		if t.Duration > 0 {
			parts = append(parts, clock(t.Duration))
		}
		desc := strings.Join(parts, " · ")
		opts[i] = discordgo.SelectMenuOption{
			Label:       truncate(fmt.Sprintf("%d. %s", i+1, t.DisplayTitle()), 100),
			Value:       strconv.Itoa(i),
			Description: truncate(desc, 100),
		}
	}
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.SelectMenu{
			MenuType:    discordgo.StringSelectMenu,
			CustomID:    pickPrefix + set.ID,
			Placeholder: "Choose a track",
			Options:     opts,
		},
	}}
}

func parsePick(customID string, values []string) (id string, idx int, err error) {
	id, ok := strings.CutPrefix(customID, pickPrefix)
	if !ok || id == "" {
		return "", 0, fmt.Errorf("not a pick menu: %q", customID)
	}
	if len(values) != 1 {
		return "", 0, track.ErrBadSelection
	}
	idx, err = strconv.Atoi(values[0])
	if err != nil {
		return "", 0, track.ErrBadSelection
	}
	return id, idx, nil
}

func candidateList(tracks []track.Track) string {
	var b strings.Builder
	for i, t := range tracks {
		fmt.Fprintf(&b, "**%d.** %s", i+1, t.DisplayTitle())
		if t.Duration > 0 {
			fmt.Fprintf(&b, " `%s`", clock(t.Duration))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func clock(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
