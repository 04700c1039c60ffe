package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/keshon/melodeck/internal/music/player"
	"github.com/keshon/melodeck/internal/music/scheduler"
	"github.com/keshon/melodeck/internal/music/status"
	"github.com/keshon/melodeck/internal/music/track"
	"github.com/keshon/melodeck/internal/storage"
	"github.com/keshon/melodeck/pkg/cmd"
)

// playTimeout bounds resolving and voice setup; downloads run on the
// session's own lifetime.
const playTimeout = 2 * time.Minute

// Music is the slice of the player API the slash commands drive.
type Music interface {
	Play(ctx context.Context, req player.PlayRequest) (player.PlayResult, error)
	Pause(tenantID string) error
	Resume(tenantID string) error
	Skip(tenantID string) error
	Stop(tenantID string) error
	Seek(tenantID string, ms int64) error
	SetVolume(tenantID string, volume int) error
	SetLoop(tenantID string, mode track.LoopMode) error
	Shuffle(tenantID string) error
	Remove(tenantID string, position int) (track.Track, error)
	SetTimeout(tenantID string, minutes int, action scheduler.Action) (scheduler.Policy, error)
	Snapshot(tenantID string) (snap status.Snapshot, ok bool)
}

type HistoryReader interface {
	FetchCommandHistory(guildID string) ([]storage.CommandHistoryRecord, error)
}

type musicCommands struct {
	music   Music
	history HistoryReader
	// voiceChannel finds the voice channel a user sits in, "" if none.
	voiceChannel func(guildID, userID string) string
}

func replyOf(inv *cmd.Invocation) *reply {
	r, _ := inv.Data.(*reply)
	return r
}

func (m *musicCommands) commands() []cmd.Command {
	return []cmd.Command{
		cmd.New("play", "Play a link or search for a track", m.play),
		cmd.New("pause", "Pause playback", m.simple(m.music.Pause, "⏸️ Paused.")),
		cmd.New("resume", "Resume playback", m.simple(m.music.Resume, "▶️ Resumed.")),
		cmd.New("skip", "Skip to the next track", m.simple(m.music.Skip, "⏭️ Skipped.")),
		cmd.New("stop", "Stop playback and leave", m.simple(m.music.Stop, "⏹️ Stopped. See you next time.")),
		cmd.New("seek", "Jump to a position", m.seek),
		cmd.New("volume", "Set the volume", m.volume),
		cmd.New("loop", "Set the loop mode", m.loop),
		cmd.New("shuffle", "Shuffle the upcoming tracks", m.simple(m.music.Shuffle, "🔀 Shuffled.")),
		cmd.New("remove", "Remove an upcoming track", m.remove),
		cmd.New("timeout", "Arm or clear the timeout", m.timeout),
		cmd.New("queue", "Show the queue", m.queue),
		cmd.New("history", "Show recent commands", m.recent),
	}
}

func (m *musicCommands) simple(fn func(tenantID string) error, done string) func(context.Context, *cmd.Invocation) error {
	return func(_ context.Context, inv *cmd.Invocation) error {
		if err := fn(inv.GuildID); err != nil {
			return err
		}
		return replyOf(inv).Text(done, false)
	}
}

func (m *musicCommands) play(ctx context.Context, inv *cmd.Invocation) error {
	r := replyOf(inv)
	query := strings.TrimSpace(inv.String("query"))
	if query == "" {
		return r.Text("Give me a link or something to search for.", true)
	}
	mode, err := track.ParseMode(inv.String("mode"))
	if err != nil {
		return r.Text(err.Error(), true)
	}
	kind, err := player.ParseKind(inv.String("kind"))
	if err != nil {
		return r.Text(err.Error(), true)
	}

	req := player.PlayRequest{
		TenantID:       inv.GuildID,
		VoiceChannelID: m.voiceChannel(inv.GuildID, inv.UserID),
		TextChannelID:  inv.ChannelID,
		RequestedBy:    inv.UserID,
		Query:          query,
		Mode:           mode,
		Kind:           kind,
		Loop:           track.LoopMode(inv.String("loop")),
	}
	if minutes, ok := inv.Int("timeout"); ok {
		req.TimeoutMinutes = minutes
		req.TimeoutAction = scheduler.Action(inv.String("action"))
	}

	if err := r.Defer(false); err != nil {
		return fmt.Errorf("defer play response: %w", err)
	}

	ctx, cancel := context.WithTimeout(withReply(ctx, r), playTimeout)
	defer cancel()
	res, err := m.music.Play(ctx, req)
	if err != nil {
		return err
	}
	return r.Embed(playedEmbed(res), false)
}

func playedEmbed(res player.PlayResult) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{}
	switch {
	case res.PlaylistTitle != "" || len(res.Tracks) > 1:
		e.Title = "📃 Playlist queued"
		e.Description = fmt.Sprintf("Queued **%d** tracks", len(res.Tracks))
		if res.PlaylistTitle != "" {
			e.Description += " from **" + res.PlaylistTitle + "**"
		}
	case res.Started:
		e.Title = "▶️ Playing"
		e.Description = trackLine(res.Tracks[0])
	default:
		e.Title = "➕ Added to queue"
		e.Description = trackLine(res.Tracks[0])
	}
	if res.Failed > 0 {
		e.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d track(s) could not be retrieved", res.Failed)}
	}
	return e
}

func trackLine(t track.Track) string {
	line := "**" + t.DisplayTitle() + "**"
	if t.SourceRef != "" && strings.HasPrefix(t.SourceRef, "http") {
		line = fmt.Sprintf("[%s](%s)", line, t.SourceRef)
	}
	if t.Duration > 0 {
		line += " `" + clock(t.Duration) + "`"
	}
	return line
}

func (m *musicCommands) seek(_ context.Context, inv *cmd.Invocation) error {
	ms, err := parsePosition(inv.String("position"))
	if err != nil {
		return replyOf(inv).Text(err.Error(), true)
	}
	if err := m.music.Seek(inv.GuildID, ms); err != nil {
		return err
	}
	return replyOf(inv).Text("⏩ Jumped to "+clock(time.Duration(ms)*time.Millisecond), false)
}

// parsePosition reads "90", "1:30" or "1:02:03" as milliseconds.
func parsePosition(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("give a position like 1:30")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("can't read position %q", s)
	}
	var secs int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 || (i > 0 && n >= 60) {
			return 0, fmt.Errorf("can't read position %q", s)
		}
		secs = secs*60 + n
	}
	return secs * 1000, nil
}

func (m *musicCommands) volume(_ context.Context, inv *cmd.Invocation) error {
	level, ok := inv.Int("level")
	if !ok {
		return player.ErrInvalidVolume
	}
	if err := m.music.SetVolume(inv.GuildID, level); err != nil {
		return err
	}
	return replyOf(inv).Text(fmt.Sprintf("🔊 Volume set to %d%%.", level), false)
}

func (m *musicCommands) loop(_ context.Context, inv *cmd.Invocation) error {
	mode, err := track.ParseLoopMode(inv.String("mode"))
	if err != nil {
		return replyOf(inv).Text(err.Error(), true)
	}
	if err := m.music.SetLoop(inv.GuildID, mode); err != nil {
		return err
	}
	return replyOf(inv).Text("🔁 Loop: "+mode.Label()+".", false)
}

func (m *musicCommands) remove(_ context.Context, inv *cmd.Invocation) error {
	pos, ok := inv.Int("position")
	if !ok {
		return player.ErrInvalidPosition
	}
	t, err := m.music.Remove(inv.GuildID, pos)
	if err != nil {
		return err
	}
	return replyOf(inv).Text("🗑️ Removed "+trackLine(t)+".", false)
}

func (m *musicCommands) timeout(_ context.Context, inv *cmd.Invocation) error {
	minutes, _ := inv.Int("minutes")
	action, err := scheduler.ParseAction(inv.String("action"))
	if err != nil {
		return err
	}
	policy, err := m.music.SetTimeout(inv.GuildID, minutes, action)
	if err != nil {
		return err
	}
	if minutes == 0 {
		return replyOf(inv).Text("⏰ Timeout cleared.", false)
	}
	return replyOf(inv).Text(fmt.Sprintf("⏰ %s in %d min, at <t:%d:t>.", policy.Action, policy.Minutes, policy.DeadlineAt.Unix()), false)
}

func (m *musicCommands) queue(_ context.Context, inv *cmd.Invocation) error {
	snap, ok := m.music.Snapshot(inv.GuildID)
	if !ok {
		return player.ErrNoActiveSession
	}
	return replyOf(inv).Embed(queueEmbed(snap), true)
}

const queuePage = 10

func queueEmbed(snap status.Snapshot) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{Title: "🎶 Queue"}
	if snap.Current == nil {
		e.Description = "Nothing is playing."
		return e
	}

	var b strings.Builder
	state := "Now playing"
	if snap.State == status.StatePaused {
		state = "Paused"
	}
	fmt.Fprintf(&b, "**%s:** %s\n", state, trackLine(*snap.Current))

	upcoming := snap.Queue
	if len(upcoming) > 0 {
		upcoming = upcoming[1:]
	}
	for i, t := range upcoming {
		if i == queuePage {
			fmt.Fprintf(&b, "…and %d more\n", len(upcoming)-queuePage)
			break
		}
		fmt.Fprintf(&b, "`%d.` %s\n", i+1, trackLine(t))
	}
	e.Description = b.String()
	e.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("Volume %d%% · Loop %s", snap.Volume, snap.Loop.Label()),
	}
	return e
}

func (m *musicCommands) recent(_ context.Context, inv *cmd.Invocation) error {
	r := replyOf(inv)
	if m.history == nil {
		return r.Text("History is not available.", true)
	}
	records, err := m.history.FetchCommandHistory(inv.GuildID)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	if len(records) == 0 {
		return r.Text("No commands yet.", true)
	}
	var b strings.Builder
	for i := len(records) - 1; i >= 0 && len(records)-i <= queuePage; i-- {
		rec := records[i]
		fmt.Fprintf(&b, "<t:%d:R> **%s** `%s %s`\n", rec.Datetime.Unix(), rec.Username, rec.Command, rec.Param)
	}
	return r.Embed(&discordgo.MessageEmbed{Title: "📜 Recent commands", Description: b.String()}, true)
}
