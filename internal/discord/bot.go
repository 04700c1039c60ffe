// Package discord runs the music engine as a Discord bot: slash commands in,
// embeds and voice out.
package discord

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/keshon/melodeck/pkg/cmd"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Options struct {
	GuildBlacklist   []string
	RegisterCommands bool
	CommandCacheDir  string
}

// History is the command history kept per guild.
type History interface {
	HistoryStore
	HistoryReader
}

type Bot struct {
	dg       *discordgo.Session
	opts     Options
	log      zerolog.Logger
	chooser  *Chooser
	commands *cmd.Registry
	hashes   hashCache

	ctx context.Context
}

// NewSession creates the Discord session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	return dg, nil
}

func New(dg *discordgo.Session, opts Options, music Music, history History, chooser *Chooser, log zerolog.Logger) (*Bot, error) {
	if opts.CommandCacheDir == "" {
		opts.CommandCacheDir = "data/commands"
	}
	b := &Bot{
		dg:       dg,
		opts:     opts,
		log:      log,
		chooser:  chooser,
		commands: cmd.NewRegistry(),
		hashes:   hashCache{dir: opts.CommandCacheDir},
		ctx:      context.Background(),
	}

	mc := &musicCommands{music: music, history: history, voiceChannel: b.voiceChannel}
	limiter := newUserLimiter(rate.Limit(0.5), 5)
	for _, c := range mc.commands() {
		wrapped := cmd.Apply(c,
			withHistory(history, log),
			withRateLimit(limiter),
			withLogging(log),
		)
		if err := b.commands.Register(wrapped); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Run connects to the gateway and serves until ctx is done. The session
// stays open so sessions can still leave voice; call Close afterwards.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onInteractionCreate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received")
	return nil
}

func (b *Bot) Close() error { return b.dg.Close() }

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord bot is running")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	log := b.log.With().Str("guild", g.ID).Str("name", g.Name).Logger()

	if b.isGuildBlacklisted(g.ID) {
		log.Info().Msg("leaving blacklisted guild")
		if err := s.GuildLeave(g.ID); err != nil {
			log.Error().Err(err).Msg("failed to leave guild")
		}
		return
	}
	if !b.opts.RegisterCommands {
		return
	}
	if err := b.registerCommands(g.ID); err != nil {
		log.Error().Err(err).Msg("failed to register commands")
	}
}

func (b *Bot) isGuildBlacklisted(guildID string) bool {
	return slices.Contains(b.opts.GuildBlacklist, guildID)
}

// registerCommands syncs the guild's commands with the wanted definitions,
// touching only those whose hash changed.
func (b *Bot) registerCommands(guildID string) error {
	appID := b.dg.State.User.ID

	existing, err := b.dg.ApplicationCommands(appID, guildID)
	if err != nil {
		return fmt.Errorf("list commands: %w", err)
	}
	local := b.hashes.load(guildID)

	wanted := map[string]*discordgo.ApplicationCommand{}
	for _, def := range Definitions() {
		wanted[def.Name] = def
	}

	present := map[string]bool{}
	for _, old := range existing {
		if _, ok := wanted[old.Name]; ok {
			present[old.Name] = true
			continue
		}
		b.log.Info().Str("guild", guildID).Str("command", old.Name).Msg("deleting obsolete command")
		if err := b.dg.ApplicationCommandDelete(appID, guildID, old.ID); err != nil {
			b.log.Error().Err(err).Str("guild", guildID).Str("command", old.Name).Msg("failed to delete command")
		}
		delete(local, old.Name)
	}

	for name, def := range wanted {
		h := hashCommand(def)
		if present[name] && local[name] == h {
			continue
		}
		if _, err := b.dg.ApplicationCommandCreate(appID, guildID, def); err != nil {
			return fmt.Errorf("create command %s: %w", name, err)
		}
		local[name] = h
		b.log.Info().Str("guild", guildID).Str("command", name).Msg("command registered")
	}
	return b.hashes.save(guildID, local)
}

func (b *Bot) voiceChannel(guildID, userID string) string {
	vs, err := b.dg.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		if data.Name != "music" || len(data.Options) == 0 {
			return
		}
		b.dispatch(s, i, data.Options[0])

	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		if strings.HasPrefix(data.CustomID, pickPrefix) {
			b.onPick(s, i, data)
		}
	}
}

func (b *Bot) dispatch(s *discordgo.Session, i *discordgo.InteractionCreate, opt *discordgo.ApplicationCommandInteractionDataOption) {
	r := &reply{s: s, i: i}
	user := interactionUser(i)
	if i.GuildID == "" || user == nil {
		_ = r.Text("Music only works inside a server.", true)
		return
	}
	c, ok := b.commands.Get(opt.Name)
	if !ok {
		b.log.Warn().Str("subcommand", opt.Name).Msg("unknown subcommand")
		return
	}

	inv := &cmd.Invocation{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		UserID:    user.ID,
		Username:  user.Username,
		Options:   invocationOptions(opt.Options),
		Data:      r,
	}
	if err := c.Run(b.ctx, inv); err != nil {
		msg, known := userMessage(err)
		if !known {
			b.log.Error().Err(err).Str("guild", i.GuildID).Str("subcommand", opt.Name).Msg("command failed")
		}
		if rerr := r.Text("⚠️ "+msg, true); rerr != nil {
			b.log.Warn().Err(rerr).Msg("failed to answer interaction")
		}
	}
}

func (b *Bot) onPick(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.MessageComponentInteractionData) {
	user := interactionUser(i)
	if user == nil {
		return
	}
	t, err := b.chooser.Pick(data.CustomID, user.ID, data.Values)
	if err != nil {
		msg, _ := userMessage(err)
		_ = (&reply{s: s, i: i}).Text(msg, true)
		return
	}
	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{{Description: "Picked " + trackLine(t), Color: EmbedColor}},
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to update selection menu")
	}
}
