package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/keshon/melodeck/internal/music/scheduler"
)

func choices(values ...string) []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, len(values))
	for i, v := range values {
		out[i] = &discordgo.ApplicationCommandOptionChoice{Name: v, Value: v}
	}
	return out
}

func timeoutActions() []*discordgo.ApplicationCommandOptionChoice {
	names := make([]string, len(scheduler.Actions))
	for i, a := range scheduler.Actions {
		names[i] = string(a)
	}
	return choices(names...)
}

func sub(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: desc,
		Options:     opts,
	}
}

func str(name, desc string, required bool, ch ...*discordgo.ApplicationCommandOptionChoice) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: desc,
		Required:    required,
		Choices:     ch,
	}
}

func integer(name, desc string, required bool, min, max float64) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: desc,
		Required:    required,
		MinValue:    &min,
		MaxValue:    max,
	}
}

// Definitions lists every slash command the bot registers.
func Definitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{musicDefinition()}
}

// musicDefinition is the /music slash command.
func musicDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "music",
		Description: "Control music playback",
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			sub("play", "Play a link or search for a track",
				str("query", "Link or search query", true),
				str("mode", "Stream directly or download first", false, choices("stream", "download")...),
				str("kind", "Music or an endless radio stream", false, choices("music", "radio")...),
				str("loop", "Loop mode", false, choices("off", "track", "queue")...),
				integer("timeout", "Stop after this many minutes", false, 1, 720),
				str("action", "What happens when the timeout fires", false, timeoutActions()...),
			),
			sub("pause", "Pause playback"),
			sub("resume", "Resume playback"),
			sub("skip", "Skip to the next track"),
			sub("stop", "Stop playback and leave the channel"),
			sub("seek", "Jump to a position in the current track",
				str("position", "Position like 90, 1:30 or 1:02:03", true),
			),
			sub("volume", "Set the volume",
				integer("level", "Volume from 0 to 100", true, 0, 100),
			),
			sub("loop", "Set the loop mode",
				str("mode", "Loop mode", true, choices("off", "track", "queue")...),
			),
			sub("shuffle", "Shuffle the upcoming tracks"),
			sub("remove", "Remove an upcoming track",
				integer("position", "Queue position, 1 is the next track", true, 1, 1000),
			),
			sub("timeout", "Fade out or leave after a while; 0 clears it",
				integer("minutes", "Minutes from now", true, 0, 720),
				str("action", "What happens when it fires", false, timeoutActions()...),
			),
			sub("queue", "Show the queue"),
			sub("history", "Show recent commands in this server"),
		},
	}
}

// invocationOptions flattens subcommand options into plain values.
func invocationOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]any {
	out := make(map[string]any, len(opts))
	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionString:
			out[o.Name] = o.StringValue()
		case discordgo.ApplicationCommandOptionInteger:
			out[o.Name] = o.IntValue()
		case discordgo.ApplicationCommandOptionBoolean:
			out[o.Name] = o.BoolValue()
		default:
			out[o.Name] = o.Value
		}
	}
	return out
}
