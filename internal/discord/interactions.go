package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/keshon/melodeck/internal/music/sink"
)

const EmbedColor = 0xb01e66

// toEmbed renders a sink message as a Discord embed.
func toEmbed(msg sink.Message) *discordgo.MessageEmbed {
	color := msg.Color
	if color == 0 {
		color = EmbedColor
	}
	e := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		URL:         msg.URL,
		Color:       color,
	}
	if msg.Thumbnail != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: msg.Thumbnail}
	}
	for _, f := range msg.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if msg.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: msg.Footer}
	}
	return e
}

// reply answers one interaction, either directly or, once deferred, through
// the deferred response.
type reply struct {
	s        *discordgo.Session
	i        *discordgo.InteractionCreate
	deferred bool
}

// Defer acknowledges the interaction for commands that take longer than
// Discord's three-second window.
func (r *reply) Defer(ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := r.s.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
	if err == nil {
		r.deferred = true
	}
	return err
}

func (r *reply) Embed(embed *discordgo.MessageEmbed, ephemeral bool) error {
	if embed.Color == 0 {
		embed.Color = EmbedColor
	}
	if r.deferred {
		_, err := r.s.InteractionResponseEdit(r.i.Interaction, &discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{embed},
		})
		return err
	}
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return r.s.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

func (r *reply) Text(text string, ephemeral bool) error {
	return r.Embed(&discordgo.MessageEmbed{Description: text}, ephemeral)
}

// Followup sends an extra message after the first answer.
func (r *reply) Followup(embed *discordgo.MessageEmbed, ephemeral bool, components ...discordgo.MessageComponent) (*discordgo.Message, error) {
	if embed.Color == 0 {
		embed.Color = EmbedColor
	}
	params := &discordgo.WebhookParams{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	return r.s.FollowupMessageCreate(r.i.Interaction, true, params)
}
