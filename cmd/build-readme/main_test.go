package main

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestCommandSections(t *testing.T) {
	out := commandSections([]*discordgo.ApplicationCommand{{
		Name:        "music",
		Description: "Control music playback",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "play",
				Description: "Play a link",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "query", Required: true},
					{Name: "mode"},
				},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "skip", Description: "Skip"},
		},
	}})

	assert.Contains(t, out, "### /music\n\nControl music playback")
	assert.Contains(t, out, "* **`/music play`** `<query> [mode]`\n  Play a link")
	assert.Contains(t, out, "* **`/music skip`**\n  Skip")
}
