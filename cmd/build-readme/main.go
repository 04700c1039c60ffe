package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/bwmarrin/discordgo"
	"github.com/keshon/melodeck/internal/discord"
)

func main() {
	tmplData, err := os.ReadFile("README.md.tmpl")
	if err != nil {
		panic(err)
	}

	tmpl, err := template.New("readme").Parse(string(tmplData))
	if err != nil {
		panic(err)
	}

	data := map[string]any{
		"CommandSections": commandSections(discord.Definitions()),
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		panic(err)
	}

	if err := os.WriteFile("README.md", out.Bytes(), 0644); err != nil {
		panic(err)
	}
}

func commandSections(defs []*discordgo.ApplicationCommand) string {
	var buf bytes.Buffer
	for _, def := range defs {
		fmt.Fprintf(&buf, "### /%s\n\n%s\n\n", def.Name, def.Description)
		for _, sub := range def.Options {
			if sub.Type != discordgo.ApplicationCommandOptionSubCommand {
				continue
			}
			fmt.Fprintf(&buf, "* **`/%s %s`**%s\n  %s\n\n", def.Name, sub.Name, usage(sub.Options), sub.Description)
		}
	}
	return buf.String()
}

func usage(opts []*discordgo.ApplicationCommandOption) string {
	if len(opts) == 0 {
		return ""
	}
	parts := make([]string, len(opts))
	for i, o := range opts {
		if o.Required {
			parts[i] = "<" + o.Name + ">"
		} else {
			parts[i] = "[" + o.Name + "]"
		}
	}
	return " `" + strings.Join(parts, " ") + "`"
}
