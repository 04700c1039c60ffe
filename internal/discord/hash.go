package discord

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/bwmarrin/discordgo"
)

// hashCommand fingerprints the parts of a command definition Discord stores,
// so unchanged commands are not re-registered on every start.
func hashCommand(c *discordgo.ApplicationCommand) string {
	data, _ := json.Marshal(map[string]any{
		"name":        c.Name,
		"description": c.Description,
		"type":        c.Type,
		"options":     normalizeOptions(c.Options),
	})
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func normalizeOptions(opts []*discordgo.ApplicationCommandOption) []map[string]any {
	out := make([]map[string]any, len(opts))
	for i, o := range opts {
		entry := map[string]any{
			"name":        o.Name,
			"description": o.Description,
			"type":        o.Type,
			"required":    o.Required,
			"max":         o.MaxValue,
		}
		if o.MinValue != nil {
			entry["min"] = *o.MinValue
		}
		if len(o.Choices) > 0 {
			ch := make([]map[string]any, len(o.Choices))
			for j, c := range o.Choices {
				ch[j] = map[string]any{"name": c.Name, "value": c.Value}
			}
			entry["choices"] = ch
		}
		if len(o.Options) > 0 {
			entry["options"] = normalizeOptions(o.Options)
		}
		out[i] = entry
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["name"].(string) < out[j]["name"].(string)
	})
	return out
}
