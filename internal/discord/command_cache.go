package discord

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// hashCache remembers, per guild, the hash of every registered command.
type hashCache struct {
	dir string
}

func (c hashCache) path(guildID string) string {
	return filepath.Join(c.dir, guildID+".json")
}

// load returns the stored hashes; a missing or broken file reads as empty.
func (c hashCache) load(guildID string) map[string]string {
	hashes := make(map[string]string)
	data, err := os.ReadFile(c.path(guildID))
	if err == nil {
		_ = json.Unmarshal(data, &hashes)
	}
	return hashes
}

func (c hashCache) save(guildID string, hashes map[string]string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create command cache dir: %w", err)
	}
	data, err := json.MarshalIndent(hashes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(guildID), data, 0o644)
}
