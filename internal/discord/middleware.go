package discord

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/keshon/melodeck/internal/storage"
	"github.com/keshon/melodeck/pkg/cmd"
	"github.com/rs/zerolog"
)

func withRateLimit(l *userLimiter) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			if !l.Allow(inv.UserID) {
				return errRateLimited
			}
			return c.Run(ctx, inv)
		})
	}
}

// HistoryStore keeps the per-guild command history.
type HistoryStore interface {
	AppendCommandToHistory(guildID string, rec storage.CommandHistoryRecord) error
}

// withHistory records each invocation after it ran.
func withHistory(store HistoryStore, log zerolog.Logger) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			err := c.Run(ctx, inv)
			if store == nil || inv.GuildID == "" {
				return err
			}
			rec := storage.CommandHistoryRecord{
				ChannelID: inv.ChannelID,
				UserID:    inv.UserID,
				Username:  inv.Username,
				Command:   c.Name(),
				Param:     formatOptions(inv.Options),
				Datetime:  time.Now(),
			}
			if herr := store.AppendCommandToHistory(inv.GuildID, rec); herr != nil {
				log.Warn().Err(herr).Str("guild", inv.GuildID).Str("command", c.Name()).Msg("failed to record command")
			}
			return err
		})
	}
}

func withLogging(log zerolog.Logger) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			start := time.Now()
			err := c.Run(ctx, inv)
			ev := log.Debug()
			if err != nil {
				ev = log.Info().Err(err)
			}
			ev.Str("command", c.Name()).
				Str("guild", inv.GuildID).
				Str("user", inv.UserID).
				Dur("took", time.Since(start)).
				Msg("command handled")
			return err
		})
	}
}

// formatOptions renders options as sorted key=value pairs.
func formatOptions(opts map[string]any) string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, opts[k])
	}
	return strings.Join(parts, " ")
}
