package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisMirror republishes every hub event to Redis as JSON on
// "<prefix>:<tenant>". One goroutine publishes, so per-tenant order holds.
type RedisMirror struct {
	client *redis.Client
	prefix string
	hub    *Hub
	log    zerolog.Logger
}

func NewRedisMirror(client *redis.Client, prefix string, hub *Hub, log zerolog.Logger) *RedisMirror {
	if prefix == "" {
		prefix = "melodeck"
	}
	return &RedisMirror{client: client, prefix: prefix, hub: hub, log: log}
}

// Channel returns the Redis channel used for a tenant.
func (m *RedisMirror) Channel(tenantID string) string {
	return m.prefix + ":" + tenantID
}

// Run forwards events until ctx is done. Publish failures are logged and the
// event is skipped.
func (m *RedisMirror) Run(ctx context.Context) error {
	sub := m.hub.SubscribeAll()
	defer sub.Close()

	m.log.Info().Str("prefix", m.prefix).Msg("redis mirror started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			m.forward(ctx, ev)
		}
	}
}

func (m *RedisMirror) forward(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := m.client.Publish(pubCtx, m.Channel(ev.TenantID), payload).Err(); err != nil {
		m.log.Warn().Err(err).Str("tenant", ev.TenantID).Str("kind", string(ev.Kind)).Msg("redis publish failed")
	}
}
