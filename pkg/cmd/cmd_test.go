package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOrdersMiddlewares(t *testing.T) {
	var trace []string
	mw := func(tag string) Middleware {
		return func(c Command) Command {
			return Wrap(c, func(ctx context.Context, inv *Invocation) error {
				trace = append(trace, tag)
				return c.Run(ctx, inv)
			})
		}
	}
	base := New("skip", "Skip the track", func(context.Context, *Invocation) error {
		trace = append(trace, "run")
		return nil
	})

	c := Apply(base, mw("inner"), mw("outer"))
	require.NoError(t, c.Run(context.Background(), &Invocation{}))
	assert.Equal(t, []string{"outer", "inner", "run"}, trace)
	assert.Equal(t, "skip", c.Name())
	assert.Same(t, base, Root(c))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *Invocation) error { return nil }
	require.NoError(t, r.Register(New("stop", "", noop)))
	require.NoError(t, r.Register(New("play", "", noop)))
	assert.Error(t, r.Register(New("play", "", noop)))

	_, ok := r.Get("play")
	assert.True(t, ok)
	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "play", all[0].Name())
}

func TestInvocationOptions(t *testing.T) {
	inv := &Invocation{Options: map[string]any{
		"query":  "lofi",
		"volume": int64(40),
		"pos":    float64(3),
		"raw":    "12",
	}}
	assert.Equal(t, "lofi", inv.String("query"))
	assert.Equal(t, "", inv.String("volume"))

	n, ok := inv.Int("volume")
	assert.True(t, ok)
	assert.Equal(t, 40, n)
	n, _ = inv.Int("pos")
	assert.Equal(t, 3, n)
	n, _ = inv.Int("raw")
	assert.Equal(t, 12, n)
	_, ok = inv.Int("missing")
	assert.False(t, ok)
}
