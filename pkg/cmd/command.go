// Package cmd is a transport-agnostic command core: a command has a name and
// runs against an Invocation. Adapters (Discord slash commands here) decide
// how commands are registered and how replies travel back.
package cmd

import (
	"context"
	"strconv"
)

// Invocation is one call of a command.
type Invocation struct {
	GuildID   string
	ChannelID string
	UserID    string
	Username  string

	Options map[string]any
	// Data is the adapter payload, e.g. the Discord interaction.
	Data any
}

func (inv *Invocation) String(name string) string {
	s, _ := inv.Options[name].(string)
	return s
}

// Int reads an integer option; ok is false when it is absent.
func (inv *Invocation) Int(name string) (n int, ok bool) {
	switch v := inv.Options[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}

// Func adapts a function to Command.
type Func struct {
	name, desc string
	run        func(ctx context.Context, inv *Invocation) error
}

func New(name, description string, run func(ctx context.Context, inv *Invocation) error) *Func {
	return &Func{name: name, desc: description, run: run}
}

func (f *Func) Name() string        { return f.name }
func (f *Func) Description() string { return f.desc }

func (f *Func) Run(ctx context.Context, inv *Invocation) error { return f.run(ctx, inv) }
