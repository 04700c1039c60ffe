package cmd

import "context"

// Middleware wraps a command (rate limits, history, logging).
type Middleware func(Command) Command

// Apply applies middlewares in order; the last one ends up outermost.
func Apply(c Command, mws ...Middleware) Command {
	for _, mw := range mws {
		c = mw(c)
	}
	return c
}

// Wrapped replaces Run while delegating identity to Inner.
type Wrapped struct {
	Inner   Command
	RunFunc func(ctx context.Context, inv *Invocation) error
}

func (w *Wrapped) Name() string        { return w.Inner.Name() }
func (w *Wrapped) Description() string { return w.Inner.Description() }
func (w *Wrapped) Unwrap() Command     { return w.Inner }

func (w *Wrapped) Run(ctx context.Context, inv *Invocation) error {
	if w.RunFunc != nil {
		return w.RunFunc(ctx, inv)
	}
	return w.Inner.Run(ctx, inv)
}

func Wrap(c Command, run func(ctx context.Context, inv *Invocation) error) Command {
	return &Wrapped{Inner: c, RunFunc: run}
}

// Root unwraps c down to the command the middlewares were applied to.
func Root(c Command) Command {
	for {
		w, ok := c.(interface{ Unwrap() Command })
		if !ok {
			return c
		}
		c = w.Unwrap()
	}
}
