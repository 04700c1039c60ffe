// Package sink defines the outbound message collaborator used by the engine
// for progress lines, now-playing announcements and timeout notices.
package sink

import "context"

// MessageRef identifies a sent message so it can be edited or deleted.
type MessageRef struct {
	ChannelID string
	MessageID string
}

func (r MessageRef) IsZero() bool { return r.MessageID == "" }

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a transport-neutral rich message.
type Message struct {
	Title       string
	Description string
	URL         string
	Color       int
	Thumbnail   string
	Fields      []Field
	Footer      string
}

type Sink interface {
	Send(ctx context.Context, channelID string, msg Message) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, msg Message) error
	Delete(ctx context.Context, ref MessageRef) error
}

// Discard is a Sink that sends nothing. Useful when no text channel is bound.
type Discard struct{}

func (Discard) Send(context.Context, string, Message) (MessageRef, error) { return MessageRef{}, nil }
func (Discard) Edit(context.Context, MessageRef, Message) error           { return nil }
func (Discard) Delete(context.Context, MessageRef) error                  { return nil }
