package notify

import (
	"context"
	"errors"
)

var (
	// ErrNoChannels means the user has no enabled channel that is also
	// configured on this instance.
	ErrNoChannels = errors.New("no deliverable channel for user")
	// ErrEmptyRecipient is returned by channels given a blank address.
	ErrEmptyRecipient = errors.New("empty recipient")
)

// Style selects how a digest is rendered for a channel.
type Style int

const (
	StylePlain Style = iota
	StyleTelegramHTML
	StyleWhatsApp
)

// Message is a rendered digest ready for one channel.
type Message struct {
	Subject     string
	Text        string
	Attachments []string // image URLs, at most one per shown listing
}

// Channel delivers messages over one medium. A nil error means the provider
// accepted the message.
type Channel interface {
	Name() string
	Style() Style
	Send(ctx context.Context, recipient string, msg Message) error
}
