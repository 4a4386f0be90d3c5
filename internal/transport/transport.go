// Package transport defines the chat transport contract used by bot workers.
package transport

import (
	"context"
	"fmt"
)

// MembershipStatus is a user's state in a channel
type MembershipStatus string

const (
	StatusJoined  MembershipStatus = "joined"
	StatusLeft    MembershipStatus = "left"
	StatusKicked  MembershipStatus = "kicked"
	StatusUnknown MembershipStatus = "unknown"
)

// Identity describes a bot account
type Identity struct {
	ID          int64
	Handle      string
	DisplayName string
}

// Connector validates credentials and opens bot sessions
type Connector interface {
	// Probe checks a token without starting a session
	Probe(ctx context.Context, token string) (*Identity, error)
	Connect(ctx context.Context, token string) (Bot, error)
}

// Bot is one connected bot account
type Bot interface {
	Identity() Identity
	// Events streams inbound events until ctx is done or the bot is closed
	Events(ctx context.Context) <-chan Event
	SendMessage(ctx context.Context, chatID int64, text string, kb *Keyboard) (MessageRef, error)
	SendChannelMessage(ctx context.Context, channel, text string) error
	EditMessage(ctx context.Context, ref MessageRef, text string, kb *Keyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	IsMember(ctx context.Context, channel string, userID int64) (MembershipStatus, error)
	SetCommands(ctx context.Context, cmds []BotCommand) error
	Close() error
}

// Event is exactly one of Command, Callback or Text
type Event struct {
	Command  *Command
	Callback *CallbackAction
	Text     *TextMessage
}

// Kind names the populated variant
func (e Event) Kind() string {
	switch {
	case e.Command != nil:
		return "command"
	case e.Callback != nil:
		return "callback"
	case e.Text != nil:
		return "text"
	default:
		return "unknown"
	}
}

// Command is a slash command such as /withdraw 150
type Command struct {
	Name       string
	Args       []string
	RawArgs    string
	SenderID   int64
	SenderName string
	ChatID     int64
}

// CallbackAction is an inline button press
type CallbackAction struct {
	ID         string
	Data       string
	SenderID   int64
	SenderName string
	Message    MessageRef
}

// TextMessage is a plain, non-command message
type TextMessage struct {
	Text       string
	SenderID   int64
	SenderName string
	ChatID     int64
}

// MessageRef points at a sent message
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Keyboard is an inline keyboard
type Keyboard struct {
	Rows [][]Button
}

// Button is either a callback (Data) or a link (URL)
type Button struct {
	Text string
	Data string
	URL  string
}

// BotCommand is a command menu entry
type BotCommand struct {
	Command     string
	Description string
}

// NewKeyboard builds a keyboard with one button per row
func NewKeyboard(buttons ...Button) *Keyboard {
	kb := &Keyboard{}
	for _, b := range buttons {
		kb.Rows = append(kb.Rows, []Button{b})
	}
	return kb
}

// DeepLink returns the start link for a bot handle with a payload
func DeepLink(handle, payload string) string {
	if payload == "" {
		return fmt.Sprintf("https://t.me/%s", handle)
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", handle, payload)
}

// ChannelLink returns the public link of a channel
func ChannelLink(channel string) string {
	return fmt.Sprintf("https://t.me/%s", channel)
}
