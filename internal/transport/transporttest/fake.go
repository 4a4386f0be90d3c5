// Package transporttest provides in-memory transport doubles.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/devrev/botforge/internal/transport"
)

// SentMessage records one outbound message
type SentMessage struct {
	ChatID   int64
	Channel  string
	Text     string
	Keyboard *transport.Keyboard
}

// FakeBot is a scriptable transport.Bot
type FakeBot struct {
	mu         sync.Mutex
	identity   transport.Identity
	events     chan transport.Event
	sent       []SentMessage
	edits      []SentMessage
	answered   []string
	commands   []transport.BotCommand
	membership map[string]transport.MembershipStatus
	memberErr  map[string]error
	failFor    map[int64]error
	nextMsgID  int
	closed     bool
}

// NewFakeBot creates a fake with the given handle
func NewFakeBot(id int64, handle string) *FakeBot {
	return &FakeBot{
		identity:   transport.Identity{ID: id, Handle: handle, DisplayName: handle},
		events:     make(chan transport.Event, 64),
		membership: make(map[string]transport.MembershipStatus),
		memberErr:  make(map[string]error),
		failFor:    make(map[int64]error),
	}
}

// Push enqueues an inbound event
func (b *FakeBot) Push(ev transport.Event) {
	b.events <- ev
}

// SetMembership sets the status reported for every user in a channel
func (b *FakeBot) SetMembership(channel string, status transport.MembershipStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.membership[channel] = status
}

// SetMembershipError makes IsMember fail for a channel
func (b *FakeBot) SetMembershipError(channel string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memberErr[channel] = err
}

// FailSendsTo makes SendMessage to chatID fail
func (b *FakeBot) FailSendsTo(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failFor[chatID] = errors.New("forbidden: bot was blocked by the user")
}

// Sent returns a copy of outbound messages
func (b *FakeBot) Sent() []SentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SentMessage(nil), b.sent...)
}

// SentTo returns texts sent to one chat
func (b *FakeBot) SentTo(chatID int64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.sent {
		if m.Channel == "" && m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

// Edits returns message edits
func (b *FakeBot) Edits() []SentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SentMessage(nil), b.edits...)
}

// Commands returns the last registered command menu
func (b *FakeBot) Commands() []transport.BotCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]transport.BotCommand(nil), b.commands...)
}

// Answered returns answered callback ids
func (b *FakeBot) Answered() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.answered...)
}

// Closed reports whether Close was called
func (b *FakeBot) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *FakeBot) Identity() transport.Identity { return b.identity }

func (b *FakeBot) Events(ctx context.Context) <-chan transport.Event {
	out := make(chan transport.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-b.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (b *FakeBot) SendMessage(ctx context.Context, chatID int64, text string, kb *transport.Keyboard) (transport.MessageRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failFor[chatID]; err != nil {
		return transport.MessageRef{}, err
	}
	b.nextMsgID++
	b.sent = append(b.sent, SentMessage{ChatID: chatID, Text: text, Keyboard: kb})
	return transport.MessageRef{ChatID: chatID, MessageID: b.nextMsgID}, nil
}

func (b *FakeBot) SendChannelMessage(ctx context.Context, channel, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, SentMessage{Channel: channel, Text: text})
	return nil
}

func (b *FakeBot) EditMessage(ctx context.Context, ref transport.MessageRef, text string, kb *transport.Keyboard) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edits = append(b.edits, SentMessage{ChatID: ref.ChatID, Text: text, Keyboard: kb})
	return nil
}

func (b *FakeBot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answered = append(b.answered, callbackID)
	return nil
}

func (b *FakeBot) IsMember(ctx context.Context, channel string, userID int64) (transport.MembershipStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.memberErr[channel]; err != nil {
		return transport.StatusUnknown, err
	}
	if status, ok := b.membership[channel]; ok {
		return status, nil
	}
	return transport.StatusJoined, nil
}

func (b *FakeBot) SetCommands(ctx context.Context, cmds []transport.BotCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append([]transport.BotCommand(nil), cmds...)
	return nil
}

func (b *FakeBot) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// FakeConnector hands out FakeBots for known tokens
type FakeConnector struct {
	mu       sync.Mutex
	bots     map[string]*FakeBot
	connects map[string]int
	nextID   int64
	// ConnectErr, when set, fails every Connect
	ConnectErr error
}

// NewFakeConnector creates an empty connector
func NewFakeConnector() *FakeConnector {
	return &FakeConnector{
		bots:     make(map[string]*FakeBot),
		connects: make(map[string]int),
		nextID:   1000,
	}
}

// AddBot registers a valid token and returns its bot
func (c *FakeConnector) AddBot(token, handle string) *FakeBot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	bot := NewFakeBot(c.nextID, handle)
	c.bots[token] = bot
	return bot
}

// Bot returns the bot for a token
func (c *FakeConnector) Bot(token string) *FakeBot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bots[token]
}

// Connects returns how many times a token was connected
func (c *FakeConnector) Connects(token string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects[token]
}

func (c *FakeConnector) Probe(ctx context.Context, token string) (*transport.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bot, ok := c.bots[token]
	if !ok {
		return nil, fmt.Errorf("unauthorized")
	}
	id := bot.Identity()
	return &id, nil
}

func (c *FakeConnector) Connect(ctx context.Context, token string) (transport.Bot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}
	bot, ok := c.bots[token]
	if !ok {
		return nil, fmt.Errorf("unauthorized")
	}
	c.connects[token]++
	bot.mu.Lock()
	bot.closed = false
	bot.mu.Unlock()
	return bot, nil
}
