package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramConnector opens long-polling sessions against the Bot API
type TelegramConnector struct {
	endpoint    string
	pollTimeout time.Duration
	logger      *zap.Logger
}

// NewTelegramConnector creates a connector; an empty endpoint uses the public API
func NewTelegramConnector(endpoint string, pollTimeout time.Duration, logger *zap.Logger) *TelegramConnector {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	installLibraryLogger(logger)
	return &TelegramConnector{endpoint: endpoint, pollTimeout: pollTimeout, logger: logger}
}

func (c *TelegramConnector) newAPI(ctx context.Context, token string) (*tgbotapi.BotAPI, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// getMe runs inside the constructor, so a bad token fails here
	token = strings.TrimSpace(token)
	client := &http.Client{Timeout: c.pollTimeout + 10*time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe failed: %w", redact(err, token))
	}
	return api, nil
}

// Probe validates a token
func (c *TelegramConnector) Probe(ctx context.Context, token string) (*Identity, error) {
	api, err := c.newAPI(ctx, token)
	if err != nil {
		return nil, err
	}
	id := identityOf(api.Self)
	return &id, nil
}

// Connect opens a session
func (c *TelegramConnector) Connect(ctx context.Context, token string) (Bot, error) {
	api, err := c.newAPI(ctx, token)
	if err != nil {
		return nil, err
	}
	tokens.add(api.Token)
	return &telegramBot{
		api:         api,
		token:       api.Token,
		identity:    identityOf(api.Self),
		pollTimeout: c.pollTimeout,
		logger:      c.logger.With(zap.String("bot", api.Self.UserName)),
	}, nil
}

func identityOf(u tgbotapi.User) Identity {
	name := u.FirstName
	if name == "" {
		name = u.UserName
	}
	return Identity{ID: u.ID, Handle: u.UserName, DisplayName: name}
}

type telegramBot struct {
	api         *tgbotapi.BotAPI
	token       string
	identity    Identity
	pollTimeout time.Duration
	logger      *zap.Logger
	stopOnce    sync.Once
}

func (b *telegramBot) Identity() Identity { return b.identity }

func (b *telegramBot) Events(ctx context.Context) <-chan Event {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(b.pollTimeout.Seconds())
	updates := b.api.GetUpdatesChan(cfg)

	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				b.stop()
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				ev, ok := toEvent(u, b.identity.Handle)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					b.stop()
					return
				}
			}
		}
	}()
	return out
}

func (b *telegramBot) SendMessage(ctx context.Context, chatID int64, text string, kb *Keyboard) (MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if kb != nil {
		msg.ReplyMarkup = toMarkup(kb)
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return MessageRef{}, redact(err, b.token)
	}
	return MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

func (b *telegramBot) SendChannelMessage(ctx context.Context, channel, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessageToChannel("@"+strings.TrimPrefix(channel, "@"), text))
	return redact(err, b.token)
}

func (b *telegramBot) EditMessage(ctx context.Context, ref MessageRef, text string, kb *Keyboard) error {
	var edit tgbotapi.EditMessageTextConfig
	if kb != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(ref.ChatID, ref.MessageID, text, toMarkup(kb))
	} else {
		edit = tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	}
	_, err := b.api.Send(edit)
	return redact(err, b.token)
}

func (b *telegramBot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := b.api.Request(tgbotapi.NewCallback(callbackID, text))
	return redact(err, b.token)
}

func (b *telegramBot) IsMember(ctx context.Context, channel string, userID int64) (MembershipStatus, error) {
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: "@" + strings.TrimPrefix(channel, "@"),
			UserID:             userID,
		},
	})
	if err != nil {
		return StatusUnknown, redact(err, b.token)
	}
	return statusOf(member), nil
}

func (b *telegramBot) SetCommands(ctx context.Context, cmds []BotCommand) error {
	list := make([]tgbotapi.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		list = append(list, tgbotapi.BotCommand{Command: c.Command, Description: c.Description})
	}
	_, err := b.api.Request(tgbotapi.NewSetMyCommands(list...))
	return redact(err, b.token)
}

func (b *telegramBot) Close() error {
	b.stop()
	return nil
}

func (b *telegramBot) stop() {
	b.stopOnce.Do(func() {
		b.api.StopReceivingUpdates()
		tokens.remove(b.token)
	})
}

const redactedToken = "<redacted>"

// redactedError carries the message with the bot token masked. The cause is
// the first wrapped error that does not mention the token.
type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }

// redact masks token in err. The Bot API puts the token in the request
// path, so transport errors from the library quote it verbatim.
func redact(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	cause := errors.Unwrap(err)
	for cause != nil && strings.Contains(cause.Error(), token) {
		cause = errors.Unwrap(cause)
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, redactedToken), cause: cause}
}

// tokenSet holds the tokens of live sessions so library log lines can be masked
type tokenSet struct {
	mu  sync.RWMutex
	set map[string]int
}

var tokens = &tokenSet{set: make(map[string]int)}

func (t *tokenSet) add(token string) {
	t.mu.Lock()
	t.set[token]++
	t.mu.Unlock()
}

func (t *tokenSet) remove(token string) {
	t.mu.Lock()
	t.set[token]--
	if t.set[token] <= 0 {
		delete(t.set, token)
	}
	t.mu.Unlock()
}

func (t *tokenSet) mask(s string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for token := range t.set {
		s = strings.ReplaceAll(s, token, redactedToken)
	}
	return s
}

// libraryLogger routes the polling loop's own log lines through zap
type libraryLogger struct {
	logger *zap.Logger
}

func (l libraryLogger) Println(v ...interface{}) {
	l.logger.Warn(tokens.mask(strings.TrimSuffix(fmt.Sprintln(v...), "\n")))
}

func (l libraryLogger) Printf(format string, v ...interface{}) {
	l.logger.Warn(tokens.mask(fmt.Sprintf(format, v...)))
}

var libraryLoggerOnce sync.Once

func installLibraryLogger(logger *zap.Logger) {
	libraryLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(libraryLogger{logger: logger.Named("telegram")})
	})
}

func statusOf(m tgbotapi.ChatMember) MembershipStatus {
	switch m.Status {
	case "creator", "administrator", "member":
		return StatusJoined
	case "restricted":
		if m.IsMember {
			return StatusJoined
		}
		return StatusLeft
	case "left":
		return StatusLeft
	case "kicked":
		return StatusKicked
	default:
		return StatusUnknown
	}
}

func toMarkup(kb *Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb.Rows))
	for _, row := range kb.Rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
			}
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// toEvent converts an update; commands addressed to another bot are dropped
func toEvent(u tgbotapi.Update, handle string) (Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.From == nil {
			return Event{}, false
		}
		cb := &CallbackAction{
			ID:         q.ID,
			Data:       q.Data,
			SenderID:   q.From.ID,
			SenderName: q.From.UserName,
		}
		if q.Message != nil && q.Message.Chat != nil {
			cb.Message = MessageRef{ChatID: q.Message.Chat.ID, MessageID: q.Message.MessageID}
		}
		return Event{Callback: cb}, true

	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.Chat == nil {
			return Event{}, false
		}
		if m.IsCommand() {
			if target := commandTarget(m); target != "" && !strings.EqualFold(target, handle) {
				return Event{}, false
			}
			raw := strings.TrimSpace(m.CommandArguments())
			return Event{Command: &Command{
				Name:       strings.ToLower(m.Command()),
				Args:       strings.Fields(raw),
				RawArgs:    raw,
				SenderID:   m.From.ID,
				SenderName: m.From.UserName,
				ChatID:     m.Chat.ID,
			}}, true
		}
		if strings.TrimSpace(m.Text) == "" {
			return Event{}, false
		}
		return Event{Text: &TextMessage{
			Text:       m.Text,
			SenderID:   m.From.ID,
			SenderName: m.From.UserName,
			ChatID:     m.Chat.ID,
		}}, true
	}
	return Event{}, false
}

// commandTarget returns the bot handle in "/cmd@handle", if any
func commandTarget(m *tgbotapi.Message) string {
	full := m.CommandWithAt()
	if i := strings.Index(full, "@"); i >= 0 {
		return full[i+1:]
	}
	return ""
}
