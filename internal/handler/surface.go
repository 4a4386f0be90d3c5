package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/service"
	"github.com/devrev/botforge/internal/transport"
	"go.uber.org/zap"
)

// Deps are the services shared by every surface
type Deps struct {
	Ledger         *service.LedgerService
	Tenants        *service.TenantService
	Sessions       *service.SessionService
	Gating         *service.GatingService
	GlobalChannels []string
	Logger         *zap.Logger
}

// surface holds the reply plumbing common to parent and tenant bots
type surface struct {
	bot    transport.Bot
	deps   Deps
	logger *zap.Logger
}

func (s *surface) reply(ctx context.Context, chatID int64, text string) error {
	_, err := s.bot.SendMessage(ctx, chatID, text, nil)
	return err
}

func (s *surface) replyWith(ctx context.Context, chatID int64, text string, kb *transport.Keyboard) error {
	_, err := s.bot.SendMessage(ctx, chatID, text, kb)
	return err
}

// notify sends a message nobody waits on; failures are only logged
func (s *surface) notify(ctx context.Context, chatID int64, text string) {
	if _, err := s.bot.SendMessage(ctx, chatID, text, nil); err != nil {
		s.logger.Warn("Failed to deliver notification", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (s *surface) answer(ctx context.Context, cb *transport.CallbackAction) {
	if err := s.bot.AnswerCallback(ctx, cb.ID, ""); err != nil {
		s.logger.Debug("Failed to answer callback", zap.String("callback_id", cb.ID), zap.Error(err))
	}
}

func (s *surface) edit(ctx context.Context, cb *transport.CallbackAction, text string) error {
	if cb.Message.MessageID == 0 {
		return s.reply(ctx, callbackChat(cb), text)
	}
	return s.bot.EditMessage(ctx, cb.Message, text, nil)
}

// gate checks channel membership and, on failure, shows every required
// channel plus a re-check button carrying the start referrer
func (s *surface) gate(ctx context.Context, chatID, userID int64, channels []string, ref *int64) (bool, error) {
	result := s.deps.Gating.EnsureMember(ctx, s.bot, userID, channels)
	if result.Passed {
		return true, nil
	}

	kb := &transport.Keyboard{}
	for _, ch := range result.Required {
		kb.Rows = append(kb.Rows, []transport.Button{{Text: "Join @" + ch, URL: transport.ChannelLink(ch)}})
	}
	data := dataCheckJoin
	if ref != nil {
		data += ":" + strconv.FormatInt(*ref, 10)
	}
	kb.Rows = append(kb.Rows, []transport.Button{{Text: msgGateContinue, Data: data}})

	s.logger.Debug("Gate blocked user",
		zap.Int64("user_id", userID),
		zap.Strings("failed", result.Failed))
	return false, s.replyWith(ctx, chatID, msgGate, kb)
}

// fail turns an operation error into a reply. Caller mistakes are answered
// in place; anything else gets a generic reply and is returned for logging.
func (s *surface) fail(ctx context.Context, chatID int64, err error) error {
	var text string
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInsufficientFunds:
		text = msgInsufficient
	case apperrors.ErrCodeInvalidAmount:
		text = msgNotNumeric
	case apperrors.ErrCodeValidation:
		text = "❌ " + errorMessage(err)
	case apperrors.ErrCodePermissionDenied:
		text = msgOwnerOnly
	case apperrors.ErrCodeTaskNotFound:
		text = msgTaskNotFound
	case apperrors.ErrCodeClaimNotFound, apperrors.ErrCodeClaimAlreadySettled:
		text = msgClaimMissing
	default:
		if rerr := s.reply(ctx, chatID, msgTryAgainLater); rerr != nil {
			s.logger.Debug("Failed to send error reply", zap.Error(rerr))
		}
		return err
	}
	return s.reply(ctx, chatID, text)
}

func errorMessage(err error) string {
	var ce *apperrors.CodedError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}

func callbackChat(cb *transport.CallbackAction) int64 {
	if cb.Message.ChatID != 0 {
		return cb.Message.ChatID
	}
	return cb.SenderID
}

// parseRef reads a "ref=<id>" start payload
func parseRef(args []string) *int64 {
	if len(args) == 0 || !strings.HasPrefix(args[0], "ref=") {
		return nil
	}
	return parseID(strings.TrimPrefix(args[0], "ref="))
}

// parseCheckJoin reads the referrer carried by "check_join:<id>"
func parseCheckJoin(data string) *int64 {
	rest := strings.TrimPrefix(data, dataCheckJoin)
	if !strings.HasPrefix(rest, ":") {
		return nil
	}
	return parseID(rest[1:])
}

func parseID(raw string) *int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
