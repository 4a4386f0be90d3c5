package handler

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/orchestrator"
	"github.com/devrev/botforge/internal/service"
	"github.com/devrev/botforge/internal/transport"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const tokenPrefix = "TOKEN:"

// TenantLauncher is the orchestrator surface the parent bot drives
type TenantLauncher interface {
	RegisterTenant(ctx context.Context, ownerID int64, token string) (*model.Tenant, error)
	IsRunning(tenantID int64) bool
	StartBroadcastAll(text string, onDone func(orchestrator.BroadcastReport, error)) error
}

// ParentConfig configures the parent bot surface
type ParentConfig struct {
	OwnerID       int64
	PayoutChannel string
	Bounds        model.Bounds
}

var parentCommands = []transport.BotCommand{
	{Command: "start", Description: "Start / show referral link"},
	{Command: "createbot", Description: "Connect your bot token"},
	{Command: "mybots", Description: "List your mini bots"},
	{Command: "builderstats", Description: "See your builder earnings"},
	{Command: "request_payout", Description: "Mini admin: request payout to owner channel"},
	{Command: "broadcastall", Description: "Owner: broadcast to all mini-bot users"},
	{Command: "stats_all", Description: "Owner: show system stats"},
	{Command: "token_template", Description: "Show token insertion guide"},
	{Command: "help", Description: "Show help"},
}

// ParentSurface serves the builder bot
type ParentSurface struct {
	surface
	cfg      ParentConfig
	launcher TenantLauncher
	router   *Router
}

// NewParentSurface wires the builder command set
func NewParentSurface(deps Deps, cfg ParentConfig, bot transport.Bot, launcher TenantLauncher) *ParentSurface {
	logger := deps.Logger.With(zap.String("surface", "parent"))
	s := &ParentSurface{
		surface:  surface{bot: bot, deps: deps, logger: logger},
		cfg:      cfg,
		launcher: launcher,
		router:   NewRouter(logger),
	}

	r := s.router
	r.Command("start", s.start)
	r.Command("help", s.help)
	r.Command("createbot", s.createBot)
	r.Command("token_template", s.tokenTemplate)
	r.Command("mybots", s.myBots)
	r.Command("builderstats", s.builderStats)
	r.Command("request_payout", s.requestPayout)
	r.Command("broadcastall", s.broadcastAll)
	r.Command("stats_all", s.statsAll)
	r.Callback(dataCheckJoin, s.checkJoin)
	r.Text(s.text)
	return s
}

// Handle implements orchestrator.Handler
func (s *ParentSurface) Handle(ctx context.Context, ev transport.Event) error {
	return s.router.Handle(ctx, ev)
}

// RegisterCommands publishes the builder command menu
func (s *ParentSurface) RegisterCommands(ctx context.Context) error {
	return s.bot.SetCommands(ctx, parentCommands)
}

func (s *ParentSurface) isMainOwner(userID int64) bool {
	return s.cfg.OwnerID != 0 && userID == s.cfg.OwnerID
}

func (s *ParentSurface) start(ctx context.Context, cmd *transport.Command) error {
	return s.welcome(ctx, cmd.ChatID, cmd.SenderID, cmd.SenderName, parseRef(cmd.Args))
}

func (s *ParentSurface) checkJoin(ctx context.Context, cb *transport.CallbackAction) error {
	s.answer(ctx, cb)
	return s.welcome(ctx, callbackChat(cb), cb.SenderID, cb.SenderName, parseCheckJoin(cb.Data))
}

func (s *ParentSurface) welcome(ctx context.Context, chatID, userID int64, username string, ref *int64) error {
	passed, err := s.gate(ctx, chatID, userID, s.deps.GlobalChannels, ref)
	if err != nil || !passed {
		return err
	}
	if _, err := s.deps.Ledger.RegisterCreator(ctx, userID, username, ref); err != nil {
		return s.fail(ctx, chatID, err)
	}

	rates := s.deps.Ledger.Rates()
	link := transport.DeepLink(s.bot.Identity().Handle, fmt.Sprintf("ref=%d", userID))
	return s.reply(ctx, chatID, parentWelcome(link, rates.PerMember, rates.Downline, s.deps.Ledger.Currency()))
}

func (s *ParentSurface) help(ctx context.Context, cmd *transport.Command) error {
	if s.isMainOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, msgParentOwnerHelp)
	}
	return s.reply(ctx, cmd.ChatID, msgParentUserHelp)
}

func (s *ParentSurface) createBot(ctx context.Context, cmd *transport.Command) error {
	passed, err := s.gate(ctx, cmd.ChatID, cmd.SenderID, s.deps.GlobalChannels, nil)
	if err != nil || !passed {
		return err
	}
	return s.reply(ctx, cmd.ChatID, msgCreateBot)
}

func (s *ParentSurface) tokenTemplate(ctx context.Context, cmd *transport.Command) error {
	return s.reply(ctx, cmd.ChatID, msgTokenTemplate)
}

// text accepts "TOKEN: <credential>" and registers a new tenant
func (s *ParentSurface) text(ctx context.Context, msg *transport.TextMessage) error {
	raw := strings.TrimSpace(msg.Text)
	if len(raw) < len(tokenPrefix) || !strings.EqualFold(raw[:len(tokenPrefix)], tokenPrefix) {
		return nil
	}
	token := strings.TrimSpace(raw[len(tokenPrefix):])

	tenant, err := s.launcher.RegisterTenant(ctx, msg.SenderID, token)
	if apperrors.Is(err, apperrors.ErrCodeCredentialInvalid) {
		return s.reply(ctx, msg.ChatID, msgInvalidToken)
	}
	if err != nil {
		return s.fail(ctx, msg.ChatID, err)
	}

	if s.cfg.OwnerID != 0 {
		s.notify(ctx, s.cfg.OwnerID, tenantCreatedNotice(
			userLabel(msg.SenderID, msg.SenderName), tenant.Handle, tenant.ID, tenant.CreatedAt))
	}
	if !s.launcher.IsRunning(tenant.ID) {
		return s.reply(ctx, msg.ChatID, tenantSavedNotStarted(tenant.Handle))
	}
	return s.reply(ctx, msg.ChatID, tenantStarted(tenant.Handle))
}

func (s *ParentSurface) myBots(ctx context.Context, cmd *transport.Command) error {
	tenants, err := s.deps.Tenants.ListTenantsByOwner(ctx, cmd.SenderID)
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	if len(tenants) == 0 {
		return s.reply(ctx, cmd.ChatID, msgNoBots)
	}
	lines := make([]string, 0, len(tenants))
	for _, t := range tenants {
		lines = append(lines, fmt.Sprintf("• ID %d — @%s — %s", t.ID, t.Handle, t.DisplayName))
	}
	return s.reply(ctx, cmd.ChatID, "Your mini bots:\n"+strings.Join(lines, "\n"))
}

func (s *ParentSurface) builderStats(ctx context.Context, cmd *transport.Command) error {
	bal, err := s.deps.Ledger.GetBalance(ctx, model.ScopeOwnerEarnings, model.OwnerKey(cmd.SenderID))
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	return s.reply(ctx, cmd.ChatID, "💼 Your builder earnings (available to request): "+money(bal, s.deps.Ledger.Currency()))
}

// requestPayout moves an owner's earnings into a pending payout. Without an
// amount the whole balance is requested.
func (s *ParentSurface) requestPayout(ctx context.Context, cmd *transport.Command) error {
	tenants, err := s.deps.Tenants.ListTenantsByOwner(ctx, cmd.SenderID)
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	if len(tenants) == 0 {
		return s.reply(ctx, cmd.ChatID, msgNotOwner)
	}

	currency := s.deps.Ledger.Currency()
	bounds := s.cfg.Bounds
	var amount decimal.Decimal
	if len(cmd.Args) > 0 {
		amount, err = service.ParseAmount(cmd.Args[0])
		if err != nil {
			return s.reply(ctx, cmd.ChatID, msgNotNumeric)
		}
	} else {
		bal, err := s.deps.Ledger.GetBalance(ctx, model.ScopeOwnerEarnings, model.OwnerKey(cmd.SenderID))
		if err != nil {
			return s.fail(ctx, cmd.ChatID, err)
		}
		switch {
		case !bounds.Min.IsZero() && bal.LessThan(bounds.Min):
			return s.reply(ctx, cmd.ChatID, fmt.Sprintf("Minimum payout request is %s. Your balance: %s",
				money(bounds.Min, currency), money(bal, currency)))
		case !bounds.Max.IsZero() && bal.GreaterThan(bounds.Max):
			return s.reply(ctx, cmd.ChatID, fmt.Sprintf("Maximum payout per request is %s. Please request a smaller amount or split requests.",
				money(bounds.Max, currency)))
		case !bal.IsPositive():
			return s.reply(ctx, cmd.ChatID, msgInsufficient)
		}
		amount = bal
	}

	req, err := s.deps.Ledger.CreateWithdrawRequest(ctx, service.WithdrawInput{
		Kind:        model.WithdrawOwnerToParent,
		RequesterID: cmd.SenderID,
		Amount:      amount,
		Currency:    currency,
		Bounds:      bounds,
	})
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}

	if s.cfg.PayoutChannel != "" {
		notice := payoutNotice(userLabel(cmd.SenderID, cmd.SenderName), req.Amount, req.Currency, req.CreatedAt)
		if err := s.bot.SendChannelMessage(ctx, s.cfg.PayoutChannel, notice); err != nil {
			// the request stays pending and is visible through the admin API
			s.logger.Warn("Failed to forward payout request",
				zap.Int64("request_id", req.ID),
				zap.String("channel", s.cfg.PayoutChannel),
				zap.Error(err))
		}
	}
	return s.reply(ctx, cmd.ChatID, msgPayoutSent)
}

func (s *ParentSurface) broadcastAll(ctx context.Context, cmd *transport.Command) error {
	if !s.isMainOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, msgMainOwnerOnly)
	}
	text := strings.TrimSpace(cmd.RawArgs)
	if text == "" {
		return s.reply(ctx, cmd.ChatID, msgBroadcastAllUsage)
	}

	chatID := cmd.ChatID
	err := s.launcher.StartBroadcastAll(text, func(report orchestrator.BroadcastReport, err error) {
		if err != nil {
			s.logger.Warn("Global broadcast failed", zap.Error(err))
		}
		s.notify(context.Background(), chatID, fmt.Sprintf("✅ Broadcast attempted to %d users across all mini bots.", report.Delivered))
	})
	if err != nil {
		return s.fail(ctx, chatID, err)
	}
	return s.reply(ctx, chatID, msgBroadcastStarted)
}

func (s *ParentSurface) statsAll(ctx context.Context, cmd *transport.Command) error {
	if !s.isMainOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, msgMainOwnerOnly)
	}
	tenants, err := s.deps.Tenants.ListTenants(ctx)
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	total := 0
	for _, t := range tenants {
		n, err := s.deps.Ledger.CountMembers(ctx, t.ID)
		if err != nil {
			return s.fail(ctx, cmd.ChatID, err)
		}
		total += n
	}
	return s.reply(ctx, cmd.ChatID, fmt.Sprintf("📊 System Stats\n🤖 Total Mini Bots: %d\n👥 Total Users Across All Bots: %d",
		len(tenants), total))
}
