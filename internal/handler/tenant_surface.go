package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/orchestrator"
	"github.com/devrev/botforge/internal/service"
	"github.com/devrev/botforge/internal/transport"
	"go.uber.org/zap"
)

// BroadcastStarter runs a detached broadcast for one tenant
type BroadcastStarter interface {
	StartBroadcast(tenantID int64, text string, onDone func(orchestrator.BroadcastReport, error)) error
}

var tenantCommands = []transport.BotCommand{
	{Command: "start", Description: "Start / get your invite link"},
	{Command: "tasks", Description: "List tasks"},
	{Command: "claimtask", Description: "Claim a task"},
	{Command: "balance", Description: "Show your balance"},
	{Command: "withdraw", Description: "Request a withdrawal"},
	{Command: "help", Description: "Show help"},
}

// TenantSurface serves the commands of one tenant bot
type TenantSurface struct {
	surface
	tenantID    int64
	ownerID     int64
	handle      string
	broadcaster BroadcastStarter
	router      *Router
}

// NewTenantSurface wires the tenant command set. Settings are reloaded from
// the registry on each use so owner edits apply without a restart.
func NewTenantSurface(deps Deps, tenant *model.Tenant, bot transport.Bot, broadcaster BroadcastStarter) *TenantSurface {
	logger := deps.Logger.With(zap.Int64("tenant_id", tenant.ID))
	s := &TenantSurface{
		surface:     surface{bot: bot, deps: deps, logger: logger},
		tenantID:    tenant.ID,
		ownerID:     tenant.OwnerID,
		handle:      bot.Identity().Handle,
		broadcaster: broadcaster,
		router:      NewRouter(logger),
	}
	if s.handle == "" {
		s.handle = tenant.Handle
	}

	r := s.router
	r.Command("start", s.start)
	r.Command("help", s.help)
	r.Command("stats", s.stats)
	r.Command("balance", s.balance)
	r.Command("withdraw", s.withdraw)
	r.Command("broadcast", s.broadcast)
	r.Command("addtask", s.addTask)
	r.Command("tasks", s.tasks)
	r.Command("claimtask", s.claimTask)
	r.Command("review_tasks", s.reviewTasks)
	r.Command("admin", s.admin)
	r.Callback(dataCheckJoin, s.checkJoin)
	r.Callback(dataTaskPrefix, s.settleClaim)
	r.Callback(dataSettingPrefix, s.beginSetting)
	r.Callback(dataRequestPayout, s.requestPayoutHint)
	r.Text(s.text)
	return s
}

// Handle implements orchestrator.Handler
func (s *TenantSurface) Handle(ctx context.Context, ev transport.Event) error {
	return s.router.Handle(ctx, ev)
}

// RegisterCommands publishes the member command menu
func (s *TenantSurface) RegisterCommands(ctx context.Context) error {
	return s.bot.SetCommands(ctx, tenantCommands)
}

func (s *TenantSurface) isOwner(userID int64) bool {
	return userID == s.ownerID
}

func (s *TenantSurface) start(ctx context.Context, cmd *transport.Command) error {
	return s.join(ctx, cmd.ChatID, cmd.SenderID, parseRef(cmd.Args))
}

func (s *TenantSurface) checkJoin(ctx context.Context, cb *transport.CallbackAction) error {
	s.answer(ctx, cb)
	return s.join(ctx, callbackChat(cb), cb.SenderID, parseCheckJoin(cb.Data))
}

// join gates the user, records the membership and pays the one-time earnings
func (s *TenantSurface) join(ctx context.Context, chatID, userID int64, ref *int64) error {
	tenant, err := s.deps.Tenants.GetTenant(ctx, s.tenantID)
	if err != nil {
		return s.fail(ctx, chatID, err)
	}

	channels := service.RequiredChannels(s.deps.GlobalChannels, tenant.ExtraChannels)
	passed, err := s.gate(ctx, chatID, userID, channels, ref)
	if err != nil || !passed {
		return err
	}

	if _, _, err := s.deps.Ledger.JoinMember(ctx, s.tenantID, tenant.OwnerID, userID, ref); err != nil {
		return s.fail(ctx, chatID, err)
	}

	link := transport.DeepLink(s.handle, fmt.Sprintf("ref=%d", userID))
	return s.reply(ctx, chatID, tenantWelcome(link))
}

func (s *TenantSurface) help(ctx context.Context, cmd *transport.Command) error {
	if s.isOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, msgTenantOwnerHelp)
	}
	return s.reply(ctx, cmd.ChatID, msgTenantMemberHelp)
}

func (s *TenantSurface) stats(ctx context.Context, cmd *transport.Command) error {
	if !s.isOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, msgOwnerOnly)
	}
	n, err := s.deps.Ledger.CountMembers(ctx, s.tenantID)
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	return s.reply(ctx, cmd.ChatID, fmt.Sprintf("📊 Total users in this bot: %d", n))
}

func (s *TenantSurface) balance(ctx context.Context, cmd *transport.Command) error {
	tenant, err := s.deps.Tenants.GetTenant(ctx, s.tenantID)
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	wallet, err := s.deps.Ledger.GetBalance(ctx, model.ScopeMemberWallet, model.MemberKey(s.tenantID, cmd.SenderID))
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	if !s.isOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, "💼 Your balance: "+money(wallet, tenant.Currency))
	}

	earnings, err := s.deps.Ledger.GetBalance(ctx, model.ScopeOwnerEarnings, model.OwnerKey(s.ownerID))
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	// builder earnings are always settled in the parent currency
	return s.reply(ctx, cmd.ChatID, fmt.Sprintf("💼 Your admin builder balance: %s\nUser balance (if any): %s",
		money(earnings, s.deps.Ledger.Currency()), money(wallet, tenant.Currency)))
}

func (s *TenantSurface) withdraw(ctx context.Context, cmd *transport.Command) error {
	if s.isOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, msgOwnerWithdraw)
	}
	if len(cmd.Args) == 0 {
		return s.reply(ctx, cmd.ChatID, msgWithdrawUsage)
	}
	amount, err := service.ParseAmount(cmd.Args[0])
	if err != nil {
		return s.reply(ctx, cmd.ChatID, msgNotNumeric)
	}

	tenant, err := s.deps.Tenants.GetTenant(ctx, s.tenantID)
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	tenantID := s.tenantID
	req, err := s.deps.Ledger.CreateWithdrawRequest(ctx, service.WithdrawInput{
		Kind:        model.WithdrawMemberToOwner,
		RequesterID: cmd.SenderID,
		TenantID:    &tenantID,
		Amount:      amount,
		Currency:    tenant.Currency,
		Bounds:      model.Bounds{Min: tenant.MinWithdraw, Max: tenant.MaxWithdraw},
	})
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}

	s.notify(ctx, s.ownerID, fmt.Sprintf(
		"🔔 Withdrawal request from user %s in your bot (ID %d)\nAmount: %s\nRequest: #%d\nUse your admin tools to pay them.",
		userLabel(cmd.SenderID, cmd.SenderName), s.tenantID, money(req.Amount, req.Currency), req.ID))
	return s.reply(ctx, cmd.ChatID, msgWithdrawSent)
}

func (s *TenantSurface) broadcast(ctx context.Context, cmd *transport.Command) error {
	if !s.isOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, msgBroadcastOwner)
	}
	text := strings.TrimSpace(cmd.RawArgs)
	if text == "" {
		return s.reply(ctx, cmd.ChatID, msgBroadcastUsage)
	}

	chatID := cmd.ChatID
	err := s.broadcaster.StartBroadcast(s.tenantID, text, func(report orchestrator.BroadcastReport, err error) {
		if err != nil {
			s.logger.Warn("Tenant broadcast failed", zap.Error(err))
			return
		}
		// the worker context may already be cancelled, so report on a fresh one
		s.notify(context.Background(), chatID, fmt.Sprintf("✅ Broadcast sent to %d users (attempted).", report.Delivered))
	})
	if err != nil {
		return s.fail(ctx, chatID, err)
	}
	return s.reply(ctx, chatID, msgBroadcastStarted)
}

func (s *TenantSurface) addTask(ctx context.Context, cmd *transport.Command) error {
	if !s.isOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, msgAddTaskOwner)
	}
	title, rawReward, ok := strings.Cut(cmd.RawArgs, "|")
	if !ok || strings.TrimSpace(title) == "" {
		return s.reply(ctx, cmd.ChatID, msgAddTaskUsage)
	}
	reward, err := service.ParseAmount(rawReward)
	if err != nil {
		return s.reply(ctx, cmd.ChatID, msgAddTaskReward)
	}
	if _, err := s.deps.Ledger.CreateTask(ctx, s.tenantID, title, reward); err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	return s.reply(ctx, cmd.ChatID, msgTaskAdded)
}

func (s *TenantSurface) tasks(ctx context.Context, cmd *transport.Command) error {
	tenant, err := s.deps.Tenants.GetTenant(ctx, s.tenantID)
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	tasks, err := s.deps.Ledger.ListTasks(ctx, s.tenantID)
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	if len(tasks) == 0 {
		return s.reply(ctx, cmd.ChatID, msgNoTasks)
	}
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		lines = append(lines, fmt.Sprintf("%d. %s — Reward: %s", t.ID, t.Title, money(t.Reward, tenant.Currency)))
	}
	return s.reply(ctx, cmd.ChatID, "Available tasks:\n"+strings.Join(lines, "\n"))
}

func (s *TenantSurface) claimTask(ctx context.Context, cmd *transport.Command) error {
	if len(cmd.Args) == 0 {
		return s.reply(ctx, cmd.ChatID, msgClaimUsage)
	}
	taskID, err := strconv.ParseInt(cmd.Args[0], 10, 64)
	if err != nil {
		return s.reply(ctx, cmd.ChatID, msgInvalidTaskID)
	}
	proof := strings.Join(cmd.Args[1:], " ")
	if _, err := s.deps.Ledger.SubmitClaim(ctx, s.tenantID, taskID, cmd.SenderID, proof); err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	return s.reply(ctx, cmd.ChatID, msgClaimSubmitted)
}

func (s *TenantSurface) reviewTasks(ctx context.Context, cmd *transport.Command) error {
	if !s.isOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, msgOwnerOnly)
	}
	claims, err := s.deps.Ledger.ListPendingClaims(ctx, s.tenantID)
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	if len(claims) == 0 {
		return s.reply(ctx, cmd.ChatID, msgNoPendingClaims)
	}
	for _, c := range claims {
		kb := &transport.Keyboard{Rows: [][]transport.Button{{
			{Text: "Approve", Data: fmt.Sprintf("%sapprove:%d", dataTaskPrefix, c.Claim.ID)},
			{Text: "Reject", Data: fmt.Sprintf("%sreject:%d", dataTaskPrefix, c.Claim.ID)},
		}}}
		if err := s.replyWith(ctx, cmd.ChatID, claimCard(c), kb); err != nil {
			return err
		}
	}
	return nil
}

// settleClaim handles task:<approve|reject>:<claim id>
func (s *TenantSurface) settleClaim(ctx context.Context, cb *transport.CallbackAction) error {
	s.answer(ctx, cb)
	if !s.isOwner(cb.SenderID) {
		return s.edit(ctx, cb, msgOwnerOnly)
	}

	parts := strings.Split(cb.Data, ":")
	if len(parts) != 3 {
		return s.edit(ctx, cb, msgInvalidAction)
	}
	var decision model.ClaimDecision
	switch parts[1] {
	case "approve":
		decision = model.DecisionApprove
	case "reject":
		decision = model.DecisionReject
	default:
		return s.edit(ctx, cb, msgInvalidAction)
	}
	claimID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return s.edit(ctx, cb, msgInvalidAction)
	}

	// only this tenant's pending claims can be settled from its bot
	pending, err := s.deps.Ledger.ListPendingClaims(ctx, s.tenantID)
	if err != nil {
		return s.fail(ctx, callbackChat(cb), err)
	}
	var claim *model.PendingClaim
	for _, c := range pending {
		if c.Claim.ID == claimID {
			claim = c
			break
		}
	}
	if claim == nil {
		return s.edit(ctx, cb, msgClaimMissing)
	}

	settlement, err := s.deps.Ledger.SettleTaskClaim(ctx, claimID, decision)
	switch {
	case apperrors.Is(err, apperrors.ErrCodeInsufficientFunds):
		return s.edit(ctx, cb, msgClaimUnfunded)
	case apperrors.Is(err, apperrors.ErrCodeClaimAlreadySettled), apperrors.Is(err, apperrors.ErrCodeClaimNotFound):
		return s.edit(ctx, cb, msgClaimMissing)
	case err != nil:
		return s.fail(ctx, callbackChat(cb), err)
	}

	if !settlement.Paid {
		return s.edit(ctx, cb, msgClaimRejected)
	}
	tenant, err := s.deps.Tenants.GetTenant(ctx, s.tenantID)
	currency := ""
	if err == nil {
		currency = tenant.Currency
	}
	return s.edit(ctx, cb, fmt.Sprintf("✅ Approved and paid %s to user %d.",
		money(settlement.Reward, currency), settlement.Claim.MemberID))
}

func (s *TenantSurface) admin(ctx context.Context, cmd *transport.Command) error {
	if !s.isOwner(cmd.SenderID) {
		return s.reply(ctx, cmd.ChatID, msgAdminOwnerOnly)
	}
	tenant, err := s.deps.Tenants.GetTenant(ctx, s.tenantID)
	if err != nil {
		return s.fail(ctx, cmd.ChatID, err)
	}
	kb := transport.NewKeyboard(
		transport.Button{Text: "Set Currency", Data: dataSettingPrefix + string(model.SettingCurrency)},
		transport.Button{Text: "Set Ref Reward", Data: dataSettingPrefix + string(model.SettingReferralReward)},
		transport.Button{Text: "Set Min Withdraw", Data: dataSettingPrefix + string(model.SettingMinWithdraw)},
		transport.Button{Text: "Set Max Withdraw", Data: dataSettingPrefix + string(model.SettingMaxWithdraw)},
		transport.Button{Text: "Set Extra Must-Join", Data: dataSettingPrefix + string(model.SettingExtraChannels)},
		transport.Button{Text: "Request Payout to Owner", Data: dataRequestPayout},
	)
	return s.replyWith(ctx, cmd.ChatID, adminPanel(tenant), kb)
}

// beginSetting handles mb:set:<field> by opening a pending input
func (s *TenantSurface) beginSetting(ctx context.Context, cb *transport.CallbackAction) error {
	s.answer(ctx, cb)
	if !s.isOwner(cb.SenderID) {
		return s.edit(ctx, cb, msgOwnerOnly)
	}
	field := model.SettingField(strings.TrimPrefix(cb.Data, dataSettingPrefix))
	prompt, ok := settingPrompts[field]
	if !ok {
		return s.edit(ctx, cb, msgInvalidAction)
	}
	if err := s.deps.Sessions.Begin(ctx, s.tenantID, cb.SenderID, field); err != nil {
		return s.fail(ctx, callbackChat(cb), err)
	}
	return s.edit(ctx, cb, prompt)
}

func (s *TenantSurface) requestPayoutHint(ctx context.Context, cb *transport.CallbackAction) error {
	s.answer(ctx, cb)
	return s.edit(ctx, cb, msgRequestPayoutHint)
}

// text completes an owner's pending setting; other messages are ignored
func (s *TenantSurface) text(ctx context.Context, msg *transport.TextMessage) error {
	if !s.isOwner(msg.SenderID) {
		return nil
	}
	pending, ok, err := s.deps.Sessions.Take(ctx, s.tenantID, msg.SenderID)
	if err != nil {
		return s.fail(ctx, msg.ChatID, err)
	}
	if !ok {
		return nil
	}

	_, err = s.deps.Tenants.UpdateSetting(ctx, s.tenantID, msg.SenderID, pending.Field, msg.Text)
	if apperrors.Is(err, apperrors.ErrCodeValidation) && numericSetting(pending.Field) {
		if _, perr := service.ParseDecimal(msg.Text); perr != nil {
			return s.reply(ctx, msg.ChatID, msgInvalidNumber)
		}
	}
	if err != nil {
		return s.fail(ctx, msg.ChatID, err)
	}
	return s.reply(ctx, msg.ChatID, settingUpdated[pending.Field])
}

func numericSetting(f model.SettingField) bool {
	return f == model.SettingReferralReward || f == model.SettingMinWithdraw || f == model.SettingMaxWithdraw
}
