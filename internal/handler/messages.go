package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/devrev/botforge/internal/model"
	"github.com/shopspring/decimal"
)

// Callback data
const (
	dataCheckJoin     = "check_join"
	dataTaskPrefix    = "task:"
	dataSettingPrefix = "mb:set:"
	dataRequestPayout = "mb:request_payout"
)

// Shared
const (
	msgGate          = "🚫 You must join all required channels to continue."
	msgGateContinue  = "✅ I joined. Continue"
	msgOwnerOnly     = "Owner only."
	msgInsufficient  = "Insufficient balance."
	msgNotNumeric    = "Please provide a numeric amount."
	msgTryAgainLater = "⚠️ Something went wrong. Please try again later."
)

// Tenant surface
const (
	msgTenantOwnerHelp = "📋 Mini Bot Admin Commands\n" +
		"/stats - Show your bot stats\n" +
		"/balance - Show your builder earnings and wallet\n" +
		"/broadcast <text> - Broadcast to this bot's users\n" +
		"/admin - Manage settings (currency, referral reward, withdraw limits, extra must-join channels)\n" +
		"/addtask Title | reward - Add a task (e.g. /addtask Follow @x | 10)\n" +
		"/tasks - List tasks\n" +
		"/review_tasks - Review pending task claims\n" +
		"/help - Show this message\n\n" +
		"Payouts of your earnings are requested from the builder bot with /request_payout."

	msgTenantMemberHelp = "👋 User Commands\n" +
		"/start - Begin & get referral link\n" +
		"/tasks - List tasks\n" +
		"/claimtask <task_id> [proof] - Claim a task (add proof text)\n" +
		"/balance - See your balance\n" +
		"/withdraw <amount> - Request withdrawal from mini-bot admin\n" +
		"/help - Show this message"

	msgOwnerWithdraw     = "As the owner, request payouts of your earnings from the builder bot with /request_payout <amount>."
	msgWithdrawUsage     = "Usage: /withdraw <amount>\nThis creates a withdrawal request to the mini-bot admin."
	msgWithdrawSent      = "✅ Withdrawal request sent to the mini-bot admin (they will review and pay)."
	msgBroadcastOwner    = "Only the bot owner can use /broadcast."
	msgBroadcastUsage    = "Usage: /broadcast Your message here"
	msgBroadcastStarted  = "📣 Broadcast started. You will get a report when it finishes."
	msgAddTaskOwner      = "Only the owner can add tasks. Usage: /addtask Task description | reward"
	msgAddTaskUsage      = "Usage: /addtask Task description | reward\nExample: /addtask Follow @xchannel and screenshot | 10"
	msgAddTaskReward     = "Please provide a valid numeric reward."
	msgTaskAdded         = "✅ Task added."
	msgNoTasks           = "No tasks available right now."
	msgClaimUsage        = "Usage: /claimtask <task_id> [proof text]"
	msgInvalidTaskID     = "Invalid task id."
	msgTaskNotFound      = "Task not found."
	msgClaimSubmitted    = "✅ Task claim submitted — owner will review."
	msgNoPendingClaims   = "No pending task claims."
	msgInvalidAction     = "Invalid action."
	msgClaimMissing      = "Claim not found or already settled."
	msgClaimUnfunded     = "Cannot approve: insufficient admin balance to pay task reward."
	msgClaimRejected     = "❌ Rejected."
	msgAdminOwnerOnly    = "This panel is for the owner only."
	msgInvalidNumber     = "❌ Please send a valid number."
	msgRequestPayoutHint = "To request a payout of your earnings, use /request_payout <amount> in the builder bot."
)

// Parent surface
const (
	msgCreateBot = "Send your BotFather token in this exact format:\n\n" +
		"TOKEN: 123456789:AA...YourBotTokenHere\n\n" +
		"After sending, your mini bot will be started and you'll become the owner."

	msgTokenTemplate = "🛠 HOW TO CONNECT YOUR BOT\n\n" +
		"1) Open @BotFather and send /newbot to create a bot.\n" +
		"2) After creation BotFather will give you a token like:\n\n" +
		"123456789:AAE4-ExampleGeneratedTokenHere\n\n" +
		"3) Copy that token.\n" +
		"4) In this builder send:\n\n" +
		"TOKEN: 123456789:AAE4-ExampleGeneratedTokenHere\n\n" +
		"⚠️ Keep your token private. Do not share it publicly."

	msgInvalidToken      = "❌ Invalid token or the bot is not activated. Make sure you copied the exact token."
	msgNoBots            = "You don't have any mini bots yet. Use /createbot to add one."
	msgNotOwner          = "You are not a mini-bot owner."
	msgPayoutSent        = "✅ Your payout request has been sent to the payout channel for processing."
	msgMainOwnerOnly     = "Only the main owner can use this command."
	msgBroadcastAllUsage = "Usage: /broadcastall Your message here"

	msgParentOwnerHelp = "🛠 Bot Builder Owner Commands\n" +
		"/createbot - Create a new mini bot\n" +
		"/mybots - Show your bots\n" +
		"/builderstats - Show builder earnings\n" +
		"/request_payout <amount?> - Mini admin: request payout to owner channel\n" +
		"/broadcastall <text> - Broadcast to all mini-bot users\n" +
		"/stats_all - Show total bots & total users\n" +
		"/token_template - Show how to paste BotFather token\n" +
		"/help - Show this message"

	msgParentUserHelp = "🤖 Bot Builder Commands\n" +
		"/createbot - Connect your bot token to create a mini bot\n" +
		"/mybots - List your mini bots\n" +
		"/builderstats - See your builder earnings (downline)\n" +
		"/request_payout <amount?> - Request payout of your earnings\n" +
		"/token_template - Show how to paste BotFather token\n" +
		"/help - Show this message"
)

var settingPrompts = map[model.SettingField]string{
	model.SettingCurrency:       "Send new currency code (e.g., NGN, USDT, TON).",
	model.SettingReferralReward: "Send new referral reward amount (number).",
	model.SettingMinWithdraw:    "Send new minimum withdrawal (number).",
	model.SettingMaxWithdraw:    "Send new maximum withdrawal (number).",
	model.SettingExtraChannels:  "Send comma-separated channel usernames without @ (e.g., chan1,chan2).",
}

var settingUpdated = map[model.SettingField]string{
	model.SettingCurrency:       "✅ Currency updated.",
	model.SettingReferralReward: "✅ Referral reward updated.",
	model.SettingMinWithdraw:    "✅ Min withdrawal updated.",
	model.SettingMaxWithdraw:    "✅ Max withdrawal updated.",
	model.SettingExtraChannels:  "✅ Extra must-join channels updated.",
}

// money renders an amount with the naira sign for NGN and a code suffix otherwise
func money(amount decimal.Decimal, currency string) string {
	if currency == "" || strings.EqualFold(currency, "NGN") {
		return "₦" + amount.StringFixed(2)
	}
	return amount.StringFixed(2) + " " + currency
}

func userLabel(id int64, name string) string {
	if name != "" {
		return "@" + name
	}
	return fmt.Sprintf("%d", id)
}

func tenantWelcome(link string) string {
	return "👋 Welcome!\n\n" +
		"This is a referral bot.\n\n" +
		"Your personal invite link:\n" + link + "\n\n" +
		"Use /tasks to see available tasks, /balance, /withdraw, /help."
}

func adminPanel(t *model.Tenant) string {
	extra := "None"
	if len(t.ExtraChannels) > 0 {
		tagged := make([]string, len(t.ExtraChannels))
		for i, c := range t.ExtraChannels {
			tagged[i] = "@" + c
		}
		extra = strings.Join(tagged, ", ")
	}
	return "⚙️ Admin Panel\n\n" +
		fmt.Sprintf("Currency: %s\n", t.Currency) +
		fmt.Sprintf("Referral reward (per user): %s\n", t.ReferralReward.StringFixed(2)) +
		fmt.Sprintf("Min withdraw: %s\n", t.MinWithdraw.StringFixed(2)) +
		fmt.Sprintf("Max withdraw: %s\n", t.MaxWithdraw.StringFixed(2)) +
		fmt.Sprintf("Extra must-join channels: %s\n\n", extra) +
		"Use buttons to configure."
}

func claimCard(c *model.PendingClaim) string {
	return fmt.Sprintf("Claim ID: %d\nTask: %s\nUser: %d\nProof: %s", c.Claim.ID, c.TaskTitle, c.Claim.MemberID, c.Claim.Proof)
}

func parentWelcome(link string, perMember, downline decimal.Decimal, currency string) string {
	return "🤖 Welcome to the Bot Builder!\n\n" +
		"• Create your own mini referral bot quickly.\n" +
		fmt.Sprintf("• You earn %s per direct user of your mini bot.\n", money(perMember, currency)) +
		fmt.Sprintf("• You earn %s per user of bots created by people you referred.\n\n", money(downline, currency)) +
		"🔗 Your builder referral link:\n" + link + "\n\n" +
		"Use /createbot to connect your BotFather token, or /token_template to see how to paste the token."
}

func tenantCreatedNotice(owner, handle string, tenantID int64, at time.Time) string {
	return fmt.Sprintf("📢 New Mini Bot Created!\nOwner: %s\nBot: @%s\nID: %d\nDate: %s",
		owner, handle, tenantID, at.UTC().Format(time.RFC3339))
}

func tenantStarted(handle string) string {
	return fmt.Sprintf("✅ Mini bot started: @%s\n\n", handle) +
		"You are the owner. Open your mini bot and use /admin to configure settings " +
		"(currency, referral reward, withdraw limits, extra required channels)."
}

func tenantSavedNotStarted(handle string) string {
	return fmt.Sprintf("⚠️ Mini bot @%s was saved but could not be started right now. It will be retried on the next restart.", handle)
}

func payoutNotice(owner string, amount decimal.Decimal, currency string, at time.Time) string {
	return fmt.Sprintf("💸 Withdrawal Request\n👤 Mini Admin: %s\nAmount: %s\nDate: %s",
		owner, money(amount, currency), at.UTC().Format(time.RFC3339))
}
