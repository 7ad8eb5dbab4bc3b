package controllers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/app/repository"
	"github.com/courseclub/CourseClub/internal/pkg/cache"
	"github.com/courseclub/CourseClub/internal/pkg/entitlements"
	"github.com/courseclub/CourseClub/internal/pkg/messenger"
	"github.com/courseclub/CourseClub/internal/pkg/payments"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// BotController is the Telegram front end. It receives webhook updates,
// dispatches commands and inline-button callbacks, and renders all
// subscriber-facing text. Everything here runs best-effort: a failed send is
// logged and the update is still acknowledged so Telegram does not retry it
// forever.
type BotController struct {
	Messenger    messenger.Messenger
	Payments     *payments.Service
	Entitlements *entitlements.Service
	Sessions     repository.LiveSessionRepository

	AdminIDs      map[int64]struct{}
	PathToken     string
	SecretToken   string
	ChannelChatID string
	Location      *time.Location

	// Checkout defaults rendered on the pay button.
	Provider   string
	PriceCents int64
	Currency   string
	Plan       string
}

const (
	updateTimeout       = 25 * time.Second
	inviteLinkTTL       = 2 * time.Hour
	checkPaymentCadence = 10 * time.Second
)

// HandleTelegramUpdate is the webhook endpoint for bot updates. Both the
// path token and, when configured, Telegram's secret-token header must match
// before the body is even parsed.
func (bc *BotController) HandleTelegramUpdate(c *fiber.Ctx) error {
	if subtle.ConstantTimeCompare([]byte(c.Params("token")), []byte(bc.PathToken)) != 1 {
		return c.SendStatus(fiber.StatusNotFound)
	}
	if bc.SecretToken != "" {
		got := c.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(bc.SecretToken)) != 1 {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
	}

	var update messenger.Update
	if err := c.BodyParser(&update); err != nil {
		log.Warnf("[Bot] Unparseable update: %v", err)
		return c.SendStatus(fiber.StatusOK)
	}

	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()

	switch {
	case update.CallbackQuery != nil:
		bc.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		bc.handleMessage(ctx, update.Message)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (bc *BotController) handleMessage(ctx context.Context, msg *messenger.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" || !strings.HasPrefix(text, "/") {
		bc.sendMenu(ctx, msg.Chat.ID, msg.From)
		return
	}

	command, args := splitCommand(text)
	switch command {
	case "/start":
		bc.sendMenu(ctx, msg.Chat.ID, msg.From)
	case "/status":
		bc.sendStatus(ctx, msg.Chat.ID, msg.From.ID)
	case "/access":
		bc.sendAccess(ctx, msg.Chat.ID, msg.From.ID)
	case "/whoami":
		bc.send(ctx, msg.Chat.ID, fmt.Sprintf("Your id: <code>%d</code>", msg.From.ID), nil)
	case "/grant":
		bc.adminGrant(ctx, msg.Chat.ID, msg.From.ID, args)
	case "/revoke":
		bc.adminRevoke(ctx, msg.Chat.ID, msg.From.ID, args)
	case "/list_active":
		bc.adminListActive(ctx, msg.Chat.ID, msg.From.ID)
	case "/schedule":
		bc.adminSchedule(ctx, msg.Chat.ID, msg.From.ID, args)
	default:
		bc.sendMenu(ctx, msg.Chat.ID, msg.From)
	}
}

func (bc *BotController) handleCallback(ctx context.Context, cb *messenger.CallbackQuery) {
	if cb.From == nil || cb.Message == nil {
		return
	}
	// Ack first so the client stops showing the spinner even if the action
	// below is slow.
	if err := bc.Messenger.AnswerCallback(ctx, cb.ID); err != nil {
		log.Warnf("[Bot] answerCallbackQuery failed: %v", err)
	}

	chatID := cb.Message.Chat.ID
	data := cb.Data
	switch {
	case data == "menu":
		bc.sendMenu(ctx, chatID, cb.From)
	case data == "pay":
		bc.startCheckout(ctx, chatID, cb.From.ID)
	case data == "status":
		bc.sendStatus(ctx, chatID, cb.From.ID)
	case data == "access":
		bc.sendAccess(ctx, chatID, cb.From.ID)
	case strings.HasPrefix(data, "check_payment:"):
		bc.checkPayment(ctx, chatID, strings.TrimPrefix(data, "check_payment:"))
	}
}

func (bc *BotController) sendMenu(ctx context.Context, chatID int64, from *messenger.User) {
	name := strings.TrimSpace(from.FirstName)
	if name == "" {
		name = "there"
	}
	keyboard := messenger.Keyboard{
		{{Text: "💳 Subscribe", CallbackData: "pay"}},
		{{Text: "📅 My status", CallbackData: "status"}, {Text: "🔑 Channel access", CallbackData: "access"}},
	}
	bc.send(ctx, chatID, fmt.Sprintf("Hi %s! Pick an option below.", name), keyboard)
}

func (bc *BotController) sendStatus(ctx context.Context, chatID, userID int64) {
	active, expiresAt, reason, err := bc.Entitlements.Check(userID)
	if err != nil {
		log.Errorf("[Bot] Status check for %d failed: %v", userID, err)
		bc.send(ctx, chatID, "Could not load your status right now, please try again.", nil)
		return
	}

	switch {
	case active && expiresAt != nil:
		bc.send(ctx, chatID, fmt.Sprintf("✅ Subscription active until <b>%s</b>.", bc.formatTime(*expiresAt)), nil)
	case active:
		bc.send(ctx, chatID, "✅ Subscription active.", nil)
	case reason == entitlements.ReasonExpired:
		bc.send(ctx, chatID, "⌛ Your subscription has expired. Use /start to renew.", nil)
	default:
		bc.send(ctx, chatID, "You have no active subscription yet. Use /start to subscribe.", nil)
	}
}

// sendAccess issues a fresh single-use invite link into the private channel
// for active subscribers.
func (bc *BotController) sendAccess(ctx context.Context, chatID, userID int64) {
	active, _, _, err := bc.Entitlements.Check(userID)
	if err != nil {
		log.Errorf("[Bot] Access check for %d failed: %v", userID, err)
		bc.send(ctx, chatID, "Could not check your access right now, please try again.", nil)
		return
	}
	if !active {
		bc.send(ctx, chatID, "Channel access requires an active subscription. Use /start to subscribe.", nil)
		return
	}
	if bc.ChannelChatID == "" {
		bc.send(ctx, chatID, "The channel is not configured yet, please contact support.", nil)
		return
	}

	link, err := bc.Messenger.CreateInviteLink(ctx, bc.ChannelChatID,
		fmt.Sprintf("sub-%d", userID), time.Now().Add(inviteLinkTTL), 1)
	if err != nil {
		log.Errorf("[Bot] Invite link for %d failed: %v", userID, err)
		bc.send(ctx, chatID, "Could not create your invite link, please try again later.", nil)
		return
	}
	bc.send(ctx, chatID, fmt.Sprintf("Your personal invite link (valid 2 hours, single use):\n%s", link), nil)
}

func (bc *BotController) startCheckout(ctx context.Context, chatID, userID int64) {
	description := fmt.Sprintf("Subscription (%s)", bc.Plan)
	payment, err := bc.Payments.StartCheckout(ctx, userID, bc.Provider, bc.PriceCents, bc.Currency, bc.Plan, description)
	if err != nil {
		log.Errorf("[Bot] Checkout for %d failed: %v", userID, err)
		bc.send(ctx, chatID, "Payment could not be started right now, please try again in a minute.", nil)
		return
	}

	var rows messenger.Keyboard
	if payment.PayURL != "" {
		rows = append(rows, []messenger.Button{{Text: "Open payment page", URL: payment.PayURL}})
	}
	rows = append(rows, []messenger.Button{{Text: "I have paid ✔", CallbackData: "check_payment:" + payment.ID}})

	text := fmt.Sprintf("Subscription: <b>%s %s</b> for %d days.",
		formatAmount(payment.AmountCents), payment.Currency, bc.Payments.GrantDays())
	if payment.PixCopyPaste != "" {
		text += fmt.Sprintf("\n\nPix copy &amp; paste code:\n<code>%s</code>", payment.PixCopyPaste)
	}
	text += "\n\nAfter paying, press the button below."
	bc.send(ctx, chatID, text, rows)
}

// checkPayment verifies one payment against the gateway on the user's
// button press. A short per-payment throttle absorbs impatient re-taps;
// failures and still-pending states read the same to the user by design of
// the copy, never as raw errors.
func (bc *BotController) checkPayment(ctx context.Context, chatID int64, paymentID string) {
	if ok, err := cache.SetNX("paycheck:"+paymentID, 1, checkPaymentCadence); err == nil && !ok {
		bc.send(ctx, chatID, "Checking... press the button again in a few seconds.", nil)
		return
	}

	outcome, err := bc.Payments.CheckPayment(ctx, paymentID)
	if err != nil {
		log.Warnf("[Bot] Payment check %s failed: %v", paymentID, err)
		bc.send(ctx, chatID, "Payment is not confirmed yet. Give it a minute and try again.", nil)
		return
	}

	switch outcome {
	case payments.OutcomePaid:
		// The confirmation message is sent by the payment pipeline itself.
	case payments.OutcomeAlreadyPaid:
		bc.send(ctx, chatID, "✅ This payment is already confirmed. Use /access to enter the channel.", nil)
	case payments.OutcomeCancelled:
		bc.send(ctx, chatID, "This payment was cancelled. Use /start to create a new one.", nil)
	default:
		bc.send(ctx, chatID, "Payment is not confirmed yet. Give it a minute and try again.", nil)
	}
}

func (bc *BotController) adminGrant(ctx context.Context, chatID, operatorID int64, args []string) {
	if !bc.isAdmin(operatorID) {
		return
	}
	if len(args) < 1 {
		bc.send(ctx, chatID, "Usage: /grant &lt;user_id&gt; [days]", nil)
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		bc.send(ctx, chatID, "user_id must be a number.", nil)
		return
	}
	days := bc.Payments.GrantDays()
	if len(args) >= 2 {
		if days, err = strconv.Atoi(args[1]); err != nil || days < 0 {
			bc.send(ctx, chatID, "days must be a non-negative number.", nil)
			return
		}
	}

	if err := bc.Entitlements.Grant(userID, days); err != nil {
		log.Errorf("[Bot] Grant for %d by %d failed: %v", userID, operatorID, err)
		bc.send(ctx, chatID, "Grant failed.", nil)
		return
	}
	log.Infof("[Bot] Operator %d granted %d days to user %d", operatorID, days, userID)
	bc.send(ctx, chatID, fmt.Sprintf("Granted %d days to <code>%d</code>.", days, userID), nil)
}

func (bc *BotController) adminRevoke(ctx context.Context, chatID, operatorID int64, args []string) {
	if !bc.isAdmin(operatorID) {
		return
	}
	if len(args) < 1 {
		bc.send(ctx, chatID, "Usage: /revoke &lt;user_id&gt;", nil)
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		bc.send(ctx, chatID, "user_id must be a number.", nil)
		return
	}

	if err := bc.Entitlements.Revoke(userID); err != nil {
		log.Errorf("[Bot] Revoke for %d by %d failed: %v", userID, operatorID, err)
		bc.send(ctx, chatID, "Revoke failed.", nil)
		return
	}
	log.Infof("[Bot] Operator %d revoked access for user %d", operatorID, userID)
	bc.send(ctx, chatID, fmt.Sprintf("Revoked access for <code>%d</code>.", userID), nil)
}

func (bc *BotController) adminListActive(ctx context.Context, chatID, operatorID int64) {
	if !bc.isAdmin(operatorID) {
		return
	}

	subs, err := bc.Entitlements.ListActive(50)
	if err != nil {
		log.Errorf("[Bot] List active failed: %v", err)
		bc.send(ctx, chatID, "Listing failed.", nil)
		return
	}
	if len(subs) == 0 {
		bc.send(ctx, chatID, "No active subscriptions.", nil)
		return
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("<b>Active subscriptions (%d):</b>\n", len(subs)))
	for _, sub := range subs {
		if sub.ExpiresAt != nil {
			b.WriteString(fmt.Sprintf("• <code>%d</code> until %s\n", sub.UserID, bc.formatTime(*sub.ExpiresAt)))
		} else {
			b.WriteString(fmt.Sprintf("• <code>%d</code> unbounded\n", sub.UserID))
		}
	}
	bc.send(ctx, chatID, b.String(), nil)
}

// adminSchedule creates a live session: /schedule <user_id> <YYYY-MM-DD HH:MM> [title].
// The time is read in the configured local timezone and stored in UTC.
func (bc *BotController) adminSchedule(ctx context.Context, chatID, operatorID int64, args []string) {
	if !bc.isAdmin(operatorID) {
		return
	}
	if len(args) < 3 {
		bc.send(ctx, chatID, "Usage: /schedule &lt;user_id&gt; &lt;YYYY-MM-DD&gt; &lt;HH:MM&gt; [title]", nil)
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		bc.send(ctx, chatID, "user_id must be a number.", nil)
		return
	}
	startsAt, err := time.ParseInLocation("2006-01-02 15:04", args[1]+" "+args[2], bc.location())
	if err != nil {
		bc.send(ctx, chatID, "Time must look like 2026-09-14 18:30.", nil)
		return
	}
	if startsAt.Before(time.Now()) {
		bc.send(ctx, chatID, "That time is in the past.", nil)
		return
	}
	title := "Practice"
	if len(args) > 3 {
		title = strings.Join(args[3:], " ")
	}

	session := &models.LiveSession{
		UserID:   userID,
		StartsAt: startsAt.UTC(),
		Title:    title,
	}
	if err := bc.Sessions.Add(session); err != nil {
		log.Errorf("[Bot] Schedule for %d by %d failed: %v", userID, operatorID, err)
		bc.send(ctx, chatID, "Scheduling failed.", nil)
		return
	}
	log.Infof("[Bot] Operator %d scheduled session %d for user %d at %s",
		operatorID, session.ID, userID, startsAt.Format(time.RFC3339))
	bc.send(ctx, chatID, fmt.Sprintf("Scheduled <b>%s</b> for <code>%d</code> at %s.",
		title, userID, bc.formatTime(session.StartsAt)), nil)

	// Tell the subscriber too; reminders handle the rest.
	bc.send(ctx, userID, fmt.Sprintf("📅 New session booked: <b>%s</b> on %s.",
		title, bc.formatTime(session.StartsAt)), nil)
}

func (bc *BotController) isAdmin(userID int64) bool {
	_, ok := bc.AdminIDs[userID]
	return ok
}

func (bc *BotController) send(ctx context.Context, chatID int64, text string, keyboard messenger.Keyboard) {
	if err := bc.Messenger.SendMessage(ctx, chatID, text, keyboard); err != nil {
		log.Errorf("[Bot] Send to %d failed: %v", chatID, err)
	}
}

func (bc *BotController) location() *time.Location {
	if bc.Location != nil {
		return bc.Location
	}
	return time.UTC
}

func (bc *BotController) formatTime(t time.Time) string {
	return t.In(bc.location()).Format("02.01.2006 15:04")
}

// splitCommand separates "/grant@mybot 42 30" into "/grant" and its args.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	command := fields[0]
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return strings.ToLower(command), fields[1:]
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
