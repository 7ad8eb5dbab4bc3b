package messenger

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Button is one inline keyboard button. Exactly one of CallbackData or URL
// should be set.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Keyboard is rows of inline buttons.
type Keyboard [][]Button

// Messenger is the outbound capability the core needs from the chat
// platform: send text to a subscriber, nothing more. Menu rendering lives
// with the callers.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard Keyboard) error
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard Keyboard) error
	AnswerCallback(ctx context.Context, callbackQueryID string) error
	CreateInviteLink(ctx context.Context, chatID string, name string, expireAt time.Time, memberLimit int) (string, error)
}

// Notifier adapts a Messenger to the fire-and-forget notification surface
// used after payment confirmation. Operator messages fan out to every
// configured admin chat.
type Notifier struct {
	Messenger Messenger
	AdminIDs  []int64
}

func (n *Notifier) NotifyUser(ctx context.Context, userID int64, text string) error {
	return n.Messenger.SendMessage(ctx, userID, text, nil)
}

func (n *Notifier) NotifyOperators(ctx context.Context, text string) error {
	var firstErr error
	for _, adminID := range n.AdminIDs {
		if err := n.Messenger.SendMessage(ctx, adminID, text, nil); err != nil {
			log.Errorf("[Messenger] Operator notification to %d failed: %v", adminID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
