package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/courseclub/CourseClub/internal/pkg/env"
)

const defaultTelegramAPIBaseURL = "https://api.telegram.org"

// TelegramClient talks to the Telegram Bot API over HTTPS.
type TelegramClient struct {
	Token      string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewTelegramClientFromEnv builds the client from BOT_TOKEN.
func NewTelegramClientFromEnv() *TelegramClient {
	return &TelegramClient{
		Token:      strings.TrimSpace(env.GetEnv("BOT_TOKEN", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("TG_API_BASE_URL", defaultTelegramAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string, keyboard Keyboard) error {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if keyboard != nil {
		payload["reply_markup"] = map[string]interface{}{"inline_keyboard": keyboard}
	}
	_, err := c.call(ctx, "sendMessage", payload)
	return err
}

func (c *TelegramClient) EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard Keyboard) error {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"message_id":               messageID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if keyboard != nil {
		payload["reply_markup"] = map[string]interface{}{"inline_keyboard": keyboard}
	}
	_, err := c.call(ctx, "editMessageText", payload)
	return err
}

func (c *TelegramClient) AnswerCallback(ctx context.Context, callbackQueryID string) error {
	_, err := c.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": callbackQueryID,
	})
	return err
}

// CreateInviteLink creates a single-use invite link into the private
// channel, expiring at expireAt.
func (c *TelegramClient) CreateInviteLink(ctx context.Context, chatID string, name string, expireAt time.Time, memberLimit int) (string, error) {
	result, err := c.call(ctx, "createChatInviteLink", map[string]interface{}{
		"chat_id":      chatID,
		"name":         name,
		"expire_date":  expireAt.Unix(),
		"member_limit": memberLimit,
	})
	if err != nil {
		return "", err
	}

	var link struct {
		InviteLink string `json:"invite_link"`
	}
	if err := json.Unmarshal(result, &link); err != nil {
		return "", err
	}
	if strings.TrimSpace(link.InviteLink) == "" {
		return "", fmt.Errorf("telegram createChatInviteLink returned no link")
	}
	return link.InviteLink, nil
}

// SetWebhook points the bot's update delivery at url, optionally protected
// by a secret token Telegram echoes back in a header.
func (c *TelegramClient) SetWebhook(ctx context.Context, url, secretToken string) error {
	payload := map[string]interface{}{"url": url}
	if secretToken != "" {
		payload["secret_token"] = secretToken
	}
	_, err := c.call(ctx, "setWebhook", payload)
	return err
}

func (c *TelegramClient) call(ctx context.Context, method string, payload interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.APIBaseURL, c.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("telegram %s returned invalid body: status=%d", method, resp.StatusCode)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("telegram %s failed: status=%d description=%s", method, resp.StatusCode, envelope.Description)
	}
	return envelope.Result, nil
}
