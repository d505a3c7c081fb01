package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"estate_notifier/config"
)

// TelegramChannel posts digests through the Bot API sendMessage method.
type TelegramChannel struct {
	token   string
	apiBase string
	client  *http.Client
}

func NewTelegramChannel(cfg config.TelegramConfig, client *http.Client) *TelegramChannel {
	return &TelegramChannel{
		token:   cfg.BotToken,
		apiBase: strings.TrimSuffix(cfg.APIBase, "/"),
		client:  client,
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Style() Style { return StyleTelegramHTML }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (c *TelegramChannel) Send(ctx context.Context, chatID string, msg Message) error {
	if strings.TrimSpace(chatID) == "" {
		return ErrEmptyRecipient
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       msg.Text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// the URL carries the token; keep it out of the error
		return fmt.Errorf("telegram request failed: %w", redactURLError(err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var result telegramResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("telegram http %d: undecodable response", resp.StatusCode)
	}
	if !result.OK {
		return fmt.Errorf("telegram error %d: %s", result.ErrorCode, result.Description)
	}
	return nil
}

// redactURLError drops the request URL, which embeds the bot token.
func redactURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
