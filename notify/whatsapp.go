package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"estate_notifier/config"
)

// WhatsAppChannel sends through the Twilio Messages API.
type WhatsAppChannel struct {
	accountSID string
	authToken  string
	from       string
	apiBase    string
	client     *http.Client
}

func NewWhatsAppChannel(cfg config.TwilioConfig, client *http.Client) *WhatsAppChannel {
	return &WhatsAppChannel{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       whatsappAddress(cfg.WhatsAppFrom),
		apiBase:    strings.TrimSuffix(cfg.APIBase, "/"),
		client:     client,
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

func (c *WhatsAppChannel) Style() Style { return StyleWhatsApp }

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *WhatsAppChannel) Send(ctx context.Context, number string, msg Message) error {
	if strings.TrimSpace(number) == "" {
		return ErrEmptyRecipient
	}

	form := url.Values{}
	form.Set("From", c.from)
	form.Set("To", whatsappAddress(number))
	form.Set("Body", msg.Text)
	// WhatsApp accepts a single media item per message.
	if len(msg.Attachments) > 0 {
		form.Set("MediaUrl", msg.Attachments[0])
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.apiBase, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var terr twilioError
	if json.Unmarshal(body, &terr) == nil && terr.Message != "" {
		return fmt.Errorf("twilio error %d (http %d): %s", terr.Code, resp.StatusCode, terr.Message)
	}
	return fmt.Errorf("twilio http %d", resp.StatusCode)
}

func whatsappAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
