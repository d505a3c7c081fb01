package models

import "time"

type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Channel kinds
const (
	ChannelTelegram = "telegram"
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// DefaultChannelOrder is the delivery priority when none is configured.
var DefaultChannelOrder = []string{ChannelTelegram, ChannelWhatsApp, ChannelEmail}

// User is the owner of filters and the recipient of notifications.
type User struct {
	ID              int64     `json:"id" db:"id"`
	Email           string    `json:"email" db:"email"`
	Tier            Tier      `json:"tier" db:"tier"`
	TelegramChatID  string    `json:"telegram_chat_id" db:"telegram_chat_id"`
	WhatsAppNumber  string    `json:"whatsapp_number" db:"whatsapp_number"`
	TelegramEnabled bool      `json:"telegram_enabled" db:"telegram_enabled"`
	WhatsAppEnabled bool      `json:"whatsapp_enabled" db:"whatsapp_enabled"`
	EmailEnabled    bool      `json:"email_enabled" db:"email_enabled"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Contact is one enabled delivery channel for a user.
type Contact struct {
	Channel   string
	Recipient string
}

// EnabledChannels returns the user's usable contacts in the given priority order.
// A channel counts only when it is enabled and has a recipient identifier.
func (u *User) EnabledChannels(order []string) []Contact {
	if len(order) == 0 {
		order = DefaultChannelOrder
	}
	var contacts []Contact
	for _, ch := range order {
		switch ch {
		case ChannelTelegram:
			if u.TelegramEnabled && u.TelegramChatID != "" {
				contacts = append(contacts, Contact{Channel: ch, Recipient: u.TelegramChatID})
			}
		case ChannelWhatsApp:
			if u.WhatsAppEnabled && u.WhatsAppNumber != "" {
				contacts = append(contacts, Contact{Channel: ch, Recipient: u.WhatsAppNumber})
			}
		case ChannelEmail:
			if u.EmailEnabled && u.Email != "" {
				contacts = append(contacts, Contact{Channel: ch, Recipient: u.Email})
			}
		}
	}
	return contacts
}

// HasChannel reports whether the user can receive anything at all.
func (u *User) HasChannel() bool {
	return len(u.EnabledChannels(nil)) > 0
}
