package notify

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"estate_notifier/models"
)

// Digest is the set of fresh listings for one filter.
type Digest struct {
	FilterLabel string
	Listings    []models.Listing
}

func (d Digest) Total() int {
	return len(d.Listings)
}

// Per-style body limits in bytes. Zero means unlimited.
const (
	telegramMaxLen = 4096
	whatsappMaxLen = 1600
	maxTitleRunes  = 200
)

func bodyLimit(style Style) int {
	switch style {
	case StyleTelegramHTML:
		return telegramMaxLen
	case StyleWhatsApp:
		return whatsappMaxLen
	default:
		return 0
	}
}

// Render formats up to maxItems listings and summarizes the rest. Listings
// that would push the body past the style's limit are counted in the
// overflow line instead of being shown.
func Render(d Digest, style Style, maxItems int) Message {
	if maxItems <= 0 {
		maxItems = 5
	}

	label := d.FilterLabel
	if label == "" {
		label = "your search"
	}
	noun := "listings"
	if d.Total() == 1 {
		noun = "listing"
	}

	var b strings.Builder
	msg := Message{Subject: fmt.Sprintf("%d new %s for %s", d.Total(), noun, label)}

	switch style {
	case StyleTelegramHTML:
		fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(msg.Subject))
	case StyleWhatsApp:
		fmt.Fprintf(&b, "*%s*\n", whatsappEscape(msg.Subject))
	default:
		b.WriteString(msg.Subject + "\n")
	}

	limit := bodyLimit(style)
	shown := 0
	for i := range d.Listings {
		if shown == maxItems {
			break
		}
		var entry strings.Builder
		entry.WriteString("\n")
		writeListing(&entry, style, i+1, &d.Listings[i])

		if limit > 0 {
			need := b.Len() + entry.Len()
			if rest := d.Total() - shown - 1; rest > 0 {
				need += len(overflowLine(style, rest))
			}
			if need > limit {
				break
			}
		}
		b.WriteString(entry.String())
		if imgs := d.Listings[i].Images; len(imgs) > 0 {
			msg.Attachments = append(msg.Attachments, imgs[0])
		}
		shown++
	}

	if more := d.Total() - shown; more > 0 {
		b.WriteString(overflowLine(style, more))
	}

	msg.Text = b.String()
	return msg
}

func overflowLine(style Style, more int) string {
	line := fmt.Sprintf("…and %d more", more)
	switch style {
	case StyleTelegramHTML:
		return "\n<i>" + html.EscapeString(line) + "</i>\n"
	case StyleWhatsApp:
		return "\n_" + line + "_\n"
	default:
		return "\n" + line + "\n"
	}
}

func writeListing(b *strings.Builder, style Style, n int, l *models.Listing) {
	title := clip(l.Title, maxTitleRunes)
	if title == "" {
		title = strings.TrimSpace(strings.Join([]string{l.PropertyType, l.Location()}, " "))
	}

	details := make([]string, 0, 3)
	if p := FormatPrice(l.Price, l.Currency); p != "" {
		details = append(details, p)
	}
	if s := formatSize(l); s != "" {
		details = append(details, s)
	}
	if loc := l.Location(); loc != "" {
		details = append(details, loc)
	}
	line := strings.Join(details, " · ")

	switch style {
	case StyleTelegramHTML:
		if l.URL != "" {
			fmt.Fprintf(b, "%d. <a href=\"%s\">%s</a>\n", n, html.EscapeString(l.URL), html.EscapeString(title))
		} else {
			fmt.Fprintf(b, "%d. <b>%s</b>\n", n, html.EscapeString(title))
		}
		if line != "" {
			b.WriteString(html.EscapeString(line) + "\n")
		}
	case StyleWhatsApp:
		fmt.Fprintf(b, "%d. *%s*\n", n, whatsappEscape(title))
		if line != "" {
			b.WriteString(line + "\n")
		}
		if l.URL != "" {
			b.WriteString(l.URL + "\n")
		}
	default:
		fmt.Fprintf(b, "%d. %s\n", n, title)
		if line != "" {
			b.WriteString("   " + line + "\n")
		}
		if l.URL != "" {
			b.WriteString("   " + l.URL + "\n")
		}
	}
}

var currencySymbols = map[string]string{"EUR": "€", "USD": "$", "GBP": "£"}

// FormatPrice renders 285000 EUR as "€285,000". Unknown currencies keep
// their code as a suffix.
func FormatPrice(price *float64, currency string) string {
	if price == nil {
		return ""
	}
	amount := groupThousands(int64(*price + 0.5))
	if sym, ok := currencySymbols[strings.ToUpper(currency)]; ok {
		return sym + amount
	}
	if currency == "" {
		return amount
	}
	return amount + " " + strings.ToUpper(currency)
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func formatSize(l *models.Listing) string {
	parts := make([]string, 0, 3)
	if l.Area != nil && *l.Area > 0 {
		parts = append(parts, fmt.Sprintf("%s m²", strconv.FormatFloat(*l.Area, 'f', -1, 64)))
	}
	if l.Rooms != nil && *l.Rooms > 0 {
		if *l.Rooms == 1 {
			parts = append(parts, "1 room")
		} else {
			parts = append(parts, fmt.Sprintf("%d rooms", *l.Rooms))
		}
	}
	if l.Bathrooms != nil && *l.Bathrooms > 0 {
		if *l.Bathrooms == 1 {
			parts = append(parts, "1 bath")
		} else {
			parts = append(parts, fmt.Sprintf("%d baths", *l.Bathrooms))
		}
	}
	return strings.Join(parts, ", ")
}

var whatsappReplacer = strings.NewReplacer("*", "", "_", " ", "~", "", "`", "")

func whatsappEscape(s string) string {
	return whatsappReplacer.Replace(s)
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-1])) + "…"
}
