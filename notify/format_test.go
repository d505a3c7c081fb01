package notify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_notifier/models"
)

func sampleListings(n int) []models.Listing {
	var out []models.Listing
	for i := 1; i <= n; i++ {
		out = append(out, models.Listing{
			ID:       int64(i),
			Title:    fmt.Sprintf("Flat %d", i),
			URL:      fmt.Sprintf("https://example.com/l/%d", i),
			Price:    models.Ptr(250000.0 + float64(i)),
			Currency: "EUR",
			Rooms:    models.Ptr(3),
			Area:     models.Ptr(85.0),
			City:     "Roma",
			District: "Monti",
			Images:   []string{fmt.Sprintf("https://img.example.com/%d.jpg", i)},
		})
	}
	return out
}

func TestRender_CapsAndSummarizes(t *testing.T) {
	d := Digest{FilterLabel: "Roma under 300k", Listings: sampleListings(30)}
	msg := Render(d, StylePlain, 5)

	assert.Equal(t, "30 new listings for Roma under 300k", msg.Subject)
	assert.Contains(t, msg.Text, "1. Flat 1")
	assert.Contains(t, msg.Text, "5. Flat 5")
	assert.NotContains(t, msg.Text, "Flat 6")
	assert.Contains(t, msg.Text, "…and 25 more")
	assert.Contains(t, msg.Text, "€250,001 · 85 m², 3 rooms · Monti, Roma")
	assert.Contains(t, msg.Text, "https://example.com/l/1")
	assert.Len(t, msg.Attachments, 5)
}

func TestRender_NoOverflowLine(t *testing.T) {
	msg := Render(Digest{Listings: sampleListings(2)}, StylePlain, 5)
	assert.NotContains(t, msg.Text, "more")
	assert.Equal(t, "2 new listings for your search", msg.Subject)

	one := Render(Digest{Listings: sampleListings(1)}, StylePlain, 5)
	assert.Equal(t, "1 new listing for your search", one.Subject)
}

func TestRender_TelegramEscapes(t *testing.T) {
	listings := sampleListings(1)
	listings[0].Title = "Loft <top floor> & terrace"
	msg := Render(Digest{FilterLabel: "A&B", Listings: listings}, StyleTelegramHTML, 5)

	assert.True(t, strings.HasPrefix(msg.Text, "<b>1 new listing for A&amp;B</b>"))
	assert.Contains(t, msg.Text, `<a href="https://example.com/l/1">Loft &lt;top floor&gt; &amp; terrace</a>`)
}

var overflowRe = regexp.MustCompile(`…and (\d+) more`)

func overflowCount(t *testing.T, text string) int {
	t.Helper()
	m := overflowRe.FindStringSubmatch(text)
	require.NotNil(t, m, "overflow line missing")
	n, err := strconv.Atoi(m[1])
	require.NoError(t, err)
	return n
}

func longTitled(n int) []models.Listing {
	listings := sampleListings(n)
	for i := range listings {
		listings[i].Title = strings.Repeat("x", 1500)
	}
	return listings
}

func TestRender_LongTitlesKeepOverflowLine(t *testing.T) {
	msg := Render(Digest{Listings: longTitled(30)}, StyleTelegramHTML, 5)

	assert.LessOrEqual(t, len(msg.Text), telegramMaxLen)
	assert.Equal(t, 5, strings.Count(msg.Text, "<a href="))
	assert.Equal(t, 25, overflowCount(t, msg.Text))
	assert.NotContains(t, msg.Text, strings.Repeat("x", maxTitleRunes+1))
	assert.Len(t, msg.Attachments, 5)
}

func TestRender_BodyLimitCountsUnshownListings(t *testing.T) {
	tests := []struct {
		style Style
		limit int
		entry string
	}{
		{StyleTelegramHTML, telegramMaxLen, "<a href="},
		{StyleWhatsApp, whatsappMaxLen, "https://example.com/l/"},
	}
	for _, tt := range tests {
		msg := Render(Digest{Listings: longTitled(30)}, tt.style, 30)

		shown := strings.Count(msg.Text, tt.entry)
		assert.LessOrEqual(t, len(msg.Text), tt.limit)
		assert.Positive(t, shown)
		assert.Less(t, shown, 30)
		assert.Equal(t, 30, shown+overflowCount(t, msg.Text))
		assert.Len(t, msg.Attachments, shown)
	}
}

func TestRender_WhatsApp(t *testing.T) {
	listings := sampleListings(1)
	listings[0].Title = "Casa *bella*"
	msg := Render(Digest{Listings: listings}, StyleWhatsApp, 5)

	assert.Contains(t, msg.Text, "1. *Casa bella*")
	assert.Contains(t, msg.Text, "https://example.com/l/1\n")
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "€285,000", FormatPrice(models.Ptr(285000.0), "eur"))
	assert.Equal(t, "1,250,000 CHF", FormatPrice(models.Ptr(1250000.0), "CHF"))
	assert.Equal(t, "950", FormatPrice(models.Ptr(950.0), ""))
	assert.Equal(t, "", FormatPrice(nil, "EUR"))
}
