package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_notifier/models"
)

type fakeChannel struct {
	name  string
	style Style
	err   error

	mu   sync.Mutex
	sent []Message
	to   []string
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Style() Style { return f.style }

func (f *fakeChannel) Send(ctx context.Context, recipient string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	f.to = append(f.to, recipient)
	return nil
}

func fullyReachable() *models.User {
	return &models.User{
		ID:              1,
		Email:           "user@example.com",
		TelegramChatID:  "42",
		WhatsAppNumber:  "+393331234567",
		TelegramEnabled: true,
		WhatsAppEnabled: true,
		EmailEnabled:    true,
	}
}

func TestDispatch_FirstSuccessStopsAtFirstDelivery(t *testing.T) {
	tg := &fakeChannel{name: "telegram", style: StyleTelegramHTML, err: errors.New("blocked")}
	wa := &fakeChannel{name: "whatsapp", style: StyleWhatsApp}
	em := &fakeChannel{name: "email", style: StylePlain}

	d := NewDispatcher(DispatcherConfig{Policy: PolicyFirstSuccess, MaxItems: 5})
	d.Register(tg)
	d.Register(wa)
	d.Register(em)

	res, err := d.Dispatch(context.Background(), fullyReachable(), Digest{Listings: sampleListings(3)})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, "whatsapp", res.Channel)
	assert.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Failures(), "telegram: blocked")

	assert.Len(t, wa.sent, 1)
	assert.Equal(t, []string{"+393331234567"}, wa.to)
	assert.Empty(t, em.sent)
}

func TestDispatch_Fanout(t *testing.T) {
	tg := &fakeChannel{name: "telegram", style: StyleTelegramHTML}
	wa := &fakeChannel{name: "whatsapp", style: StyleWhatsApp, err: errors.New("twilio down")}
	em := &fakeChannel{name: "email", style: StylePlain}

	d := NewDispatcher(DispatcherConfig{Policy: PolicyFanout})
	d.Register(tg)
	d.Register(wa)
	d.Register(em)

	res, err := d.Dispatch(context.Background(), fullyReachable(), Digest{Listings: sampleListings(1)})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, "telegram", res.Channel)
	assert.Len(t, res.Attempts, 3)
	assert.Len(t, tg.sent, 1)
	assert.Len(t, em.sent, 1)
	assert.Contains(t, tg.sent[0].Text, "<a href=")
	assert.NotContains(t, em.sent[0].Text, "<a href=")
}

func TestDispatch_AllFail(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	d.Register(&fakeChannel{name: "telegram", err: errors.New("x")})
	d.Register(&fakeChannel{name: "email", err: errors.New("y")})

	res, err := d.Dispatch(context.Background(), fullyReachable(), Digest{Listings: sampleListings(1)})
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Len(t, res.Attempts, 2)
}

func TestDispatch_NoRegisteredChannel(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	d.Register(&fakeChannel{name: "email"})

	u := &models.User{ID: 2, TelegramChatID: "1", TelegramEnabled: true}
	_, err := d.Dispatch(context.Background(), u, Digest{Listings: sampleListings(1)})
	assert.ErrorIs(t, err, ErrNoChannels)
}

func TestDispatch_PriorityOrder(t *testing.T) {
	tg := &fakeChannel{name: "telegram"}
	em := &fakeChannel{name: "email"}
	d := NewDispatcher(DispatcherConfig{Order: []string{"email", "telegram"}})
	d.Register(tg)
	d.Register(em)

	res, err := d.Dispatch(context.Background(), fullyReachable(), Digest{Listings: sampleListings(1)})
	require.NoError(t, err)
	assert.Equal(t, "email", res.Channel)
	assert.Empty(t, tg.sent)
	assert.Equal(t, []string{"email", "telegram"}, d.Channels())
}

type slowChannel struct{ fakeChannel }

func (s *slowChannel) Send(ctx context.Context, recipient string, msg Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatch_SendTimeout(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{SendTimeout: 20 * time.Millisecond})
	d.Register(&slowChannel{fakeChannel{name: "telegram"}})

	res, err := d.Dispatch(context.Background(), fullyReachable(), Digest{Listings: sampleListings(1)})
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.ErrorIs(t, res.Attempts[0].Err, context.DeadlineExceeded)
}
