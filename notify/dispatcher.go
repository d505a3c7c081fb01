package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"estate_notifier/logging"
	"estate_notifier/models"
)

type Policy string

const (
	PolicyFirstSuccess Policy = "first_success"
	PolicyFanout       Policy = "fanout"
)

// Attempt is the outcome of one channel send.
type Attempt struct {
	Channel string
	Err     error
}

// Result reports a dispatch. Delivered is true when at least one channel
// accepted the message; Channel names the first one that did.
type Result struct {
	Delivered bool
	Channel   string
	Attempts  []Attempt
}

// Failures joins the per-channel errors for the audit log.
func (r Result) Failures() string {
	var parts []string
	for _, a := range r.Attempts {
		if a.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", a.Channel, a.Err))
		}
	}
	return strings.Join(parts, "; ")
}

type DispatcherConfig struct {
	Policy      Policy
	Order       []string
	MaxItems    int
	SendTimeout time.Duration
	SendsPerSec float64
}

// Dispatcher routes digests to a user's enabled channels.
type Dispatcher struct {
	cfg      DispatcherConfig
	channels map[string]Channel
	limiters map[string]*rate.Limiter
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Policy == "" {
		cfg.Policy = PolicyFirstSuccess
	}
	if len(cfg.Order) == 0 {
		cfg.Order = models.DefaultChannelOrder
	}
	return &Dispatcher{
		cfg:      cfg,
		channels: make(map[string]Channel),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register makes a channel available. Channels that are never registered
// are skipped even when a user enables them.
func (d *Dispatcher) Register(ch Channel) {
	d.channels[ch.Name()] = ch
	limit := rate.Inf
	if d.cfg.SendsPerSec > 0 {
		limit = rate.Limit(d.cfg.SendsPerSec)
	}
	d.limiters[ch.Name()] = rate.NewLimiter(limit, 1)
}

func (d *Dispatcher) Channels() []string {
	var names []string
	for _, name := range d.cfg.Order {
		if _, ok := d.channels[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Dispatch renders the digest per channel style and delivers it according
// to the policy. It returns ErrNoChannels when nothing could be attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, u *models.User, digest Digest) (Result, error) {
	var result Result

	var contacts []models.Contact
	for _, c := range u.EnabledChannels(d.cfg.Order) {
		if _, ok := d.channels[c.Channel]; ok {
			contacts = append(contacts, c)
		}
	}
	if len(contacts) == 0 {
		return result, ErrNoChannels
	}

	for _, c := range contacts {
		if ctx.Err() != nil {
			break
		}
		err := d.send(ctx, d.channels[c.Channel], c.Recipient, digest)
		result.Attempts = append(result.Attempts, Attempt{Channel: c.Channel, Err: err})

		if err != nil {
			log.Printf("[dispatch] %s to %s failed for user %d: %v", c.Channel, logging.MaskRecipient(c.Recipient), u.ID, err)
			continue
		}
		log.Printf("[dispatch] %s to %s delivered %d listings for user %d", c.Channel, logging.MaskRecipient(c.Recipient), digest.Total(), u.ID)
		if !result.Delivered {
			result.Delivered = true
			result.Channel = c.Channel
		}
		if d.cfg.Policy == PolicyFirstSuccess {
			break
		}
	}

	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, recipient string, digest Digest) error {
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}
	if err := d.limiters[ch.Name()].Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return ch.Send(ctx, recipient, Render(digest, ch.Style(), d.cfg.MaxItems))
}
