package services

import (
	"time"

	"estate_notifier/config"
	"estate_notifier/models"
)

// Reason explains a Due decision in logs.
type Reason string

const (
	ReasonDue       Reason = "due"
	ReasonFirstRun  Reason = "first_run"
	ReasonDebug     Reason = "debug"
	ReasonInactive  Reason = "inactive"
	ReasonNotifyOff Reason = "notifications_off"
	ReasonNoChannel Reason = "no_channel"
	ReasonCadence   Reason = "cadence_not_elapsed"
)

// Throttle decides whether a filter may notify now.
//
// States per filter: never-sent, waiting, due. never-sent and due both allow a
// dispatch; a successful dispatch moves the filter to waiting until its
// cadence elapses. An empty match result leaves the state untouched.
type Throttle struct {
	free    time.Duration
	paid    time.Duration
	debug   bool
	debugCd time.Duration
	deliver []string
}

// NewThrottle builds a throttle for a process that can deliver through the
// given channels, in priority order. A user reachable only through other
// channels is never due. Nil means every known channel.
func NewThrottle(cfg config.ThrottleConfig, debug bool, channels []string) *Throttle {
	if channels == nil {
		channels = models.DefaultChannelOrder
	}
	return &Throttle{
		free:    cfg.FreeCadence,
		paid:    cfg.PaidCadence,
		debug:   debug,
		debugCd: cfg.DebugCadence,
		deliver: channels,
	}
}

// Cadence is the minimum spacing between notifications for the filter.
// A per-filter cadence wins over the tier default. Debug mode replaces both
// with DEBUG_CADENCE, which defaults to zero.
func (t *Throttle) Cadence(u *models.User, f *models.Filter) time.Duration {
	if t.debug {
		return t.debugCd
	}
	if f.CadenceHours != nil && *f.CadenceHours > 0 {
		return time.Duration(*f.CadenceHours) * time.Hour
	}
	if u.Tier == models.TierPaid {
		return t.paid
	}
	return t.free
}

func (t *Throttle) Due(u *models.User, f *models.Filter, now time.Time) (bool, Reason) {
	switch {
	case !f.IsActive:
		return false, ReasonInactive
	case !f.NotifyEnabled:
		return false, ReasonNotifyOff
	case len(t.deliver) == 0 || len(u.EnabledChannels(t.deliver)) == 0:
		return false, ReasonNoChannel
	case f.FirstRun():
		return true, ReasonFirstRun
	}

	if now.Sub(*f.LastNotificationSentAt) >= t.Cadence(u, f) {
		if t.debug {
			return true, ReasonDebug
		}
		return true, ReasonDue
	}
	return false, ReasonCadence
}

// NextDueAt returns when the filter next becomes eligible. Zero means now.
func (t *Throttle) NextDueAt(u *models.User, f *models.Filter) time.Time {
	if f.FirstRun() {
		return time.Time{}
	}
	return f.LastNotificationSentAt.Add(t.Cadence(u, f))
}
