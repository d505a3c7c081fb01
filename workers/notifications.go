package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"estate_notifier/models"
	"estate_notifier/notify"
	"estate_notifier/services"
	"estate_notifier/storage"
)

// CycleStats summarizes one pass over all users.
type CycleStats struct {
	Users          int
	FiltersChecked int
	FiltersDue     int
	Notified       int
	ListingsSent   int
	Empty          int
	SendFailures   int
	Errors         int
}

type NotificationConfig struct {
	FilterPause time.Duration
	UserPause   time.Duration
	// FilterBudget bounds a filter that is finishing after shutdown began.
	FilterBudget time.Duration
}

// RunOptions controls the outer loop.
type RunOptions struct {
	Interval   time.Duration
	Once       bool
	DelayFirst bool
}

// NotificationWorker turns new matches into digests. For every due filter it
// matches, drops already-sent listings, dispatches, and on success ledgers
// the listings and stamps the filter.
type NotificationWorker struct {
	filters    storage.FilterStore
	audits     storage.AuditStore
	match      *services.MatchService
	ledger     *services.LedgerService
	throttle   *services.Throttle
	dispatcher *notify.Dispatcher
	cfg        NotificationConfig

	preCycle  func(ctx context.Context)
	triggerCh chan struct{}
	now       func() time.Time
}

func NewNotificationWorker(
	filters storage.FilterStore,
	audits storage.AuditStore,
	match *services.MatchService,
	ledger *services.LedgerService,
	throttle *services.Throttle,
	dispatcher *notify.Dispatcher,
	cfg NotificationConfig,
) *NotificationWorker {
	if cfg.FilterBudget <= 0 {
		cfg.FilterBudget = 2 * time.Minute
	}
	return &NotificationWorker{
		filters:    filters,
		audits:     audits,
		match:      match,
		ledger:     ledger,
		throttle:   throttle,
		dispatcher: dispatcher,
		cfg:        cfg,
		triggerCh:  make(chan struct{}, 1),
		now:        time.Now,
	}
}

// SetPreCycle registers a hook that runs at the start of every cycle.
func (w *NotificationWorker) SetPreCycle(fn func(ctx context.Context)) {
	w.preCycle = fn
}

// Trigger wakes a sleeping worker for an immediate cycle.
func (w *NotificationWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run alternates cycles and sleeps until ctx is cancelled. With Once set it
// returns after a single cycle.
func (w *NotificationWorker) Run(ctx context.Context, opts RunOptions) {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	timer := time.NewTimer(opts.Interval)
	defer timer.Stop()

	if opts.DelayFirst {
		log.Printf("[dispatch] first cycle in %s", opts.Interval)
		if !w.sleep(ctx, timer) {
			return
		}
	}

	for {
		w.cycle(ctx)
		if opts.Once || ctx.Err() != nil {
			return
		}

		timer.Reset(opts.Interval)
		if !w.sleep(ctx, timer) {
			return
		}
	}
}

func (w *NotificationWorker) sleep(ctx context.Context, timer *time.Timer) bool {
	select {
	case <-ctx.Done():
		log.Println("[dispatch] worker stopping")
		return false
	case <-timer.C:
		return true
	case <-w.triggerCh:
		log.Println("[dispatch] worker triggered manually")
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		return true
	}
}

func (w *NotificationWorker) cycle(ctx context.Context) {
	if w.preCycle != nil {
		w.preCycle(ctx)
		if ctx.Err() != nil {
			return
		}
	}
	start := time.Now()
	stats := w.RunCycle(ctx)
	log.Printf("[dispatch] cycle done in %s: users=%d checked=%d due=%d notified=%d listings=%d empty=%d send_failures=%d errors=%d",
		time.Since(start).Round(time.Millisecond), stats.Users, stats.FiltersChecked, stats.FiltersDue,
		stats.Notified, stats.ListingsSent, stats.Empty, stats.SendFailures, stats.Errors)
}

// RunCycle processes every notifiable user once. A failure on one filter or
// user is counted and logged; the cycle moves on. Cancellation stops the
// cycle before the next filter starts.
func (w *NotificationWorker) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	cycleID := uuid.New()

	users, err := w.filters.ListNotifiableUsers(ctx)
	if err != nil {
		log.Printf("[dispatch] list users: %v", err)
		stats.Errors++
		return stats
	}

	for i := range users {
		if ctx.Err() != nil {
			log.Printf("[dispatch] cancelled, %d users left unprocessed", len(users)-i)
			break
		}
		if i > 0 && !pause(ctx, w.cfg.UserPause) {
			break
		}

		stats.Users++
		w.processUser(ctx, cycleID, &users[i], &stats)
	}

	return stats
}

func (w *NotificationWorker) processUser(ctx context.Context, cycleID uuid.UUID, u *models.User, stats *CycleStats) {
	filters, err := w.filters.ListUserFilters(ctx, u.ID)
	if err != nil {
		log.Printf("[dispatch] user %d: list filters: %v", u.ID, err)
		stats.Errors++
		return
	}

	for i := range filters {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && !pause(ctx, w.cfg.FilterPause) {
			return
		}

		stats.FiltersChecked++
		f := &filters[i]

		// Once started, a filter runs to completion even if shutdown begins,
		// so a delivered digest is always ledgered.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FilterBudget)
		err := w.processFilter(fctx, cycleID, u, f, stats)
		cancel()
		if err != nil {
			log.Printf("[dispatch] user %d filter %d: %v", u.ID, f.ID, err)
			stats.Errors++
		}
	}
}

func (w *NotificationWorker) processFilter(ctx context.Context, cycleID uuid.UUID, u *models.User, f *models.Filter, stats *CycleStats) error {
	now := w.now().UTC()

	due, reason := w.throttle.Due(u, f, now)
	if !due {
		if reason == services.ReasonCadence {
			log.Printf("[dispatch] user %d filter %d: next due %s", u.ID, f.ID, w.throttle.NextDueAt(u, f).Format(time.RFC3339))
		}
		return nil
	}
	stats.FiltersDue++

	candidates, err := w.match.Match(ctx, f, now)
	if err != nil {
		return err
	}
	fresh, err := w.ledger.Unsent(ctx, u.ID, candidates)
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		stats.Empty++
		return nil
	}

	digest := notify.Digest{FilterLabel: f.Label, Listings: fresh}
	result, err := w.dispatcher.Dispatch(ctx, u, digest)
	if errors.Is(err, notify.ErrNoChannels) {
		w.audit(ctx, cycleID, u, f, len(fresh), "", models.AuditStatusFailed, err.Error())
		return err
	}
	if err != nil {
		return err
	}

	if !result.Delivered {
		stats.SendFailures++
		w.audit(ctx, cycleID, u, f, len(fresh), "", models.AuditStatusFailed, result.Failures())
		return nil
	}

	inserted, ledgerErr := w.ledger.Record(ctx, u.ID, f.ID, fresh, result.Channel)
	if err := w.filters.MarkFilterNotified(ctx, f.ID, now); err != nil {
		log.Printf("[dispatch] user %d filter %d: mark notified: %v", u.ID, f.ID, err)
		stats.Errors++
	}
	w.audit(ctx, cycleID, u, f, len(fresh), result.Channel, models.AuditStatusSent, result.Failures())

	stats.Notified++
	stats.ListingsSent += len(fresh)
	log.Printf("[dispatch] user %d filter %d: sent %d listings via %s (%d ledgered)", u.ID, f.ID, len(fresh), result.Channel, inserted)

	return ledgerErr
}

func (w *NotificationWorker) audit(ctx context.Context, cycleID uuid.UUID, u *models.User, f *models.Filter, count int, channel string, status models.AuditStatus, errText string) {
	if w.audits == nil {
		return
	}
	a := &models.NotificationAudit{
		ID:           uuid.New(),
		CycleID:      cycleID,
		UserID:       u.ID,
		FilterID:     f.ID,
		ListingCount: count,
		Channel:      channel,
		Status:       status,
		Error:        errText,
		CreatedAt:    w.now().UTC(),
	}
	if err := w.audits.CreateNotificationAudit(ctx, a); err != nil {
		log.Printf("[dispatch] warning: audit write failed: %v", err)
	}
}

// pause sleeps for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
