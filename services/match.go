package services

import (
	"context"
	"time"

	"estate_notifier/config"
	"estate_notifier/models"
	"estate_notifier/storage"
)

// MatchService evaluates saved searches against the listing store. It never
// writes and never consults the ledger.
type MatchService struct {
	store       storage.ListingStore
	firstRunCap int
	lookback    time.Duration
	steadyCap   int
}

func NewMatchService(store storage.ListingStore, cfg config.MatchingConfig) *MatchService {
	return &MatchService{
		store:       store,
		firstRunCap: cfg.FirstRunCap,
		lookback:    cfg.Lookback,
		steadyCap:   cfg.SteadyCap,
	}
}

// Window picks the result bound for a filter. A filter that has never sent
// anything gets the newest listings of any age, capped so the first digest
// stays small. Afterwards only listings created within the lookback count.
func (s *MatchService) Window(f *models.Filter, now time.Time) storage.ListingWindow {
	if f.FirstRun() {
		return storage.ListingWindow{Limit: s.firstRunCap}
	}
	since := now.Add(-s.lookback)
	return storage.ListingWindow{Since: &since, Limit: s.steadyCap}
}

// Match returns active listings satisfying every set criterion, newest first.
func (s *MatchService) Match(ctx context.Context, f *models.Filter, now time.Time) ([]models.Listing, error) {
	return s.store.FindListings(ctx, f.Criteria, s.Window(f, now))
}
