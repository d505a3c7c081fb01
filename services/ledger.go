package services

import (
	"context"
	"fmt"
	"time"

	"estate_notifier/models"
	"estate_notifier/storage"
)

// LedgerService guarantees a listing reaches a user at most once, whichever
// filter matched it.
type LedgerService struct {
	store storage.LedgerStore
	now   func() time.Time
}

func NewLedgerService(store storage.LedgerStore) *LedgerService {
	return &LedgerService{store: store, now: time.Now}
}

// Unsent drops candidates already delivered to the user. Order is preserved.
func (s *LedgerService) Unsent(ctx context.Context, userID int64, candidates []models.Listing) ([]models.Listing, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	sent, err := s.store.SentListingIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load ledger for user %d: %w", userID, err)
	}

	fresh := make([]models.Listing, 0, len(candidates))
	for _, l := range candidates {
		if _, ok := sent[l.ID]; !ok {
			fresh = append(fresh, l)
		}
	}
	return fresh, nil
}

// Record ledgers every listing in one transaction. Pairs that are already
// present are skipped.
func (s *LedgerService) Record(ctx context.Context, userID, filterID int64, listings []models.Listing, channel string) (int, error) {
	now := s.now().UTC()
	entries := make([]models.LedgerEntry, 0, len(listings))
	for _, l := range listings {
		entries = append(entries, models.LedgerEntry{
			UserID:    userID,
			FilterID:  filterID,
			ListingID: l.ID,
			Channel:   channel,
			SentAt:    now,
		})
	}

	inserted, err := s.store.InsertLedgerEntries(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("record ledger for user %d filter %d: %w", userID, filterID, err)
	}
	return inserted, nil
}
