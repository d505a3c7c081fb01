package services

import (
	"context"
	"log"
	"time"

	"estate_notifier/storage"
)

// StalenessService retires listings that no source has confirmed recently.
// Rows are only flagged inactive; they stay referenced by the ledger.
type StalenessService struct {
	store      storage.ListingStore
	staleAfter time.Duration
}

func NewStalenessService(store storage.ListingStore, staleAfter time.Duration) *StalenessService {
	return &StalenessService{store: store, staleAfter: staleAfter}
}

// Sweep deactivates listings whose last_seen_at is older than the cutoff.
// A non-positive staleAfter disables the sweep.
func (s *StalenessService) Sweep(ctx context.Context, now time.Time) (int64, error) {
	if s.staleAfter <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.staleAfter)
	n, err := s.store.DeactivateStaleListings(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[staleness] deactivated %d listings not seen since %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}
