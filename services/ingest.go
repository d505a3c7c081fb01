package services

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"estate_notifier/identity"
	"estate_notifier/models"
	"estate_notifier/storage"
)

// IngestStats summarizes one batch. Fetched counts every record handed in,
// including the ones rejected by validation.
type IngestStats struct {
	Fetched  int
	Created  int
	Updated  int
	Errors   int
	BySource map[string]*models.SourceStats
}

func (s *IngestStats) source(name string) *models.SourceStats {
	if s.BySource == nil {
		s.BySource = make(map[string]*models.SourceStats)
	}
	st, ok := s.BySource[name]
	if !ok {
		st = &models.SourceStats{}
		s.BySource[name] = st
	}
	return st
}

// IngestService upserts normalized records into the listing store.
type IngestService struct {
	store   storage.ListingStore
	workers int
	keys    *keyedMutex
	now     func() time.Time
}

func NewIngestService(store storage.ListingStore, workers int) *IngestService {
	if workers < 1 {
		workers = 1
	}
	return &IngestService{
		store:   store,
		workers: workers,
		keys:    newKeyedMutex(),
		now:     time.Now,
	}
}

// Ingest never aborts the batch: invalid records and persistence failures are
// logged and counted, everything else is written. Two records with the same
// natural key are never written at the same time.
func (s *IngestService) Ingest(ctx context.Context, records []models.Record) IngestStats {
	stats := IngestStats{Fetched: len(records)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range records {
		rec := records[i]

		mu.Lock()
		src := stats.source(rec.Source)
		src.Fetched++
		mu.Unlock()

		if err := rec.Validate(); err != nil {
			log.Printf("[ingest] rejected record from %q: %v", rec.Source, err)
			mu.Lock()
			stats.Errors++
			src.Errors++
			mu.Unlock()
			continue
		}

		if gctx.Err() != nil {
			mu.Lock()
			stats.Errors++
			src.Errors++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			key := identity.NaturalKey(rec.Source, rec.ExternalID)
			unlock := s.keys.Lock(key)
			created, err := s.store.UpsertListing(gctx, rec.ToListing(s.now().UTC()))
			unlock()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				log.Printf("[ingest] upsert %s failed: %v", key, err)
				stats.Errors++
				src.Errors++
			case created:
				stats.Created++
				src.Created++
			default:
				stats.Updated++
				src.Updated++
			}
			return nil
		})
	}

	_ = g.Wait()
	return stats
}

// keyedMutex serializes work per string key. Entries are dropped once no
// goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
