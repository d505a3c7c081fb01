package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_notifier/models"
	"estate_notifier/storage"
)

func TestIngest_CreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewIngestService(store, 4)

	records := []models.Record{
		{Source: "immobiliare", ExternalID: "1", City: "Roma", Price: models.Ptr(100000.0)},
		{Source: "immobiliare", ExternalID: "2", City: "Roma"},
		{Source: "idealista", ExternalID: "1", City: "Milano"},
	}

	stats := svc.Ingest(ctx, records)
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 3, stats.Created)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, 2, stats.BySource["immobiliare"].Created)

	records[0].Price = models.Ptr(95000.0)
	stats = svc.Ingest(ctx, records)
	assert.Zero(t, stats.Created)
	assert.Equal(t, 3, stats.Updated)

	all, err := store.FindListings(ctx, models.Criteria{}, storage.ListingWindow{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestIngest_SameKeyInOneBatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewIngestService(store, 8)

	var records []models.Record
	for i := 0; i < 10; i++ {
		records = append(records, models.Record{Source: "s", ExternalID: "dup", Title: fmt.Sprintf("v%d", i)})
	}

	stats := svc.Ingest(ctx, records)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 9, stats.Updated)

	all, err := store.FindListings(ctx, models.Criteria{}, storage.ListingWindow{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIngest_InvalidRecordsCounted(t *testing.T) {
	store := newTestStore(t)
	svc := NewIngestService(store, 2)

	stats := svc.Ingest(context.Background(), []models.Record{
		{Source: "s", ExternalID: ""},
		{Source: "", ExternalID: "x"},
		{Source: "s", ExternalID: "ok"},
	})
	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, 1, stats.Created)
}

type flakyStore struct {
	storage.ListingStore
	mu   sync.Mutex
	fail map[string]bool
}

func (f *flakyStore) UpsertListing(ctx context.Context, l *models.Listing) (bool, error) {
	f.mu.Lock()
	fail := f.fail[l.ExternalID]
	f.mu.Unlock()
	if fail {
		return false, errors.New("connection reset")
	}
	return f.ListingStore.UpsertListing(ctx, l)
}

func TestIngest_PersistenceErrorDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{ListingStore: newTestStore(t), fail: map[string]bool{"bad": true}}
	svc := NewIngestService(store, 3)

	stats := svc.Ingest(ctx, []models.Record{
		{Source: "s", ExternalID: "a"},
		{Source: "s", ExternalID: "bad"},
		{Source: "s", ExternalID: "b"},
	})
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.BySource["s"].Errors)
}

func TestIngest_CreatedAtFromClock(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewIngestService(store, 1)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	svc.Ingest(ctx, []models.Record{{Source: "s", ExternalID: "1"}})

	all, err := store.FindListings(ctx, models.Criteria{}, storage.ListingWindow{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].CreatedAt.Equal(fixed))
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("key")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks)
}
