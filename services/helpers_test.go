package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"estate_notifier/models"
	"estate_notifier/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func seedListing(t *testing.T, store storage.ListingStore, source, id, city string, price float64, created time.Time) models.Listing {
	t.Helper()
	l := &models.Listing{
		Source:       source,
		ExternalID:   id,
		Title:        fmt.Sprintf("Listing %s", id),
		Price:        models.Ptr(price),
		Currency:     "EUR",
		PropertyType: "apartment",
		City:         city,
		IsActive:     true,
		CreatedAt:    created,
		LastSeenAt:   created,
	}
	_, err := store.UpsertListing(context.Background(), l)
	require.NoError(t, err)
	return *l
}
