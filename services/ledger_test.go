package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_notifier/models"
)

func TestLedger_UnsentAndRecord(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()

	a := seedListing(t, store, "s", "a", "Roma", 1, now)
	b := seedListing(t, store, "s", "b", "Roma", 1, now.Add(-time.Minute))
	c := seedListing(t, store, "s", "c", "Roma", 1, now.Add(-2*time.Minute))

	ledger := NewLedgerService(store)

	n, err := ledger.Record(ctx, 1, 10, []models.Listing{a}, "telegram")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fresh, err := ledger.Unsent(ctx, 1, append([]models.Listing{a}, b, c))
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, b.ID, fresh[0].ID)
	assert.Equal(t, c.ID, fresh[1].ID)

	// A second filter of the same user overlapping on b must not resend it.
	n, err = ledger.Record(ctx, 1, 11, fresh, "email")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = ledger.Record(ctx, 1, 12, fresh, "email")
	require.NoError(t, err)
	assert.Zero(t, n)

	fresh, err = ledger.Unsent(ctx, 1, append([]models.Listing{a}, b, c))
	require.NoError(t, err)
	assert.Empty(t, fresh)

	other, err := ledger.Unsent(ctx, 2, append([]models.Listing{a}, b, c))
	require.NoError(t, err)
	assert.Len(t, other, 3)
}

func TestLedger_UnsentEmptyCandidates(t *testing.T) {
	got, err := NewLedgerService(nil).Unsent(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
