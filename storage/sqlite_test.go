package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_notifier/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func listingAt(source, id, city string, price float64, created time.Time) *models.Listing {
	return &models.Listing{
		Source:       source,
		ExternalID:   id,
		Title:        "Flat " + id,
		Price:        models.Ptr(price),
		Currency:     "EUR",
		PropertyType: "apartment",
		Rooms:        models.Ptr(2),
		City:         city,
		IsActive:     true,
		CreatedAt:    created,
		LastSeenAt:   created,
	}
}

func TestUpsertListing_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := listingAt("idealista", "A1", "Roma", 250000, first)
	l.Description = "Bright two-room flat"
	l.Latitude = models.Ptr(41.9)

	created, err := store.UpsertListing(ctx, l)
	require.NoError(t, err)
	assert.True(t, created)
	id := l.ID
	require.NotZero(t, id)

	later := first.Add(48 * time.Hour)
	again := listingAt("idealista", "A1", "Roma", 240000, later)
	again.Description = ""

	created, err = store.UpsertListing(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again.ID)

	got, err := store.FindListings(ctx, models.Criteria{}, ListingWindow{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	row := got[0]
	assert.Equal(t, 240000.0, *row.Price)
	assert.True(t, row.CreatedAt.Equal(first), "created_at must not move on update")
	assert.True(t, row.LastSeenAt.Equal(later))
	assert.Equal(t, "Bright two-room flat", row.Description)
	require.NotNil(t, row.Latitude)
	assert.Equal(t, 41.9, *row.Latitude)
}

func TestUpsertListing_ReactivatesStale(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	_, err := store.UpsertListing(ctx, listingAt("s", "1", "Roma", 1, old))
	require.NoError(t, err)

	n, err := store.DeactivateStaleListings(ctx, time.Now().Add(-14*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := store.FindListings(ctx, models.Criteria{}, ListingWindow{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = store.UpsertListing(ctx, listingAt("s", "1", "Roma", 1, time.Now().UTC()))
	require.NoError(t, err)

	got, err = store.FindListings(ctx, models.Criteria{}, ListingWindow{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFindListings_Predicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()

	fixtures := []*models.Listing{
		listingAt("s", "roma-cheap", "Roma", 100000, now.Add(-3*time.Hour)),
		listingAt("s", "roma-mid", "Roma", 200000, now.Add(-2*time.Hour)),
		listingAt("s", "roma-pricey", "Roma", 900000, now.Add(-1*time.Hour)),
		listingAt("s", "milano", "Milano", 200000, now.Add(-1*time.Hour)),
		listingAt("s", "forli", "Forlì", 150000, now.Add(-1*time.Hour)),
	}
	fixtures[1].PropertyType = "House"
	fixtures[1].District = "Trastevere"
	for _, l := range fixtures {
		_, err := store.UpsertListing(ctx, l)
		require.NoError(t, err)
	}

	ids := func(ls []models.Listing) []string {
		var out []string
		for _, l := range ls {
			out = append(out, l.ExternalID)
		}
		return out
	}

	tests := []struct {
		name     string
		criteria models.Criteria
		want     []string
	}{
		{"city case insensitive", models.Criteria{City: models.Ptr("rOMA")}, []string{"roma-pricey", "roma-mid", "roma-cheap"}},
		{"city substring", models.Criteria{City: models.Ptr("mil")}, []string{"milano"}},
		{"city accent folded", models.Criteria{City: models.Ptr("forli")}, []string{"forli"}},
		{"price range inclusive", models.Criteria{MinPrice: models.Ptr(100000.0), MaxPrice: models.Ptr(200000.0), City: models.Ptr("Roma")}, []string{"roma-mid", "roma-cheap"}},
		{"property type exact", models.Criteria{PropertyType: models.Ptr("house")}, []string{"roma-mid"}},
		{"district", models.Criteria{District: models.Ptr("trast")}, []string{"roma-mid"}},
		{"rooms bound", models.Criteria{MinRooms: models.Ptr(3)}, nil},
		{"like wildcards are literal", models.Criteria{City: models.Ptr("%")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FindListings(ctx, tt.criteria, ListingWindow{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestFindListings_Window(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()

	for i := 0; i < 40; i++ {
		created := now.Add(-time.Duration(i) * time.Hour)
		_, err := store.UpsertListing(ctx, listingAt("s", fmt.Sprintf("r%02d", i), "Roma", 1000, created))
		require.NoError(t, err)
	}

	capped, err := store.FindListings(ctx, models.Criteria{City: models.Ptr("Roma")}, ListingWindow{Limit: 30})
	require.NoError(t, err)
	require.Len(t, capped, 30)
	assert.Equal(t, "r00", capped[0].ExternalID)
	assert.Equal(t, "r29", capped[29].ExternalID)

	since := now.Add(-24*time.Hour - time.Minute)
	recent, err := store.FindListings(ctx, models.Criteria{}, ListingWindow{Since: &since, Limit: 50})
	require.NoError(t, err)
	assert.Len(t, recent, 25)
}

func TestLedger_DuplicateInsertIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()

	entries := []models.LedgerEntry{
		{UserID: 1, FilterID: 10, ListingID: 100, Channel: "telegram", SentAt: now},
		{UserID: 1, FilterID: 10, ListingID: 101, Channel: "telegram", SentAt: now},
	}
	n, err := store.InsertLedgerEntries(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.InsertLedgerEntries(ctx, []models.LedgerEntry{
		{UserID: 1, FilterID: 11, ListingID: 101, Channel: "email", SentAt: now},
		{UserID: 1, FilterID: 11, ListingID: 102, Channel: "email", SentAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sent, err := store.SentListingIDs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, sent, 3)
	assert.Contains(t, sent, int64(102))

	other, err := store.SentListingIDs(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUsersAndFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	withTelegram := &models.User{Email: "a@example.com", Tier: models.TierPaid, TelegramChatID: "42", TelegramEnabled: true}
	noChannel := &models.User{Email: "b@example.com", TelegramChatID: "43"}
	enabledButEmpty := &models.User{WhatsAppEnabled: true}
	for _, u := range []*models.User{withTelegram, noChannel, enabledButEmpty} {
		require.NoError(t, store.CreateUser(ctx, u))
	}

	users, err := store.ListNotifiableUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, withTelegram.ID, users[0].ID)
	assert.Equal(t, models.TierPaid, users[0].Tier)

	active := &models.Filter{UserID: withTelegram.ID, IsActive: true, NotifyEnabled: true,
		Criteria: models.Criteria{City: models.Ptr("Roma"), MaxPrice: models.Ptr(300000.0)}, CadenceHours: models.Ptr(3)}
	muted := &models.Filter{UserID: withTelegram.ID, IsActive: true, NotifyEnabled: false}
	require.NoError(t, store.CreateFilter(ctx, active))
	require.NoError(t, store.CreateFilter(ctx, muted))

	filters, err := store.ListUserFilters(ctx, withTelegram.ID)
	require.NoError(t, err)
	require.Len(t, filters, 1)
	f := filters[0]
	assert.True(t, f.FirstRun())
	assert.Equal(t, "Roma", *f.Criteria.City)
	assert.Equal(t, 300000.0, *f.Criteria.MaxPrice)
	assert.Nil(t, f.Criteria.MinPrice)
	assert.Equal(t, 3, *f.CadenceHours)

	at := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, store.MarkFilterNotified(ctx, f.ID, at))

	filters, err = store.ListUserFilters(ctx, withTelegram.ID)
	require.NoError(t, err)
	require.NotNil(t, filters[0].LastNotificationSentAt)
	assert.True(t, filters[0].LastNotificationSentAt.Equal(at))
}

func TestIngestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &models.IngestRun{ID: uuid.New(), StartedAt: time.Now(), Status: models.RunStatusRunning}
	require.NoError(t, store.CreateIngestRun(ctx, run))

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.Fetched = 3
	run.BySource = map[string]*models.SourceStats{"s": {Fetched: 3, Created: 3}}
	require.NoError(t, store.FinishIngestRun(ctx, run))

	var status, bySource string
	require.NoError(t, store.db.QueryRow(`SELECT status, by_source FROM ingest_runs WHERE id = ?`, run.ID.String()).Scan(&status, &bySource))
	assert.Equal(t, "completed", status)
	assert.JSONEq(t, `{"s":{"fetched":3,"created":3,"updated":0,"errors":0}}`, bySource)

	missing := &models.IngestRun{ID: uuid.New()}
	assert.Error(t, store.FinishIngestRun(ctx, missing))
}

func TestNotificationAudit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := &models.NotificationAudit{
		ID: uuid.New(), CycleID: uuid.New(), UserID: 1, FilterID: 2, ListingCount: 5,
		Channel: "telegram", Status: models.AuditStatusSent, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateNotificationAudit(ctx, a))

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM notification_audit WHERE status = 'sent'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestBuildListingQuery_Placeholders(t *testing.T) {
	since := time.Now()
	q, args := buildListingQuery(models.Criteria{City: models.Ptr("Roma"), MinPrice: models.Ptr(1.0)},
		ListingWindow{Since: &since, Limit: 30}, dollarPlaceholder)

	assert.Contains(t, q, "city_norm LIKE $1")
	assert.Contains(t, q, "price >= $2")
	assert.Contains(t, q, "created_at >= $3")
	assert.Contains(t, q, "LIMIT $4")
	assert.Equal(t, []any{"%roma%", 1.0, since, 30}, args)
}
