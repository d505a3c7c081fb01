package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"estate_notifier/identity"
	"estate_notifier/models"
)

// ListingWindow bounds a listing query. A nil Since means no lower bound on
// created_at; Limit <= 0 means unlimited.
type ListingWindow struct {
	Since *time.Time
	Limit int
}

// ListingStore is the canonical listing table keyed by (source, external_id).
type ListingStore interface {
	// UpsertListing inserts a new natural key or updates the existing row.
	// It reports whether a row was created. l.ID is set either way.
	UpsertListing(ctx context.Context, l *models.Listing) (created bool, err error)
	FindListings(ctx context.Context, c models.Criteria, w ListingWindow) ([]models.Listing, error)
	DeactivateStaleListings(ctx context.Context, seenBefore time.Time) (int64, error)
}

// FilterStore exposes users and their saved searches. Rows are owned by the
// user-facing API; this subsystem only writes the last-sent timestamp.
type FilterStore interface {
	ListNotifiableUsers(ctx context.Context) ([]models.User, error)
	ListUserFilters(ctx context.Context, userID int64) ([]models.Filter, error)
	MarkFilterNotified(ctx context.Context, filterID int64, at time.Time) error
	CreateUser(ctx context.Context, u *models.User) error
	CreateFilter(ctx context.Context, f *models.Filter) error
}

// LedgerStore is the append-only (user, listing) notification ledger.
type LedgerStore interface {
	SentListingIDs(ctx context.Context, userID int64) (map[int64]struct{}, error)
	// InsertLedgerEntries writes all entries in one transaction. Pairs that
	// already exist are skipped; the count of new rows is returned.
	InsertLedgerEntries(ctx context.Context, entries []models.LedgerEntry) (int, error)
}

type AuditStore interface {
	CreateNotificationAudit(ctx context.Context, a *models.NotificationAudit) error
}

type RunStore interface {
	CreateIngestRun(ctx context.Context, run *models.IngestRun) error
	FinishIngestRun(ctx context.Context, run *models.IngestRun) error
}

// Store is everything the daemon needs from persistence.
type Store interface {
	ListingStore
	FilterStore
	LedgerStore
	AuditStore
	RunStore
	Close()
}

const listingColumns = `id, source, external_id, url, title, description, price, currency,
	property_type, rooms, bathrooms, area, floor, city, district, address, postal_code,
	latitude, longitude, images, agency_name, is_active, created_at, last_seen_at, published_at`

const userColumns = `id, email, tier, telegram_chat_id, whatsapp_number,
	telegram_enabled, whatsapp_enabled, email_enabled, created_at`

const filterColumns = `id, user_id, label, is_active, notify_enabled, city, district, property_type,
	min_price, max_price, min_rooms, max_rooms, min_bathrooms, min_area, max_area,
	cadence_hours, last_notification_sent_at, created_at`

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanListing(row scanner) (models.Listing, error) {
	var l models.Listing
	var images string
	err := row.Scan(
		&l.ID, &l.Source, &l.ExternalID, &l.URL, &l.Title, &l.Description, &l.Price, &l.Currency,
		&l.PropertyType, &l.Rooms, &l.Bathrooms, &l.Area, &l.Floor, &l.City, &l.District, &l.Address, &l.PostalCode,
		&l.Latitude, &l.Longitude, &images, &l.AgencyName, &l.IsActive, &l.CreatedAt, &l.LastSeenAt, &l.PublishedAt,
	)
	if err != nil {
		return l, err
	}
	l.SetImagesJSON(images)
	return l, nil
}

func scanUser(row scanner) (models.User, error) {
	var u models.User
	var tier string
	err := row.Scan(
		&u.ID, &u.Email, &tier, &u.TelegramChatID, &u.WhatsAppNumber,
		&u.TelegramEnabled, &u.WhatsAppEnabled, &u.EmailEnabled, &u.CreatedAt,
	)
	u.Tier = models.Tier(tier)
	return u, err
}

func scanFilter(row scanner) (models.Filter, error) {
	var f models.Filter
	c := &f.Criteria
	err := row.Scan(
		&f.ID, &f.UserID, &f.Label, &f.IsActive, &f.NotifyEnabled, &c.City, &c.District, &c.PropertyType,
		&c.MinPrice, &c.MaxPrice, &c.MinRooms, &c.MaxRooms, &c.MinBathrooms, &c.MinArea, &c.MaxArea,
		&f.CadenceHours, &f.LastNotificationSentAt, &f.CreatedAt,
	)
	return f, err
}

func filterArgs(f *models.Filter) []any {
	c := f.Criteria
	return []any{
		f.UserID, f.Label, f.IsActive, f.NotifyEnabled, c.City, c.District, c.PropertyType,
		c.MinPrice, c.MaxPrice, c.MinRooms, c.MaxRooms, c.MinBathrooms, c.MinArea, c.MaxArea,
		f.CadenceHours, f.LastNotificationSentAt, f.CreatedAt,
	}
}

type placeholderFunc func(n int) string

func dollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func questionPlaceholder(int) string { return "?" }

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildListingQuery turns criteria into a conjunctive WHERE clause. Unset
// fields add nothing. Text fields compare against the folded *_norm columns
// so matching ignores case and accents on every driver.
func buildListingQuery(c models.Criteria, w ListingWindow, ph placeholderFunc) (string, []any) {
	conds := []string{"is_active = TRUE"}
	var args []any

	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(expr, "?", ph(len(args)), 1))
	}

	if c.City != nil && strings.TrimSpace(*c.City) != "" {
		add(`city_norm LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(identity.Fold(*c.City))+"%")
	}
	if c.District != nil && strings.TrimSpace(*c.District) != "" {
		add(`district_norm LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(identity.Fold(*c.District))+"%")
	}
	if c.PropertyType != nil && strings.TrimSpace(*c.PropertyType) != "" {
		add("LOWER(property_type) = ?", strings.ToLower(strings.TrimSpace(*c.PropertyType)))
	}
	if c.MinPrice != nil {
		add("price >= ?", *c.MinPrice)
	}
	if c.MaxPrice != nil {
		add("price <= ?", *c.MaxPrice)
	}
	if c.MinRooms != nil {
		add("rooms >= ?", *c.MinRooms)
	}
	if c.MaxRooms != nil {
		add("rooms <= ?", *c.MaxRooms)
	}
	if c.MinBathrooms != nil {
		add("bathrooms >= ?", *c.MinBathrooms)
	}
	if c.MinArea != nil {
		add("area >= ?", *c.MinArea)
	}
	if c.MaxArea != nil {
		add("area <= ?", *c.MaxArea)
	}
	if w.Since != nil {
		add("created_at >= ?", *w.Since)
	}

	query := "SELECT " + listingColumns + " FROM listings WHERE " +
		strings.Join(conds, " AND ") + " ORDER BY created_at DESC, id DESC"
	if w.Limit > 0 {
		args = append(args, w.Limit)
		query += " LIMIT " + ph(len(args))
	}
	return query, args
}
