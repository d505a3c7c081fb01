package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"estate_notifier/identity"
	"estate_notifier/models"
)

// SQLiteStore is the single-node backend. All timestamps are written in UTC
// so that text comparison of DATETIME columns orders correctly.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		external_id TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		price REAL,
		currency TEXT NOT NULL DEFAULT '',
		property_type TEXT NOT NULL DEFAULT '',
		rooms INTEGER,
		bathrooms INTEGER,
		area REAL,
		floor TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		city_norm TEXT NOT NULL DEFAULT '',
		district TEXT NOT NULL DEFAULT '',
		district_norm TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		latitude REAL,
		longitude REAL,
		images TEXT NOT NULL DEFAULT '[]',
		agency_name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		last_seen_at DATETIME NOT NULL,
		published_at DATETIME,
		UNIQUE (source, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_created ON listings(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_city ON listings(city_norm)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT 'free',
		telegram_chat_id TEXT NOT NULL DEFAULT '',
		whatsapp_number TEXT NOT NULL DEFAULT '',
		telegram_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		whatsapp_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		email_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS filters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		label TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		notify_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		city TEXT,
		district TEXT,
		property_type TEXT,
		min_price REAL,
		max_price REAL,
		min_rooms INTEGER,
		max_rooms INTEGER,
		min_bathrooms INTEGER,
		min_area REAL,
		max_area REAL,
		cadence_hours INTEGER,
		last_notification_sent_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_filters_user ON filters(user_id)`,
	`CREATE TABLE IF NOT EXISTS notification_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		filter_id INTEGER NOT NULL,
		listing_id INTEGER NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		sent_at DATETIME NOT NULL,
		UNIQUE (user_id, listing_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notification_audit (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		filter_id INTEGER NOT NULL,
		listing_count INTEGER NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ingest_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL,
		fetched INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		source_errors INTEGER NOT NULL DEFAULT 0,
		by_source TEXT NOT NULL DEFAULT '{}'
	)`,
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// =============================================================================
// Listings
// =============================================================================

func (s *SQLiteStore) UpsertListing(ctx context.Context, l *models.Listing) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM listings WHERE source = ? AND external_id = ?`, l.Source, l.ExternalID,
	).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO listings (
				source, external_id, url, title, description, price, currency, property_type,
				rooms, bathrooms, area, floor, city, city_norm, district, district_norm, address,
				postal_code, latitude, longitude, images, agency_name, is_active, created_at,
				last_seen_at, published_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?, ?)`,
			l.Source, l.ExternalID, l.URL, l.Title, l.Description, l.Price, l.Currency, l.PropertyType,
			l.Rooms, l.Bathrooms, l.Area, l.Floor, l.City, identity.Fold(l.City), l.District, identity.Fold(l.District), l.Address,
			l.PostalCode, l.Latitude, l.Longitude, l.ImagesJSON(), l.AgencyName, l.CreatedAt.UTC(),
			l.LastSeenAt.UTC(), utcPtr(l.PublishedAt),
		)
		if err != nil {
			return false, err
		}
		if l.ID, err = res.LastInsertId(); err != nil {
			return false, err
		}
		return true, tx.Commit()

	case err != nil:
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE listings SET
			url = ?, title = ?,
			description = COALESCE(NULLIF(?, ''), description),
			price = ?, currency = ?, property_type = ?, rooms = ?, bathrooms = ?, area = ?, floor = ?,
			city = ?, city_norm = ?, district = ?, district_norm = ?, address = ?, postal_code = ?,
			latitude = COALESCE(?, latitude),
			longitude = COALESCE(?, longitude),
			images = ?, agency_name = ?, is_active = TRUE, last_seen_at = ?,
			published_at = COALESCE(?, published_at)
		WHERE id = ?`,
		l.URL, l.Title,
		l.Description,
		l.Price, l.Currency, l.PropertyType, l.Rooms, l.Bathrooms, l.Area, l.Floor,
		l.City, identity.Fold(l.City), l.District, identity.Fold(l.District), l.Address, l.PostalCode,
		l.Latitude,
		l.Longitude,
		l.ImagesJSON(), l.AgencyName, l.LastSeenAt.UTC(),
		utcPtr(l.PublishedAt),
		id,
	)
	if err != nil {
		return false, err
	}
	l.ID = id
	return false, tx.Commit()
}

func (s *SQLiteStore) FindListings(ctx context.Context, c models.Criteria, w ListingWindow) ([]models.Listing, error) {
	w.Since = utcPtr(w.Since)
	query, args := buildListingQuery(c, w, questionPlaceholder)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStore) DeactivateStaleListings(ctx context.Context, seenBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET is_active = FALSE WHERE is_active = TRUE AND last_seen_at < ?`, seenBefore.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// Users & Filters
// =============================================================================

func (s *SQLiteStore) ListNotifiableUsers(ctx context.Context) ([]models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE (telegram_enabled = TRUE AND telegram_chat_id <> '')
			OR (whatsapp_enabled = TRUE AND whatsapp_number <> '')
			OR (email_enabled = TRUE AND email <> '')
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) ListUserFilters(ctx context.Context, userID int64) ([]models.Filter, error) {
	query := `
		SELECT ` + filterColumns + `
		FROM filters
		WHERE user_id = ? AND is_active = TRUE AND notify_enabled = TRUE
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var filters []models.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

func (s *SQLiteStore) MarkFilterNotified(ctx context.Context, filterID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE filters SET last_notification_sent_at = ? WHERE id = ?`, at.UTC(), filterID)
	return err
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	if u.Tier == "" {
		u.Tier = models.TierFree
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, tier, telegram_chat_id, whatsapp_number,
			telegram_enabled, whatsapp_enabled, email_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Email, string(u.Tier), u.TelegramChatID, u.WhatsAppNumber,
		u.TelegramEnabled, u.WhatsAppEnabled, u.EmailEnabled, u.CreatedAt,
	)
	if err != nil {
		return err
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) CreateFilter(ctx context.Context, f *models.Filter) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	f.CreatedAt = f.CreatedAt.UTC()
	f.LastNotificationSentAt = utcPtr(f.LastNotificationSentAt)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO filters (user_id, label, is_active, notify_enabled, city, district, property_type,
			min_price, max_price, min_rooms, max_rooms, min_bathrooms, min_area, max_area,
			cadence_hours, last_notification_sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		filterArgs(f)...,
	)
	if err != nil {
		return err
	}
	f.ID, err = res.LastInsertId()
	return err
}

// =============================================================================
// Ledger
// =============================================================================

func (s *SQLiteStore) SentListingIDs(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT listing_id FROM notification_ledger WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sent := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sent[id] = struct{}{}
	}
	return sent, rows.Err()
}

func (s *SQLiteStore) InsertLedgerEntries(ctx context.Context, entries []models.LedgerEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notification_ledger (user_id, filter_id, listing_id, channel, sent_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, listing_id) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx, e.UserID, e.FilterID, e.ListingID, e.Channel, e.SentAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("ledger insert listing %d: %w", e.ListingID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// =============================================================================
// Audit & Runs
// =============================================================================

func (s *SQLiteStore) CreateNotificationAudit(ctx context.Context, a *models.NotificationAudit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_audit (id, cycle_id, user_id, filter_id, listing_count, channel, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.CycleID.String(), a.UserID, a.FilterID, a.ListingCount,
		a.Channel, string(a.Status), a.Error, a.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) CreateIngestRun(ctx context.Context, run *models.IngestRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, started_at, status) VALUES (?, ?, ?)`,
		run.ID.String(), run.StartedAt.UTC(), string(run.Status),
	)
	return err
}

func (s *SQLiteStore) FinishIngestRun(ctx context.Context, run *models.IngestRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET
			finished_at = ?, status = ?, fetched = ?, created = ?, updated = ?,
			errors = ?, source_errors = ?, by_source = ?
		WHERE id = ?`,
		utcPtr(run.FinishedAt), string(run.Status), run.Fetched, run.Created, run.Updated,
		run.Errors, run.SourceErrors, run.BySourceJSON(), run.ID.String(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ingest run %s: %w", run.ID, sql.ErrNoRows)
	}
	return nil
}
