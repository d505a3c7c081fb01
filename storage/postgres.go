package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"estate_notifier/identity"
	"estate_notifier/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		external_id TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		price NUMERIC,
		currency TEXT NOT NULL DEFAULT '',
		property_type TEXT NOT NULL DEFAULT '',
		rooms INTEGER,
		bathrooms INTEGER,
		area NUMERIC,
		floor TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		city_norm TEXT NOT NULL DEFAULT '',
		district TEXT NOT NULL DEFAULT '',
		district_norm TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		images JSONB NOT NULL DEFAULT '[]',
		agency_name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ,
		UNIQUE (source, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_created ON listings(created_at DESC) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_listings_city ON listings(city_norm)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen_at) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT 'free',
		telegram_chat_id TEXT NOT NULL DEFAULT '',
		whatsapp_number TEXT NOT NULL DEFAULT '',
		telegram_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		whatsapp_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		email_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS filters (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		label TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		notify_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		city TEXT,
		district TEXT,
		property_type TEXT,
		min_price NUMERIC,
		max_price NUMERIC,
		min_rooms INTEGER,
		max_rooms INTEGER,
		min_bathrooms INTEGER,
		min_area NUMERIC,
		max_area NUMERIC,
		cadence_hours INTEGER,
		last_notification_sent_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_filters_user ON filters(user_id) WHERE is_active AND notify_enabled`,
	`CREATE TABLE IF NOT EXISTS notification_ledger (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		filter_id BIGINT NOT NULL,
		listing_id BIGINT NOT NULL REFERENCES listings(id),
		channel TEXT NOT NULL DEFAULT '',
		sent_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, listing_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notification_audit (
		id UUID PRIMARY KEY,
		cycle_id UUID NOT NULL,
		user_id BIGINT NOT NULL,
		filter_id BIGINT NOT NULL,
		listing_count INTEGER NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ingest_runs (
		id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		fetched INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		source_errors INTEGER NOT NULL DEFAULT 0,
		by_source JSONB NOT NULL DEFAULT '{}'
	)`,
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) (bool, error) {
	query := `
		INSERT INTO listings (
			source, external_id, url, title, description, price, currency, property_type,
			rooms, bathrooms, area, floor, city, city_norm, district, district_norm, address,
			postal_code, latitude, longitude, images, agency_name, is_active, created_at,
			last_seen_at, published_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, TRUE, $23, $24, $25
		)
		ON CONFLICT (source, external_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			description = COALESCE(NULLIF(EXCLUDED.description, ''), listings.description),
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			property_type = EXCLUDED.property_type,
			rooms = EXCLUDED.rooms,
			bathrooms = EXCLUDED.bathrooms,
			area = EXCLUDED.area,
			floor = EXCLUDED.floor,
			city = EXCLUDED.city,
			city_norm = EXCLUDED.city_norm,
			district = EXCLUDED.district,
			district_norm = EXCLUDED.district_norm,
			address = EXCLUDED.address,
			postal_code = EXCLUDED.postal_code,
			latitude = COALESCE(EXCLUDED.latitude, listings.latitude),
			longitude = COALESCE(EXCLUDED.longitude, listings.longitude),
			images = EXCLUDED.images,
			agency_name = EXCLUDED.agency_name,
			is_active = TRUE,
			last_seen_at = EXCLUDED.last_seen_at,
			published_at = COALESCE(EXCLUDED.published_at, listings.published_at)
		RETURNING id, (xmax = 0)`

	var created bool
	err := s.pool.QueryRow(ctx, query,
		l.Source, l.ExternalID, l.URL, l.Title, l.Description, l.Price, l.Currency, l.PropertyType,
		l.Rooms, l.Bathrooms, l.Area, l.Floor, l.City, identity.Fold(l.City), l.District, identity.Fold(l.District), l.Address,
		l.PostalCode, l.Latitude, l.Longitude, l.ImagesJSON(), l.AgencyName, l.CreatedAt,
		l.LastSeenAt, l.PublishedAt,
	).Scan(&l.ID, &created)
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *PostgresStore) FindListings(ctx context.Context, c models.Criteria, w ListingWindow) ([]models.Listing, error) {
	query, args := buildListingQuery(c, w, dollarPlaceholder)

	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *PostgresStore) DeactivateStaleListings(ctx context.Context, seenBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET is_active = FALSE WHERE is_active AND last_seen_at < $1`, seenBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Users & Filters
// =============================================================================

func (s *PostgresStore) ListNotifiableUsers(ctx context.Context) ([]models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE (telegram_enabled AND telegram_chat_id <> '')
			OR (whatsapp_enabled AND whatsapp_number <> '')
			OR (email_enabled AND email <> '')
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
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

func (s *PostgresStore) ListUserFilters(ctx context.Context, userID int64) ([]models.Filter, error) {
	query := `
		SELECT ` + filterColumns + `
		FROM filters
		WHERE user_id = $1 AND is_active AND notify_enabled
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query, userID)
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

func (s *PostgresStore) MarkFilterNotified(ctx context.Context, filterID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE filters SET last_notification_sent_at = $2 WHERE id = $1`, filterID, at)
	return err
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Tier == "" {
		u.Tier = models.TierFree
	}
	query := `
		INSERT INTO users (email, tier, telegram_chat_id, whatsapp_number,
			telegram_enabled, whatsapp_enabled, email_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		u.Email, string(u.Tier), u.TelegramChatID, u.WhatsAppNumber,
		u.TelegramEnabled, u.WhatsAppEnabled, u.EmailEnabled, u.CreatedAt,
	).Scan(&u.ID)
}

func (s *PostgresStore) CreateFilter(ctx context.Context, f *models.Filter) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO filters (user_id, label, is_active, notify_enabled, city, district, property_type,
			min_price, max_price, min_rooms, max_rooms, min_bathrooms, min_area, max_area,
			cadence_hours, last_notification_sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`

	return s.pool.QueryRow(ctx, query, filterArgs(f)...).Scan(&f.ID)
}

// =============================================================================
// Ledger
// =============================================================================

func (s *PostgresStore) SentListingIDs(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT listing_id FROM notification_ledger WHERE user_id = $1`, userID)
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

func (s *PostgresStore) InsertLedgerEntries(ctx context.Context, entries []models.LedgerEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO notification_ledger (user_id, filter_id, listing_id, channel, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, listing_id) DO NOTHING`

	inserted := 0
	for _, e := range entries {
		tag, err := tx.Exec(ctx, query, e.UserID, e.FilterID, e.ListingID, e.Channel, e.SentAt)
		if err != nil {
			return 0, fmt.Errorf("ledger insert listing %d: %w", e.ListingID, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

// =============================================================================
// Audit & Runs
// =============================================================================

func (s *PostgresStore) CreateNotificationAudit(ctx context.Context, a *models.NotificationAudit) error {
	query := `
		INSERT INTO notification_audit (id, cycle_id, user_id, filter_id, listing_count, channel, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.CycleID, a.UserID, a.FilterID, a.ListingCount, a.Channel, string(a.Status), a.Error, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) CreateIngestRun(ctx context.Context, run *models.IngestRun) error {
	query := `
		INSERT INTO ingest_runs (id, started_at, status)
		VALUES ($1, $2, $3)`

	_, err := s.pool.Exec(ctx, query, run.ID, run.StartedAt, string(run.Status))
	return err
}

func (s *PostgresStore) FinishIngestRun(ctx context.Context, run *models.IngestRun) error {
	query := `
		UPDATE ingest_runs SET
			finished_at = $2, status = $3, fetched = $4, created = $5, updated = $6,
			errors = $7, source_errors = $8, by_source = $9
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, string(run.Status), run.Fetched, run.Created, run.Updated,
		run.Errors, run.SourceErrors, run.BySourceJSON(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ingest run %s: %w", run.ID, pgx.ErrNoRows)
	}
	return nil
}
