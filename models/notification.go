package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntry records that a user has been notified about a listing.
// (UserID, ListingID) is unique; FilterID is informational.
type LedgerEntry struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	FilterID  int64     `json:"filter_id" db:"filter_id"`
	ListingID int64     `json:"listing_id" db:"listing_id"`
	Channel   string    `json:"channel" db:"channel"`
	SentAt    time.Time `json:"sent_at" db:"sent_at"`
}

type AuditStatus string

const (
	AuditStatusSent   AuditStatus = "sent"
	AuditStatusFailed AuditStatus = "failed"
)

// NotificationAudit summarizes one dispatch attempt. Reporting only.
type NotificationAudit struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	CycleID      uuid.UUID   `json:"cycle_id" db:"cycle_id"`
	UserID       int64       `json:"user_id" db:"user_id"`
	FilterID     int64       `json:"filter_id" db:"filter_id"`
	ListingCount int         `json:"listing_count" db:"listing_count"`
	Channel      string      `json:"channel" db:"channel"`
	Status       AuditStatus `json:"status" db:"status"`
	Error        string      `json:"error" db:"error"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}
