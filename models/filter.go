package models

import "time"

// Criteria is a saved search predicate. A nil field imposes no constraint.
type Criteria struct {
	City         *string  `json:"city,omitempty"`
	District     *string  `json:"district,omitempty"`
	PropertyType *string  `json:"property_type,omitempty"`
	MinPrice     *float64 `json:"min_price,omitempty"`
	MaxPrice     *float64 `json:"max_price,omitempty"`
	MinRooms     *int     `json:"min_rooms,omitempty"`
	MaxRooms     *int     `json:"max_rooms,omitempty"`
	MinBathrooms *int     `json:"min_bathrooms,omitempty"`
	MinArea      *float64 `json:"min_area,omitempty"`
	MaxArea      *float64 `json:"max_area,omitempty"`
}

// Filter is a user's saved search plus its throttle bookkeeping.
type Filter struct {
	ID                     int64      `json:"id" db:"id"`
	UserID                 int64      `json:"user_id" db:"user_id"`
	Label                  string     `json:"label" db:"label"`
	IsActive               bool       `json:"is_active" db:"is_active"`
	NotifyEnabled          bool       `json:"notify_enabled" db:"notify_enabled"`
	Criteria               Criteria   `json:"criteria" db:"-"`
	CadenceHours           *int       `json:"cadence_hours" db:"cadence_hours"`
	LastNotificationSentAt *time.Time `json:"last_notification_sent_at" db:"last_notification_sent_at"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
}

// FirstRun reports whether the filter has never produced a notification.
func (f *Filter) FirstRun() bool {
	return f.LastNotificationSentAt == nil
}

// Ptr returns a pointer to v. Handy for building criteria.
func Ptr[T any](v T) *T {
	return &v
}
