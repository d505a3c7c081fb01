package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrMissingNaturalKey is returned when a record has no source or external id.
var ErrMissingNaturalKey = errors.New("record missing source or external_id")

// Listing is one scraped property ad in canonical form.
// (Source, ExternalID) is the natural key; ID is only used for foreign keys.
type Listing struct {
	ID           int64      `json:"id" db:"id"`
	Source       string     `json:"source" db:"source"`           // idealista, immobiliare, etc.
	ExternalID   string     `json:"external_id" db:"external_id"` // site-native id
	URL          string     `json:"url" db:"url"`
	Title        string     `json:"title" db:"title"`
	Description  string     `json:"description" db:"description"`
	Price        *float64   `json:"price" db:"price"`
	Currency     string     `json:"currency" db:"currency"`
	PropertyType string     `json:"property_type" db:"property_type"` // apartment, house, room, etc.
	Rooms        *int       `json:"rooms" db:"rooms"`
	Bathrooms    *int       `json:"bathrooms" db:"bathrooms"`
	Area         *float64   `json:"area" db:"area"` // square meters
	Floor        string     `json:"floor" db:"floor"`
	City         string     `json:"city" db:"city"`
	District     string     `json:"district" db:"district"`
	Address      string     `json:"address" db:"address"`
	PostalCode   string     `json:"postal_code" db:"postal_code"`
	Latitude     *float64   `json:"latitude" db:"latitude"`
	Longitude    *float64   `json:"longitude" db:"longitude"`
	Images       []string   `json:"images" db:"images"`
	AgencyName   string     `json:"agency_name" db:"agency_name"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`     // first seen
	LastSeenAt   time.Time  `json:"last_seen_at" db:"last_seen_at"` // most recent confirmation
	PublishedAt  *time.Time `json:"published_at" db:"published_at"` // source-reported
}

// ImagesJSON encodes the image list for storage.
func (l *Listing) ImagesJSON() string {
	if len(l.Images) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(l.Images)
	return string(data)
}

// SetImagesJSON decodes a stored image list. Malformed values yield no images.
func (l *Listing) SetImagesJSON(raw string) {
	l.Images = nil
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), &l.Images)
}

// Location returns the most specific human readable location available.
func (l *Listing) Location() string {
	parts := make([]string, 0, 2)
	if l.District != "" {
		parts = append(parts, l.District)
	}
	if l.City != "" {
		parts = append(parts, l.City)
	}
	if len(parts) == 0 {
		return l.Address
	}
	return strings.Join(parts, ", ")
}

// Record is the normalized shape every source adapter produces.
// Only Source and ExternalID are required.
type Record struct {
	Source       string     `json:"source"`
	ExternalID   string     `json:"external_id"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Price        *float64   `json:"price"`
	Currency     string     `json:"currency"`
	PropertyType string     `json:"property_type"`
	Rooms        *int       `json:"rooms"`
	Bathrooms    *int       `json:"bathrooms"`
	Area         *float64   `json:"area"`
	Floor        string     `json:"floor"`
	City         string     `json:"city"`
	District     string     `json:"district"`
	Address      string     `json:"address"`
	PostalCode   string     `json:"postal_code"`
	Latitude     *float64   `json:"latitude"`
	Longitude    *float64   `json:"longitude"`
	Images       []string   `json:"images"`
	AgencyName   string     `json:"agency_name"`
	PublishedAt  *time.Time `json:"published_at"`
}

// Validate checks the natural key is present.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Source) == "" || strings.TrimSpace(r.ExternalID) == "" {
		return ErrMissingNaturalKey
	}
	return nil
}

// ToListing builds the canonical listing for a record seen at now.
func (r *Record) ToListing(now time.Time) *Listing {
	currency := strings.ToUpper(strings.TrimSpace(r.Currency))
	if currency == "" && r.Price != nil {
		currency = DefaultCurrency
	}
	return &Listing{
		Source:       strings.TrimSpace(r.Source),
		ExternalID:   strings.TrimSpace(r.ExternalID),
		URL:          strings.TrimSpace(r.URL),
		Title:        strings.TrimSpace(r.Title),
		Description:  strings.TrimSpace(r.Description),
		Price:        r.Price,
		Currency:     currency,
		PropertyType: strings.ToLower(strings.TrimSpace(r.PropertyType)),
		Rooms:        r.Rooms,
		Bathrooms:    r.Bathrooms,
		Area:         r.Area,
		Floor:        strings.TrimSpace(r.Floor),
		City:         strings.TrimSpace(r.City),
		District:     strings.TrimSpace(r.District),
		Address:      strings.TrimSpace(r.Address),
		PostalCode:   strings.TrimSpace(r.PostalCode),
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		Images:       r.Images,
		AgencyName:   strings.TrimSpace(r.AgencyName),
		IsActive:     true,
		CreatedAt:    now,
		LastSeenAt:   now,
		PublishedAt:  r.PublishedAt,
	}
}

const DefaultCurrency = "EUR"
