package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUnmarshalAcceptsScalars(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{
		"source": "feed", "external_id": 9001, "price": "199000.50",
		"rooms": 2.0, "bathrooms": "1", "area": 70, "floor": 3,
		"postal_code": 40121, "latitude": 44.49, "longitude": "11.34",
		"published_at": 1777626000, "images": ["a.jpg"]
	}`), &r)
	require.NoError(t, err)

	assert.Equal(t, "feed", r.Source)
	assert.Equal(t, "9001", r.ExternalID)
	assert.Equal(t, 199000.5, *r.Price)
	assert.Equal(t, 2, *r.Rooms)
	assert.Equal(t, 1, *r.Bathrooms)
	assert.Equal(t, 70.0, *r.Area)
	assert.Equal(t, "3", r.Floor)
	assert.Equal(t, "40121", r.PostalCode)
	assert.Equal(t, 11.34, *r.Longitude)
	assert.Equal(t, time.Unix(1777626000, 0).UTC(), *r.PublishedAt)
	assert.Equal(t, []string{"a.jpg"}, r.Images)
}

func TestRecordUnmarshalDropsUnconvertible(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{
		"source": "feed", "external_id": "x", "price": "su richiesta",
		"rooms": null, "area": "", "published_at": "next week"
	}`), &r)
	require.NoError(t, err)

	assert.Nil(t, r.Price)
	assert.Nil(t, r.Rooms)
	assert.Nil(t, r.Area)
	assert.Nil(t, r.PublishedAt)
	assert.NoError(t, r.Validate())
}

func TestRecordUnmarshalRejectsStructuredScalar(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{"source": "feed", "external_id": "x", "floor": {"n": 2}}`), &r)
	assert.Error(t, err)
}
