package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// publishedLayouts are tried in order for string timestamps.
var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// scalar is a JSON number, string or null kept in textual form. Producers
// disagree on whether "rooms" is 3 or "3", so fields typed as scalars accept
// either and are converted afterwards.
type scalar struct {
	text  string
	valid bool
}

func (s *scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = scalar{}
	case data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		*s = scalar{text: str, valid: str != ""}
	case data[0] == '{' || data[0] == '[':
		return fmt.Errorf("expected number or string, got %s", data)
	default:
		*s = scalar{text: string(data), valid: true}
	}
	return nil
}

func (s scalar) asFloat() *float64 {
	if !s.valid {
		return nil
	}
	f, err := strconv.ParseFloat(s.text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func (s scalar) asInt() *int {
	f := s.asFloat()
	if f == nil {
		return nil
	}
	n := int(math.Round(*f))
	return &n
}

func (s scalar) asTime() *time.Time {
	if !s.valid {
		return nil
	}
	if secs, err := strconv.ParseInt(s.text, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s.text); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// UnmarshalJSON decodes a producer record. Numeric and identifier fields
// accept numbers or strings; values that cannot be converted are dropped
// rather than failing the record.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	aux := struct {
		*plain
		ExternalID  scalar `json:"external_id"`
		Price       scalar `json:"price"`
		Rooms       scalar `json:"rooms"`
		Bathrooms   scalar `json:"bathrooms"`
		Area        scalar `json:"area"`
		Floor       scalar `json:"floor"`
		PostalCode  scalar `json:"postal_code"`
		Latitude    scalar `json:"latitude"`
		Longitude   scalar `json:"longitude"`
		PublishedAt scalar `json:"published_at"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.ExternalID = aux.ExternalID.text
	r.Price = aux.Price.asFloat()
	r.Rooms = aux.Rooms.asInt()
	r.Bathrooms = aux.Bathrooms.asInt()
	r.Area = aux.Area.asFloat()
	r.Floor = aux.Floor.text
	r.PostalCode = aux.PostalCode.text
	r.Latitude = aux.Latitude.asFloat()
	r.Longitude = aux.Longitude.asFloat()
	r.PublishedAt = aux.PublishedAt.asTime()
	return nil
}
