package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"estate_notifier/config"
	"estate_notifier/httputil"
	"estate_notifier/models"
)

// JSONFeedAdapter pages through an endpoint that already emits normalized
// records:
//
//	{"results": [{"external_id": "...", ...}], "total_pages": 4}
//
// A bare JSON array is accepted as a single page.
type JSONFeedAdapter struct {
	cfg     *config.SourceConfig
	client  *http.Client
	limiter *rate.Limiter
	retries int
	backoff time.Duration
}

func NewJSONFeedAdapter(cfg *config.SourceConfig, client *http.Client) *JSONFeedAdapter {
	return &JSONFeedAdapter{
		cfg:     cfg,
		client:  client,
		limiter: newLimiter(cfg.RateLimitMS),
		retries: 3,
		backoff: time.Second,
	}
}

func (a *JSONFeedAdapter) ID() string {
	return a.cfg.ID
}

type feedPage struct {
	Results    []json.RawMessage `json:"results"`
	TotalPages int               `json:"total_pages"`
}

// SkippedRecordsError reports records that could not be decoded. Fetch
// returns it together with every record that did decode.
type SkippedRecordsError struct {
	Source string
	Count  int
}

func (e *SkippedRecordsError) Error() string {
	return fmt.Sprintf("source %s: skipped %d undecodable records", e.Source, e.Count)
}

func (a *JSONFeedAdapter) Fetch(ctx context.Context, q Query) ([]models.Record, error) {
	endpoint := a.cfg.Endpoints["search"]
	if endpoint == "" {
		return nil, fmt.Errorf("source %s: no search endpoint", a.cfg.ID)
	}

	var all []models.Record
	skipped := 0
	maxPages := pageLimit(q)

	for page := 1; page <= maxPages; page++ {
		raw, totalPages, err := a.fetchPage(ctx, endpoint, q, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(raw) == 0 {
			break
		}

		records := make([]models.Record, 0, len(raw))
		for i, item := range raw {
			var rec models.Record
			if err := json.Unmarshal(item, &rec); err != nil {
				skipped++
				log.Printf("[%s] page %d record %d: decode: %v", a.cfg.ID, page, i, err)
				continue
			}
			records = append(records, rec)
		}

		for i := range records {
			if records[i].Source == "" {
				records[i].Source = a.cfg.ID
			}
		}
		all = append(all, records...)
		log.Printf("[%s] page %d: %d records (total: %d)", a.cfg.ID, page, len(records), len(all))

		if totalPages > 0 && page >= totalPages {
			break
		}
	}

	if skipped > 0 {
		return all, &SkippedRecordsError{Source: a.cfg.ID, Count: skipped}
	}
	return all, nil
}

// fetchPage returns the page's records undecoded so one bad record cannot
// fail the page.
func (a *JSONFeedAdapter) fetchPage(ctx context.Context, endpoint string, q Query, page int) ([]json.RawMessage, int, error) {
	pageURL, err := searchURL(endpoint, q, page)
	if err != nil {
		return nil, 0, err
	}

	var body []byte
	err = httputil.Retry(ctx, a.cfg.ID+" fetch", a.retries, a.backoff, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		body, err = httputil.Get(ctx, a.client, pageURL, map[string]string{"Accept": "application/json"})
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, 0, fmt.Errorf("decode: %w", err)
		}
		return records, 1, nil
	}

	var result feedPage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, 0, fmt.Errorf("decode: %w", err)
	}
	return result.Results, result.TotalPages, nil
}
