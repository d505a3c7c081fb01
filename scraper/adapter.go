package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"estate_notifier/config"
	"estate_notifier/httputil"
	"estate_notifier/models"
)

// Query is one search a source runs per ingestion pass.
type Query struct {
	City         string
	PropertyType string
	MinPrice     float64
	MaxPrice     float64
	MaxPages     int
}

func (q Query) String() string {
	parts := []string{}
	if q.City != "" {
		parts = append(parts, "city="+q.City)
	}
	if q.PropertyType != "" {
		parts = append(parts, "type="+q.PropertyType)
	}
	if q.MinPrice > 0 || q.MaxPrice > 0 {
		parts = append(parts, fmt.Sprintf("price=%.0f-%.0f", q.MinPrice, q.MaxPrice))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}

// Adapter produces normalized records for one listing source.
type Adapter interface {
	ID() string
	Fetch(ctx context.Context, q Query) ([]models.Record, error)
}

// NewAdapter builds the adapter named by the source's YAML.
func NewAdapter(cfg *config.SourceConfig, clients *httputil.Clients) (Adapter, error) {
	client := clients.For(cfg.UseProxy)
	switch cfg.Adapter {
	case "json", "":
		return NewJSONFeedAdapter(cfg, client), nil
	case "html":
		return NewHTMLAdapter(cfg, client), nil
	default:
		return nil, fmt.Errorf("source %s: unknown adapter %q", cfg.ID, cfg.Adapter)
	}
}

// QueriesFor expands the source's configured searches. A source without
// searches runs one unconstrained query.
func QueriesFor(cfg *config.SourceConfig) []Query {
	if len(cfg.Searches) == 0 {
		return []Query{{MaxPages: cfg.MaxPages}}
	}
	queries := make([]Query, 0, len(cfg.Searches))
	for _, s := range cfg.Searches {
		queries = append(queries, Query{
			City:         s.City,
			PropertyType: s.PropertyType,
			MinPrice:     s.MinPrice,
			MaxPrice:     s.MaxPrice,
			MaxPages:     cfg.MaxPages,
		})
	}
	return queries
}

func newLimiter(rateLimitMS int) *rate.Limiter {
	if rateLimitMS <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Duration(rateLimitMS)*time.Millisecond), 1)
}

// searchURL appends the query and page number to the source's search endpoint.
func searchURL(endpoint string, q Query, page int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	v := u.Query()
	if q.City != "" {
		v.Set("city", q.City)
	}
	if q.PropertyType != "" {
		v.Set("property_type", q.PropertyType)
	}
	if q.MinPrice > 0 {
		v.Set("min_price", strconv.FormatFloat(q.MinPrice, 'f', -1, 64))
	}
	if q.MaxPrice > 0 {
		v.Set("max_price", strconv.FormatFloat(q.MaxPrice, 'f', -1, 64))
	}
	v.Set("page", strconv.Itoa(page))
	u.RawQuery = v.Encode()
	return u.String(), nil
}

func pageLimit(q Query) int {
	if q.MaxPages <= 0 {
		return 50
	}
	return q.MaxPages
}
