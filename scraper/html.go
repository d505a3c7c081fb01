package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"estate_notifier/config"
	"estate_notifier/httputil"
	"estate_notifier/models"
)

// Selector keys read from the source YAML. List keys are evaluated inside
// each "item"; detail_* keys against the whole detail page.
const (
	selItem          = "item"
	selLink          = "link"
	selIDAttr        = "id_attr"
	selTitle         = "title"
	selPrice         = "price"
	selPropertyType  = "property_type"
	selRooms         = "rooms"
	selBathrooms     = "bathrooms"
	selArea          = "area"
	selCity          = "city"
	selDistrict      = "district"
	selImage         = "image"
	selNext          = "next"
	selDescription   = "detail_description"
	selAddress       = "detail_address"
	selPostalCode    = "detail_postal_code"
	selFloor         = "detail_floor"
	selAgency        = "detail_agency"
	selDetailImages  = "detail_images"
	selDetailLatAttr = "detail_lat_attr"
	selDetailLngAttr = "detail_lng_attr"
	selDetailGeo     = "detail_geo"
)

// HTMLAdapter scrapes search result pages with CSS selectors and optionally
// enriches each result from its detail page.
type HTMLAdapter struct {
	cfg     *config.SourceConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTMLAdapter(cfg *config.SourceConfig, client *http.Client) *HTMLAdapter {
	return &HTMLAdapter{
		cfg:     cfg,
		client:  client,
		limiter: newLimiter(cfg.RateLimitMS),
	}
}

func (a *HTMLAdapter) ID() string {
	return a.cfg.ID
}

func (a *HTMLAdapter) Fetch(ctx context.Context, q Query) ([]models.Record, error) {
	endpoint := a.cfg.Endpoints["search"]
	if endpoint == "" {
		return nil, fmt.Errorf("source %s: no search endpoint", a.cfg.ID)
	}
	if a.cfg.Selectors[selItem] == "" {
		return nil, fmt.Errorf("source %s: no item selector", a.cfg.ID)
	}

	pageURL, err := searchURL(endpoint, q, 1)
	if err != nil {
		return nil, err
	}

	var records []models.Record
	seen := make(map[string]bool)
	maxPages := pageLimit(q)

	for page := 1; page <= maxPages && pageURL != ""; page++ {
		doc, base, err := a.load(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		found := a.parseList(doc, base)
		added := 0
		for _, r := range found {
			if seen[r.ExternalID] {
				continue
			}
			seen[r.ExternalID] = true
			records = append(records, r)
			added++
		}
		log.Printf("[%s] page %d: %d records (total: %d)", a.cfg.ID, page, added, len(records))
		if added == 0 {
			break
		}

		pageURL = a.nextPage(doc, base, q, page)
	}

	a.enrich(ctx, records)
	return records, nil
}

func (a *HTMLAdapter) load(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	body, err := httputil.Get(ctx, a.client, rawURL, map[string]string{"Accept": "text/html"})
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(rawURL)
	return doc, base, nil
}

// nextPage follows the configured "next" link, or falls back to the page
// query parameter when no next selector is configured.
func (a *HTMLAdapter) nextPage(doc *goquery.Document, base *url.URL, q Query, page int) string {
	if sel := a.cfg.Selectors[selNext]; sel != "" {
		href, ok := doc.Find(sel).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return ""
		}
		return resolve(base, href)
	}
	next, err := searchURL(a.cfg.Endpoints["search"], q, page+1)
	if err != nil {
		return ""
	}
	return next
}

func (a *HTMLAdapter) parseList(doc *goquery.Document, base *url.URL) []models.Record {
	sel := a.cfg.Selectors
	var records []models.Record

	doc.Find(sel[selItem]).Each(func(_ int, item *goquery.Selection) {
		link := ""
		if s := sel[selLink]; s != "" {
			if href, ok := item.Find(s).First().Attr("href"); ok {
				link = resolve(base, href)
			}
		} else if href, ok := item.Attr("href"); ok {
			link = resolve(base, href)
		}

		id := ""
		idAttr := sel[selIDAttr]
		if idAttr == "" {
			idAttr = "data-id"
		}
		if v, ok := item.Attr(idAttr); ok {
			id = strings.TrimSpace(v)
		}
		if id == "" && link != "" {
			id = idFromURL(link)
		}
		if id == "" {
			return
		}

		r := models.Record{
			Source:       a.cfg.ID,
			ExternalID:   id,
			URL:          link,
			Title:        text(item, sel[selTitle]),
			PropertyType: text(item, sel[selPropertyType]),
			City:         text(item, sel[selCity]),
			District:     text(item, sel[selDistrict]),
			Price:        parseAmount(text(item, sel[selPrice])),
			Rooms:        parseCount(text(item, sel[selRooms])),
			Bathrooms:    parseCount(text(item, sel[selBathrooms])),
			Area:         parseAmount(text(item, sel[selArea])),
		}
		if r.Price != nil {
			r.Currency = currencyOf(text(item, sel[selPrice]))
		}
		if s := sel[selImage]; s != "" {
			if src := imageSrc(item.Find(s).First()); src != "" {
				r.Images = []string{resolve(base, src)}
			}
		}
		records = append(records, r)
	})

	return records
}

// enrich fetches detail pages with at most max_detail_fetches requests in
// flight. A failed detail fetch keeps the list-page data.
func (a *HTMLAdapter) enrich(ctx context.Context, records []models.Record) {
	if a.cfg.MaxDetailFetches <= 0 || !a.hasDetailSelectors() {
		return
	}

	sem := semaphore.NewWeighted(int64(a.cfg.MaxDetailFetches))
	var wg sync.WaitGroup

	for i := range records {
		if records[i].URL == "" {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(r *models.Record) {
			defer wg.Done()
			defer sem.Release(1)
			if err := a.fetchDetail(ctx, r); err != nil {
				log.Printf("[%s] detail %s: %v", a.cfg.ID, r.ExternalID, err)
			}
		}(&records[i])
	}

	wg.Wait()
}

func (a *HTMLAdapter) hasDetailSelectors() bool {
	for k, v := range a.cfg.Selectors {
		if strings.HasPrefix(k, "detail_") && v != "" {
			return true
		}
	}
	return false
}

func (a *HTMLAdapter) fetchDetail(ctx context.Context, r *models.Record) error {
	doc, base, err := a.load(ctx, r.URL)
	if err != nil {
		return err
	}
	a.applyDetail(doc.Selection, base, r)
	return nil
}

func (a *HTMLAdapter) applyDetail(page *goquery.Selection, base *url.URL, r *models.Record) {
	sel := a.cfg.Selectors

	if v := text(page, sel[selDescription]); v != "" {
		r.Description = v
	}
	if v := text(page, sel[selAddress]); v != "" {
		r.Address = v
	}
	if v := text(page, sel[selPostalCode]); v != "" {
		r.PostalCode = v
	}
	if v := text(page, sel[selFloor]); v != "" {
		r.Floor = v
	}
	if v := text(page, sel[selAgency]); v != "" {
		r.AgencyName = v
	}

	if s := sel[selDetailImages]; s != "" {
		var images []string
		page.Find(s).Each(func(_ int, img *goquery.Selection) {
			if src := imageSrc(img); src != "" {
				images = append(images, resolve(base, src))
			}
		})
		if len(images) > 0 {
			r.Images = images
		}
	}

	if s := sel[selDetailGeo]; s != "" {
		geo := page.Find(s).First()
		latAttr, lngAttr := sel[selDetailLatAttr], sel[selDetailLngAttr]
		if latAttr == "" {
			latAttr = "data-lat"
		}
		if lngAttr == "" {
			lngAttr = "data-lng"
		}
		if v, ok := geo.Attr(latAttr); ok {
			r.Latitude = parseFloat(v)
		}
		if v, ok := geo.Attr(lngAttr); ok {
			r.Longitude = parseFloat(v)
		}
	}
}

// =============================================================================
// Parsing helpers
// =============================================================================

func text(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(s.Find(selector).First().Text()), " ")
}

func imageSrc(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

var trailingID = regexp.MustCompile(`(\d{4,})`)

// idFromURL takes the last long digit run of the path, or the last segment.
func idFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.TrimSuffix(u.Path, "/")
	if m := trailingID.FindAllString(p, -1); len(m) > 0 {
		return m[len(m)-1]
	}
	return path.Base(p)
}

// numberRun is one amount: digits, then groups of exactly three digits after a
// separator or a single space, then an optional decimal part. Numbers further
// along the text ("1.200 € 2 locali") are not merged in.
var numberRun = regexp.MustCompile(`\d+(?:[.,\s\x{00a0}]\d{3})*(?:[.,]\d+)?`)

// parseAmount reads prices and areas as sites print them: "€ 250.000",
// "1,250,000 €", "85,5 m²". A lone separator followed by exactly three
// digits is a thousands separator.
func parseAmount(s string) *float64 {
	m := numberRun.FindString(s)
	if m == "" {
		return nil
	}
	m = strings.Join(strings.Fields(m), "")
	m = strings.TrimRight(m, ".,")

	lastDot := strings.LastIndex(m, ".")
	lastComma := strings.LastIndex(m, ",")

	var normalized string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		dec := lastDot
		thou := ","
		if lastComma > lastDot {
			dec, thou = lastComma, "."
		}
		normalized = strings.ReplaceAll(m[:dec], thou, "") + "." + m[dec+1:]
	case lastDot >= 0 || lastComma >= 0:
		sep := "."
		idx := lastDot
		if lastComma >= 0 {
			sep, idx = ",", lastComma
		}
		if strings.Count(m, sep) > 1 || len(m)-idx-1 == 3 {
			normalized = strings.ReplaceAll(m, sep, "")
		} else {
			normalized = strings.Replace(m, sep, ".", 1)
		}
	default:
		normalized = m
	}

	return parseFloat(normalized)
}

func parseFloat(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

var firstInt = regexp.MustCompile(`\d+`)

func parseCount(s string) *int {
	m := firstInt.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

func currencyOf(s string) string {
	switch {
	case strings.Contains(s, "€"), strings.Contains(strings.ToUpper(s), "EUR"):
		return "EUR"
	case strings.Contains(s, "£"), strings.Contains(strings.ToUpper(s), "GBP"):
		return "GBP"
	case strings.Contains(s, "$"), strings.Contains(strings.ToUpper(s), "USD"):
		return "USD"
	}
	return ""
}
