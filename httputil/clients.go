package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"estate_notifier/config"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

type Clients struct {
	Scraping *http.Client // proxied when PROXY_URL is set, for listing sources
	Direct   *http.Client // unproxied, for sources that opt out
	API      *http.Client // messaging providers
}

func NewClients(proxyCfg config.ProxyConfig) *Clients {
	direct := &http.Client{Timeout: 30 * time.Second}

	scraping := direct
	if proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport := http.DefaultTransport.(*http.Transport).Clone()
			transport.Proxy = http.ProxyURL(proxyURL)
			scraping = &http.Client{Timeout: 30 * time.Second, Transport: transport}
			log.Printf("[http] scraping through proxy %s", proxyURL.Host)
		} else {
			log.Printf("[http] ignoring unparseable PROXY_URL: %v", err)
		}
	}

	return &Clients{
		Scraping: scraping,
		Direct:   direct,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}

// For picks the client a source should use.
func (c *Clients) For(useProxy bool) *http.Client {
	if useProxy {
		return c.Scraping
	}
	return c.Direct
}

// StatusError is returned for non-2xx responses. Body is truncated.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Get fetches url and returns the body of a 2xx response.
func Get(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Retry runs fn up to attempts times with exponential backoff starting at
// base. Errors for which retryable returns false end the loop early.
func Retry(ctx context.Context, op string, attempts int, base time.Duration, fn func() error) error {
	var lastErr error
	delay := base

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.Retryable() {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		log.Printf("[retry] %s failed (attempt %d/%d): %v, retrying in %v", op, attempt, attempts, lastErr, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}
