package scraper

import (
	"estate_notifier/config"
	"estate_notifier/httputil"
)

func newTestClients() *httputil.Clients {
	return httputil.NewClients(config.ProxyConfig{})
}
