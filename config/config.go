package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"estate_notifier/secrets"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrUnknownDriver      = errors.New("DATABASE_DRIVER must be postgres or sqlite")
)

type Config struct {
	Database   DatabaseConfig
	Dispatch   DispatchConfig
	Throttle   ThrottleConfig
	Matching   MatchingConfig
	Scheduler  SchedulerConfig
	Scraper    ScraperConfig
	Proxy      ProxyConfig
	Telegram   TelegramConfig
	Twilio     TwilioConfig
	SMTP       SMTPConfig
	Debug      bool
	Keyring    string // keyring service name; empty disables keyring lookups
	LogFile    string
	LockPath   string
	SourcesDir string
	Sources    map[string]*SourceConfig
}

type DatabaseConfig struct {
	Driver string // postgres or sqlite
	URL    string
}

type DispatchConfig struct {
	Interval     time.Duration
	FilterPause  time.Duration
	UserPause    time.Duration
	SendTimeout  time.Duration
	Policy       string   // first_success or fanout
	ChannelOrder []string // delivery priority
	MaxItems     int      // listings enumerated per message
	SendsPerSec  float64  // per channel
}

type ThrottleConfig struct {
	FreeCadence  time.Duration
	PaidCadence  time.Duration
	DebugCadence time.Duration
}

type MatchingConfig struct {
	FirstRunCap int
	Lookback    time.Duration
	SteadyCap   int
}

type SchedulerConfig struct {
	Interval   time.Duration
	Cron       string
	StaleAfter time.Duration
	SweepEvery time.Duration
}

type ScraperConfig struct {
	MaxConcurrentSources int
	SourceTimeout        time.Duration
	IngestWorkers        int
}

type ProxyConfig struct {
	URL string
}

type TelegramConfig struct {
	BotToken string
	APIBase  string
}

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	WhatsAppFrom string
	APIBase      string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SourceConfig describes one listing source, loaded from config/sources/*.yaml.
type SourceConfig struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name"`
	Adapter          string            `yaml:"adapter"` // json or html
	Enabled          *bool             `yaml:"enabled"`
	RateLimitMS      int               `yaml:"rate_limit_ms"`
	MaxPages         int               `yaml:"max_pages"`
	MaxDetailFetches int               `yaml:"max_detail_fetches"`
	UseProxy         bool              `yaml:"use_proxy"`
	Endpoints        map[string]string `yaml:"endpoints"`
	Selectors        map[string]string `yaml:"selectors"`
	Searches         []Search          `yaml:"searches"`
}

// Search is one query a source is asked to run each ingestion pass.
type Search struct {
	City         string  `yaml:"city"`
	PropertyType string  `yaml:"property_type"`
	MinPrice     float64 `yaml:"min_price"`
	MaxPrice     float64 `yaml:"max_price"`
}

// IsEnabled defaults to true when the YAML omits the flag.
func (s *SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	keyringService := getEnv("KEYRING_SERVICE", "")

	cfg := &Config{
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
			URL:    os.Getenv("DATABASE_URL"),
		},
		Dispatch: DispatchConfig{
			Interval:     getEnvDuration("DISPATCH_INTERVAL", 5*time.Minute),
			FilterPause:  getEnvDuration("DISPATCH_FILTER_PAUSE", 500*time.Millisecond),
			UserPause:    getEnvDuration("DISPATCH_USER_PAUSE", time.Second),
			SendTimeout:  getEnvDuration("DISPATCH_SEND_TIMEOUT", 30*time.Second),
			Policy:       getEnv("DISPATCH_POLICY", "first_success"),
			ChannelOrder: getEnvList("CHANNEL_ORDER", []string{"telegram", "whatsapp", "email"}),
			MaxItems:     getEnvInt("DIGEST_MAX_ITEMS", 5),
			SendsPerSec:  getEnvFloat("CHANNEL_SENDS_PER_SEC", 1),
		},
		Throttle: ThrottleConfig{
			FreeCadence:  time.Duration(getEnvInt("CADENCE_FREE_HOURS", 6)) * time.Hour,
			PaidCadence:  time.Duration(getEnvInt("CADENCE_PAID_HOURS", 1)) * time.Hour,
			DebugCadence: getEnvDuration("DEBUG_CADENCE", 0),
		},
		Matching: MatchingConfig{
			FirstRunCap: getEnvInt("FIRST_RUN_CAP", 30),
			Lookback:    getEnvDuration("LOOKBACK_WINDOW", 24*time.Hour),
			SteadyCap:   getEnvInt("STEADY_CAP", 50),
		},
		Scheduler: SchedulerConfig{
			Cron:       os.Getenv("SCRAPE_CRON"),
			Interval:   getEnvDuration("SCRAPE_INTERVAL", 0),
			StaleAfter: getEnvDuration("LISTING_STALE_AFTER", 14*24*time.Hour),
			SweepEvery: getEnvDuration("LISTING_SWEEP_EVERY", 6*time.Hour),
		},
		Scraper: ScraperConfig{
			MaxConcurrentSources: getEnvInt("SCRAPE_MAX_CONCURRENT_SOURCES", 3),
			SourceTimeout:        getEnvDuration("SCRAPE_SOURCE_TIMEOUT", 10*time.Minute),
			IngestWorkers:        getEnvInt("INGEST_WORKERS", 4),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Telegram: TelegramConfig{
			BotToken: secrets.Lookup("TELEGRAM_BOT_TOKEN", keyringService),
			APIBase:  getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),
		},
		Twilio: TwilioConfig{
			AccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:    secrets.Lookup("TWILIO_AUTH_TOKEN", keyringService),
			WhatsAppFrom: os.Getenv("TWILIO_WHATSAPP_FROM"),
			APIBase:      getEnv("TWILIO_API_BASE", "https://api.twilio.com"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: secrets.Lookup("SMTP_PASSWORD", keyringService),
			From:     os.Getenv("SMTP_FROM"),
		},
		Debug:      getEnvBool("DEBUG", false),
		Keyring:    keyringService,
		LogFile:    getEnv("LOG_FILE", "notifier.log"),
		LockPath:   getEnv("LOCK_PATH", filepath.Join(os.TempDir(), "estate_notifier.lock")),
		SourcesDir: getEnv("SOURCES_DIR", "config/sources"),
		Sources:    make(map[string]*SourceConfig),
	}

	if cfg.Debug {
		cfg.Dispatch.Interval = getEnvDuration("DEBUG_DISPATCH_INTERVAL", 30*time.Second)
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports configuration that makes startup impossible.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return ErrMissingDatabaseURL
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("%w: got %q", ErrUnknownDriver, c.Database.Driver)
	}
	if c.Dispatch.Policy != "first_success" && c.Dispatch.Policy != "fanout" {
		return fmt.Errorf("DISPATCH_POLICY must be first_success or fanout, got %q", c.Dispatch.Policy)
	}
	if c.Matching.FirstRunCap <= 0 || c.Matching.SteadyCap <= 0 {
		return errors.New("FIRST_RUN_CAP and STEADY_CAP must be positive")
	}
	return nil
}

func (c *Config) loadSourceConfigs() error {
	entries, err := os.ReadDir(c.SourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(c.SourcesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if src.ID == "" {
			return fmt.Errorf("parse %s: missing id", path)
		}
		if !src.IsEnabled() {
			continue
		}

		c.Sources[src.ID] = &src
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("90s", "2h") or plain seconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
