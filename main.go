package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"estate_notifier/config"
	"estate_notifier/httputil"
	"estate_notifier/logging"
	"estate_notifier/notify"
	"estate_notifier/scheduler"
	"estate_notifier/scraper"
	"estate_notifier/secrets"
	"estate_notifier/services"
	"estate_notifier/storage"
	"estate_notifier/workers"
)

var (
	interval   = flag.Int("interval", 0, "Seconds between dispatch cycles (overrides DISPATCH_INTERVAL)")
	once       = flag.Bool("once", false, "Run one ingestion pass and one dispatch cycle, then exit")
	delayFirst = flag.Bool("delay-first", false, "Wait one interval before the first dispatch cycle")
	ingestOnly = flag.Bool("ingest-only", false, "Run one ingestion pass and exit")
	noIngest   = flag.Bool("no-ingest", false, "Never run ingestion from this process")
	setSecret  = flag.String("set-secret", "", "Read a credential from stdin and store it in the OS keyring under this name")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *setSecret != "" {
		storeSecret(cfg.Keyring, *setSecret)
		return
	}

	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting estate_notifier...")

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if *interval > 0 {
		cfg.Dispatch.Interval = time.Duration(*interval) * time.Second
	}

	lock := flock.New(cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("Failed to acquire lock %s: %v", cfg.LockPath, err)
	}
	if !locked {
		log.Fatalf("Another instance is running (lock held: %s)", cfg.LockPath)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer store.Close()
	log.Printf("Connected to %s: %s", cfg.Database.Driver, logging.MaskConnectionString(cfg.Database.URL))

	clients := httputil.NewClients(cfg.Proxy)

	// Ingestion
	ingestService := services.NewIngestService(store, cfg.Scraper.IngestWorkers)
	orchestrator := scraper.NewOrchestrator(cfg.Scraper, ingestService, store)
	if err := orchestrator.RegisterFromConfig(cfg.Sources, clients); err != nil {
		log.Fatalf("Failed to set up sources: %v", err)
	}
	log.Printf("Loaded %d source configs", len(cfg.Sources))

	if *ingestOnly {
		runIngestion(ctx, orchestrator)
		return
	}

	// Dispatch
	dispatcher := newDispatcher(cfg, clients)
	if len(dispatcher.Channels()) == 0 {
		log.Fatalf("No notification channels configured (set TELEGRAM_BOT_TOKEN, TWILIO_* or SMTP_*)")
	}
	log.Printf("Channels: %s (policy %s)", strings.Join(dispatcher.Channels(), ", "), cfg.Dispatch.Policy)

	matchService := services.NewMatchService(store, cfg.Matching)
	ledgerService := services.NewLedgerService(store)
	throttle := services.NewThrottle(cfg.Throttle, cfg.Debug, dispatcher.Channels())
	if cfg.Debug {
		log.Printf("DEBUG mode: cadence %s, dispatch every %s", cfg.Throttle.DebugCadence, cfg.Dispatch.Interval)
	}

	worker := workers.NewNotificationWorker(store, store, matchService, ledgerService, throttle, dispatcher, workers.NotificationConfig{
		FilterPause:  cfg.Dispatch.FilterPause,
		UserPause:    cfg.Dispatch.UserPause,
		FilterBudget: cfg.Dispatch.SendTimeout * time.Duration(len(dispatcher.Channels())+1),
	})

	if *once {
		if !*noIngest {
			runIngestion(ctx, orchestrator)
		}
		worker.Run(ctx, workers.RunOptions{Interval: cfg.Dispatch.Interval, Once: true, DelayFirst: *delayFirst})
		log.Println("Single cycle complete")
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg.Scheduler, orchestrator)
	if !*noIngest {
		if sched.Enabled() {
			if err := sched.Start(ctx); err != nil {
				log.Fatalf("Failed to start scheduler: %v", err)
			}
		} else {
			worker.SetPreCycle(func(ctx context.Context) { runIngestion(ctx, orchestrator) })
			log.Println("Ingestion runs before every dispatch cycle")
		}
	}

	stalenessWorker := workers.NewStalenessWorker(services.NewStalenessService(store, cfg.Scheduler.StaleAfter))
	go stalenessWorker.Run(ctx, cfg.Scheduler.SweepEvery)
	log.Printf("Staleness worker started (every %s, stale after %s)", cfg.Scheduler.SweepEvery, cfg.Scheduler.StaleAfter)

	sched.SetWorker("dispatch", worker)
	sched.SetWorker("staleness", stalenessWorker)
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		for {
			select {
			case <-usr1:
				sched.TriggerWorkers()
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("Daemon running, dispatch every %s. Press Ctrl+C to stop.", cfg.Dispatch.Interval)
	worker.Run(ctx, workers.RunOptions{Interval: cfg.Dispatch.Interval, DelayFirst: *delayFirst})

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Database.Driver == "sqlite" {
		s, err := storage.NewSQLiteStore(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newDispatcher registers every channel whose credentials are present.
func newDispatcher(cfg *config.Config, clients *httputil.Clients) *notify.Dispatcher {
	d := notify.NewDispatcher(notify.DispatcherConfig{
		Policy:      notify.Policy(cfg.Dispatch.Policy),
		Order:       cfg.Dispatch.ChannelOrder,
		MaxItems:    cfg.Dispatch.MaxItems,
		SendTimeout: cfg.Dispatch.SendTimeout,
		SendsPerSec: cfg.Dispatch.SendsPerSec,
	})

	if cfg.Telegram.BotToken != "" {
		d.Register(notify.NewTelegramChannel(cfg.Telegram, clients.API))
	}
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" && cfg.Twilio.WhatsAppFrom != "" {
		d.Register(notify.NewWhatsAppChannel(cfg.Twilio, clients.API))
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.From != "" {
		d.Register(notify.NewEmailChannel(cfg.SMTP))
	}
	return d
}

func runIngestion(ctx context.Context, o *scraper.Orchestrator) {
	if len(o.SourceIDs()) == 0 {
		log.Println("[ingest] no sources configured, skipping")
		return
	}
	if _, err := o.RunAll(ctx); err != nil {
		log.Printf("[ingest] run failed: %v", err)
	}
}

func storeSecret(service, name string) {
	if service == "" {
		log.Fatalf("KEYRING_SERVICE must be set to store secrets")
	}
	log.Printf("Reading %s from stdin...", name)
	value, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && value == "" {
		log.Fatalf("Failed to read secret: %v", err)
	}
	if err := secrets.Store(service, name, strings.TrimSpace(value)); err != nil {
		log.Fatalf("Failed to store secret: %v", err)
	}
	log.Printf("Stored %s in keyring service %s", name, service)
}
