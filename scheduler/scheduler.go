package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"estate_notifier/config"
	"estate_notifier/models"
	"estate_notifier/scraper"
)

// Runner is one ingestion pass.
type Runner interface {
	RunAll(ctx context.Context) (*models.IngestRun, error)
}

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Scheduler drives ingestion on a cron expression or a fixed interval,
// independently of the dispatch loop.
type Scheduler struct {
	cfg      config.SchedulerConfig
	runner   Runner
	cron     *cron.Cron
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	workers map[string]Triggerable
}

func New(cfg config.SchedulerConfig, runner Runner) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		cron:    cron.New(),
		stopCh:  make(chan struct{}),
		workers: make(map[string]Triggerable),
	}
}

// Enabled reports whether ingestion has its own schedule. When it does not,
// the caller is expected to ingest before each dispatch cycle.
func (s *Scheduler) Enabled() bool {
	return s.cfg.Cron != "" || s.cfg.Interval > 0
}

// SetWorker registers a background worker for manual triggering.
func (s *Scheduler) SetWorker(name string, w Triggerable) {
	s.workers[name] = w
}

// TriggerWorkers wakes every registered worker.
func (s *Scheduler) TriggerWorkers() {
	for name, w := range s.workers {
		log.Printf("[scheduler] triggering %s", name)
		w.Trigger()
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	switch {
	case s.cfg.Cron != "":
		log.Printf("[scheduler] ingestion cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.RunNow(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()

	case s.cfg.Interval > 0:
		log.Printf("[scheduler] ingestion interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.RunNow(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()

	default:
		log.Println("[scheduler] no ingestion schedule configured")
	}

	return nil
}

// RunNow runs one ingestion pass, logging instead of returning errors.
func (s *Scheduler) RunNow(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.runner.RunAll(ctx)
	switch {
	case errors.Is(err, scraper.ErrRunInProgress):
		log.Println("[scheduler] previous ingestion still running, skipping")
	case err != nil:
		log.Printf("[scheduler] ingestion error: %v", err)
	}
}

// Stop halts scheduling and waits for a running cron job to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		cronCtx := s.cron.Stop()
		<-cronCtx.Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.wg.Wait()
	})
}
