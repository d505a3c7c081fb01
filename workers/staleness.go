package workers

import (
	"context"
	"log"
	"time"

	"estate_notifier/services"
)

// StalenessWorker periodically retires listings no source has re-confirmed.
type StalenessWorker struct {
	service   *services.StalenessService
	triggerCh chan struct{}
}

func NewStalenessWorker(service *services.StalenessService) *StalenessWorker {
	return &StalenessWorker{
		service:   service,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to sweep immediately
func (w *StalenessWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *StalenessWorker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[staleness] worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.triggerCh:
			log.Println("[staleness] worker triggered manually")
			w.sweep(ctx)
		}
	}
}

func (w *StalenessWorker) sweep(ctx context.Context) {
	if _, err := w.service.Sweep(ctx, time.Now()); err != nil {
		log.Printf("[staleness] sweep failed: %v", err)
	}
}
