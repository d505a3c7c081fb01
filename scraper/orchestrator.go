package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"estate_notifier/config"
	"estate_notifier/httputil"
	"estate_notifier/models"
	"estate_notifier/services"
	"estate_notifier/storage"
)

// ErrRunInProgress is returned when a pass is requested while one is running.
var ErrRunInProgress = errors.New("ingestion already running")

type source struct {
	adapter Adapter
	queries []Query
}

// Orchestrator runs every source, merges their records and hands the batch
// to the ingest service. Each pass is recorded as an ingest run.
type Orchestrator struct {
	sources       map[string]*source
	ingest        *services.IngestService
	runs          storage.RunStore
	maxConcurrent int
	timeout       time.Duration

	running sync.Mutex
	mu      sync.Mutex
	paused  bool
}

func NewOrchestrator(cfg config.ScraperConfig, ingest *services.IngestService, runs storage.RunStore) *Orchestrator {
	maxConcurrent := cfg.MaxConcurrentSources
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		sources:       make(map[string]*source),
		ingest:        ingest,
		runs:          runs,
		maxConcurrent: maxConcurrent,
		timeout:       cfg.SourceTimeout,
	}
}

// Register adds an adapter with the queries it runs each pass.
func (o *Orchestrator) Register(a Adapter, queries []Query) {
	if len(queries) == 0 {
		queries = []Query{{}}
	}
	o.sources[a.ID()] = &source{adapter: a, queries: queries}
}

// RegisterFromConfig builds and registers an adapter for every enabled source.
func (o *Orchestrator) RegisterFromConfig(sources map[string]*config.SourceConfig, clients *httputil.Clients) error {
	for _, srcCfg := range sources {
		adapter, err := NewAdapter(srcCfg, clients)
		if err != nil {
			return err
		}
		o.Register(adapter, QueriesFor(srcCfg))
		log.Printf("[ingest] registered source %s (%s adapter, %d searches)", srcCfg.ID, srcCfg.Adapter, len(srcCfg.Searches))
	}
	return nil
}

func (o *Orchestrator) SourceIDs() []string {
	ids := make([]string, 0, len(o.sources))
	for id := range o.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	log.Println("[ingest] paused")
}

func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	log.Println("[ingest] resumed")
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// RunAll runs one ingestion pass over every registered source.
func (o *Orchestrator) RunAll(ctx context.Context) (*models.IngestRun, error) {
	return o.run(ctx, o.SourceIDs())
}

// RunSource runs one ingestion pass over a single source.
func (o *Orchestrator) RunSource(ctx context.Context, id string) (*models.IngestRun, error) {
	if _, ok := o.sources[id]; !ok {
		return nil, fmt.Errorf("unknown source: %s", id)
	}
	return o.run(ctx, []string{id})
}

type fetchResult struct {
	records []models.Record
	skipped int
	err     error
}

func (o *Orchestrator) run(ctx context.Context, ids []string) (*models.IngestRun, error) {
	if o.IsPaused() {
		log.Println("[ingest] paused, skipping run")
		return nil, nil
	}
	if !o.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.running.Unlock()

	run := &models.IngestRun{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusRunning,
		BySource:  make(map[string]*models.SourceStats),
	}
	if o.runs != nil {
		if err := o.runs.CreateIngestRun(ctx, run); err != nil {
			log.Printf("[ingest] warning: failed to create run record: %v", err)
		}
	}

	log.Printf("[ingest] run %s starting: %d sources", run.ID, len(ids))

	results := make([]fetchResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrent)

	for i, id := range ids {
		src := o.sources[id]
		g.Go(func() error {
			results[i] = o.fetchSource(gctx, src)
			return nil
		})
	}
	_ = g.Wait()

	var batch []models.Record
	skipped := 0
	for i, id := range ids {
		st := &models.SourceStats{}
		run.BySource[id] = st
		if err := results[i].err; err != nil {
			log.Printf("[ingest] source %s failed: %v", id, err)
			st.Failure = err.Error()
			run.SourceErrors++
			continue
		}
		st.Errors = results[i].skipped
		skipped += results[i].skipped
		batch = append(batch, results[i].records...)
	}

	stats := o.ingest.Ingest(ctx, batch)
	run.Fetched = stats.Fetched
	run.Created = stats.Created
	run.Updated = stats.Updated
	run.Errors = stats.Errors + skipped
	for name, s := range stats.BySource {
		st, ok := run.BySource[name]
		if !ok {
			st = &models.SourceStats{}
			run.BySource[name] = st
		}
		st.Fetched += s.Fetched
		st.Created += s.Created
		st.Updated += s.Updated
		st.Errors += s.Errors
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = runStatus(run, len(ids))

	log.Printf("[ingest] run %s %s in %s: %d fetched, %d created, %d updated, %d errors, %d/%d sources failed",
		run.ID, run.Status, finished.Sub(run.StartedAt).Round(time.Millisecond),
		run.Fetched, run.Created, run.Updated, run.Errors, run.SourceErrors, len(ids))

	if o.runs != nil {
		if err := o.runs.FinishIngestRun(context.WithoutCancel(ctx), run); err != nil {
			log.Printf("[ingest] warning: failed to finish run record: %v", err)
		}
	}

	return run, nil
}

// fetchSource runs every query of one source under the per-source timeout.
// Any failure discards the source's records for this pass, except skipped
// records, which are only counted.
func (o *Orchestrator) fetchSource(ctx context.Context, src *source) fetchResult {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var res fetchResult
	for _, q := range src.queries {
		recs, err := src.adapter.Fetch(ctx, q)
		var skipErr *SkippedRecordsError
		if errors.As(err, &skipErr) {
			log.Printf("[ingest] query %s: %v", q, err)
			res.skipped += skipErr.Count
		} else if err != nil {
			return fetchResult{err: fmt.Errorf("query %s: %w", q, err)}
		}
		res.records = append(res.records, recs...)
	}
	log.Printf("[ingest] source %s: %d records, %d skipped", src.adapter.ID(), len(res.records), res.skipped)
	return res
}

func runStatus(run *models.IngestRun, sources int) models.RunStatus {
	switch {
	case sources > 0 && run.SourceErrors == sources:
		return models.RunStatusFailed
	case run.SourceErrors > 0 || run.Errors > 0:
		return models.RunStatusPartial
	default:
		return models.RunStatusCompleted
	}
}
