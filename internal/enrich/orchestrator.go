package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"signalwatch/internal/cache"
	"signalwatch/internal/logging"
	"signalwatch/internal/metrics"
	"signalwatch/internal/model"
)

// Classifier is the remote engine; any error means "use the fallback".
type Classifier interface {
	Classify(ctx context.Context, content model.EventContent, terms []string, correlationID string) (model.Analysis, error)
}

// Fallback is the local engine. It cannot fail.
type Fallback interface {
	Classify(content model.EventContent, terms []string) model.Analysis
}

// Updater is the slice of the event store enrichment writes to.
type Updater interface {
	UpdateEventAnalysis(ctx context.Context, id string, analysis model.Analysis) error
}

type Job struct {
	EventID       string
	Content       model.EventContent
	Terms         []string
	CorrelationID string
}

// Source values report where an analysis came from.
const (
	SourceCache    = "cached"
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

type Result struct {
	Analysis model.Analysis
	Source   string
	Stored   bool
}

type Options struct {
	Workers   int
	QueueSize int
	CacheTTL  time.Duration
}

// Orchestrator runs enrichment off the request path: cache lookup, then
// remote classification with local fallback, then cache write and store
// update. Callers never wait on it and never see its failures.
type Orchestrator struct {
	store    Updater
	cache    cache.Cache
	remote   Classifier
	fallback Fallback
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
	// flight collapses concurrent misses on one cache key.
	flight singleflight.Group

	mu      sync.RWMutex
	queue   chan Job
	started bool
	closed  bool
	workers sync.WaitGroup
	spill   sync.WaitGroup
}

// New builds an orchestrator. remote may be nil, in which case every cache
// miss goes straight to the fallback.
func New(store Updater, c cache.Cache, remote Classifier, fallback Fallback, m *metrics.Metrics, logger *slog.Logger, opts Options) *Orchestrator {
	if c == nil {
		c = cache.Nop{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	return &Orchestrator{
		store:    store,
		cache:    c,
		remote:   remote,
		fallback: fallback,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		queue:    make(chan Job, opts.QueueSize),
	}
}

// Start launches the worker pool. Workers exit once Close has drained the
// queue.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started || o.closed {
		return
	}
	o.started = true
	for i := 0; i < o.opts.Workers; i++ {
		o.workers.Add(1)
		go o.worker()
	}
}

func (o *Orchestrator) worker() {
	defer o.workers.Done()
	for job := range o.queue {
		o.metrics.SetQueueDepth(len(o.queue))
		o.run(job)
	}
}

// Trigger schedules enrichment for an event and returns immediately. A full
// queue runs the job on its own goroutine rather than dropping it.
func (o *Orchestrator) Trigger(eventID string, content model.EventContent, terms []string, correlationID string) {
	job := Job{
		EventID:       eventID,
		Content:       content,
		Terms:         append([]string(nil), terms...),
		CorrelationID: correlationID,
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.logger.Warn("enrichment skipped, orchestrator closed",
			"event_id", eventID,
			"correlation_id", correlationID,
		)
		return
	}
	if o.started {
		select {
		case o.queue <- job:
			o.metrics.SetQueueDepth(len(o.queue))
			return
		default:
			o.logger.Warn("enrichment queue full, running job directly",
				"event_id", eventID,
				"correlation_id", correlationID,
				"queue_size", o.opts.QueueSize,
			)
		}
	}
	o.spill.Add(1)
	go func() {
		defer o.spill.Done()
		o.run(job)
	}()
}

// Close stops accepting jobs and waits for queued and running ones.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()
	o.workers.Wait()
	o.spill.Wait()
	o.metrics.SetQueueDepth(0)
}

func (o *Orchestrator) run(job Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("enrichment panicked",
				"event_id", job.EventID,
				"correlation_id", job.CorrelationID,
				"panic", r,
			)
			o.metrics.Enrichment(metrics.OutcomePanic, time.Since(start))
		}
	}()
	ctx := logging.WithCorrelationID(context.Background(), job.CorrelationID)
	res := o.Enrich(ctx, job)
	outcome := res.Source
	if !res.Stored {
		outcome = metrics.OutcomeStoreFailed
	}
	o.metrics.Enrichment(outcome, time.Since(start))
}

// Enrich runs the whole sequence for one job synchronously. It never
// fails; a store failure is logged and reported through Result.Stored.
func (o *Orchestrator) Enrich(ctx context.Context, job Job) Result {
	logger := o.logger.With("event_id", job.EventID, "correlation_id", job.CorrelationID)
	key := cache.Key(job.Content, job.Terms)

	res := Result{}
	if cached, ok := o.cache.Get(ctx, key); ok {
		o.metrics.CacheLookup(true)
		logger.Debug("analysis served from cache")
		res.Analysis = cached
		res.Source = SourceCache
	} else {
		o.metrics.CacheLookup(false)
		v, _, shared := o.flight.Do(key, func() (any, error) {
			analysis, source := o.classify(ctx, logger, job)
			o.cache.Put(ctx, key, analysis, o.opts.CacheTTL)
			return classified{analysis: analysis, source: source}, nil
		})
		c := v.(classified)
		res.Analysis, res.Source = c.analysis, c.source
		if shared {
			logger.Debug("analysis shared with a concurrent identical event")
		}
	}

	if err := o.store.UpdateEventAnalysis(ctx, job.EventID, res.Analysis); err != nil {
		logger.Error("failed to store event analysis, event stays unprocessed",
			"error", err,
			"severity", string(res.Analysis.Severity),
		)
		return res
	}
	res.Stored = true
	logger.Info("event enriched",
		"severity", string(res.Analysis.Severity),
		"source", res.Source,
	)
	return res
}

type classified struct {
	analysis model.Analysis
	source   string
}

func (o *Orchestrator) classify(ctx context.Context, logger *slog.Logger, job Job) (model.Analysis, string) {
	if o.remote != nil {
		analysis, err := o.remote.Classify(ctx, job.Content, job.Terms, job.CorrelationID)
		if err == nil && analysis.Valid() {
			o.metrics.Classification(SourceRemote, true)
			return analysis, SourceRemote
		}
		o.metrics.Classification(SourceRemote, false)
		if err != nil {
			logger.Warn("remote classification failed, using fallback", "error", err)
		} else {
			logger.Warn("remote classification returned an incomplete analysis, using fallback")
		}
	}
	analysis := o.fallback.Classify(job.Content, job.Terms)
	o.metrics.Classification(SourceFallback, true)
	return analysis, SourceFallback
}
