// Package pipeline orchestrates the measurement flow: collect raw
// multi-source readings per (location, hour), then correct, fuse,
// average, convert to AQI, project forward, and evaluate alerts.
//
// Locations are sharded across workers by consistent hash so all mutable
// per-location state (averaging buffers, alert bookkeeping) sees a single
// writer. Stages within a flush run strictly in sequence.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/aqi-fusion-service/internal/alert"
	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
	"github.com/couchcryptid/aqi-fusion-service/internal/forecast"
	"github.com/couchcryptid/aqi-fusion-service/internal/observability"
	"github.com/couchcryptid/aqi-fusion-service/internal/store"
)

var clock = clockwork.NewRealClock()

// SetClock swaps the time source driving bucket flushes. Pass nil to
// reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// BatchExtractor reads up to batchSize raw readings from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawReading, error)
}

// SnapshotSink publishes finished AQI snapshots.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, snap domain.AQISnapshot) error
}

// ForecastSink publishes forecast series.
type ForecastSink interface {
	PublishForecast(ctx context.Context, points []domain.ForecastPoint) error
}

// Projector produces the forward AQI series for a location.
type Projector interface {
	Project(ctx context.Context, loc domain.Location, horizonHours int, history []forecast.HistoryPoint) ([]domain.ForecastPoint, error)
}

// Evaluator runs alert rules against current and projected AQI.
type Evaluator interface {
	Evaluate(ctx context.Context, snap domain.AQISnapshot) ([]alert.Intent, error)
	EvaluateForecast(ctx context.Context, fp domain.ForecastPoint) ([]alert.Intent, error)
}

// Options fix the tunables threaded through from configuration.
type Options struct {
	Workers               int
	BatchSize             int
	CompletenessThreshold float64
	CollectionTimeout     time.Duration
	ForecastHorizon       int
}

// Pipeline owns the extract loop and the sharded worker pool.
type Pipeline struct {
	extractor BatchExtractor
	workers   []*worker
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options
	ready     atomic.Bool
}

// New assembles the pipeline. Each worker gets its own averager; the
// store, sinks, projector, and evaluator are shared.
func New(extractor BatchExtractor, deps Deps, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	p := &Pipeline{
		extractor: extractor,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
	}
	p.workers = make([]*worker, opts.Workers)
	for i := range p.workers {
		p.workers[i] = newWorker(i, deps, opts, logger.With("worker", i), metrics, &p.ready)
	}
	return p
}

// Deps bundles the shared collaborators of every worker.
type Deps struct {
	Corrections *domain.CorrectionTable
	Weights     *domain.FusionWeights
	Store       store.ReadingStore
	Snapshots   SnapshotSink
	Forecasts   ForecastSink
	Projector   Projector
	Evaluator   Evaluator
}

// CheckReadiness returns nil once the pipeline has published at least one
// snapshot.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not produced a snapshot yet")
	}
	return nil
}

// Run executes the consume loop until the context is cancelled, then
// drains the workers.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"workers", p.opts.Workers,
		"batch_size", p.opts.BatchSize,
		"collection_timeout", p.opts.CollectionTimeout)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			p.closeWorkers()
			wg.Wait()
			return nil
		default:
		}

		if !p.consumeBatch(ctx, &backoff, maxBackoff) {
			p.closeWorkers()
			wg.Wait()
			return nil
		}
	}
}

func (p *Pipeline) closeWorkers() {
	for _, w := range p.workers {
		close(w.in)
	}
}

// consumeBatch extracts one batch, parses each reading, and routes it to
// its location's worker. Returns false if the pipeline should stop.
func (p *Pipeline) consumeBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	batch, err := p.extractor.ExtractBatch(ctx, p.opts.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MeasurementsConsumed.Add(float64(len(batch)))
	*backoff = 200 * time.Millisecond

	for _, raw := range batch {
		m, err := domain.ParseRawReading(raw)
		if err != nil {
			p.logger.Warn("parse failed, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.NormalizeErrors.Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		m = domain.NormalizeMeasurement(m)

		shard := shardFor(m.Location.ID, len(p.workers))
		select {
		case p.workers[shard].in <- m:
			p.commitOffset(ctx, raw)
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawReading) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
