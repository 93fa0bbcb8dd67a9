package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/averaging"
	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
	"github.com/couchcryptid/aqi-fusion-service/internal/forecast"
	"github.com/couchcryptid/aqi-fusion-service/internal/observability"
)

// flushCheckInterval bounds how stale a closable bucket can get when no
// new measurements arrive for its worker.
const flushCheckInterval = 30 * time.Second

type bucketKey struct {
	locationID string
	hour       time.Time
}

// bucket collects one location-hour's measurements until the hour closes
// plus the grace period.
type bucket struct {
	location     domain.Location
	hour         time.Time
	measurements []domain.Measurement
}

// worker owns the full post-collection pipeline for its shard of
// locations. All state is single-writer; nothing here is locked.
type worker struct {
	id      int
	in      chan domain.Measurement
	deps    Deps
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   *atomic.Bool

	buckets  map[bucketKey]*bucket
	averager *averaging.Averager
	warmed   map[string]bool
}

func newWorker(id int, deps Deps, opts Options, logger *slog.Logger, metrics *observability.Metrics, ready *atomic.Bool) *worker {
	return &worker{
		id:       id,
		in:       make(chan domain.Measurement, opts.BatchSize),
		deps:     deps,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		ready:    ready,
		buckets:  make(map[bucketKey]*bucket),
		averager: averaging.New(opts.CompletenessThreshold),
		warmed:   make(map[string]bool),
	}
}

func (w *worker) run(ctx context.Context) {
	ticker := time.NewTicker(flushCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-w.in:
			if !ok {
				// Channel closed: flush whatever is complete and exit.
				w.flushDue(ctx)
				return
			}
			w.add(m)
			w.flushDue(ctx)
		case <-ticker.C:
			w.flushDue(ctx)
		}
	}
}

func (w *worker) add(m domain.Measurement) {
	hour := domain.HourOf(m.Timestamp)
	key := bucketKey{locationID: m.Location.ID, hour: hour}
	b, ok := w.buckets[key]
	if !ok {
		b = &bucket{location: m.Location, hour: hour}
		w.buckets[key] = b
	}
	b.measurements = append(b.measurements, m)
}

// flushDue closes every bucket whose hour ended at least the collection
// timeout ago. Late sources never stall other locations; a bucket that
// misses its grace window is simply flushed with fewer sources.
func (w *worker) flushDue(ctx context.Context) {
	now := clock.Now()
	var due []bucketKey
	for key, b := range w.buckets {
		if now.Sub(b.hour.Add(time.Hour)) >= w.opts.CollectionTimeout {
			due = append(due, key)
		}
	}
	// Oldest hours first so averaging windows fill in order.
	sort.Slice(due, func(i, j int) bool { return due[i].hour.Before(due[j].hour) })

	for _, key := range due {
		b := w.buckets[key]
		delete(w.buckets, key)
		w.flush(ctx, b)
	}
}

// flush runs the staged pipeline for one closed (location, hour) bucket.
func (w *worker) flush(ctx context.Context, b *bucket) {
	start := time.Now()
	w.warmLocation(ctx, b.location)

	fused := w.fuseBucket(ctx, b)
	if len(fused) == 0 {
		return
	}

	subs := w.averageAndConvert(ctx, fused)

	snap, err := domain.Aggregate(b.location, b.hour, subs)
	if err != nil {
		// No pollutant cleared its completeness bar: propagate the gap,
		// do not publish a default.
		w.logger.Info("no valid pollutant for hour, skipping snapshot",
			"location", b.location.ID, "hour", b.hour)
		return
	}

	if err := w.deps.Store.SaveSnapshot(ctx, snap); err != nil {
		w.logger.Error("save snapshot failed", "error", err, "location", b.location.ID)
	}
	if err := w.deps.Snapshots.PublishSnapshot(ctx, snap); err != nil {
		w.logger.Error("publish snapshot failed", "error", err, "location", b.location.ID)
		return
	}
	w.metrics.SnapshotsProduced.Inc()
	if snap.TierExceeded {
		w.metrics.TierExceededTotal.Inc()
	}
	w.ready.Store(true)

	points := w.project(ctx, snap)
	w.evaluate(ctx, snap, points)

	w.metrics.FlushDuration.Observe(time.Since(start).Seconds())
}

// warmLocation rehydrates averaging buffers from persisted history the
// first time this process sees a location.
func (w *worker) warmLocation(ctx context.Context, loc domain.Location) {
	if w.warmed[loc.ID] {
		return
	}
	w.warmed[loc.ID] = true

	since := clock.Now().Add(-24 * time.Hour)
	for _, p := range domain.Pollutants {
		history, err := w.deps.Store.FusedSince(ctx, loc.ID, p, since)
		if err != nil {
			w.logger.Warn("rehydrate failed", "error", err, "location", loc.ID, "pollutant", p)
			continue
		}
		w.averager.Warm(history)
	}
}

// fuseBucket groups the bucket by pollutant, applies bias correction, and
// fuses each group into one reading per pollutant.
func (w *worker) fuseBucket(ctx context.Context, b *bucket) []domain.FusedReading {
	byPollutant := make(map[domain.Pollutant][]domain.CorrectedMeasurement)
	for _, m := range b.measurements {
		cm := w.deps.Corrections.Correct(m)
		if cm.Uncorrected {
			w.metrics.UncorrectedReadings.Inc()
		}
		byPollutant[m.Pollutant] = append(byPollutant[m.Pollutant], cm)
	}

	fused := make([]domain.FusedReading, 0, len(byPollutant))
	for p, group := range byPollutant {
		fr, err := domain.Fuse(b.location, p, b.hour, w.deps.Weights, group)
		if err != nil {
			w.logger.Warn("fusion failed", "error", err,
				"location", b.location.ID, "pollutant", p)
			continue
		}
		if err := w.deps.Store.SaveFused(ctx, fr); err != nil {
			w.logger.Error("save fused reading failed", "error", err,
				"location", b.location.ID, "pollutant", p)
		}
		w.metrics.ReadingsFused.Inc()
		w.metrics.FusionConfidence.Observe(fr.Confidence)
		fused = append(fused, fr)
	}
	return fused
}

// averageAndConvert feeds each fused reading through its pollutant's
// averaging window and converts complete windows to AQI sub-indices.
// Incomplete windows are gaps, not zeros.
func (w *worker) averageAndConvert(ctx context.Context, fused []domain.FusedReading) []domain.SubIndex {
	var subs []domain.SubIndex
	for _, fr := range fused {
		ar, err := w.averager.Add(fr)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientData) {
				w.metrics.InsufficientWindows.WithLabelValues(string(fr.Pollutant)).Inc()
				continue
			}
			w.logger.Warn("averaging failed", "error", err,
				"location", fr.Location.ID, "pollutant", fr.Pollutant)
			continue
		}
		if err := w.deps.Store.SaveAveraged(ctx, ar); err != nil {
			w.logger.Error("save averaged reading failed", "error", err,
				"location", fr.Location.ID, "pollutant", fr.Pollutant)
		}
		subs = append(subs, domain.ToAQI(ar))
	}
	return subs
}

// project builds the forward series from the model trajectory and the
// trailing snapshot history. A collaborator failure costs the forecast,
// never the snapshot.
func (w *worker) project(ctx context.Context, snap domain.AQISnapshot) []domain.ForecastPoint {
	if w.deps.Projector == nil {
		return nil
	}

	since := snap.Timestamp.Add(-forecast.TrendHistoryHours * time.Hour)
	snaps, err := w.deps.Store.SnapshotsSince(ctx, snap.Location.ID, since)
	if err != nil {
		w.logger.Warn("load snapshot history failed", "error", err, "location", snap.Location.ID)
		snaps = nil
	}
	history := make([]forecast.HistoryPoint, 0, len(snaps))
	for _, s := range snaps {
		history = append(history, forecast.HistoryPoint{Hour: s.Timestamp, AQI: s.OverallAQI})
	}

	points, err := w.deps.Projector.Project(ctx, snap.Location, w.opts.ForecastHorizon, history)
	if err != nil {
		w.metrics.ForecastErrors.Inc()
		w.logger.Warn("forecast projection failed", "error", err, "location", snap.Location.ID)
		return nil
	}

	if err := w.deps.Forecasts.PublishForecast(ctx, points); err != nil {
		w.logger.Error("publish forecast failed", "error", err, "location", snap.Location.ID)
	} else {
		w.metrics.ForecastsProduced.Add(float64(len(points)))
	}
	return points
}

// evaluate runs alert rules against the current snapshot, then against
// the next day of forecast points so rules can warn ahead of a predicted
// crossing.
func (w *worker) evaluate(ctx context.Context, snap domain.AQISnapshot, points []domain.ForecastPoint) {
	if w.deps.Evaluator == nil {
		return
	}

	if _, err := w.deps.Evaluator.Evaluate(ctx, snap); err != nil {
		w.logger.Error("alert evaluation failed", "error", err, "location", snap.Location.ID)
	}

	for _, fp := range points {
		if fp.TargetHour > 24 {
			break
		}
		if _, err := w.deps.Evaluator.EvaluateForecast(ctx, fp); err != nil {
			w.logger.Error("forecast alert evaluation failed", "error", err,
				"location", fp.Location.ID, "target_hour", fp.TargetHour)
		}
	}
}
