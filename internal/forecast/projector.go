// Package forecast extends the fused AQI series forward by blending an
// external chemical-transport model trajectory with short-term trend
// extrapolation from recent observed hours.
package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

// MaxHorizonHours caps projections at five days; model skill beyond that is
// indistinguishable from climatology.
const MaxHorizonHours = 120

// TrendHistoryHours is how far back the trend fit looks.
const TrendHistoryHours = 72

// TrajectoryPoint is one future hour of the external model's concentration
// forecast, in EPA breakpoint units.
type TrajectoryPoint struct {
	TargetHour     int                           `json:"target_hour"`
	Concentrations map[domain.Pollutant]float64 `json:"concentrations"`
}

// TrajectoryProvider delivers the forecast-model collaborator's trajectory
// for a location, refreshed upstream every few hours.
type TrajectoryProvider interface {
	Trajectory(ctx context.Context, loc domain.Location, horizonHours int) ([]TrajectoryPoint, error)
}

// HistoryPoint is one observed hour used for trend fitting.
type HistoryPoint struct {
	Hour time.Time
	AQI  int
}

// Options tune the blend and uncertainty model.
type Options struct {
	// CrossoverHours is the horizon at which model and trend contribute
	// equally. Below it the local trend dominates (nowcast), above it the
	// model dominates. The blend weight is t/(t+crossover).
	CrossoverHours float64

	// Sigma0 scales the sqrt-of-horizon uncertainty growth.
	Sigma0 float64

	// ModelError is the constant model-skill floor added to every horizon.
	ModelError float64
}

// DefaultOptions mirror the operational tuning of the 5-day collector.
func DefaultOptions() Options {
	return Options{CrossoverHours: 12, Sigma0: 6, ModelError: 5}
}

// Projector produces ForecastPoints for a location.
type Projector struct {
	provider TrajectoryProvider
	opts     Options
	logger   *slog.Logger
}

// New creates a Projector. Zero or negative option fields fall back to defaults.
func New(provider TrajectoryProvider, opts Options, logger *slog.Logger) *Projector {
	def := DefaultOptions()
	if opts.CrossoverHours <= 0 {
		opts.CrossoverHours = def.CrossoverHours
	}
	if opts.Sigma0 <= 0 {
		opts.Sigma0 = def.Sigma0
	}
	if opts.ModelError < 0 {
		opts.ModelError = def.ModelError
	}
	return &Projector{provider: provider, opts: opts, logger: logger}
}

// Sigma is the uncertainty band half-width at a given horizon:
// sigma0*sqrt(t) + modelError. Square-root growth matches how atmospheric
// dispersion error compounds; it must be neither linear nor constant.
func (p *Projector) Sigma(targetHour int) float64 {
	return p.opts.Sigma0*math.Sqrt(float64(targetHour)) + p.opts.ModelError
}

// Project builds the forecast series for a location out to horizonHours.
// history supplies the trailing observed AQI hours for the trend component;
// it may be sparse or empty, in which case the model trajectory stands alone.
func (p *Projector) Project(ctx context.Context, loc domain.Location, horizonHours int, history []HistoryPoint) ([]domain.ForecastPoint, error) {
	if horizonHours <= 0 || horizonHours > MaxHorizonHours {
		return nil, fmt.Errorf("horizon %d outside 1..%d", horizonHours, MaxHorizonHours)
	}

	trajectory, err := p.provider.Trajectory(ctx, loc, horizonHours)
	if err != nil {
		return nil, fmt.Errorf("fetch model trajectory for %s: %w", loc.ID, err)
	}

	trend, haveTrend := fitTrend(history)
	if !haveTrend {
		p.logger.Debug("no usable trend history, projecting from model alone", "location", loc.ID)
	}

	points := make([]domain.ForecastPoint, 0, len(trajectory))
	for _, tp := range trajectory {
		if tp.TargetHour < 0 || tp.TargetHour > horizonHours {
			continue
		}

		modelAQI, dominant, ok := p.convertTrajectory(loc, tp)
		if !ok {
			continue
		}

		predicted := float64(modelAQI)
		if haveTrend {
			w := p.modelWeight(tp.TargetHour)
			predicted = w*float64(modelAQI) + (1-w)*trend.at(tp.TargetHour)
		}

		sigma := p.Sigma(tp.TargetHour)
		points = append(points, domain.ForecastPoint{
			Location:          loc,
			TargetHour:        tp.TargetHour,
			PredictedAQI:      clampAQI(predicted),
			LowerBound:        clampAQI(predicted - sigma),
			UpperBound:        clampAQI(predicted + sigma),
			DominantPollutant: dominant,
		})
	}

	return points, nil
}

// modelWeight shifts trust toward the model as the horizon grows: 0 at the
// nowcast, 0.5 at the crossover horizon, asymptotically 1 far out.
func (p *Projector) modelWeight(targetHour int) float64 {
	t := float64(targetHour)
	return t / (t + p.opts.CrossoverHours)
}

// convertTrajectory runs a trajectory point through the same EPA breakpoint
// conversion used for observed hours.
func (p *Projector) convertTrajectory(loc domain.Location, tp TrajectoryPoint) (int, domain.Pollutant, bool) {
	subs := make([]domain.SubIndex, 0, len(tp.Concentrations))
	for pollutant, conc := range tp.Concentrations {
		subs = append(subs, domain.ToAQI(domain.AveragedReading{
			Location:  loc,
			Pollutant: pollutant,
			Value:     conc,
		}))
	}

	snap, err := domain.Aggregate(loc, time.Time{}, subs)
	if err != nil {
		return 0, "", false
	}
	return snap.OverallAQI, snap.DominantPollutant, true
}

// linearTrend is a least-squares fit over trailing observed AQI, with x
// measured in hours relative to the newest observation.
type linearTrend struct {
	slope     float64
	intercept float64
}

func (l linearTrend) at(targetHour int) float64 {
	return l.intercept + l.slope*float64(targetHour)
}

// fitTrend fits observed history within the trend window. Needs at least two
// distinct hours; otherwise reports no trend.
func fitTrend(history []HistoryPoint) (linearTrend, bool) {
	if len(history) < 2 {
		return linearTrend{}, false
	}

	newest := history[0].Hour
	for _, h := range history {
		if h.Hour.After(newest) {
			newest = h.Hour
		}
	}
	cutoff := newest.Add(-TrendHistoryHours * time.Hour)

	var xs, ys []float64
	for _, h := range history {
		if h.Hour.Before(cutoff) {
			continue
		}
		xs = append(xs, h.Hour.Sub(newest).Hours())
		ys = append(ys, float64(h.AQI))
	}
	if len(xs) < 2 {
		return linearTrend{}, false
	}

	var sumX, sumY, sumXX, sumXY float64
	n := float64(len(xs))
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXX += xs[i] * xs[i]
		sumXY += xs[i] * ys[i]
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return linearTrend{}, false
	}

	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n
	return linearTrend{slope: slope, intercept: intercept}, true
}

func clampAQI(v float64) int {
	return int(math.Round(math.Min(500, math.Max(0, v))))
}
