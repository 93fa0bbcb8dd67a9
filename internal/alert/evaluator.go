package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
	"github.com/couchcryptid/aqi-fusion-service/internal/observability"
)

// DefaultCooldown debounces re-firing on immediately-following snapshots.
const DefaultCooldown = 30 * time.Minute

var clock = clockwork.NewRealClock()

// SetClock swaps the evaluator time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Suppression reasons reported by the decision function.
const (
	reasonNotCrossed = "threshold_not_crossed"
	reasonPollutant  = "pollutant_filter"
	reasonCooldown   = "cooldown"
	reasonFrequency  = "frequency_policy"
	reasonQuietHours = "quiet_hours"
)

// decision is the outcome of evaluating one rule against one snapshot.
type decision struct {
	fire   bool
	reason string
	next   State
}

// Evaluator runs the per-(rule, location) alert state machine. It must be
// driven by a single worker per location; state reads and writes are not
// otherwise synchronized.
type Evaluator struct {
	rules    RuleSource
	states   StateStore
	sink     IntentSink
	cooldown time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New builds an evaluator. A non-positive cooldown falls back to
// DefaultCooldown.
func New(rules RuleSource, states StateStore, sink IntentSink, cooldown time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Evaluator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Evaluator{
		rules:    rules,
		states:   states,
		sink:     sink,
		cooldown: cooldown,
		logger:   logger,
		metrics:  metrics,
	}
}

// Evaluate runs every rule registered for the snapshot's location and
// returns the intents that fired. A delivery failure is logged and does
// not roll back state or abort the remaining rules.
func (e *Evaluator) Evaluate(ctx context.Context, snap domain.AQISnapshot) ([]Intent, error) {
	return e.evaluate(ctx, snap, false)
}

// EvaluateForecast applies the same machine to a projected AQI value so
// rules can warn ahead of a predicted crossing. Intents are flagged as
// forecast-driven.
func (e *Evaluator) EvaluateForecast(ctx context.Context, fp domain.ForecastPoint) ([]Intent, error) {
	snap := domain.AQISnapshot{
		Location:          fp.Location,
		Timestamp:         clock.Now().Add(time.Duration(fp.TargetHour) * time.Hour),
		OverallAQI:        fp.PredictedAQI,
		DominantPollutant: fp.DominantPollutant,
		Category:          domain.CategoryFor(fp.PredictedAQI),
	}
	return e.evaluate(ctx, snap, true)
}

func (e *Evaluator) evaluate(ctx context.Context, snap domain.AQISnapshot, forecast bool) ([]Intent, error) {
	rules, err := e.rules.RulesForLocation(ctx, snap.Location.ID)
	if err != nil {
		return nil, fmt.Errorf("load rules for %s: %w", snap.Location.ID, err)
	}

	now := clock.Now()
	var fired []Intent
	for _, rule := range rules {
		st, err := e.states.GetState(ctx, rule.ID, snap.Location.ID)
		if err != nil {
			return fired, fmt.Errorf("load state for rule %s: %w", rule.ID, err)
		}

		d := decide(rule, st, snap, now, e.cooldown)
		if !d.fire {
			if d.reason != reasonNotCrossed && d.reason != reasonPollutant {
				e.metrics.AlertsSuppressed.WithLabelValues(d.reason).Inc()
				e.logger.Debug("alert suppressed",
					"rule_id", rule.ID,
					"location", snap.Location.ID,
					"reason", d.reason,
					"aqi", snap.OverallAQI)
			}
			if err := e.states.SetState(ctx, rule.ID, snap.Location.ID, d.next); err != nil {
				return fired, fmt.Errorf("save state for rule %s: %w", rule.ID, err)
			}
			continue
		}

		intent := Intent{
			ID:             uuid.NewString(),
			RuleID:         rule.ID,
			UserID:         rule.UserID,
			Location:       snap.Location,
			Pollutant:      snap.DominantPollutant,
			AQI:            snap.OverallAQI,
			Category:       snap.Category,
			Message:        HealthMessage(snap.DominantPollutant, snap.OverallAQI, rule.HealthConditions),
			Channels:       rule.Channels,
			SensitiveGroup: IsSensitive(rule.HealthConditions, snap.DominantPollutant),
			Forecast:       forecast,
			CreatedAt:      now,
		}

		// Delivery failures stay with the delivery layer's retry policy;
		// the state transition below is not rolled back.
		if err := e.sink.Publish(ctx, intent); err != nil {
			e.metrics.IntentDeliveryErrs.Inc()
			e.logger.Error("intent delivery failed",
				"rule_id", rule.ID,
				"location", snap.Location.ID,
				"error", err)
		}

		if err := e.states.SetState(ctx, rule.ID, snap.Location.ID, d.next); err != nil {
			return fired, fmt.Errorf("save state for rule %s: %w", rule.ID, err)
		}

		e.metrics.IntentsEmitted.WithLabelValues(string(rule.Frequency)).Inc()
		e.logger.Info("alert fired",
			"rule_id", rule.ID,
			"location", snap.Location.ID,
			"aqi", snap.OverallAQI,
			"category", snap.Category,
			"forecast", forecast)
		fired = append(fired, intent)
	}
	return fired, nil
}

// decide is the single policy decision for one rule, one state, one
// snapshot. All frequency, quiet-hour, severity and cooldown branching
// lives here so it can be tested without delivery mechanics.
func decide(rule Rule, st State, snap domain.AQISnapshot, now time.Time, cooldown time.Duration) decision {
	next := st
	next.LastEvaluatedAQI = snap.OverallAQI

	// Cooldown expiry re-arms before anything else is considered.
	if next.Status == StatusCooldown && !now.Before(next.CooldownUntil) {
		next.Status = StatusArmed
	}
	if next.Status == "" {
		next.Status = StatusArmed
	}

	if !rule.MatchesPollutant(snap.DominantPollutant) {
		return decision{reason: reasonPollutant, next: next}
	}
	if !rule.Threshold.Crossed(snap.OverallAQI, snap.Category) {
		return decision{reason: reasonNotCrossed, next: next}
	}
	if next.Status == StatusCooldown {
		return decision{reason: reasonCooldown, next: next}
	}

	switch rule.Frequency {
	case OnceDaily:
		if !st.LastSentAt.IsZero() && now.Sub(st.LastSentAt) <= 24*time.Hour {
			return decision{reason: reasonFrequency, next: next}
		}
	case CategoryChange:
		if snap.Category == st.LastSentCategory {
			return decision{reason: reasonFrequency, next: next}
		}
	}

	// Emergency tiers bypass quiet hours.
	if domain.CategoryRank(snap.Category) < domain.CategoryRank(domain.CategoryVeryUnhealthy) {
		quiet, err := rule.QuietHours.Contains(now)
		if err != nil {
			// A malformed window never silences a legitimate crossing.
			quiet = false
		}
		if quiet {
			return decision{reason: reasonQuietHours, next: next}
		}
	}

	next.Status = StatusCooldown
	next.LastSentAt = now
	next.LastSentCategory = snap.Category
	next.CooldownUntil = now.Add(cooldown)
	return decision{fire: true, next: next}
}
