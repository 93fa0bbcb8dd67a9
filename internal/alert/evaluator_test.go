package alert

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
	"github.com/couchcryptid/aqi-fusion-service/internal/observability"
)

type staticRules struct {
	rules []Rule
}

func (s *staticRules) RulesForLocation(_ context.Context, locationID string) ([]Rule, error) {
	var out []Rule
	for _, r := range s.rules {
		for _, loc := range r.Locations {
			if loc.ID == locationID {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type memStates struct {
	states map[string]State
}

func newMemStates() *memStates {
	return &memStates{states: make(map[string]State)}
}

func (m *memStates) GetState(_ context.Context, ruleID, locationID string) (State, error) {
	return m.states[ruleID+"|"+locationID], nil
}

func (m *memStates) SetState(_ context.Context, ruleID, locationID string, st State) error {
	m.states[ruleID+"|"+locationID] = st
	return nil
}

type captureSink struct {
	intents []Intent
	err     error
}

func (c *captureSink) Publish(_ context.Context, intent Intent) error {
	c.intents = append(c.intents, intent)
	return c.err
}

var testLoc = domain.Location{ID: "denver", Lat: 39.74, Lon: -104.99}

func testRule(freq FrequencyPolicy, threshold Threshold) Rule {
	return Rule{
		ID:        "rule-1",
		UserID:    "user-1",
		Locations: []domain.Location{testLoc},
		Threshold: threshold,
		Frequency: freq,
		Channels:  []string{"push"},
	}
}

func snapshotAt(aqi int, ts time.Time) domain.AQISnapshot {
	return domain.AQISnapshot{
		Location:          testLoc,
		Timestamp:         domain.HourOf(ts),
		OverallAQI:        aqi,
		DominantPollutant: domain.PM25,
		Category:          domain.CategoryFor(aqi),
	}
}

func newTestEvaluator(rules []Rule, sink IntentSink) (*Evaluator, *memStates) {
	states := newMemStates()
	ev := New(&staticRules{rules: rules}, states, sink, DefaultCooldown, slog.Default(), observability.NewMetricsForTesting())
	return ev, states
}

func TestEvaluator_OnceDaily_DedupWithin24h(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(start)
	SetClock(fake)
	defer SetClock(nil)

	sink := &captureSink{}
	ev, _ := newTestEvaluator([]Rule{testRule(OnceDaily, Threshold{AQI: 101})}, sink)

	fired, err := ev.Evaluate(context.Background(), snapshotAt(130, fake.Now()))
	require.NoError(t, err)
	require.Len(t, fired, 1)

	// Second crossing 3 hours later is deduplicated.
	fake.Advance(3 * time.Hour)
	fired, err = ev.Evaluate(context.Background(), snapshotAt(140, fake.Now()))
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Len(t, sink.intents, 1)

	// A crossing 25 hours after the first send fires again.
	fake.Advance(22 * time.Hour)
	fired, err = ev.Evaluate(context.Background(), snapshotAt(135, fake.Now()))
	require.NoError(t, err)
	assert.Len(t, fired, 1)
	assert.Len(t, sink.intents, 2)
}

func TestEvaluator_QuietHours_SuppressesModerate(t *testing.T) {
	night := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(night)
	SetClock(fake)
	defer SetClock(nil)

	rule := testRule(EveryTime, Threshold{AQI: 51})
	rule.QuietHours = DefaultQuietHours
	sink := &captureSink{}
	ev, states := newTestEvaluator([]Rule{rule}, sink)

	fired, err := ev.Evaluate(context.Background(), snapshotAt(75, fake.Now()))
	require.NoError(t, err)
	assert.Empty(t, fired)

	// The rule stays armed, not in cooldown.
	st, err := states.GetState(context.Background(), "rule-1", "denver")
	require.NoError(t, err)
	assert.Equal(t, StatusArmed, st.Status)
	assert.True(t, st.LastSentAt.IsZero())
}

func TestEvaluator_QuietHours_EmergencyBypasses(t *testing.T) {
	night := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(night)
	SetClock(fake)
	defer SetClock(nil)

	rule := testRule(EveryTime, Threshold{AQI: 51})
	rule.QuietHours = DefaultQuietHours
	sink := &captureSink{}
	ev, _ := newTestEvaluator([]Rule{rule}, sink)

	// Hazardous crossing during quiet hours still fires.
	fired, err := ev.Evaluate(context.Background(), snapshotAt(350, fake.Now()))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, domain.CategoryHazardous, fired[0].Category)
}

func TestEvaluator_QuietHours_DaytimeFires(t *testing.T) {
	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(noon)
	SetClock(fake)
	defer SetClock(nil)

	rule := testRule(EveryTime, Threshold{AQI: 51})
	rule.QuietHours = DefaultQuietHours
	sink := &captureSink{}
	ev, _ := newTestEvaluator([]Rule{rule}, sink)

	fired, err := ev.Evaluate(context.Background(), snapshotAt(75, fake.Now()))
	require.NoError(t, err)
	assert.Len(t, fired, 1)
}

func TestEvaluator_CooldownDebounce(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(start)
	SetClock(fake)
	defer SetClock(nil)

	sink := &captureSink{}
	ev, _ := newTestEvaluator([]Rule{testRule(EveryTime, Threshold{AQI: 101})}, sink)

	fired, err := ev.Evaluate(context.Background(), snapshotAt(130, fake.Now()))
	require.NoError(t, err)
	require.Len(t, fired, 1)

	// Jittery follow-up five minutes later is debounced.
	fake.Advance(5 * time.Minute)
	fired, err = ev.Evaluate(context.Background(), snapshotAt(132, fake.Now()))
	require.NoError(t, err)
	assert.Empty(t, fired)

	// After the cooldown window the rule re-arms.
	fake.Advance(26 * time.Minute)
	fired, err = ev.Evaluate(context.Background(), snapshotAt(131, fake.Now()))
	require.NoError(t, err)
	assert.Len(t, fired, 1)
}

func TestEvaluator_CategoryChange(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(start)
	SetClock(fake)
	defer SetClock(nil)

	sink := &captureSink{}
	ev, _ := newTestEvaluator([]Rule{testRule(CategoryChange, Threshold{Category: domain.CategoryUSG})}, sink)

	fired, err := ev.Evaluate(context.Background(), snapshotAt(120, fake.Now()))
	require.NoError(t, err)
	require.Len(t, fired, 1)

	// Same category an hour later: suppressed.
	fake.Advance(time.Hour)
	fired, err = ev.Evaluate(context.Background(), snapshotAt(135, fake.Now()))
	require.NoError(t, err)
	assert.Empty(t, fired)

	// Worsening to Unhealthy fires again.
	fake.Advance(time.Hour)
	fired, err = ev.Evaluate(context.Background(), snapshotAt(160, fake.Now()))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, domain.CategoryUnhealthy, fired[0].Category)
}

func TestEvaluator_DeliveryFailureDoesNotRollBack(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(start)
	SetClock(fake)
	defer SetClock(nil)

	sink := &captureSink{err: errors.New("broker unavailable")}
	ev, states := newTestEvaluator([]Rule{testRule(EveryTime, Threshold{AQI: 101})}, sink)

	fired, err := ev.Evaluate(context.Background(), snapshotAt(130, fake.Now()))
	require.NoError(t, err)
	assert.Len(t, fired, 1)

	st, err := states.GetState(context.Background(), "rule-1", "denver")
	require.NoError(t, err)
	assert.Equal(t, StatusCooldown, st.Status)
	assert.Equal(t, fake.Now(), st.LastSentAt)

	// The failed delivery does not cause a re-send on the next snapshot.
	fake.Advance(5 * time.Minute)
	fired, err = ev.Evaluate(context.Background(), snapshotAt(130, fake.Now()))
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestEvaluator_PollutantFilter(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(start)
	SetClock(fake)
	defer SetClock(nil)

	rule := testRule(EveryTime, Threshold{AQI: 101})
	rule.Pollutants = []domain.Pollutant{domain.O3}
	sink := &captureSink{}
	ev, _ := newTestEvaluator([]Rule{rule}, sink)

	// Dominant pollutant is PM2.5, rule only watches ozone.
	fired, err := ev.Evaluate(context.Background(), snapshotAt(130, fake.Now()))
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestEvaluator_ForecastIntentFlagged(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(start)
	SetClock(fake)
	defer SetClock(nil)

	sink := &captureSink{}
	ev, _ := newTestEvaluator([]Rule{testRule(EveryTime, Threshold{AQI: 101})}, sink)

	fp := domain.ForecastPoint{
		Location:          testLoc,
		TargetHour:        24,
		PredictedAQI:      155,
		DominantPollutant: domain.O3,
	}
	fired, err := ev.EvaluateForecast(context.Background(), fp)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.True(t, fired[0].Forecast)
	assert.Equal(t, domain.CategoryUnhealthy, fired[0].Category)
}

func TestEvaluator_IntentCarriesPersonalizedMessage(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := clockwork.NewFakeClockAt(start)
	SetClock(fake)
	defer SetClock(nil)

	rule := testRule(EveryTime, Threshold{AQI: 101})
	rule.HealthConditions = []string{"asthma"}
	sink := &captureSink{}
	ev, _ := newTestEvaluator([]Rule{rule}, sink)

	fired, err := ev.Evaluate(context.Background(), snapshotAt(120, fake.Now()))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.True(t, fired[0].SensitiveGroup)
	assert.Contains(t, fired[0].Message, "asthma action plan")
	assert.NotEmpty(t, fired[0].ID)
	assert.Equal(t, []string{"push"}, fired[0].Channels)
}

func TestQuietHours_Contains(t *testing.T) {
	overnight := QuietHours{Enabled: true, Start: "22:00", End: "07:00"}
	daytime := QuietHours{Enabled: true, Start: "09:00", End: "17:00"}

	tests := []struct {
		name   string
		window QuietHours
		at     time.Time
		want   bool
	}{
		{"overnight late evening", overnight, time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC), true},
		{"overnight early morning", overnight, time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC), true},
		{"overnight midday", overnight, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), false},
		{"overnight end exclusive", overnight, time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC), false},
		{"overnight start inclusive", overnight, time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC), true},
		{"daytime inside", daytime, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), true},
		{"daytime outside", daytime, time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC), false},
		{"disabled", QuietHours{Start: "00:00", End: "23:59"}, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.window.Contains(tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuietHours_InvalidFormat(t *testing.T) {
	bad := QuietHours{Enabled: true, Start: "25:99", End: "07:00"}
	_, err := bad.Contains(time.Now())
	assert.Error(t, err)
}

func TestIsSensitive(t *testing.T) {
	tests := []struct {
		name       string
		conditions []string
		pollutant  domain.Pollutant
		want       bool
	}{
		{"asthma maps to lung disease for ozone", []string{"asthma"}, domain.O3, true},
		{"heart disease sensitive to CO", []string{"heart_disease"}, domain.CO, true},
		{"heart disease not sensitive to ozone", []string{"heart_disease"}, domain.O3, false},
		{"no conditions", nil, domain.PM25, false},
		{"copd sensitive to pm25", []string{"copd"}, domain.PM25, true},
		{"case insensitive", []string{"Asthma"}, domain.NO2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSensitive(tt.conditions, tt.pollutant))
		})
	}
}

func TestHealthMessage(t *testing.T) {
	assert.Equal(t, "It's a great day to be active outside.",
		HealthMessage(domain.PM25, 40, nil))

	msg := HealthMessage(domain.O3, 90, []string{"asthma"})
	assert.Contains(t, msg, "Unusually sensitive people")

	msg = HealthMessage(domain.PM25, 90, nil)
	assert.Equal(t, "Air quality is acceptable for most people.", msg)

	msg = HealthMessage(domain.PM25, 130, []string{"heart_disease"})
	assert.Contains(t, msg, "heart disease")

	msg = HealthMessage(domain.O3, 130, nil)
	assert.Contains(t, msg, "morning when ozone is lower")

	msg = HealthMessage(domain.PM25, 250, nil)
	assert.Contains(t, msg, "Very Unhealthy")

	msg = HealthMessage(domain.PM25, 450, nil)
	assert.Contains(t, msg, "Hazardous")
}
