package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-fusion-service/internal/alert"
	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

var memLoc = domain.Location{ID: "la", Lat: 34.05, Lon: -118.24}

func fusedAt(hour time.Time, value float64) domain.FusedReading {
	return domain.FusedReading{
		Location:       memLoc,
		Pollutant:      domain.PM25,
		Hour:           hour,
		Concentration:  value,
		Confidence:     0.9,
		Sources:        []string{"airnow"},
		DominantSource: "airnow",
	}
}

func TestMemory_FusedSince_FiltersAndOrders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of order.
	require.NoError(t, m.SaveFused(ctx, fusedAt(base.Add(2*time.Hour), 12)))
	require.NoError(t, m.SaveFused(ctx, fusedAt(base, 10)))
	require.NoError(t, m.SaveFused(ctx, fusedAt(base.Add(time.Hour), 11)))

	got, err := m.FusedSince(ctx, "la", domain.PM25, base.Add(time.Hour))
	require.NoError(t, err)
	want := []domain.FusedReading{
		fusedAt(base.Add(time.Hour), 11),
		fusedAt(base.Add(2*time.Hour), 12),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fused history mismatch (-want +got):\n%s", diff)
	}
}

func TestMemory_FusedSince_OtherPollutantInvisible(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveFused(ctx, fusedAt(base, 10)))

	got, err := m.FusedSince(ctx, "la", domain.O3, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory_SnapshotsSince(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		snap := domain.AQISnapshot{
			Location:   memLoc,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			OverallAQI: 50 + i,
		}
		require.NoError(t, m.SaveSnapshot(ctx, snap))
	}

	got, err := m.SnapshotsSince(ctx, "la", base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 53, got[0].OverallAQI)
	assert.Equal(t, 54, got[1].OverallAQI)
}

func TestMemory_AlertState_MissingIsZero(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	st, err := m.GetState(ctx, "rule-1", "la")
	require.NoError(t, err)
	assert.Equal(t, alert.State{}, st)

	sent := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := alert.State{
		Status:           alert.StatusCooldown,
		LastSentAt:       sent,
		LastSentCategory: domain.CategoryUnhealthy,
		CooldownUntil:    sent.Add(30 * time.Minute),
	}
	require.NoError(t, m.SetState(ctx, "rule-1", "la", want))

	st, err = m.GetState(ctx, "rule-1", "la")
	require.NoError(t, err)
	assert.Equal(t, want, st)
}

func TestStaticRules_IndexesByLocation(t *testing.T) {
	other := domain.Location{ID: "sf", Lat: 37.77, Lon: -122.42}
	rules := []alert.Rule{
		{ID: "r1", Locations: []domain.Location{memLoc, other}},
		{ID: "r2", Locations: []domain.Location{other}},
	}
	src := NewStaticRules(rules)

	got, err := src.RulesForLocation(context.Background(), "sf")
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = src.RulesForLocation(context.Background(), "la")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)

	got, err = src.RulesForLocation(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Empty(t, got)
}
