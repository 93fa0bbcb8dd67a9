package domain_test

import (
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLoc = domain.Location{ID: "nyc-manhattan", Lat: 40.7128, Lon: -74.0060}

func corrected(source string, p domain.Pollutant, value float64) domain.CorrectedMeasurement {
	return domain.CorrectedMeasurement{
		Measurement: domain.Measurement{
			SourceID:  source,
			Pollutant: p,
			Location:  testLoc,
			Timestamp: time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC),
		},
		Corrected: value,
	}
}

func TestFusionWeights_Normalize_SumsToOne(t *testing.T) {
	weights := domain.DefaultFusionWeights()

	subsets := [][]string{
		{"airnow"},
		{"airnow", "waqi"},
		{"waqi", "tempo", "geos"},
		{"airnow", "waqi", "tempo", "geos"},
		{"tempo", "unknown-network"},
	}

	for _, subset := range subsets {
		normalized := weights.Normalize(subset)
		require.Len(t, normalized, len(subset))

		var sum float64
		for _, w := range normalized {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "subset %v", subset)
	}
}

func TestFusionWeights_Normalize_PreservesHierarchy(t *testing.T) {
	weights := domain.DefaultFusionWeights()
	normalized := weights.Normalize([]string{"waqi", "geos"})

	// waqi (0.3) vs geos (0.05) → 6:1 ratio survives renormalization.
	assert.InDelta(t, 0.3/0.35, normalized["waqi"], 1e-9)
	assert.InDelta(t, 0.05/0.35, normalized["geos"], 1e-9)
}

func TestFuse_WeightedMean(t *testing.T) {
	hour := time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC)
	readings := []domain.CorrectedMeasurement{
		corrected("airnow", domain.PM25, 38),
		corrected("waqi", domain.PM25, 41),
		corrected("tempo", domain.PM25, 44),
	}

	fused, err := domain.Fuse(testLoc, domain.PM25, hour, domain.DefaultFusionWeights(), readings)
	require.NoError(t, err)

	// Weights renormalize to airnow .5/.95, waqi .3/.95, tempo .15/.95.
	want := (38*0.5 + 41*0.3 + 44*0.15) / 0.95
	assert.InDelta(t, want, fused.Concentration, 1e-9)
	assert.Equal(t, "airnow", fused.DominantSource)
	assert.Equal(t, []string{"airnow", "tempo", "waqi"}, fused.Sources)
	assert.Equal(t, hour, fused.Hour)
	assert.Greater(t, fused.Confidence, 0.8, "tight agreement should score high")
}

func TestFuse_EmptyReadingsIsGapNotZero(t *testing.T) {
	hour := time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC)
	_, err := domain.Fuse(testLoc, domain.O3, hour, domain.DefaultFusionWeights(), nil)
	require.ErrorIs(t, err, domain.ErrInsufficientSources)
}

func TestFuse_SingleSourceConfidenceCap(t *testing.T) {
	hour := time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC)
	fused, err := domain.Fuse(testLoc, domain.NO2, hour, domain.DefaultFusionWeights(),
		[]domain.CorrectedMeasurement{corrected("airnow", domain.NO2, 20)})
	require.NoError(t, err)

	assert.InDelta(t, 20.0, fused.Concentration, 1e-9)
	assert.LessOrEqual(t, fused.Confidence, 0.8)
}

func TestFuse_ConfidenceDecreasesWithSpread(t *testing.T) {
	hour := time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC)
	weights := domain.DefaultFusionWeights()

	var prev float64 = 1.0
	// Widen the spread around a fixed mean of 40 and watch confidence fall.
	for _, spread := range []float64{1, 5, 10, 20} {
		readings := []domain.CorrectedMeasurement{
			corrected("airnow", domain.PM25, 40-spread),
			corrected("waqi", domain.PM25, 40+spread),
		}
		fused, err := domain.Fuse(testLoc, domain.PM25, hour, weights, readings)
		require.NoError(t, err)
		assert.Less(t, fused.Confidence, prev, "spread ±%.0f", spread)
		prev = fused.Confidence
	}
}

func TestFuse_ConfidenceClipped(t *testing.T) {
	hour := time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC)
	weights := domain.DefaultFusionWeights()

	// Identical values: clipped below 1.0.
	agree, err := domain.Fuse(testLoc, domain.SO2, hour, weights, []domain.CorrectedMeasurement{
		corrected("airnow", domain.SO2, 10),
		corrected("waqi", domain.SO2, 10),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.99, agree.Confidence, 1e-9)

	// Wild divergence: clipped at the floor, never negative.
	diverge, err := domain.Fuse(testLoc, domain.SO2, hour, weights, []domain.CorrectedMeasurement{
		corrected("airnow", domain.SO2, 1),
		corrected("waqi", domain.SO2, 400),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, diverge.Confidence, 1e-9)
	assert.False(t, math.IsNaN(diverge.Confidence))
}
