package domain_test

import (
	"testing"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
	"github.com/stretchr/testify/assert"
)

func measurement(source string, p domain.Pollutant, value float64) domain.Measurement {
	return domain.Measurement{
		SourceID:      source,
		Pollutant:     p,
		Concentration: value,
		Timestamp:     time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC),
		Location:      testLoc,
	}
}

func TestCorrect_AppliesLinearCoefficients(t *testing.T) {
	table := domain.NewCorrectionTable("test-v1", map[string]map[domain.Pollutant]domain.Coefficients{
		"tempo": {domain.NO2: {Slope: 0.92, Intercept: 2.1}},
	})

	out := table.Correct(measurement("tempo", domain.NO2, 50))
	assert.InDelta(t, 50*0.92+2.1, out.Corrected, 1e-9)
	assert.False(t, out.Uncorrected)
	assert.InDelta(t, 50.0, out.Concentration, 1e-9, "original concentration is preserved")
}

func TestCorrect_UnmappedPairPassesThrough(t *testing.T) {
	table := domain.DefaultCorrectionTable()

	// Ground stations are the reference; no coefficients exist for them.
	out := table.Correct(measurement("airnow", domain.PM25, 38))
	assert.InDelta(t, 38.0, out.Corrected, 1e-9)
	assert.True(t, out.Uncorrected)
}

func TestDefaultCorrectionTable_StudyCoefficients(t *testing.T) {
	table := domain.DefaultCorrectionTable()

	c, ok := table.Lookup("geos", domain.O3)
	assert.True(t, ok)
	assert.InDelta(t, 0.95, c.Slope, 1e-9)
	assert.InDelta(t, -1.2, c.Intercept, 1e-9)

	_, ok = table.Lookup("waqi", domain.O3)
	assert.False(t, ok)

	assert.Equal(t, "validation-2024.1", table.Version())
}
