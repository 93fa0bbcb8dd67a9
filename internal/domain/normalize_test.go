package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawReading(t *testing.T, payload map[string]any) domain.RawReading {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.RawReading{
		Value:     data,
		Timestamp: time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC),
	}
}

func TestParseRawReading(t *testing.T) {
	raw := rawReading(t, map[string]any{
		"source_id":     "AirNow",
		"pollutant":     "pm2.5",
		"concentration": 38.2,
		"unit":          "µg/m³",
		"timestamp":     "2026-03-05T14:00:00Z",
		"location_id":   "nyc-manhattan",
		"lat":           40.7128,
		"lon":           -74.0060,
		"quality_flag":  "good",
	})

	m, err := domain.ParseRawReading(raw)
	require.NoError(t, err)

	assert.Equal(t, "airnow", m.SourceID)
	assert.Equal(t, domain.PM25, m.Pollutant)
	assert.InDelta(t, 38.2, m.Concentration, 1e-9)
	assert.Equal(t, "ug/m3", m.Unit)
	assert.Equal(t, "nyc-manhattan", m.Location.ID)
	assert.Equal(t, time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC), m.Timestamp)
}

func TestParseRawReading_Invalid(t *testing.T) {
	_, err := domain.ParseRawReading(domain.RawReading{Value: []byte("not json")})
	assert.Error(t, err)

	_, err = domain.ParseRawReading(rawReading(t, map[string]any{
		"source_id": "geos",
		"pollutant": "pollen",
	}))
	assert.ErrorContains(t, err, "unknown pollutant")
}

func TestParseRawReading_BadTimestampFallsBackToMessageTime(t *testing.T) {
	raw := rawReading(t, map[string]any{
		"source_id":     "waqi",
		"pollutant":     "no2",
		"concentration": 21.0,
		"unit":          "ppb",
		"timestamp":     "yesterday-ish",
	})

	m, err := domain.ParseRawReading(raw)
	require.NoError(t, err)
	assert.Equal(t, raw.Timestamp, m.Timestamp)
}

func TestNormalizePollutant_Spellings(t *testing.T) {
	tests := map[string]domain.Pollutant{
		"pm25":            domain.PM25,
		"PM2_5":           domain.PM25,
		"ozone":           domain.O3,
		"NITROGEN_DIOXIDE": domain.NO2,
		"formaldehyde":    domain.HCHO,
		" co ":            domain.CO,
	}
	for in, want := range tests {
		got, ok := domain.NormalizePollutant(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := domain.NormalizePollutant("noise")
	assert.False(t, ok)
}

func measurementWithUnit(source string, p domain.Pollutant, value float64, unit string) domain.Measurement {
	m := measurement(source, p, value)
	m.Unit = unit
	return m
}

func TestNormalizeMeasurement_UnitConversion(t *testing.T) {
	// GEOS reports O3 in ppb; the EPA O3 table is in ppm.
	o3 := domain.NormalizeMeasurement(measurementWithUnit("geos", domain.O3, 54, "ppb"))
	assert.Equal(t, "ppm", o3.Unit)
	assert.InDelta(t, 0.054, o3.Concentration, 1e-9)

	// WAQI reports NO2 in µg/m³; the EPA NO2 table is in ppb.
	no2 := domain.NormalizeMeasurement(measurementWithUnit("waqi", domain.NO2, 94, "ug/m3"))
	assert.Equal(t, "ppb", no2.Unit)
	assert.InDelta(t, 50.0, no2.Concentration, 1e-9)

	// Already in target units: untouched.
	pm := domain.NormalizeMeasurement(measurementWithUnit("airnow", domain.PM25, 12, "ug/m3"))
	assert.InDelta(t, 12.0, pm.Concentration, 1e-9)
}

func TestNormalizeMeasurement_UnknownUnitPassesThrough(t *testing.T) {
	m := domain.NormalizeMeasurement(measurementWithUnit("airnow", domain.O3, 30, "fathoms"))
	assert.Equal(t, "fathoms", m.Unit)
	assert.InDelta(t, 30.0, m.Concentration, 1e-9)
}
