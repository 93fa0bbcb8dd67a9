package domain

import (
	"context"
	"errors"
	"time"
)

// Pollutant is a canonical pollutant identifier.
type Pollutant string

const (
	PM25 Pollutant = "PM25"
	PM10 Pollutant = "PM10"
	O3   Pollutant = "O3"
	NO2  Pollutant = "NO2"
	SO2  Pollutant = "SO2"
	CO   Pollutant = "CO"
	HCHO Pollutant = "HCHO"
)

// Pollutants lists every pollutant the pipeline tracks.
var Pollutants = []Pollutant{PM25, PM10, O3, NO2, SO2, CO, HCHO}

// Sentinel errors for data gaps. Gaps are first-class outcomes: callers must
// be able to distinguish "AQI 12" from "unknown", so these are never masked
// by default values.
var (
	// ErrInsufficientSources means zero usable readings arrived for a
	// location/pollutant/hour. The hour is a gap, not a zero.
	ErrInsufficientSources = errors.New("insufficient sources for fusion")

	// ErrInsufficientData means a rolling window was under the EPA
	// completeness threshold and no average was produced.
	ErrInsufficientData = errors.New("insufficient data in averaging window")

	// ErrNoValidPollutant means no pollutant had a valid average for an
	// hour, so no snapshot can be emitted.
	ErrNoValidPollutant = errors.New("no pollutant with valid data")
)

// Location identifies a monitored point.
type Location struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RawReading is an unprocessed message from the measurement source topic.
type RawReading struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Measurement is one canonical observation produced by the acquisition layer,
// deduplicated upstream to at most one per (source, pollutant, location, hour).
// Immutable once created.
type Measurement struct {
	SourceID      string    `json:"source_id"`
	Pollutant     Pollutant `json:"pollutant"`
	Concentration float64   `json:"concentration"`
	Unit          string    `json:"unit"`
	Timestamp     time.Time `json:"timestamp"`
	Location      Location  `json:"location"`
	QualityFlag   string    `json:"quality_flag,omitempty"`
}

// CorrectedMeasurement is a Measurement with source-specific linear bias
// correction applied.
type CorrectedMeasurement struct {
	Measurement
	Corrected float64 `json:"corrected_concentration"`

	// Uncorrected is set when no coefficients exist for the
	// (source, pollutant) pair and the value passed through unchanged.
	Uncorrected bool `json:"uncorrected,omitempty"`
}

// FusedReading is the single reconciled concentration for one
// (location, pollutant, hour).
type FusedReading struct {
	Location      Location  `json:"location"`
	Pollutant     Pollutant `json:"pollutant"`
	Hour          time.Time `json:"hour"`
	Concentration float64   `json:"concentration"`
	Confidence    float64   `json:"confidence"`
	Sources       []string  `json:"contributing_sources"`
	DominantSource string   `json:"dominant_source"`
}

// AveragingMethod names the EPA temporal-averaging rule applied to a window.
type AveragingMethod string

const (
	MethodRolling8h  AveragingMethod = "rolling_8h"
	MethodRolling24h AveragingMethod = "rolling_24h"
	MethodHourlyMax  AveragingMethod = "hourly_max"
)

// AveragedReading is the windowed value feeding the AQI converter.
type AveragedReading struct {
	Location  Location        `json:"location"`
	Pollutant Pollutant       `json:"pollutant"`
	WindowEnd time.Time       `json:"window_end"`
	Value     float64         `json:"averaged_value"`
	Method    AveragingMethod `json:"method"`

	// HoursUsed is how many populated hours contributed to the window.
	HoursUsed int `json:"hours_used"`

	// Confidence carries the minimum fusion confidence of the
	// contributing hours.
	Confidence float64 `json:"confidence"`
}

// AQISnapshot is the per-location hourly AQI result.
type AQISnapshot struct {
	Location          Location          `json:"location"`
	Timestamp         time.Time         `json:"timestamp"`
	OverallAQI        int               `json:"overall_aqi"`
	DominantPollutant Pollutant         `json:"dominant_pollutant"`
	SubIndices        map[Pollutant]int `json:"sub_indices"`
	Category          string            `json:"category"`
	HealthMessage     string            `json:"health_message,omitempty"`
	Confidence        float64           `json:"confidence"`
	ComputedAt        time.Time         `json:"computed_at"`

	// TierExceeded marks a concentration above the top EPA breakpoint.
	// Still a valid AQI (clamped to 500), but an extreme-event signal.
	TierExceeded bool `json:"tier_exceeded,omitempty"`
}

// ForecastPoint is one projected hour of a location's AQI forecast.
type ForecastPoint struct {
	Location          Location  `json:"location"`
	TargetHour        int       `json:"target_hour"`
	PredictedAQI      int       `json:"predicted_aqi"`
	LowerBound        int       `json:"lower_bound"`
	UpperBound        int       `json:"upper_bound"`
	DominantPollutant Pollutant `json:"dominant_pollutant"`
}

// HourOf truncates a timestamp to its UTC hour bucket.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
