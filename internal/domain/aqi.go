package domain

import (
	"math"
	"sort"
	"time"
)

// breakpoint is one tier of an EPA piecewise-linear AQI mapping.
type breakpoint struct {
	concLo, concHi float64
	aqiLo, aqiHi   int
}

// EPA breakpoint tables, in the units set by epaUnits (O3/CO ppm, NO2/SO2
// ppb, PM µg/m³). Values are the published EPA tiers; do not edit without a
// table revision.
var epaBreakpoints = map[Pollutant][]breakpoint{
	O3: {
		{0.000, 0.054, 0, 50},
		{0.055, 0.070, 51, 100},
		{0.071, 0.085, 101, 150},
		{0.086, 0.105, 151, 200},
		{0.106, 0.200, 201, 300},
		{0.201, 0.604, 301, 500},
	},
	NO2: {
		{0, 53, 0, 50},
		{54, 100, 51, 100},
		{101, 360, 101, 150},
		{361, 649, 151, 200},
		{650, 1249, 201, 300},
		{1250, 2049, 301, 500},
	},
	SO2: {
		{0, 35, 0, 50},
		{36, 75, 51, 100},
		{76, 185, 101, 150},
		{186, 304, 151, 200},
		{305, 604, 201, 300},
		{605, 1004, 301, 500},
	},
	CO: {
		{0.0, 4.4, 0, 50},
		{4.5, 9.4, 51, 100},
		{9.5, 12.4, 101, 150},
		{12.5, 15.4, 151, 200},
		{15.5, 30.4, 201, 300},
		{30.5, 50.4, 301, 500},
	},
	PM25: {
		{0.0, 12.0, 0, 50},
		{12.1, 35.4, 51, 100},
		{35.5, 55.4, 101, 150},
		{55.5, 150.4, 151, 200},
		{150.5, 250.4, 201, 300},
		{250.5, 350.4, 301, 400},
		{350.5, 500.4, 401, 500},
	},
	PM10: {
		{0, 54, 0, 50},
		{55, 154, 51, 100},
		{155, 254, 101, 150},
		{255, 354, 151, 200},
		{355, 424, 201, 300},
		{425, 504, 301, 400},
		{505, 604, 401, 500},
	},
}

// aqiPriority is the EPA reporting order used to break sub-index ties when
// picking the dominant pollutant. Lower rank wins. HCHO is unofficial and
// ranks last.
var aqiPriority = map[Pollutant]int{
	O3:   0,
	PM25: 1,
	PM10: 2,
	CO:   3,
	SO2:  4,
	NO2:  5,
	HCHO: 6,
}

// AQI category boundaries per EPA.
const (
	CategoryGood          = "Good"
	CategoryModerate      = "Moderate"
	CategoryUSG           = "Unhealthy for Sensitive Groups"
	CategoryUnhealthy     = "Unhealthy"
	CategoryVeryUnhealthy = "Very Unhealthy"
	CategoryHazardous     = "Hazardous"
)

var healthMessages = map[string]string{
	CategoryGood:          "Air quality is satisfactory for most people.",
	CategoryModerate:      "Unusually sensitive people should consider reducing prolonged outdoor exertion.",
	CategoryUSG:           "Sensitive groups may experience health effects. The general public is less likely to be affected.",
	CategoryUnhealthy:     "Everyone may experience health effects. Sensitive groups may experience more serious effects.",
	CategoryVeryUnhealthy: "Health alert for everyone. Serious health effects for everyone.",
	CategoryHazardous:     "Emergency conditions. Everyone is more likely to be affected.",
}

// SubIndex is a per-pollutant AQI value before cross-pollutant aggregation.
type SubIndex struct {
	Pollutant    Pollutant
	Index        int
	TierExceeded bool
	Confidence   float64
}

// ToAQI converts an averaged concentration into its EPA sub-index using
// piecewise-linear breakpoint interpolation. Below the lowest tier clamps to
// 0; above the highest clamps to 500 with TierExceeded set.
func ToAQI(ar AveragedReading) SubIndex {
	p := ar.Pollutant
	table, ok := epaBreakpoints[p]
	if !ok {
		// HCHO has no official EPA index; use the NO2 table as proxy.
		table = epaBreakpoints[NO2]
	}

	c := ar.Value
	sub := SubIndex{Pollutant: p, Confidence: ar.Confidence}

	if c < table[0].concLo {
		return sub
	}

	for _, bp := range table {
		if c <= bp.concHi {
			span := bp.concHi - bp.concLo
			ratio := 0.0
			if span > 0 {
				ratio = (c - bp.concLo) / span
			}
			sub.Index = int(math.Round(float64(bp.aqiLo) + ratio*float64(bp.aqiHi-bp.aqiLo)))
			return sub
		}
	}

	sub.Index = 500
	sub.TierExceeded = true
	return sub
}

// Aggregate combines valid sub-indices for one location/hour into a
// snapshot. Overall AQI is the maximum sub-index; ties break by EPA
// reporting priority. Returns ErrNoValidPollutant when subs is empty, so a
// fully-gapped hour propagates as a gap instead of defaulting to Good.
func Aggregate(loc Location, ts time.Time, subs []SubIndex) (AQISnapshot, error) {
	if len(subs) == 0 {
		return AQISnapshot{}, ErrNoValidPollutant
	}

	sorted := make([]SubIndex, len(subs))
	copy(sorted, subs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Index != sorted[j].Index {
			return sorted[i].Index > sorted[j].Index
		}
		return aqiPriority[sorted[i].Pollutant] < aqiPriority[sorted[j].Pollutant]
	})

	dominant := sorted[0]
	indices := make(map[Pollutant]int, len(subs))
	confidence := 1.0
	exceeded := false
	for _, s := range subs {
		indices[s.Pollutant] = s.Index
		exceeded = exceeded || s.TierExceeded
		if s.Confidence > 0 {
			confidence = math.Min(confidence, s.Confidence)
		}
	}

	category := CategoryFor(dominant.Index)
	return AQISnapshot{
		Location:          loc,
		Timestamp:         ts.UTC(),
		OverallAQI:        dominant.Index,
		DominantPollutant: dominant.Pollutant,
		SubIndices:        indices,
		Category:          category,
		HealthMessage:     healthMessages[category],
		Confidence:        confidence,
		ComputedAt:        clock.Now().UTC(),
		TierExceeded:      exceeded,
	}, nil
}

// CategoryFor maps an AQI value to its EPA category name.
func CategoryFor(aqi int) string {
	switch {
	case aqi <= 50:
		return CategoryGood
	case aqi <= 100:
		return CategoryModerate
	case aqi <= 150:
		return CategoryUSG
	case aqi <= 200:
		return CategoryUnhealthy
	case aqi <= 300:
		return CategoryVeryUnhealthy
	default:
		return CategoryHazardous
	}
}

// CategoryRank orders EPA categories for severity comparison; higher is worse.
func CategoryRank(category string) int {
	switch category {
	case CategoryGood:
		return 0
	case CategoryModerate:
		return 1
	case CategoryUSG:
		return 2
	case CategoryUnhealthy:
		return 3
	case CategoryVeryUnhealthy:
		return 4
	case CategoryHazardous:
		return 5
	default:
		return -1
	}
}

// HealthMessageFor returns the EPA guidance line for a category.
func HealthMessageFor(category string) string {
	return healthMessages[category]
}
