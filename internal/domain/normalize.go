package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// wirePayload is the flat JSON structure published by the acquisition layer.
// Pollutant and unit spellings vary per source and are normalized here.
type wirePayload struct {
	SourceID      string  `json:"source_id"`
	Pollutant     string  `json:"pollutant"`
	Concentration float64 `json:"concentration"`
	Unit          string  `json:"unit"`
	Timestamp     string  `json:"timestamp"` // RFC 3339, UTC
	LocationID    string  `json:"location_id"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	QualityFlag   string  `json:"quality_flag"`
}

// ppb → µg/m³ factors at standard conditions (25 °C, 1 atm).
var ppbToUgm3 = map[Pollutant]float64{
	NO2: 1.88,
	SO2: 2.62,
	CO:  1.15,
	O3:  1.96,
}

// epaUnits maps each pollutant to the unit its EPA breakpoint tier uses.
var epaUnits = map[Pollutant]string{
	PM25: "ug/m3",
	PM10: "ug/m3",
	O3:   "ppm",
	NO2:  "ppb",
	SO2:  "ppb",
	CO:   "ppm",
	HCHO: "ppb",
}

// ParseRawReading deserializes a RawReading's value into a Measurement.
func ParseRawReading(raw RawReading) (Measurement, error) {
	var p wirePayload
	if err := json.Unmarshal(raw.Value, &p); err != nil {
		return Measurement{}, fmt.Errorf("parse raw reading: %w", err)
	}

	pollutant, ok := NormalizePollutant(p.Pollutant)
	if !ok {
		return Measurement{}, fmt.Errorf("unknown pollutant %q from source %q", p.Pollutant, p.SourceID)
	}

	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		// Fall back to the message timestamp set by the collector.
		ts = raw.Timestamp
	}

	return Measurement{
		SourceID:      strings.ToLower(strings.TrimSpace(p.SourceID)),
		Pollutant:     pollutant,
		Concentration: p.Concentration,
		Unit:          normalizeUnitName(p.Unit),
		Timestamp:     ts.UTC(),
		Location:      Location{ID: p.LocationID, Lat: p.Lat, Lon: p.Lon},
		QualityFlag:   p.QualityFlag,
	}, nil
}

// NormalizePollutant maps source-specific pollutant spellings to the
// canonical enum. AirNow reports "PM2.5", WAQI "pm25", TEMPO "NO2" columns,
// GEOS "PM2_5"; all collapse to one name.
func NormalizePollutant(name string) (Pollutant, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "PM2.5", "PM25", "PM2_5":
		return PM25, true
	case "PM10", "PM_10":
		return PM10, true
	case "O3", "OZONE":
		return O3, true
	case "NO2", "NITROGEN_DIOXIDE":
		return NO2, true
	case "SO2", "SULFUR_DIOXIDE":
		return SO2, true
	case "CO", "CARBON_MONOXIDE":
		return CO, true
	case "HCHO", "FORMALDEHYDE":
		return HCHO, true
	default:
		return "", false
	}
}

// NormalizeMeasurement converts a measurement's concentration into the unit
// the pollutant's EPA breakpoint table is defined in. Unconvertible units
// pass through unchanged with the original unit preserved, so the condition
// is visible downstream rather than silently wrong.
// EPAUnit returns the unit a pollutant's breakpoint tiers are defined in.
func EPAUnit(p Pollutant) (string, bool) {
	unit, ok := epaUnits[p]
	return unit, ok
}

func NormalizeMeasurement(m Measurement) Measurement {
	target := epaUnits[m.Pollutant]
	if m.Unit == target {
		return m
	}

	converted, ok := convertUnit(m.Pollutant, m.Concentration, m.Unit, target)
	if !ok {
		return m
	}

	m.Concentration = converted
	m.Unit = target
	return m
}

func convertUnit(p Pollutant, value float64, from, to string) (float64, bool) {
	switch {
	case from == "ppb" && to == "ppm":
		return value / 1000.0, true
	case from == "ppm" && to == "ppb":
		return value * 1000.0, true
	case from == "ppb" && to == "ug/m3":
		f, ok := ppbToUgm3[p]
		return value * f, ok
	case from == "ug/m3" && to == "ppb":
		f, ok := ppbToUgm3[p]
		if !ok || f == 0 {
			return 0, false
		}
		return value / f, true
	case from == "ug/m3" && to == "ppm":
		ppb, ok := convertUnit(p, value, "ug/m3", "ppb")
		if !ok {
			return 0, false
		}
		return ppb / 1000.0, true
	case from == "ppm" && to == "ug/m3":
		return convertUnit(p, value*1000.0, "ppb", "ug/m3")
	default:
		return 0, false
	}
}

// normalizeUnitName collapses the unit spellings seen across sources.
func normalizeUnitName(unit string) string {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "µg/m³", "ug/m3", "ugm3", "µg/m3":
		return "ug/m3"
	case "ppb":
		return "ppb"
	case "ppm":
		return "ppm"
	default:
		return strings.ToLower(strings.TrimSpace(unit))
	}
}
