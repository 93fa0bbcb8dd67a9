// Package domain models multi-source air quality measurements and the EPA
// Air Quality Index computation applied to them.
//
// # Data Sources
//
// Measurements arrive from four independent source families, each with its
// own grid, units, and known biases:
//
//	airnow — EPA AirNow ground stations (reference-grade, sparse)
//	waqi   — World Air Quality Index aggregated ground network
//	tempo  — NASA TEMPO satellite column retrievals (NO2, O3, HCHO)
//	geos   — GEOS-CF chemical-transport model forecast fields
//
// The upstream acquisition layer parses source-native files and publishes one
// JSON Measurement per (source, pollutant, location, hour), deduplicated, to
// the source topic. This package never sees raw satellite granules.
//
// # Units
//
// EPA breakpoint tables are defined in mixed units and the converter expects
// exactly those: O3 and CO in ppm, NO2 and SO2 in ppb, PM2.5 and PM10 in
// µg/m³. [NormalizeMeasurement] converts source-native units using the fixed
// factors at standard conditions (25 °C, 1 atm):
//
//	NO2: 1 ppb = 1.88 µg/m³
//	SO2: 1 ppb = 2.62 µg/m³
//	CO:  1 ppb = 1.15 µg/m³
//	O3:  1 ppb = 1.96 µg/m³
//
// # Bias Correction
//
// Satellite and model sources carry systematic offsets against ground truth.
// Validation studies supply per-(source, pollutant) linear coefficients, and
// correction is corrected = slope*raw + intercept. The coefficient table is
// versioned configuration, not code; an unmapped pair passes through with
// slope 1, intercept 0 and the Uncorrected flag set.
//
// # Fusion
//
// Each source has a static base weight reflecting instrument trust. Only
// sources that actually reported participate; their weights are renormalized
// to sum to 1 and the fused concentration is the weighted mean of corrected
// values. Confidence is derived from the spread among sources: tight
// agreement scores high, divergence scores low.
//
// # AQI
//
// Sub-indices use EPA's piecewise-linear breakpoint interpolation. The
// overall AQI is the maximum sub-index; ties go to the EPA reporting
// priority O3 > PM2.5 > PM10 > CO > SO2 > NO2. HCHO has no official EPA
// index and is converted through the NO2 table as a proxy, ranked last.
// Concentrations above the top tier clamp to 500 with TierExceeded set.
package domain
