package domain

// Coefficients is one linear bias-correction pair from a validation study.
type Coefficients struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// CorrectionTable holds versioned per-(source, pollutant) correction
// coefficients. Immutable after construction; swap the table to change
// corrections, never mutate it.
type CorrectionTable struct {
	version string
	coeffs  map[string]map[Pollutant]Coefficients
}

// NewCorrectionTable builds an immutable table from a coefficient map keyed
// by lowercase source ID.
func NewCorrectionTable(version string, coeffs map[string]map[Pollutant]Coefficients) *CorrectionTable {
	copied := make(map[string]map[Pollutant]Coefficients, len(coeffs))
	for source, byPollutant := range coeffs {
		inner := make(map[Pollutant]Coefficients, len(byPollutant))
		for p, c := range byPollutant {
			inner[p] = c
		}
		copied[source] = inner
	}
	return &CorrectionTable{version: version, coeffs: copied}
}

// Version reports the table's calibration-data version.
func (t *CorrectionTable) Version() string { return t.version }

// Lookup returns the coefficients for a (source, pollutant) pair.
func (t *CorrectionTable) Lookup(sourceID string, p Pollutant) (Coefficients, bool) {
	byPollutant, ok := t.coeffs[sourceID]
	if !ok {
		return Coefficients{}, false
	}
	c, ok := byPollutant[p]
	return c, ok
}

// Correct applies the linear bias correction for the measurement's source and
// pollutant. Unmapped pairs pass through with slope 1, intercept 0 and are
// flagged Uncorrected so fusion can still proceed on them.
func (t *CorrectionTable) Correct(m Measurement) CorrectedMeasurement {
	c, ok := t.Lookup(m.SourceID, m.Pollutant)
	if !ok {
		return CorrectedMeasurement{
			Measurement: m,
			Corrected:   m.Concentration,
			Uncorrected: true,
		}
	}
	return CorrectedMeasurement{
		Measurement: m,
		Corrected:   m.Concentration*c.Slope + c.Intercept,
	}
}

// DefaultCorrectionTable returns the table of coefficients from the
// TEMPO/GEOS-CF validation studies. Ground networks (airnow, waqi) are the
// reference and carry no correction.
func DefaultCorrectionTable() *CorrectionTable {
	return NewCorrectionTable("validation-2024.1", map[string]map[Pollutant]Coefficients{
		"tempo": {
			NO2:  {Slope: 0.92, Intercept: 2.1},
			HCHO: {Slope: 0.88, Intercept: 1.5},
		},
		"geos": {
			NO2:  {Slope: 0.85, Intercept: 3.8},
			O3:   {Slope: 0.95, Intercept: -1.2},
			PM25: {Slope: 0.78, Intercept: 5.2},
		},
	})
}
