package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	// Confidence bounds: even wildly divergent sources retain some signal,
	// and perfect agreement never claims certainty.
	minConfidence = 0.3
	maxConfidence = 0.99

	// A single source cannot be cross-validated.
	singleSourceConfidenceCap = 0.8
)

// FusionWeights holds per-source base weights for the weighted-mean fusion.
// Weights reflect instrument trust from validation studies and need not sum
// to 1; they are renormalized over whichever sources actually report.
type FusionWeights struct {
	weights map[string]float64
}

// NewFusionWeights builds an immutable weight set keyed by lowercase source ID.
func NewFusionWeights(weights map[string]float64) *FusionWeights {
	copied := make(map[string]float64, len(weights))
	for source, w := range weights {
		copied[source] = w
	}
	return &FusionWeights{weights: copied}
}

// DefaultFusionWeights returns the study-derived source hierarchy:
// ground stations over aggregated networks over satellite over model.
func DefaultFusionWeights() *FusionWeights {
	return NewFusionWeights(map[string]float64{
		"airnow": 0.5,
		"waqi":   0.3,
		"tempo":  0.15,
		"geos":   0.05,
	})
}

// Normalize returns weights for the given sources scaled to sum to exactly 1.
// Sources without a configured base weight share the minimum configured
// weight, so an unknown source participates without dominating.
func (f *FusionWeights) Normalize(sources []string) map[string]float64 {
	if len(sources) == 0 {
		return nil
	}

	fallback := math.MaxFloat64
	for _, w := range f.weights {
		fallback = math.Min(fallback, w)
	}
	if fallback == math.MaxFloat64 {
		fallback = 1.0
	}

	raw := make(map[string]float64, len(sources))
	var total float64
	for _, s := range sources {
		w, ok := f.weights[s]
		if !ok {
			w = fallback
		}
		raw[s] = w
		total += w
	}

	normalized := make(map[string]float64, len(raw))
	var sum float64
	largest := sources[0]
	for s, w := range raw {
		normalized[s] = w / total
		sum += normalized[s]
		if normalized[s] > normalized[largest] {
			largest = s
		}
	}

	// Push any float residue onto the largest weight so the sum is exact.
	normalized[largest] += 1.0 - sum

	return normalized
}

// Fuse combines corrected readings for one (location, pollutant, hour) into a
// single FusedReading. Returns ErrInsufficientSources on empty input: a
// missing hour is a gap, never a zero.
func Fuse(loc Location, p Pollutant, hour time.Time, weights *FusionWeights, readings []CorrectedMeasurement) (FusedReading, error) {
	if len(readings) == 0 {
		return FusedReading{}, fmt.Errorf("fuse %s at %s %s: %w", p, loc.ID, hour.Format(time.RFC3339), ErrInsufficientSources)
	}

	sources := make([]string, 0, len(readings))
	for _, r := range readings {
		sources = append(sources, r.SourceID)
	}

	normalized := weights.Normalize(sources)

	var fused float64
	for _, r := range readings {
		fused += r.Corrected * normalized[r.SourceID]
	}

	dominant := sources[0]
	for _, s := range sources {
		if normalized[s] > normalized[dominant] {
			dominant = s
		}
	}

	sort.Strings(sources)

	return FusedReading{
		Location:       loc,
		Pollutant:      p,
		Hour:           HourOf(hour),
		Concentration:  fused,
		Confidence:     fusionConfidence(readings),
		Sources:        sources,
		DominantSource: dominant,
	}, nil
}

// fusionConfidence scores inter-source agreement as 1 minus the coefficient
// of variation of the corrected values, clipped to [0.3, 0.99]. A single
// source is capped at 0.8: no cross-validation possible.
func fusionConfidence(readings []CorrectedMeasurement) float64 {
	if len(readings) == 1 {
		return singleSourceConfidenceCap
	}

	var mean float64
	for _, r := range readings {
		mean += r.Corrected
	}
	mean /= float64(len(readings))

	var variance float64
	for _, r := range readings {
		d := r.Corrected - mean
		variance += d * d
	}
	variance /= float64(len(readings))

	if mean <= 0 {
		return minConfidence
	}

	cv := math.Sqrt(variance) / mean
	return clamp(1.0-cv, minConfidence, maxConfidence)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
