// Command validate performs integrity checks on a generated measurement
// fixture: every payload must parse through the same domain code the
// pipeline runs, units must normalize to EPA breakpoint units, and each
// location must carry enough source coverage for fusion to work.
//
// Usage:
//
//	go run ./cmd/validate -fixture data/mock/measurements_250601.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

var knownSources = map[string]bool{
	"airnow": true,
	"waqi":   true,
	"tempo":  true,
	"geos":   true,
}

func main() {
	fixture := flag.String("fixture", "", "path to the measurement fixture JSON")
	flag.Parse()

	if *fixture == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*fixture); code != 0 {
		os.Exit(code)
	}
}

func run(path string) int {
	fmt.Println("=== Measurement Fixture Validation ===")
	fmt.Println()

	raw, err := loadRawPayloads(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load fixture: %v\n", err)
		return 1
	}

	measurements, parsePhase := validateParsing(raw)

	phases := []*phase{
		parsePhase,
		validateUnits(measurements),
		validateSourceCoverage(measurements),
		validateFusion(measurements),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Payloads: %d total, %d parsed\n", len(raw), len(measurements))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i >= 20 {
				fmt.Printf("  ... and %d more\n", len(p.errors)-20)
				break
			}
			fmt.Printf("  %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	return 0
}

func loadRawPayloads(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode fixture array: %w", err)
	}
	return raw, nil
}

// validateParsing runs every payload through the pipeline's own parser and
// unit normalizer.
func validateParsing(raw []json.RawMessage) ([]domain.Measurement, *phase) {
	p := &phase{name: "payload parsing"}
	measurements := make([]domain.Measurement, 0, len(raw))
	for i, msg := range raw {
		m, err := domain.ParseRawReading(domain.RawReading{Value: msg})
		if err != nil {
			p.errorf("payload %d: %v", i, err)
			continue
		}
		measurements = append(measurements, domain.NormalizeMeasurement(m))
	}
	fmt.Printf("parsed %d/%d payloads\n", len(measurements), len(raw))
	return measurements, p
}

// validateUnits checks each measurement landed in its pollutant's EPA
// breakpoint unit with a physically plausible concentration.
func validateUnits(measurements []domain.Measurement) *phase {
	p := &phase{name: "unit normalization"}
	for _, m := range measurements {
		want, ok := domain.EPAUnit(m.Pollutant)
		if !ok {
			p.errorf("%s/%s: no EPA unit for pollutant", m.SourceID, m.Pollutant)
			continue
		}
		if m.Unit != want {
			p.errorf("%s/%s: unit %q not normalized to %q",
				m.SourceID, m.Pollutant, m.Unit, want)
		}
		if m.Concentration < 0 {
			p.errorf("%s/%s: negative concentration %.3f",
				m.SourceID, m.Pollutant, m.Concentration)
		}
	}
	return p
}

// validateSourceCoverage checks sources are known and every location sees
// all of them at least once.
func validateSourceCoverage(measurements []domain.Measurement) *phase {
	p := &phase{name: "source coverage"}
	byLocation := make(map[string]map[string]bool)
	for _, m := range measurements {
		if !knownSources[m.SourceID] {
			p.errorf("unknown source %q at %s", m.SourceID, m.Location.ID)
			continue
		}
		if byLocation[m.Location.ID] == nil {
			byLocation[m.Location.ID] = make(map[string]bool)
		}
		byLocation[m.Location.ID][m.SourceID] = true
	}

	locations := make([]string, 0, len(byLocation))
	for id := range byLocation {
		locations = append(locations, id)
	}
	sort.Strings(locations)
	for _, id := range locations {
		for src := range knownSources {
			if !byLocation[id][src] {
				p.errorf("location %s never reported by %s", id, src)
			}
		}
	}
	return p
}

// validateFusion fuses each location's densest hour and checks the result
// carries a usable confidence.
func validateFusion(measurements []domain.Measurement) *phase {
	p := &phase{name: "fusion readiness"}

	type cell struct {
		loc  domain.Location
		hour time.Time
	}
	groups := make(map[cell][]domain.Measurement)
	for _, m := range measurements {
		if m.Pollutant != domain.NO2 {
			continue
		}
		groups[cell{m.Location, domain.HourOf(m.Timestamp)}] = append(
			groups[cell{m.Location, domain.HourOf(m.Timestamp)}], m)
	}

	corrections := domain.DefaultCorrectionTable()
	weights := domain.DefaultFusionWeights()
	fusedCells := 0
	for c, group := range groups {
		if len(group) < 2 {
			continue
		}
		corrected := make([]domain.CorrectedMeasurement, 0, len(group))
		for _, m := range group {
			corrected = append(corrected, corrections.Correct(m))
		}
		fr, err := domain.Fuse(c.loc, domain.NO2, c.hour, weights, corrected)
		if err != nil {
			p.errorf("fuse %s@%s: %v", c.loc.ID, c.hour.Format(time.RFC3339), err)
			continue
		}
		if fr.Confidence <= 0 || fr.Confidence > 1 {
			p.errorf("fuse %s@%s: confidence %.3f out of range",
				c.loc.ID, c.hour.Format(time.RFC3339), fr.Confidence)
		}
		fusedCells++
	}
	if fusedCells == 0 {
		p.errorf("no location-hour had two or more sources to fuse")
	}
	fmt.Printf("fused %d multi-source location-hours\n", fusedCells)
	return p
}
