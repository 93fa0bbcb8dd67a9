// Command genmock generates mock multi-source measurement fixtures for the
// fusion pipeline. Output is a JSON array of raw topic payloads covering
// several locations and hours, with per-source pollutant coverage and
// seeded jitter so repeated runs produce identical fixtures.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/measurements_250601.json \
//	  -hours 24 -seed 42
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var baseHour = time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

// payload mirrors the raw topic's wire format.
type payload struct {
	SourceID      string  `json:"source_id"`
	Pollutant     string  `json:"pollutant"`
	Concentration float64 `json:"concentration"`
	Unit          string  `json:"unit"`
	Timestamp     string  `json:"timestamp"`
	LocationID    string  `json:"location_id"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	QualityFlag   string  `json:"quality_flag"`
}

type site struct {
	id  string
	lat float64
	lon float64
}

var sites = []site{
	{id: "denver", lat: 39.7392, lon: -104.9903},
	{id: "los-angeles", lat: 34.0522, lon: -118.2437},
	{id: "houston", lat: 29.7604, lon: -95.3698},
}

// sourcePollutants lists what each upstream network actually reports,
// with source-native spellings and units.
var sourcePollutants = map[string][]struct {
	name string
	unit string
	base float64 // typical urban concentration in the source's unit
}{
	"airnow": {
		{name: "PM2.5", unit: "ug/m3", base: 18},
		{name: "PM10", unit: "ug/m3", base: 35},
		{name: "OZONE", unit: "ppm", base: 0.045},
		{name: "NO2", unit: "ppb", base: 28},
		{name: "SO2", unit: "ppb", base: 8},
		{name: "CO", unit: "ppm", base: 0.6},
	},
	"waqi": {
		{name: "pm25", unit: "ug/m3", base: 21},
		{name: "o3", unit: "ppm", base: 0.048},
		{name: "no2", unit: "ppb", base: 31},
	},
	"tempo": {
		{name: "NO2", unit: "ppb", base: 34},
		{name: "HCHO", unit: "ppb", base: 4.5},
	},
	"geos": {
		{name: "PM2_5", unit: "ug/m3", base: 24},
		{name: "O3", unit: "ppm", base: 0.05},
		{name: "NO2", unit: "ppb", base: 36},
	},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the measurement fixture")
	hours := flag.Int("hours", 24, "hours of data to generate")
	seed := flag.Int64("seed", 42, "PRNG seed")
	dropRate := flag.Float64("drop-rate", 0.05, "fraction of source-hours randomly missing")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	rng := rand.New(rand.NewSource(*seed))

	var records []payload
	for _, s := range sites {
		for h := 0; h < *hours; h++ {
			hour := baseHour.Add(time.Duration(h) * time.Hour)
			for _, src := range []string{"airnow", "waqi", "tempo", "geos"} {
				if rng.Float64() < *dropRate {
					continue // simulate a source-hour outage
				}
				for _, p := range sourcePollutants[src] {
					records = append(records, payload{
						SourceID:      src,
						Pollutant:     p.name,
						Concentration: round3(concentration(rng, p.base, h)),
						Unit:          p.unit,
						Timestamp:     hour.Add(jitterMinutes(rng)).Format(time.RFC3339),
						LocationID:    s.id,
						Lat:           s.lat,
						Lon:           s.lon,
						QualityFlag:   qualityFlag(rng),
					})
				}
			}
		}
	}

	log.Printf("total: %d measurements across %d locations, %d hours",
		len(records), len(sites), *hours)
	return writeJSON(*out, records)
}

// concentration applies a diurnal cycle peaking mid-afternoon plus
// multiplicative noise.
func concentration(rng *rand.Rand, base float64, hour int) float64 {
	diurnal := 1 + 0.35*math.Sin(2*math.Pi*float64(hour-9)/24)
	noise := 1 + 0.15*(rng.Float64()*2-1)
	v := base * diurnal * noise
	if v < 0 {
		return 0
	}
	return v
}

func jitterMinutes(rng *rand.Rand) time.Duration {
	return time.Duration(rng.Intn(50)) * time.Minute
}

func qualityFlag(rng *rand.Rand) string {
	if rng.Float64() < 0.02 {
		return "estimated"
	}
	return "valid"
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Printf("wrote %s", path)
	return nil
}
