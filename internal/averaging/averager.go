// Package averaging maintains the per-location rolling windows that feed the
// AQI converter. Window lengths and completeness rules follow EPA practice:
// 8-hour means for O3 and CO, 24-hour means for PM2.5 and PM10, and the
// latest single hour for NO2, SO2, and HCHO, each requiring 75% of the
// window to be populated before an average is regulatory-valid.
package averaging

import (
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

// DefaultCompleteness is EPA's minimum-data-completeness fraction.
const DefaultCompleteness = 0.75

// windowHours is the EPA averaging period per pollutant.
var windowHours = map[domain.Pollutant]int{
	domain.O3:   8,
	domain.CO:   8,
	domain.PM25: 24,
	domain.PM10: 24,
	domain.NO2:  1,
	domain.SO2:  1,
	domain.HCHO: 1,
}

var methods = map[domain.Pollutant]domain.AveragingMethod{
	domain.O3:   domain.MethodRolling8h,
	domain.CO:   domain.MethodRolling8h,
	domain.PM25: domain.MethodRolling24h,
	domain.PM10: domain.MethodRolling24h,
	domain.NO2:  domain.MethodHourlyMax,
	domain.SO2:  domain.MethodHourlyMax,
	domain.HCHO: domain.MethodHourlyMax,
}

// maxWindowHours bounds buffer retention; anything older than the largest
// window can never contribute to a future average.
const maxWindowHours = 24

// WindowFor reports the EPA averaging window for a pollutant, in hours.
func WindowFor(p domain.Pollutant) int { return windowHours[p] }

// MethodFor reports the averaging method applied to a pollutant.
func MethodFor(p domain.Pollutant) domain.AveragingMethod { return methods[p] }

// RequiredHours is the completeness floor for a window: ceil(window * fraction).
// Preserved exactly as EPA specifies, not approximated, since downstream AQI
// values are regulatory-grade.
func RequiredHours(window int, completeness float64) int {
	return int(math.Ceil(float64(window) * completeness))
}

type hourEntry struct {
	value      float64
	confidence float64
}

type buffer struct {
	hours  map[int64]hourEntry // unix hour epoch → fused value
	newest int64
}

// Averager holds the sliding per-(location, pollutant) buffers. It is owned
// by a single pipeline worker per location and is not safe for concurrent
// use; shard by location before sharing.
type Averager struct {
	completeness float64
	buffers      map[string]*buffer
}

// New creates an Averager with the given completeness fraction. Values
// outside (0, 1] fall back to the EPA default of 0.75.
func New(completeness float64) *Averager {
	if completeness <= 0 || completeness > 1 {
		completeness = DefaultCompleteness
	}
	return &Averager{
		completeness: completeness,
		buffers:      make(map[string]*buffer),
	}
}

// Add records a fused reading and recomputes the window ending at its hour.
// Returns ErrInsufficientData (wrapped) when the window is under the
// completeness floor; the hour is then excluded from AQI computation.
func (a *Averager) Add(fr domain.FusedReading) (domain.AveragedReading, error) {
	buf := a.bufferFor(fr.Location.ID, fr.Pollutant)
	hour := fr.Hour.Unix()

	buf.hours[hour] = hourEntry{value: fr.Concentration, confidence: fr.Confidence}
	if hour > buf.newest {
		buf.newest = hour
	}
	a.evict(buf)

	return a.computeWindow(fr.Location, fr.Pollutant, buf, fr.Hour)
}

// Warm preloads buffers from persisted history, typically after a restart.
// Readings are absorbed without producing averages.
func (a *Averager) Warm(history []domain.FusedReading) {
	for _, fr := range history {
		buf := a.bufferFor(fr.Location.ID, fr.Pollutant)
		hour := fr.Hour.Unix()
		buf.hours[hour] = hourEntry{value: fr.Concentration, confidence: fr.Confidence}
		if hour > buf.newest {
			buf.newest = hour
		}
		a.evict(buf)
	}
}

func (a *Averager) computeWindow(loc domain.Location, p domain.Pollutant, buf *buffer, end time.Time) (domain.AveragedReading, error) {
	window := windowHours[p]
	required := RequiredHours(window, a.completeness)
	endHour := end.Unix()

	var (
		sum        float64
		maxVal     float64
		used       int
		confidence = 1.0
	)
	for i := 0; i < window; i++ {
		entry, ok := buf.hours[endHour-int64(i)*3600]
		if !ok {
			continue
		}
		used++
		sum += entry.value
		maxVal = math.Max(maxVal, entry.value)
		confidence = math.Min(confidence, entry.confidence)
	}

	if used < required {
		return domain.AveragedReading{}, fmt.Errorf(
			"%s %s window ending %s: %d of %d hours populated, need %d: %w",
			loc.ID, p, end.Format(time.RFC3339), used, window, required, domain.ErrInsufficientData)
	}

	ar := domain.AveragedReading{
		Location:   loc,
		Pollutant:  p,
		WindowEnd:  domain.HourOf(end),
		Method:     methods[p],
		HoursUsed:  used,
		Confidence: confidence,
	}
	if methods[p] == domain.MethodHourlyMax {
		ar.Value = maxVal
	} else {
		ar.Value = sum / float64(used)
	}
	return ar, nil
}

func (a *Averager) bufferFor(locationID string, p domain.Pollutant) *buffer {
	key := locationID + "|" + string(p)
	buf, ok := a.buffers[key]
	if !ok {
		buf = &buffer{hours: make(map[int64]hourEntry)}
		a.buffers[key] = buf
	}
	return buf
}

// evict drops entries that fell out of the largest window. This is the only
// place in the pipeline requiring bounded-memory discipline.
func (a *Averager) evict(buf *buffer) {
	floor := buf.newest - int64(maxWindowHours-1)*3600
	for hour := range buf.hours {
		if hour < floor {
			delete(buf.hours, hour)
		}
	}
}
