// Package alert evaluates user alerting rules against AQI snapshots and
// forecast points, producing notification intents for the delivery layer.
//
// Each (rule, location) pair carries a small state machine: Armed rules
// fire when a threshold crossing passes the rule's frequency policy and
// quiet-hours gate, then sit in Cooldown for a debounce interval before
// re-arming. Delivery failures never roll the state back.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

// FrequencyPolicy controls how often a rule may fire for the same location.
type FrequencyPolicy string

const (
	// EveryTime permits a send on every qualifying crossing.
	EveryTime FrequencyPolicy = "every_time"
	// OnceDaily permits at most one send per 24h per (rule, location).
	OnceDaily FrequencyPolicy = "once_daily"
	// CategoryChange permits a send only when the AQI category differs
	// from the last one sent.
	CategoryChange FrequencyPolicy = "category_change"
)

// Threshold is either a category name or a numeric AQI floor. Category
// takes precedence when both are set.
type Threshold struct {
	Category string `json:"category,omitempty"`
	AQI      int    `json:"aqi,omitempty"`
}

// Crossed reports whether the snapshot value meets or exceeds the threshold.
func (t Threshold) Crossed(aqi int, category string) bool {
	if t.Category != "" {
		return domain.CategoryRank(category) >= domain.CategoryRank(t.Category)
	}
	return aqi >= t.AQI
}

// QuietHours is a local-time window during which only emergency-tier
// alerts are delivered. Start after End means the window wraps midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"` // "HH:MM"
	End     string `json:"end"`   // "HH:MM"
}

// DefaultQuietHours is the 22:00-07:00 overnight window.
var DefaultQuietHours = QuietHours{Enabled: true, Start: "22:00", End: "07:00"}

// Contains reports whether the clock time of t falls inside the window.
func (q QuietHours) Contains(t time.Time) (bool, error) {
	if !q.Enabled {
		return false, nil
	}
	start, err := minuteOfDay(q.Start)
	if err != nil {
		return false, fmt.Errorf("quiet hours start: %w", err)
	}
	end, err := minuteOfDay(q.End)
	if err != nil {
		return false, fmt.Errorf("quiet hours end: %w", err)
	}
	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now < end, nil
	}
	// Overnight wrap, e.g. 22:00-07:00.
	return now >= start || now < end, nil
}

func minuteOfDay(hhmm string) (int, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid HH:MM value %q: %w", hhmm, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// Rule is a user-owned alerting rule. Rules are mutated only by the
// management surface that owns them; the evaluator reads them as a
// snapshot.
type Rule struct {
	ID               string             `json:"rule_id"`
	UserID           string             `json:"user_id"`
	Locations        []domain.Location  `json:"locations"`
	Threshold        Threshold          `json:"threshold"`
	Pollutants       []domain.Pollutant `json:"pollutant_filter,omitempty"` // empty means all
	Frequency        FrequencyPolicy    `json:"frequency_policy"`
	QuietHours       QuietHours         `json:"quiet_hours"`
	HealthConditions []string           `json:"health_conditions,omitempty"`
	Channels         []string           `json:"channels"`
}

// MatchesPollutant reports whether the rule applies to the given pollutant.
func (r Rule) MatchesPollutant(p domain.Pollutant) bool {
	if len(r.Pollutants) == 0 {
		return true
	}
	for _, want := range r.Pollutants {
		if want == p {
			return true
		}
	}
	return false
}

// EPA sensitive-group memberships per pollutant.
var pollutantSensitiveGroups = map[domain.Pollutant][]string{
	domain.O3:   {"lung_disease", "children", "active_outdoors", "elderly"},
	domain.PM25: {"heart_disease", "lung_disease", "elderly", "children", "outdoor_workers"},
	domain.PM10: {"heart_disease", "lung_disease", "elderly", "children", "outdoor_workers"},
	domain.CO:   {"heart_disease"},
	domain.NO2:  {"lung_disease", "children", "elderly"},
	domain.SO2:  {"lung_disease", "children", "elderly"},
}

// User-facing condition names to EPA sensitive groups.
var conditionGroups = map[string]string{
	"asthma":          "lung_disease",
	"copd":            "lung_disease",
	"respiratory":     "lung_disease",
	"lung_disease":    "lung_disease",
	"heart_disease":   "heart_disease",
	"cardiovascular":  "heart_disease",
	"children":        "children",
	"elderly":         "elderly",
	"outdoor_worker":  "outdoor_workers",
	"active_outdoors": "active_outdoors",
}

// IsSensitive reports whether any of the listed health conditions places
// the user in an EPA sensitive group for the given pollutant.
func IsSensitive(conditions []string, p domain.Pollutant) bool {
	groups := pollutantSensitiveGroups[p]
	for _, cond := range conditions {
		group, ok := conditionGroups[strings.ToLower(cond)]
		if !ok {
			group = strings.ToLower(cond)
		}
		for _, g := range groups {
			if g == group {
				return true
			}
		}
	}
	return false
}

// HealthMessage builds the EPA cautionary statement for an AQI value,
// pollutant and user conditions, following the published per-category
// guidance with condition-specific additions.
func HealthMessage(p domain.Pollutant, aqi int, conditions []string) string {
	sensitive := IsSensitive(conditions, p)

	switch {
	case aqi <= 50:
		return "It's a great day to be active outside."
	case aqi <= 100:
		if !sensitive {
			return "Air quality is acceptable for most people."
		}
		switch p {
		case domain.O3:
			return "Unusually sensitive people: consider making outdoor activities shorter and less intense. Watch for symptoms such as coughing or shortness of breath."
		case domain.PM25, domain.PM10:
			return "Unusually sensitive people: consider making outdoor activities shorter and less intense. Go inside if you have symptoms such as coughing or shortness of breath."
		case domain.NO2:
			return "Unusually sensitive people: consider limiting prolonged exertion, especially near busy roads."
		default:
			return "Unusually sensitive people should consider reducing outdoor activities."
		}
	case aqi <= 150:
		var b strings.Builder
		b.WriteString("Sensitive groups: make outdoor activities shorter and less intense. Take more breaks. Watch for symptoms such as coughing or shortness of breath.")
		if hasCondition(conditions, "asthma", "lung_disease", "respiratory", "copd") {
			b.WriteString(" People with asthma: follow your asthma action plan and keep quick-relief medicine handy.")
		}
		if hasCondition(conditions, "heart_disease", "cardiovascular") && (p == domain.PM25 || p == domain.PM10) {
			b.WriteString(" People with heart disease: symptoms such as palpitations, shortness of breath, or unusual fatigue may indicate a serious problem. Contact your health care provider.")
		}
		if p == domain.O3 {
			b.WriteString(" Plan outdoor activities in the morning when ozone is lower.")
		}
		return b.String()
	case aqi <= 200:
		return "Sensitive groups: do not do long or intense outdoor activities. Consider moving activities indoors. Everyone else should reduce prolonged or heavy outdoor exertion."
	case aqi <= 300:
		return "Very Unhealthy: everyone should avoid prolonged or heavy outdoor exertion. Sensitive groups should avoid all outdoor activities."
	default:
		return "Hazardous: health warning of emergency conditions. Everyone should avoid all outdoor activities."
	}
}

func hasCondition(conditions []string, names ...string) bool {
	for _, cond := range conditions {
		lc := strings.ToLower(cond)
		for _, name := range names {
			if lc == name {
				return true
			}
		}
	}
	return false
}
