package alert

import (
	"context"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

// Rule/location state machine statuses. Fired is transient and never
// persisted; a rule that just fired is stored in Cooldown.
const (
	StatusArmed    = "ARMED"
	StatusCooldown = "COOLDOWN"
)

// State is the persisted bookkeeping for one (rule, location) pair.
// It is mutated exclusively by the evaluator.
type State struct {
	Status           string    `json:"status"`
	LastSentAt       time.Time `json:"last_sent_at,omitempty"`
	LastSentCategory string    `json:"last_sent_category,omitempty"`
	LastEvaluatedAQI int       `json:"last_evaluated_aqi"`
	CooldownUntil    time.Time `json:"cooldown_until,omitempty"`
}

// StateStore persists evaluator state keyed by (rule ID, location ID).
// A missing key yields a zero State with Status Armed.
type StateStore interface {
	GetState(ctx context.Context, ruleID, locationID string) (State, error)
	SetState(ctx context.Context, ruleID, locationID string, st State) error
}

// RuleSource provides the read-only rule snapshot for a location.
type RuleSource interface {
	RulesForLocation(ctx context.Context, locationID string) ([]Rule, error)
}

// Intent is a notification request handed to the external delivery layer.
// The evaluator emits intents; it never sends anything itself.
type Intent struct {
	ID             string           `json:"intent_id"`
	RuleID         string           `json:"rule_id"`
	UserID         string           `json:"user_id"`
	Location       domain.Location  `json:"location"`
	Pollutant      domain.Pollutant `json:"pollutant"`
	AQI            int              `json:"aqi"`
	Category       string           `json:"category"`
	Message        string           `json:"message"`
	Channels       []string         `json:"channels"`
	SensitiveGroup bool             `json:"sensitive_group"`
	Forecast       bool             `json:"forecast,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// IntentSink delivers intents to the downstream transport.
type IntentSink interface {
	Publish(ctx context.Context, intent Intent) error
}
