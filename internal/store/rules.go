package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/couchcryptid/aqi-fusion-service/internal/alert"
)

// StaticRules is a fixed rule snapshot, for local runs and tests.
type StaticRules struct {
	byLocation map[string][]alert.Rule
}

// NewStaticRules indexes the given rules by location.
func NewStaticRules(rules []alert.Rule) *StaticRules {
	byLocation := make(map[string][]alert.Rule)
	for _, rule := range rules {
		for _, loc := range rule.Locations {
			byLocation[loc.ID] = append(byLocation[loc.ID], rule)
		}
	}
	return &StaticRules{byLocation: byLocation}
}

// LoadRulesFile reads a JSON array of rules from disk.
func LoadRulesFile(path string) (*StaticRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var rules []alert.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return NewStaticRules(rules), nil
}

func (s *StaticRules) RulesForLocation(_ context.Context, locationID string) ([]alert.Rule, error) {
	return s.byLocation[locationID], nil
}
