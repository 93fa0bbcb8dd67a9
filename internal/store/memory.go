package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/alert"
	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

// Memory is a map-backed Store for tests and local runs. Safe for
// concurrent use.
type Memory struct {
	mu        sync.RWMutex
	fused     map[string][]domain.FusedReading // location|pollutant
	averaged  map[string][]domain.AveragedReading
	snapshots map[string][]domain.AQISnapshot // location
	states    map[string]alert.State          // rule|location
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		fused:     make(map[string][]domain.FusedReading),
		averaged:  make(map[string][]domain.AveragedReading),
		snapshots: make(map[string][]domain.AQISnapshot),
		states:    make(map[string]alert.State),
	}
}

func readingKey(locationID string, p domain.Pollutant) string {
	return locationID + "|" + string(p)
}

func stateKey(ruleID, locationID string) string {
	return ruleID + "|" + locationID
}

func (m *Memory) SaveFused(_ context.Context, fr domain.FusedReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := readingKey(fr.Location.ID, fr.Pollutant)
	m.fused[key] = append(m.fused[key], fr)
	return nil
}

func (m *Memory) FusedSince(_ context.Context, locationID string, p domain.Pollutant, since time.Time) ([]domain.FusedReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.FusedReading
	for _, fr := range m.fused[readingKey(locationID, p)] {
		if !fr.Hour.Before(since) {
			out = append(out, fr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return out, nil
}

func (m *Memory) SaveAveraged(_ context.Context, ar domain.AveragedReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := readingKey(ar.Location.ID, ar.Pollutant)
	m.averaged[key] = append(m.averaged[key], ar)
	return nil
}

func (m *Memory) SaveSnapshot(_ context.Context, snap domain.AQISnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.Location.ID] = append(m.snapshots[snap.Location.ID], snap)
	return nil
}

func (m *Memory) SnapshotsSince(_ context.Context, locationID string, since time.Time) ([]domain.AQISnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AQISnapshot
	for _, snap := range m.snapshots[locationID] {
		if !snap.Timestamp.Before(since) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) GetState(_ context.Context, ruleID, locationID string) (alert.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[stateKey(ruleID, locationID)], nil
}

func (m *Memory) SetState(_ context.Context, ruleID, locationID string, st alert.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[stateKey(ruleID, locationID)] = st
	return nil
}
