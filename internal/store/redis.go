package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/aqi-fusion-service/internal/alert"
	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

// Key layout. History lives in sorted sets scored by unix hour so range
// reads map directly onto ZRangeByScore.
const (
	fusedKeyPrefix    = "fused:"
	averagedKeyPrefix = "averaged:"
	snapshotKeyPrefix = "snapshot:"
	stateKeyPrefix    = "alert_state:"
	rulesKeyPrefix    = "alert_rules:"
)

// History older than this is trimmed on write; nothing in the pipeline
// reads further back than the 120h forecast horizon.
const historyRetention = 7 * 24 * time.Hour

// Redis persists readings and alert state in a Redis instance. JSON
// values, one sorted set per (location, pollutant) series.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Ping verifies connectivity, for readiness checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) SaveFused(ctx context.Context, fr domain.FusedReading) error {
	key := fusedKeyPrefix + readingKey(fr.Location.ID, fr.Pollutant)
	return r.appendSeries(ctx, key, fr.Hour, fr)
}

func (r *Redis) FusedSince(ctx context.Context, locationID string, p domain.Pollutant, since time.Time) ([]domain.FusedReading, error) {
	key := fusedKeyPrefix + readingKey(locationID, p)
	raw, err := r.rangeSeries(ctx, key, since)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FusedReading, 0, len(raw))
	for _, item := range raw {
		var fr domain.FusedReading
		if err := json.Unmarshal([]byte(item), &fr); err != nil {
			return nil, fmt.Errorf("decode fused reading: %w", err)
		}
		out = append(out, fr)
	}
	return out, nil
}

func (r *Redis) SaveAveraged(ctx context.Context, ar domain.AveragedReading) error {
	key := averagedKeyPrefix + readingKey(ar.Location.ID, ar.Pollutant)
	return r.appendSeries(ctx, key, ar.WindowEnd, ar)
}

func (r *Redis) SaveSnapshot(ctx context.Context, snap domain.AQISnapshot) error {
	key := snapshotKeyPrefix + snap.Location.ID
	return r.appendSeries(ctx, key, snap.Timestamp, snap)
}

func (r *Redis) SnapshotsSince(ctx context.Context, locationID string, since time.Time) ([]domain.AQISnapshot, error) {
	raw, err := r.rangeSeries(ctx, snapshotKeyPrefix+locationID, since)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AQISnapshot, 0, len(raw))
	for _, item := range raw {
		var snap domain.AQISnapshot
		if err := json.Unmarshal([]byte(item), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// GetState returns the stored state for a (rule, location) pair. A
// missing key yields the zero state, which the evaluator treats as Armed.
func (r *Redis) GetState(ctx context.Context, ruleID, locationID string) (alert.State, error) {
	key := stateKeyPrefix + stateKey(ruleID, locationID)
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return alert.State{}, nil
	}
	if err != nil {
		return alert.State{}, fmt.Errorf("get alert state: %w", err)
	}
	var st alert.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return alert.State{}, fmt.Errorf("decode alert state: %w", err)
	}
	return st, nil
}

func (r *Redis) SetState(ctx context.Context, ruleID, locationID string, st alert.State) error {
	key := stateKeyPrefix + stateKey(ruleID, locationID)
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode alert state: %w", err)
	}
	// Expiry auto-cleans state for rules deleted out of band.
	if err := r.client.Set(ctx, key, data, historyRetention).Err(); err != nil {
		return fmt.Errorf("set alert state: %w", err)
	}
	return nil
}

// RulesForLocation reads the rule snapshot for a location, maintained by
// the external rule management surface as a set of JSON members.
func (r *Redis) RulesForLocation(ctx context.Context, locationID string) ([]alert.Rule, error) {
	members, err := r.client.SMembers(ctx, rulesKeyPrefix+locationID).Result()
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	rules := make([]alert.Rule, 0, len(members))
	for _, member := range members {
		var rule alert.Rule
		if err := json.Unmarshal([]byte(member), &rule); err != nil {
			return nil, fmt.Errorf("decode rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (r *Redis) appendSeries(ctx context.Context, key string, at time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	score := float64(at.Unix())
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: data})
	cutoff := clock.Now().Add(-historyRetention).Unix()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	return nil
}

func (r *Redis) rangeSeries(ctx context.Context, key string, since time.Time) ([]string, error) {
	raw, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", key, err)
	}
	return raw, nil
}
