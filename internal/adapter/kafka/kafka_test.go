package kafka

import (
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-fusion-service/internal/alert"
	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

func TestMapMessageToRawReading(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("denver"),
		Value:     []byte(`{"source":"airnow"}`),
		Topic:     "raw-measurements",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("airnow")},
		},
	}

	raw := mapMessageToRawReading(msg)

	assert.Equal(t, []byte("denver"), raw.Key)
	assert.JSONEq(t, `{"source":"airnow"}`, string(raw.Value))
	assert.Equal(t, "raw-measurements", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "airnow", raw.Headers["source"])
}

func TestSerializeSnapshot(t *testing.T) {
	computed := time.Date(2025, 6, 1, 15, 10, 0, 0, time.UTC)
	snap := domain.AQISnapshot{
		Location:          domain.Location{ID: "denver", Lat: 39.74, Lon: -104.99},
		Timestamp:         time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC),
		OverallAQI:        132,
		DominantPollutant: domain.PM25,
		Category:          domain.CategoryUSG,
		ComputedAt:        computed,
	}

	msg, err := serializeSnapshot(snap)
	require.NoError(t, err)

	assert.Equal(t, []byte("denver"), msg.Key)
	assert.Contains(t, string(msg.Value), `"overall_aqi":132`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "category", msg.Headers[0].Key)
	assert.Equal(t, []byte(domain.CategoryUSG), msg.Headers[0].Value)
	assert.Equal(t, "computed_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(computed.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestSerializeIntent(t *testing.T) {
	created := time.Date(2025, 6, 1, 15, 10, 0, 0, time.UTC)
	intent := alert.Intent{
		ID:        "intent-1",
		RuleID:    "rule-1",
		Location:  domain.Location{ID: "denver"},
		AQI:       160,
		Category:  domain.CategoryUnhealthy,
		CreatedAt: created,
	}

	msg, err := serializeIntent(intent)
	require.NoError(t, err)

	assert.Equal(t, []byte("rule-1|denver"), msg.Key)
	assert.Contains(t, string(msg.Value), `"aqi":160`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, []byte(domain.CategoryUnhealthy), msg.Headers[0].Value)
}
