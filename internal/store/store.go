// Package store persists pipeline outputs and alert bookkeeping. Keys
// follow the pipeline's natural shapes: readings by (location, pollutant,
// hour), snapshots by (location, hour), alert state by (rule, location).
package store

import (
	"context"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/alert"
	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

// ReadingStore holds fused and averaged readings plus AQI snapshots so
// averaging windows and trend history survive restarts.
type ReadingStore interface {
	SaveFused(ctx context.Context, fr domain.FusedReading) error

	// FusedSince returns fused readings for a location and pollutant with
	// hour >= since, ordered by hour ascending. Used to rehydrate
	// averaging buffers on startup.
	FusedSince(ctx context.Context, locationID string, p domain.Pollutant, since time.Time) ([]domain.FusedReading, error)

	SaveAveraged(ctx context.Context, ar domain.AveragedReading) error

	SaveSnapshot(ctx context.Context, snap domain.AQISnapshot) error

	// SnapshotsSince returns AQI snapshots for a location with
	// timestamp >= since, ordered ascending. Feeds trend fitting.
	SnapshotsSince(ctx context.Context, locationID string, since time.Time) ([]domain.AQISnapshot, error)
}

// Store combines reading history with the alert state machine's
// persistence.
type Store interface {
	ReadingStore
	alert.StateStore
}
