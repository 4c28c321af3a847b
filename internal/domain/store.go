package domain

import (
	"context"
	"time"
)

// DayWindow bounds a query by calendar day. Both bounds are inclusive; a zero
// bound leaves that side open.
type DayWindow struct {
	Since Day
	Until Day
}

// DimensionCount is a distinct-client count for one dimension group.
type DimensionCount struct {
	Dimension Dimension
	Count     int
}

// DayCount is a distinct-client count for one calendar day.
type DayCount struct {
	Day   Day
	Count int
}

// ActivityStore captures the persistence primitives the tracker composes. The
// store knows nothing about active-user semantics; it only moves records.
type ActivityStore interface {
	// InsertIgnore inserts the record unless a row with the same
	// (client, day, dimension) key already exists, in which case it is a
	// silent no-op.
	InsertIgnore(ctx context.Context, rec ActivityRecord) error
	// TouchLastSeen advances last_seen on the row with the given key, if any.
	TouchLastSeen(ctx context.Context, clientID string, dim Dimension, day Day, seenAt time.Time) error
	// CountDistinctClients counts distinct client tokens within the window.
	CountDistinctClients(ctx context.Context, window DayWindow) (int, error)
	// CountDistinctClientsByDimension groups the distinct-client count by
	// dimension, ordered by count descending.
	CountDistinctClientsByDimension(ctx context.Context, window DayWindow) ([]DimensionCount, error)
	// DistinctClientsPerDay groups the distinct-client count by day, newest
	// day first. Days without records are omitted.
	DistinctClientsPerDay(ctx context.Context, window DayWindow) ([]DayCount, error)
	// DeleteOlderThan removes every record dated strictly before cutoff and
	// returns the exact number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff Day) (int64, error)
}
