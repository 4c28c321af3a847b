// Package domain defines the activity-tracking model and business logic for
// the user counter service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidRetention is returned when cleanup is asked to keep a negative
// number of days.
var ErrInvalidRetention = errors.New("retention days must be a non-negative integer")

const (
	// DefaultRetentionDays is how long activity records are kept when the
	// caller does not say otherwise.
	DefaultRetentionDays = 90

	// monthlyWindowDays is the trailing window for monthly active users,
	// inclusive of both boundary days.
	monthlyWindowDays = 30

	// breakdownDays is the number of calendar days covered by the per-day
	// breakdown in user stats.
	breakdownDays = 7
)

// ActiveUsers reports distinct-client counts for the daily and trailing
// monthly windows, overall and grouped by dimension.
type ActiveUsers struct {
	Daily              int
	Monthly            int
	DailyByDimension   []DimensionCount
	MonthlyByDimension []DimensionCount
}

// UserStats reports historical totals: every distinct client among retained
// records, plus a per-day breakdown of the last week.
type UserStats struct {
	TotalUnique    int
	DailyBreakdown []DayCount
}

// Tracker implements the domain operations over an ActivityStore. It holds no
// state of its own between calls.
type Tracker struct {
	store  ActivityStore
	now    func() time.Time
	logger zerolog.Logger
}

// TrackerOption customises a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the clock used to derive "today".
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLogger attaches a logger for masked storage failures.
func WithLogger(logger zerolog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker constructs a Tracker over the given store.
func NewTracker(store ActivityStore, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:  store,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordVisit records that the client was seen now under the given dimension.
// Repeat visits on the same day only advance last_seen on the existing row.
//
// The write is a two-step insert-or-ignore followed by an unconditional touch.
// Two concurrent visits may both attempt the insert; the loser is silently
// ignored and both touches land the instant's timestamp, so the newest visit
// wins regardless of interleaving. Duplicate keys never surface as errors.
func (t *Tracker) RecordVisit(ctx context.Context, clientID string, dim Dimension) error {
	now := t.now()
	rec := ActivityRecord{
		ClientID:  clientID,
		Dimension: dim,
		LastSeen:  now,
		Day:       DayOf(now),
	}
	if err := t.store.InsertIgnore(ctx, rec); err != nil {
		return fmt.Errorf("record visit: %w", err)
	}
	if err := t.store.TouchLastSeen(ctx, clientID, dim, rec.Day, now); err != nil {
		return fmt.Errorf("record visit: %w", err)
	}
	return nil
}

// ActiveUsers computes the daily and monthly active-user counts with their
// per-dimension breakdowns. A storage failure yields a zero-valued result and
// a server-side log entry instead of an error: the counts ride along on
// health responses and must never fail them.
func (t *Tracker) ActiveUsers(ctx context.Context) ActiveUsers {
	today := DayOf(t.now())
	daily := DayWindow{Since: today, Until: today}
	monthly := DayWindow{Since: today.AddDays(-monthlyWindowDays)}

	var (
		out ActiveUsers
		err error
	)
	if out.Daily, err = t.store.CountDistinctClients(ctx, daily); err == nil {
		if out.Monthly, err = t.store.CountDistinctClients(ctx, monthly); err == nil {
			if out.DailyByDimension, err = t.store.CountDistinctClientsByDimension(ctx, daily); err == nil {
				out.MonthlyByDimension, err = t.store.CountDistinctClientsByDimension(ctx, monthly)
			}
		}
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("active user aggregation failed, reporting zero counts")
		return ActiveUsers{}
	}
	return out
}

// UserStats computes the total distinct-client count across retained history
// and the per-day breakdown for the last seven calendar days, newest first.
// Unlike ActiveUsers, storage failures propagate to the caller.
func (t *Tracker) UserStats(ctx context.Context) (UserStats, error) {
	total, err := t.store.CountDistinctClients(ctx, DayWindow{})
	if err != nil {
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}

	today := DayOf(t.now())
	week := DayWindow{Since: today.AddDays(-(breakdownDays - 1)), Until: today}
	breakdown, err := t.store.DistinctClientsPerDay(ctx, week)
	if err != nil {
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}

	return UserStats{TotalUnique: total, DailyBreakdown: breakdown}, nil
}

// Cleanup deletes every record strictly older than retentionDays days and
// returns the exact number removed. A record exactly retentionDays old
// survives. Storage failures are returned as errors so callers can tell
// "nothing to delete" from "deletion failed".
func (t *Tracker) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 0 {
		return 0, ErrInvalidRetention
	}
	cutoff := DayOf(t.now()).AddDays(-retentionDays)
	deleted, err := t.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return deleted, nil
}
