package ledger

import (
	"context"
	"time"
)

// DailyStatsAggregator keeps one counter bucket per calendar day.
type DailyStatsAggregator struct{}

// GetOrCreate returns the bucket for day, persisting a zero-valued one on first access.
func (DailyStatsAggregator) GetOrCreate(ctx context.Context, store Store, day time.Time) (DailyStats, error) {
	return store.GetOrCreateDailyStats(ctx, CalendarDay(day))
}

// Add increments the bucket for day by delta. A zero delta never touches the store.
func (DailyStatsAggregator) Add(ctx context.Context, store Store, day time.Time, delta DailyStatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	return store.AddDailyStats(ctx, CalendarDay(day), delta)
}
