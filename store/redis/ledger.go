package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Spend counters expire well after their window closes so that old
// buckets do not accumulate forever.
const (
	dayCounterTTL   = 48 * time.Hour
	monthCounterTTL = 40 * 24 * time.Hour
)

// RecordSpend increments the day and month counters for the bucket the
// spend falls into (UTC).
func (s *Store) RecordSpend(ctx context.Context, _ string, amount float64, at time.Time) error {
	at = at.UTC()
	dayKey := spendDayKey(at.Format("2006-01-02"))
	monthKey := spendMonthKey(at.Format("2006-01"))

	pipe := s.client.TxPipeline()
	pipe.IncrByFloat(ctx, dayKey, amount)
	pipe.Expire(ctx, dayKey, dayCounterTTL)
	pipe.IncrByFloat(ctx, monthKey, amount)
	pipe.Expire(ctx, monthKey, monthCounterTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("gpuflow/redis: record spend: %w", err)
	}
	return nil
}

// TodaySpend returns the aggregate spend since UTC midnight.
func (s *Store) TodaySpend(ctx context.Context) (float64, error) {
	return s.readCounter(ctx, spendDayKey(time.Now().UTC().Format("2006-01-02")))
}

// MonthSpend returns the aggregate spend since the first of the current
// month (UTC).
func (s *Store) MonthSpend(ctx context.Context) (float64, error) {
	return s.readCounter(ctx, spendMonthKey(time.Now().UTC().Format("2006-01")))
}

func (s *Store) readCounter(ctx context.Context, key string) (float64, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("gpuflow/redis: read spend counter: %w", err)
	}
	amount, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("gpuflow/redis: parse spend counter %q: %w", val, err)
	}
	return amount, nil
}
