package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordSpend appends a spend amount (USD) attributed to an endpoint.
func (s *Store) RecordSpend(ctx context.Context, endpointID string, amount float64, at time.Time) error {
	m := &spendModel{
		EndpointID: endpointID,
		Amount:     amount,
		SpentAt:    at.UTC(),
	}
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("gpuflow/bun: record spend: %w", err)
	}
	return nil
}

// TodaySpend returns the aggregate spend since UTC midnight.
func (s *Store) TodaySpend(ctx context.Context) (float64, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.spendSince(ctx, midnight)
}

// MonthSpend returns the aggregate spend since the first of the current
// month (UTC).
func (s *Store) MonthSpend(ctx context.Context) (float64, error) {
	now := time.Now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.spendSince(ctx, first)
}

func (s *Store) spendSince(ctx context.Context, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.NewSelect().
		TableExpr("gpuflow_spend").
		ColumnExpr("SUM(amount)").
		Where("spent_at >= ?", since).
		Scan(ctx, &total)
	if err != nil {
		return 0, fmt.Errorf("gpuflow/bun: aggregate spend: %w", err)
	}
	return total.Float64, nil
}
