// Package budget provides the spend-tracking contract and the admission
// gate that blocks new submissions once the configured daily limit is
// reached.
//
// The gate re-reads the aggregate at every check rather than caching it:
// spend changes concurrently as jobs complete, so this is a best-effort
// gate, not a transactional guarantee.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/gpuflow"
)

// Ledger defines the cost-ledger contract the gate reads from. A store
// backend implements it alongside the job and dlq contracts.
type Ledger interface {
	// RecordSpend appends a spend amount (USD) attributed to an endpoint.
	RecordSpend(ctx context.Context, endpointID string, amount float64, at time.Time) error

	// TodaySpend returns the aggregate spend (USD) since UTC midnight.
	TodaySpend(ctx context.Context) (float64, error)

	// MonthSpend returns the aggregate spend (USD) since the first of
	// the current month (UTC).
	MonthSpend(ctx context.Context) (float64, error)
}

// Gate decides whether new spend is allowed against a daily limit.
type Gate struct {
	ledger     Ledger
	dailyLimit float64
}

// NewGate creates a budget gate. A zero or negative dailyLimit disables
// the gate entirely.
func NewGate(ledger Ledger, dailyLimit float64) *Gate {
	return &Gate{ledger: ledger, dailyLimit: dailyLimit}
}

// CanSpend reports whether today's aggregate spend is still below the
// daily limit, along with the current figure.
func (g *Gate) CanSpend(ctx context.Context) (bool, float64, error) {
	if g.dailyLimit <= 0 {
		return true, 0, nil
	}

	spend, err := g.ledger.TodaySpend(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("gpuflow/budget: read today's spend: %w", err)
	}
	return spend < g.dailyLimit, spend, nil
}

// Check returns gpuflow.ErrBudgetExceeded (wrapped with the limit and
// the current spend) when today's spend has reached the daily limit.
func (g *Gate) Check(ctx context.Context) error {
	ok, spend, err := g.CanSpend(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: spent $%.2f of $%.2f daily limit",
			gpuflow.ErrBudgetExceeded, spend, g.dailyLimit)
	}
	return nil
}

// DailyLimit returns the configured daily spend ceiling.
func (g *Gate) DailyLimit() float64 { return g.dailyLimit }
