package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	adb "github.com/vigilops/vigil/internal/alerting/database"
)

// Guardrail enforces per-binding token-bucket rate limits, concurrency caps,
// and daily quotas over the playbook_binding_usage row. All checks and
// mutations for one binding happen inside a single transaction holding the
// row lock, so concurrent acquisitions serialize; different bindings proceed
// independently.
type Guardrail struct {
	DB    *adb.Database
	nowFn func() time.Time
}

func NewGuardrail(db *adb.Database) *Guardrail {
	return &Guardrail{DB: db, nowFn: time.Now}
}

// TryAcquire attempts to take one execution slot. forRun acquisitions count
// against the concurrency cap and must be paired with Release. When dryRun
// is set nothing is persisted; the decision is computed against the current
// counters only.
func (g *Guardrail) TryAcquire(ctx context.Context, b *Binding, forRun, incrementDaily, dryRun bool) (bool, string, error) {
	now := g.nowFn().UTC()
	allowed := false
	reason := ""

	err := g.DB.WithTx(ctx, func(tx *sql.Tx) error {
		u, err := lockUsage(ctx, tx, b, now)
		if err != nil {
			return err
		}

		allowed, reason = applyGuardrail(u, b, now, forRun, incrementDaily)
		if dryRun {
			return nil
		}

		const q = `
UPDATE playbook_binding_usage
SET day = $2, count_today = $3, tokens = $4, refilled_at = $5, in_flight = $6
WHERE binding_id = $1`
		if _, err := tx.ExecContext(ctx, q, b.ID, u.Day, u.CountToday, u.Tokens, u.RefilledAt, u.InFlight); err != nil {
			return fmt.Errorf("persist usage: %w", err)
		}
		return nil
	})
	if err != nil {
		// Transaction failure means "not acquired", never a silent grant.
		return false, "", err
	}
	return allowed, reason, nil
}

// lockUsage fetches the usage row FOR UPDATE, creating it with a full token
// bucket on first use.
func lockUsage(ctx context.Context, tx *sql.Tx, b *Binding, now time.Time) (*Usage, error) {
	const insQ = `
INSERT INTO playbook_binding_usage (binding_id, day, count_today, tokens, refilled_at, in_flight)
VALUES ($1, $2, 0, $3, $4, 0)
ON CONFLICT (binding_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insQ, b.ID, utcDay(now), float64(b.MaxPerMinute), now); err != nil {
		return nil, fmt.Errorf("ensure usage row: %w", err)
	}

	const selQ = `
SELECT binding_id, day, count_today, tokens, refilled_at, in_flight
FROM playbook_binding_usage
WHERE binding_id = $1
FOR UPDATE`
	var u Usage
	if err := tx.QueryRowContext(ctx, selQ, b.ID).Scan(
		&u.BindingID, &u.Day, &u.CountToday, &u.Tokens, &u.RefilledAt, &u.InFlight); err != nil {
		return nil, fmt.Errorf("lock usage row: %w", err)
	}
	return &u, nil
}

// applyGuardrail runs the check-and-consume arithmetic against a locked
// usage snapshot, mutating it in place. Pure with respect to the database,
// so the full decision table is unit-testable.
func applyGuardrail(u *Usage, b *Binding, now time.Time, forRun, incrementDaily bool) (bool, string) {
	// New-UTC-day reset. in_flight is reset with the rest of the counters;
	// executions still running across midnight briefly under-count (see
	// DESIGN.md).
	if !sameUTCDay(u.Day, now) {
		u.Day = utcDay(now)
		u.CountToday = 0
		u.Tokens = float64(b.MaxPerMinute)
		u.RefilledAt = now
		u.InFlight = 0
	}

	// Coarse per-minute refill, not a continuous leak.
	if b.MaxPerMinute > 0 && now.Sub(u.RefilledAt) >= time.Minute {
		u.Tokens = float64(b.MaxPerMinute)
		u.RefilledAt = now
	}

	if forRun && b.MaxConcurrent > 0 && u.InFlight >= b.MaxConcurrent {
		return false, DecisionConcurrencyBlocked
	}
	if incrementDaily && b.DailyQuota > 0 && u.CountToday >= b.DailyQuota {
		return false, DecisionQuotaExhausted
	}
	if b.MaxPerMinute > 0 {
		if u.Tokens <= 0 {
			return false, DecisionRateLimited
		}
		u.Tokens--
	}

	if forRun {
		u.InFlight++
	}
	if incrementDaily {
		u.CountToday++
	}
	return true, ""
}

// Release returns one concurrency slot, floored at zero. It runs outside
// any acquire transaction and must be called on every path after a forRun
// acquisition, including errors.
func (g *Guardrail) Release(ctx context.Context, bindingID string) error {
	const q = `
UPDATE playbook_binding_usage
SET in_flight = GREATEST(in_flight - 1, 0)
WHERE binding_id = $1`
	if _, err := g.DB.ExecContext(ctx, q, bindingID); err != nil {
		return fmt.Errorf("release binding slot: %w", err)
	}
	return nil
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
