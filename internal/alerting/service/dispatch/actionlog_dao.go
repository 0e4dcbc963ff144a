package dispatch

import (
	"context"
	"fmt"
	"time"

	adb "github.com/vigilops/vigil/internal/alerting/database"
)

// PgActionLogDAO implements ActionLogDAO over alert_actions_log.
type PgActionLogDAO struct {
	DB *adb.Database
}

func NewPgActionLogDAO(db *adb.Database) *PgActionLogDAO { return &PgActionLogDAO{DB: db} }

func (d *PgActionLogDAO) InsertAttempt(ctx context.Context, a *Attempt) error {
	const q = `
INSERT INTO alert_actions_log (id, alert_id, destination, status, detail, attempt, scheduled_at, sent_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, q,
		a.ID, a.AlertID, a.Destination, a.Status, a.Detail, a.Attempt, a.ScheduledAt, a.SentAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// ClaimDue atomically claims up to limit due retry rows. SKIP LOCKED keeps
// concurrent worker instances from double-processing the same row; claimed
// rows get their scheduled_at pushed forward so a crashed worker's claims
// become due again instead of being lost.
func (d *PgActionLogDAO) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Attempt, error) {
	const q = `
UPDATE alert_actions_log
SET scheduled_at = $2
WHERE id IN (
	SELECT id FROM alert_actions_log
	WHERE status = 'retry' AND scheduled_at <= $1
	ORDER BY scheduled_at ASC
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING id, alert_id, destination, status, detail, attempt, scheduled_at, sent_at, created_at`
	reclaimAt := now.Add(10 * time.Minute)
	rows, err := d.DB.QueryContext(ctx, q, now, reclaimAt, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due retries: %w", err)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.AlertID, &a.Destination, &a.Status, &a.Detail,
			&a.Attempt, &a.ScheduledAt, &a.SentAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan claimed attempt: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (d *PgActionLogDAO) MarkSuccess(ctx context.Context, id string, sentAt time.Time) error {
	const q = `UPDATE alert_actions_log SET status = 'success', scheduled_at = NULL, sent_at = $2 WHERE id = $1`
	if _, err := d.DB.ExecContext(ctx, q, id, sentAt); err != nil {
		return fmt.Errorf("mark success: %w", err)
	}
	return nil
}

func (d *PgActionLogDAO) MarkFailed(ctx context.Context, id string, attempt int, detail string) error {
	const q = `UPDATE alert_actions_log SET status = 'failed', scheduled_at = NULL, attempt = $2, detail = $3 WHERE id = $1`
	if _, err := d.DB.ExecContext(ctx, q, id, attempt, detail); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (d *PgActionLogDAO) RearmRetry(ctx context.Context, id string, attempt int, detail string, scheduledAt time.Time) error {
	const q = `UPDATE alert_actions_log SET status = 'retry', attempt = $2, detail = $3, scheduled_at = $4 WHERE id = $1`
	if _, err := d.DB.ExecContext(ctx, q, id, attempt, detail, scheduledAt); err != nil {
		return fmt.Errorf("rearm retry: %w", err)
	}
	return nil
}

// FailedDestinations returns destinations whose most recent attempt row for
// the alert is terminally failed.
func (d *PgActionLogDAO) FailedDestinations(ctx context.Context, alertID string) ([]string, error) {
	const q = `
SELECT destination FROM (
	SELECT DISTINCT ON (destination) destination, status
	FROM alert_actions_log
	WHERE alert_id = $1
	ORDER BY destination, created_at DESC
) latest
WHERE status = 'failed'`
	rows, err := d.DB.QueryContext(ctx, q, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed destinations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var dest string
		if err := rows.Scan(&dest); err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		out = append(out, dest)
	}
	return out, rows.Err()
}

func (d *PgActionLogDAO) ListAttempts(ctx context.Context, alertID string) ([]*Attempt, error) {
	const q = `
SELECT id, alert_id, destination, status, detail, attempt, scheduled_at, sent_at, created_at
FROM alert_actions_log
WHERE alert_id = $1
ORDER BY created_at ASC`
	rows, err := d.DB.QueryContext(ctx, q, alertID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.AlertID, &a.Destination, &a.Status, &a.Detail,
			&a.Attempt, &a.ScheduledAt, &a.SentAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
