package automation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	adb "github.com/vigilops/vigil/internal/alerting/database"
)

// AuditChannel is the pub/sub channel automation audit events go out on.
const AuditChannel = "automation:audit"

// PgAuditDAO persists run audit rows and publishes each one to subscribers.
// Rows are append-only: nothing mutates them after finished_at is set.
type PgAuditDAO struct {
	DB *adb.Database
	R  *redis.Client
}

func NewPgAuditDAO(db *adb.Database, rdb *redis.Client) *PgAuditDAO {
	return &PgAuditDAO{DB: db, R: rdb}
}

func (d *PgAuditDAO) Insert(ctx context.Context, a *RunAudit) error {
	const q = `
INSERT INTO playbook_run_audit (id, alert_id, binding_id, playbook_id, mode, decision, reason,
	requested_by, started_at, finished_at, success, output_ref)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := d.DB.ExecContext(ctx, q,
		a.ID, a.AlertID, a.BindingID, a.PlaybookID, a.Mode, a.Decision, a.Reason,
		a.RequestedBy, a.StartedAt, a.FinishedAt, a.Success, a.OutputRef)
	if err != nil {
		return fmt.Errorf("insert run audit: %w", err)
	}

	d.publish(ctx, a)
	return nil
}

func (d *PgAuditDAO) publish(ctx context.Context, a *RunAudit) {
	if d.R == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"t": "automation.audit", "data": a})
	if err != nil {
		return
	}
	if err := d.R.Publish(ctx, AuditChannel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("audit_id", a.ID).Msg("publish audit event failed")
	}
}

// ListByAlert returns the audit trail for one alert, oldest first.
func (d *PgAuditDAO) ListByAlert(ctx context.Context, alertID string) ([]*RunAudit, error) {
	const q = `
SELECT id, alert_id, binding_id, playbook_id, mode, decision, reason,
	requested_by, started_at, finished_at, success, output_ref
FROM playbook_run_audit
WHERE alert_id = $1
ORDER BY started_at ASC`
	rows, err := d.DB.QueryContext(ctx, q, alertID)
	if err != nil {
		return nil, fmt.Errorf("list run audits: %w", err)
	}
	defer rows.Close()

	var out []*RunAudit
	for rows.Next() {
		var a RunAudit
		if err := rows.Scan(&a.ID, &a.AlertID, &a.BindingID, &a.PlaybookID, &a.Mode, &a.Decision,
			&a.Reason, &a.RequestedBy, &a.StartedAt, &a.FinishedAt, &a.Success, &a.OutputRef); err != nil {
			return nil, fmt.Errorf("scan run audit: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
