package suppression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	adb "github.com/vigilops/vigil/internal/alerting/database"
)

// ErrInvalidWindow indicates starts_at is not before ends_at.
var ErrInvalidWindow = errors.New("window starts_at must be before ends_at")

// PgWindowDAO implements WindowDAO over the alert_silences and
// maintenance_windows tables.
type PgWindowDAO struct {
	DB *adb.Database
}

func NewPgWindowDAO(db *adb.Database) *PgWindowDAO { return &PgWindowDAO{DB: db} }

func (d *PgWindowDAO) ActiveSilences(ctx context.Context, now time.Time) ([]*Window, error) {
	return d.activeFrom(ctx, "alert_silences", now)
}

func (d *PgWindowDAO) ActiveMaintenanceWindows(ctx context.Context, now time.Time) ([]*Window, error) {
	return d.activeFrom(ctx, "maintenance_windows", now)
}

func (d *PgWindowDAO) activeFrom(ctx context.Context, table string, now time.Time) ([]*Window, error) {
	q := fmt.Sprintf(`
SELECT id, name, match, starts_at, ends_at, reason, created_by
FROM %s
WHERE starts_at <= $1 AND ends_at >= $1
ORDER BY starts_at ASC`, table)
	rows, err := d.DB.QueryContext(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []*Window
	for rows.Next() {
		var (
			w        Window
			matchRaw string
		)
		if err := rows.Scan(&w.ID, &w.Name, &matchRaw, &w.StartsAt, &w.EndsAt, &w.Reason, &w.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		w.Match = map[string]any{}
		_ = json.Unmarshal([]byte(matchRaw), &w.Match)
		out = append(out, &w)
	}
	return out, rows.Err()
}

// CreateSilence inserts a silence after validating its bounds.
func (d *PgWindowDAO) CreateSilence(ctx context.Context, w *Window) error {
	return d.create(ctx, "alert_silences", w)
}

// CreateMaintenanceWindow inserts a maintenance window after validating its bounds.
func (d *PgWindowDAO) CreateMaintenanceWindow(ctx context.Context, w *Window) error {
	return d.create(ctx, "maintenance_windows", w)
}

func (d *PgWindowDAO) create(ctx context.Context, table string, w *Window) error {
	if !w.StartsAt.Before(w.EndsAt) {
		return ErrInvalidWindow
	}
	matchJSON, err := json.Marshal(w.Match)
	if err != nil {
		return fmt.Errorf("marshal match filter: %w", err)
	}
	q := fmt.Sprintf(`
INSERT INTO %s (id, name, match, starts_at, ends_at, reason, created_by)
VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7)`, table)
	if _, err := d.DB.ExecContext(ctx, q, w.ID, w.Name, string(matchJSON), w.StartsAt, w.EndsAt, w.Reason, w.CreatedBy); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// DeleteSilence removes a silence by id.
func (d *PgWindowDAO) DeleteSilence(ctx context.Context, id string) error {
	return d.delete(ctx, "alert_silences", id)
}

// DeleteMaintenanceWindow removes a maintenance window by id.
func (d *PgWindowDAO) DeleteMaintenanceWindow(ctx context.Context, id string) error {
	return d.delete(ctx, "maintenance_windows", id)
}

func (d *PgWindowDAO) delete(ctx context.Context, table string, id string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table)
	result, err := d.DB.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no row in %s with id: %s", table, id)
	}
	return nil
}
