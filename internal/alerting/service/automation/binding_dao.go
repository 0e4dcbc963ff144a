package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	adb "github.com/vigilops/vigil/internal/alerting/database"
)

// PgBindingDAO implements BindingDAO plus operator CRUD over
// playbook_bindings.
type PgBindingDAO struct {
	DB *adb.Database
}

func NewPgBindingDAO(db *adb.Database) *PgBindingDAO { return &PgBindingDAO{DB: db} }

const bindingColumns = `id, rule_id, playbook_id, mode, match_types, match_severities, match_tags,
	max_per_minute, max_concurrent, daily_quota, enabled`

func (d *PgBindingDAO) ListEnabled(ctx context.Context) ([]*Binding, error) {
	q := `SELECT ` + bindingColumns + ` FROM playbook_bindings WHERE enabled ORDER BY id`
	rows, err := d.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list enabled bindings: %w", err)
	}
	defer rows.Close()

	var out []*Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (d *PgBindingDAO) List(ctx context.Context) ([]*Binding, error) {
	q := `SELECT ` + bindingColumns + ` FROM playbook_bindings ORDER BY id`
	rows, err := d.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var out []*Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (d *PgBindingDAO) Get(ctx context.Context, id string) (*Binding, error) {
	q := `SELECT ` + bindingColumns + ` FROM playbook_bindings WHERE id = $1`
	rows, err := d.DB.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("get binding: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		return scanBinding(rows)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("binding not found: %s", id)
}

func (d *PgBindingDAO) Upsert(ctx context.Context, b *Binding) error {
	const q = `
INSERT INTO playbook_bindings (id, rule_id, playbook_id, mode, match_types, match_severities, match_tags,
	max_per_minute, max_concurrent, daily_quota, enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	rule_id = EXCLUDED.rule_id,
	playbook_id = EXCLUDED.playbook_id,
	mode = EXCLUDED.mode,
	match_types = EXCLUDED.match_types,
	match_severities = EXCLUDED.match_severities,
	match_tags = EXCLUDED.match_tags,
	max_per_minute = EXCLUDED.max_per_minute,
	max_concurrent = EXCLUDED.max_concurrent,
	daily_quota = EXCLUDED.daily_quota,
	enabled = EXCLUDED.enabled`
	_, err := d.DB.ExecContext(ctx, q,
		b.ID, b.RuleID, b.PlaybookID, b.Mode,
		pq.Array(b.MatchTypes), pq.Array(b.MatchSeverities), pq.Array(b.MatchTags),
		b.MaxPerMinute, b.MaxConcurrent, b.DailyQuota, b.Enabled)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func (d *PgBindingDAO) Delete(ctx context.Context, id string) error {
	result, err := d.DB.ExecContext(ctx, `DELETE FROM playbook_bindings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("binding not found: %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinding(r rowScanner) (*Binding, error) {
	var (
		b      Binding
		ruleID sql.NullString
	)
	err := r.Scan(&b.ID, &ruleID, &b.PlaybookID, &b.Mode,
		pq.Array(&b.MatchTypes), pq.Array(&b.MatchSeverities), pq.Array(&b.MatchTags),
		&b.MaxPerMinute, &b.MaxConcurrent, &b.DailyQuota, &b.Enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("binding not found")
		}
		return nil, fmt.Errorf("scan binding: %w", err)
	}
	if ruleID.Valid {
		b.RuleID = &ruleID.String
	}
	return &b, nil
}
