package ruleengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	adb "github.com/vigilops/vigil/internal/alerting/database"
	"github.com/vigilops/vigil/internal/alerting/service/dispatch"
)

// ErrRuleNotFound indicates the rule id does not exist.
var ErrRuleNotFound = errors.New("rule not found")

// PgRuleDAO stores rules in alert_rules. Match predicates and route configs
// live in jsonb columns; correlation keys in a text[] column.
type PgRuleDAO struct {
	DB *adb.Database
}

func NewPgRuleDAO(db *adb.Database) *PgRuleDAO {
	return &PgRuleDAO{DB: db}
}

const ruleColumns = `id, enabled, match, window_spec, group_by, threshold, message,
	fingerprint_template, correlation_keys, mute_seconds, severity, route, created_at, updated_at`

func (d *PgRuleDAO) ListEnabled(ctx context.Context) ([]*Rule, error) {
	return d.list(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE enabled ORDER BY created_at`)
}

func (d *PgRuleDAO) List(ctx context.Context) ([]*Rule, error) {
	return d.list(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY created_at`)
}

func (d *PgRuleDAO) list(ctx context.Context, q string) ([]*Rule, error) {
	rows, err := d.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *PgRuleDAO) Get(ctx context.Context, id string) (*Rule, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return r, err
}

func (d *PgRuleDAO) Upsert(ctx context.Context, r *Rule) error {
	match, err := json.Marshal(r.Match)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	route, err := json.Marshal(r.Route)
	if err != nil {
		return fmt.Errorf("marshal route: %w", err)
	}
	const q = `
INSERT INTO alert_rules (id, enabled, match, window_spec, group_by, threshold, message,
	fingerprint_template, correlation_keys, mute_seconds, severity, route, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
ON CONFLICT (id) DO UPDATE SET
	enabled = EXCLUDED.enabled,
	match = EXCLUDED.match,
	window_spec = EXCLUDED.window_spec,
	group_by = EXCLUDED.group_by,
	threshold = EXCLUDED.threshold,
	message = EXCLUDED.message,
	fingerprint_template = EXCLUDED.fingerprint_template,
	correlation_keys = EXCLUDED.correlation_keys,
	mute_seconds = EXCLUDED.mute_seconds,
	severity = EXCLUDED.severity,
	route = EXCLUDED.route,
	updated_at = now()`
	if _, err := d.DB.ExecContext(ctx, q,
		r.ID, r.Enabled, match, r.WindowSpec, r.GroupBy, r.Threshold, r.Message,
		r.FingerprintTemplate, pq.Array(r.CorrelationKeys), r.MuteSeconds, r.Severity, route,
	); err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

func (d *PgRuleDAO) Delete(ctx context.Context, id string) error {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// RouteForRule satisfies the dispatch route resolver: retries look the
// current route up fresh so config edits take effect mid-backoff.
func (d *PgRuleDAO) RouteForRule(ctx context.Context, ruleID string) (dispatch.RouteConfig, error) {
	var raw []byte
	err := d.DB.QueryRowContext(ctx, `SELECT route FROM alert_rules WHERE id = $1`, ruleID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.RouteConfig{}, ErrRuleNotFound
	}
	if err != nil {
		return dispatch.RouteConfig{}, fmt.Errorf("load route: %w", err)
	}
	var route dispatch.RouteConfig
	if err := json.Unmarshal(raw, &route); err != nil {
		return dispatch.RouteConfig{}, fmt.Errorf("decode route: %w", err)
	}
	return route, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(r rowScanner) (*Rule, error) {
	var (
		rule     Rule
		matchRaw []byte
		routeRaw []byte
		corrKeys pq.StringArray
	)
	err := r.Scan(&rule.ID, &rule.Enabled, &matchRaw, &rule.WindowSpec, &rule.GroupBy,
		&rule.Threshold, &rule.Message, &rule.FingerprintTemplate, &corrKeys,
		&rule.MuteSeconds, &rule.Severity, &routeRaw, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(matchRaw) > 0 {
		if err := json.Unmarshal(matchRaw, &rule.Match); err != nil {
			return nil, fmt.Errorf("decode match: %w", err)
		}
	}
	if len(routeRaw) > 0 {
		if err := json.Unmarshal(routeRaw, &rule.Route); err != nil {
			return nil, fmt.Errorf("decode route: %w", err)
		}
	}
	rule.CorrelationKeys = corrKeys
	return &rule, nil
}
