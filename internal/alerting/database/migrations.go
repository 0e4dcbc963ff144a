package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Migration is one idempotent schema step. Statements use
// CREATE ... IF NOT EXISTS so re-running on startup is safe.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

func Migrations() []Migration {
	return []Migration{
		{
			Version:     "001",
			Description: "alert rules",
			SQL: `
CREATE TABLE IF NOT EXISTS alert_rules (
	id TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	match JSONB NOT NULL DEFAULT '{}'::jsonb,
	window_spec TEXT NOT NULL DEFAULT '',
	group_by TEXT NOT NULL DEFAULT '',
	threshold INT NOT NULL DEFAULT 1,
	message TEXT NOT NULL DEFAULT '',
	fingerprint_template TEXT NOT NULL DEFAULT '',
	correlation_keys TEXT[] NOT NULL DEFAULT '{}',
	mute_seconds INT NOT NULL DEFAULT 0,
	severity TEXT NOT NULL DEFAULT 'medium',
	route JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
		{
			Version:     "002",
			Description: "alerts",
			SQL: `
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	entity_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT 'medium',
	fingerprint TEXT NOT NULL,
	group_key TEXT,
	status TEXT NOT NULL DEFAULT 'open',
	count INT NOT NULL DEFAULT 1,
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL,
	suppressed_by_kind TEXT NOT NULL DEFAULT '',
	suppressed_by_id TEXT NOT NULL DEFAULT '',
	acked_by TEXT NOT NULL DEFAULT '',
	acked_at TIMESTAMPTZ,
	resolved_by TEXT NOT NULL DEFAULT '',
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_alerts_fingerprint_open ON alerts(fingerprint, last_seen DESC) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(rule_id);`,
		},
		{
			Version:     "003",
			Description: "dispatch attempt log",
			SQL: `
CREATE TABLE IF NOT EXISTS alert_actions_log (
	id TEXT PRIMARY KEY,
	alert_id TEXT NOT NULL,
	destination TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	attempt INT NOT NULL DEFAULT 1,
	scheduled_at TIMESTAMPTZ,
	sent_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_actions_log_due ON alert_actions_log(scheduled_at) WHERE status = 'retry';
CREATE INDEX IF NOT EXISTS idx_actions_log_alert ON alert_actions_log(alert_id, destination);`,
		},
		{
			Version:     "004",
			Description: "silences and maintenance windows",
			SQL: `
CREATE TABLE IF NOT EXISTS alert_silences (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	match JSONB NOT NULL DEFAULT '{}'::jsonb,
	starts_at TIMESTAMPTZ NOT NULL,
	ends_at TIMESTAMPTZ NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS maintenance_windows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	match JSONB NOT NULL DEFAULT '{}'::jsonb,
	starts_at TIMESTAMPTZ NOT NULL,
	ends_at TIMESTAMPTZ NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT ''
);`,
		},
		{
			Version:     "005",
			Description: "playbook bindings, usage counters, run audit",
			SQL: `
CREATE TABLE IF NOT EXISTS playbook_bindings (
	id TEXT PRIMARY KEY,
	rule_id TEXT,
	playbook_id TEXT NOT NULL,
	mode TEXT NOT NULL DEFAULT 'suggest',
	match_types TEXT[] NOT NULL DEFAULT '{}',
	match_severities TEXT[] NOT NULL DEFAULT '{}',
	match_tags TEXT[] NOT NULL DEFAULT '{}',
	max_per_minute INT NOT NULL DEFAULT 0,
	max_concurrent INT NOT NULL DEFAULT 0,
	daily_quota INT NOT NULL DEFAULT 0,
	enabled BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS playbook_binding_usage (
	binding_id TEXT PRIMARY KEY,
	day DATE NOT NULL,
	count_today INT NOT NULL DEFAULT 0,
	tokens DOUBLE PRECISION NOT NULL DEFAULT 0,
	refilled_at TIMESTAMPTZ NOT NULL,
	in_flight INT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS playbook_run_audit (
	id TEXT PRIMARY KEY,
	alert_id TEXT NOT NULL,
	binding_id TEXT NOT NULL,
	playbook_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	decision TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	requested_by TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	success BOOLEAN,
	output_ref TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_run_audit_alert ON playbook_run_audit(alert_id);`,
		},
	}
}

// Migrate applies all schema steps in order.
func (d *Database) Migrate(ctx context.Context) error {
	for _, m := range Migrations() {
		if _, err := d.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %s (%s): %w", m.Version, m.Description, err)
		}
		log.Debug().Str("version", m.Version).Str("description", m.Description).Msg("migration applied")
	}
	return nil
}
