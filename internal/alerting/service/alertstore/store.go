package alertstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	adb "github.com/vigilops/vigil/internal/alerting/database"
)

var (
	// ErrNotFound indicates the alert id does not exist.
	ErrNotFound = errors.New("alert not found")
	// ErrInvalidTransition indicates a backward status move was requested.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store owns alert identity and dedup.
type Store struct {
	DB     *adb.Database
	events *Publisher

	nowFn func() time.Time
}

func NewStore(db *adb.Database, events *Publisher) *Store {
	if events == nil {
		events = NewPublisher(nil)
	}
	return &Store{DB: db, events: events, nowFn: time.Now}
}

// UpsertAlert merges the event into the most recent open alert with the same
// fingerprint when it is inside the mute window, otherwise inserts a new
// alert. The merge lookup and the write happen in one transaction with the
// candidate row locked, so concurrent ingestion of the same fingerprint
// serializes instead of racing into duplicates.
func (s *Store) UpsertAlert(ctx context.Context, p UpsertParams) (*Alert, bool, error) {
	now := s.nowFn().UTC()
	var out *Alert
	created := false

	err := s.DB.WithTx(ctx, func(tx *sql.Tx) error {
		if p.MuteSeconds > 0 {
			const updQ = `
UPDATE alerts
SET count = count + 1,
    last_seen = $2,
    message = $3,
    severity = $4,
    suppressed_by_kind = $5,
    suppressed_by_id = $6
WHERE id = (
	SELECT id FROM alerts
	WHERE fingerprint = $1 AND status = 'open' AND last_seen > $7
	ORDER BY last_seen DESC
	LIMIT 1
	FOR UPDATE
)
RETURNING id, count, first_seen, entity_id, group_key`
			var (
				id        string
				count     int
				firstSeen time.Time
				entityID  string
				groupKey  *string
			)
			err := tx.QueryRowContext(ctx, updQ,
				p.Fingerprint, now, p.Message, p.Severity,
				p.SuppressedByKind, p.SuppressedByID, muteCutoff(now, p.MuteSeconds),
			).Scan(&id, &count, &firstSeen, &entityID, &groupKey)
			if err == nil {
				out = mergedAlert(p, id, count, firstSeen, now, entityID, groupKey)
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("dedup update: %w", err)
			}
		}

		const insQ = `
INSERT INTO alerts (id, rule_id, entity_id, message, severity, fingerprint, group_key,
	status, count, first_seen, last_seen, suppressed_by_kind, suppressed_by_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'open', 1, $8, $8, $9, $10)`
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, insQ,
			id, p.RuleID, p.EntityID, p.Message, p.Severity, p.Fingerprint, p.GroupKey,
			now, p.SuppressedByKind, p.SuppressedByID,
		); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		out = alertFromParams(p, id, 1, now, now)
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.events.PublishCreated(ctx, out, p.SuppressedByName)
	} else {
		s.events.PublishUpdated(ctx, out, p.SuppressedByName)
	}
	return out, created, nil
}

// muteCutoff is the merge-eligibility boundary: an open alert with the same
// fingerprint merges only while its last_seen is strictly after the cutoff.
// An event arriving exactly MuteSeconds after last_seen opens a new alert.
func muteCutoff(now time.Time, muteSeconds int) time.Time {
	return now.Add(-time.Duration(muteSeconds) * time.Second)
}

// mergedAlert builds the post-merge view of an existing row. Identity fields
// (entity, group key) stay as stored; the event only refreshes message,
// severity, suppression, and the counters.
func mergedAlert(p UpsertParams, id string, count int, firstSeen, lastSeen time.Time, entityID string, groupKey *string) *Alert {
	a := alertFromParams(p, id, count, firstSeen, lastSeen)
	a.EntityID = entityID
	a.GroupKey = groupKey
	return a
}

func alertFromParams(p UpsertParams, id string, count int, firstSeen, lastSeen time.Time) *Alert {
	return &Alert{
		ID:               id,
		RuleID:           p.RuleID,
		EntityID:         p.EntityID,
		Message:          p.Message,
		Severity:         p.Severity,
		Fingerprint:      p.Fingerprint,
		GroupKey:         p.GroupKey,
		Status:           StatusOpen,
		Count:            count,
		FirstSeen:        firstSeen,
		LastSeen:         lastSeen,
		SuppressedByKind: p.SuppressedByKind,
		SuppressedByID:   p.SuppressedByID,
	}
}

// AckAlert moves an open alert to ack. Re-acking is idempotent success;
// acking a resolved alert is rejected.
func (s *Store) AckAlert(ctx context.Context, id, userID string) error {
	return s.transition(ctx, id, StatusAck, userID)
}

// ResolveAlert moves an open or acked alert to resolved. Re-resolving is
// idempotent success.
func (s *Store) ResolveAlert(ctx context.Context, id, userID string) error {
	return s.transition(ctx, id, StatusResolved, userID)
}

func (s *Store) transition(ctx context.Context, id, target, userID string) error {
	now := s.nowFn().UTC()
	err := s.DB.WithTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock alert: %w", err)
		}
		if current == target {
			return nil // idempotent
		}
		if !canTransition(current, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
		}

		var q string
		if target == StatusAck {
			q = `UPDATE alerts SET status = 'ack', acked_by = $2, acked_at = $3 WHERE id = $1`
		} else {
			q = `UPDATE alerts SET status = 'resolved', resolved_by = $2, resolved_at = $3 WHERE id = $1`
		}
		if _, err := tx.ExecContext(ctx, q, id, userID, now); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		log.Info().Str("alert_id", id).Str("from", current).Str("to", target).Str("user", userID).Msg("alert status changed")
		return nil
	})
	if err != nil {
		return err
	}

	// Keep the event stream and cache in step with status changes.
	if a, gerr := s.GetAlert(ctx, id); gerr == nil {
		s.events.PublishUpdated(ctx, a, "")
	}
	return nil
}

// GetAlert loads a single alert row.
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	const q = `
SELECT id, rule_id, entity_id, message, severity, fingerprint, group_key, status, count,
	first_seen, last_seen, suppressed_by_kind, suppressed_by_id,
	acked_by, acked_at, resolved_by, resolved_at
FROM alerts WHERE id = $1`
	row := s.DB.QueryRowContext(ctx, q, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAlerts returns alerts filtered by status (empty = all), newest first.
func (s *Store) ListAlerts(ctx context.Context, status string, limit int) ([]*Alert, error) {
	if limit < 1 {
		limit = 50
	}
	var (
		q    string
		args []any
	)
	if status == "" {
		q = `
SELECT id, rule_id, entity_id, message, severity, fingerprint, group_key, status, count,
	first_seen, last_seen, suppressed_by_kind, suppressed_by_id,
	acked_by, acked_at, resolved_by, resolved_at
FROM alerts ORDER BY last_seen DESC LIMIT $1`
		args = append(args, limit)
	} else {
		q = `
SELECT id, rule_id, entity_id, message, severity, fingerprint, group_key, status, count,
	first_seen, last_seen, suppressed_by_kind, suppressed_by_id,
	acked_by, acked_at, resolved_by, resolved_at
FROM alerts WHERE status = $1 ORDER BY last_seen DESC LIMIT $2`
		args = append(args, status, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(r rowScanner) (*Alert, error) {
	var a Alert
	err := r.Scan(
		&a.ID, &a.RuleID, &a.EntityID, &a.Message, &a.Severity, &a.Fingerprint, &a.GroupKey,
		&a.Status, &a.Count, &a.FirstSeen, &a.LastSeen, &a.SuppressedByKind, &a.SuppressedByID,
		&a.AckedBy, &a.AckedAt, &a.ResolvedBy, &a.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
