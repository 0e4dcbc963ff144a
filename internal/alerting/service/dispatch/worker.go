package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vigilops/vigil/internal/alerting/metrics"
	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
)

const maxDetailBytes = 500

// AlertLoader resolves alert ids from claimed retry rows back to full alerts.
type AlertLoader interface {
	GetAlert(ctx context.Context, id string) (*alertstore.Alert, error)
}

// RouteResolver maps a rule id to its dispatch route config.
type RouteResolver interface {
	RouteForRule(ctx context.Context, ruleID string) (RouteConfig, error)
}

// Worker sends notifications on alert creation and drives the background
// retry loop. Nothing here propagates errors to the ingestion caller:
// failures are recorded in alert_actions_log and retried.
type Worker struct {
	dao     ActionLogDAO
	sender  Sender
	backoff *Backoff
	alerts  AlertLoader
	routes  RouteResolver
	metrics *metrics.Metrics

	Interval   time.Duration
	ClaimBatch int

	nowFn func() time.Time
}

func NewWorker(dao ActionLogDAO, sender Sender, backoff *Backoff, alerts AlertLoader, routes RouteResolver, m *metrics.Metrics) *Worker {
	return &Worker{
		dao:        dao,
		sender:     sender,
		backoff:    backoff,
		alerts:     alerts,
		routes:     routes,
		metrics:    m,
		Interval:   30 * time.Second,
		ClaimBatch: 50,
		nowFn:      time.Now,
	}
}

// DispatchOnCreate fans out one newly created, unsuppressed alert to every
// valid destination. Failures schedule the first backoff tier.
func (w *Worker) DispatchOnCreate(ctx context.Context, alert *alertstore.Alert, route RouteConfig) {
	now := w.nowFn().UTC()
	for _, dest := range route.Destinations {
		if !dest.Valid() {
			log.Warn().Str("alert_id", alert.ID).Str("destination", dest.Type).Msg("skipping destination with missing config")
			continue
		}

		attempt := &Attempt{
			ID:          uuid.NewString(),
			AlertID:     alert.ID,
			Destination: dest.Type,
			Attempt:     1,
			CreatedAt:   now,
		}

		err := w.sender.Send(ctx, dest, alert)
		if err == nil {
			sentAt := w.nowFn().UTC()
			attempt.Status = AttemptSuccess
			attempt.SentAt = &sentAt
			w.metrics.DispatchAttemptsTotal.WithLabelValues(dest.Type, "success").Inc()
		} else {
			next := now.Add(w.backoff.Delay(1))
			attempt.Status = AttemptRetry
			attempt.Detail = truncateDetail(err.Error())
			attempt.ScheduledAt = &next
			w.metrics.DispatchAttemptsTotal.WithLabelValues(dest.Type, "failure").Inc()
			w.metrics.DispatchRetryScheduled.Inc()
			log.Warn().Err(err).Str("alert_id", alert.ID).Str("destination", dest.Type).
				Time("scheduled_at", next).Msg("dispatch failed, retry scheduled")
		}

		if err := w.dao.InsertAttempt(ctx, attempt); err != nil {
			log.Error().Err(err).Str("alert_id", alert.ID).Str("destination", dest.Type).Msg("record dispatch attempt failed")
		}
	}
}

// Start runs the retry loop until ctx is cancelled. Individual cycle errors
// are logged and the loop continues.
func (w *Worker) Start(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.RetryDue(ctx); err != nil {
				log.Error().Err(err).Msg("dispatch retry cycle failed")
			}
		}
	}
}

// RetryDue claims due retry rows and re-attempts delivery once each.
func (w *Worker) RetryDue(ctx context.Context) error {
	now := w.nowFn().UTC()
	claimed, err := w.dao.ClaimDue(ctx, now, w.ClaimBatch)
	if err != nil {
		return err
	}
	for _, row := range claimed {
		w.executeRetry(ctx, row)
	}
	return nil
}

func (w *Worker) executeRetry(ctx context.Context, row *Attempt) {
	attemptNo := row.Attempt + 1

	alert, dest, err := w.resolveTarget(ctx, row)
	if err != nil {
		// Unresolvable target (alert or route gone): terminal.
		w.fail(ctx, row, attemptNo, err.Error())
		return
	}

	if err := w.sender.Send(ctx, dest, alert); err != nil {
		if w.backoff.Exhausted(attemptNo) {
			w.fail(ctx, row, attemptNo, err.Error())
			return
		}
		next := w.nowFn().UTC().Add(w.backoff.Delay(attemptNo))
		if derr := w.dao.RearmRetry(ctx, row.ID, attemptNo, truncateDetail(err.Error()), next); derr != nil {
			log.Error().Err(derr).Str("attempt_id", row.ID).Msg("rearm retry failed")
		}
		w.metrics.DispatchAttemptsTotal.WithLabelValues(row.Destination, "failure").Inc()
		w.metrics.DispatchRetryScheduled.Inc()
		log.Warn().Err(err).Str("alert_id", row.AlertID).Str("destination", row.Destination).
			Int("attempt", attemptNo).Time("scheduled_at", next).Msg("retry failed, re-armed")
		return
	}

	sentAt := w.nowFn().UTC()
	if err := w.dao.MarkSuccess(ctx, row.ID, sentAt); err != nil {
		log.Error().Err(err).Str("attempt_id", row.ID).Msg("mark success failed")
	}
	w.metrics.DispatchAttemptsTotal.WithLabelValues(row.Destination, "success").Inc()
	log.Info().Str("alert_id", row.AlertID).Str("destination", row.Destination).
		Int("attempt", attemptNo).Msg("retry delivered")
}

func (w *Worker) fail(ctx context.Context, row *Attempt, attemptNo int, detail string) {
	if err := w.dao.MarkFailed(ctx, row.ID, attemptNo, truncateDetail(detail)); err != nil {
		log.Error().Err(err).Str("attempt_id", row.ID).Msg("mark failed failed")
	}
	w.metrics.DispatchExhaustedTotal.WithLabelValues(row.Destination).Inc()
	log.Error().Str("alert_id", row.AlertID).Str("destination", row.Destination).
		Int("attempt", attemptNo).Msg("dispatch retries exhausted")
}

func (w *Worker) resolveTarget(ctx context.Context, row *Attempt) (*alertstore.Alert, Destination, error) {
	alert, err := w.alerts.GetAlert(ctx, row.AlertID)
	if err != nil {
		return nil, Destination{}, fmt.Errorf("load alert: %w", err)
	}
	route, err := w.routes.RouteForRule(ctx, alert.RuleID)
	if err != nil {
		return nil, Destination{}, fmt.Errorf("load route: %w", err)
	}
	for _, d := range route.Destinations {
		if d.Type == row.Destination && d.Valid() {
			return alert, d, nil
		}
	}
	return nil, Destination{}, fmt.Errorf("destination %s no longer configured", row.Destination)
}

// ManualRetry enqueues a fresh attempt row with scheduled_at=now for the
// given destination, or for every currently-failed destination when dest is
// empty. The row goes through the normal claim/execute path.
func (w *Worker) ManualRetry(ctx context.Context, alertID, dest string) (int, error) {
	now := w.nowFn().UTC()
	dests := []string{dest}
	if dest == "" {
		failed, err := w.dao.FailedDestinations(ctx, alertID)
		if err != nil {
			return 0, err
		}
		dests = failed
	}

	enqueued := 0
	for _, dst := range dests {
		a := &Attempt{
			ID:          uuid.NewString(),
			AlertID:     alertID,
			Destination: dst,
			Status:      AttemptRetry,
			Detail:      "manual retry",
			Attempt:     0,
			ScheduledAt: &now,
			CreatedAt:   now,
		}
		if err := w.dao.InsertAttempt(ctx, a); err != nil {
			return enqueued, err
		}
		enqueued++
		log.Info().Str("alert_id", alertID).Str("destination", dst).Msg("manual retry enqueued")
	}
	return enqueued, nil
}

// Attempts returns the delivery timeline for one alert.
func (w *Worker) Attempts(ctx context.Context, alertID string) ([]*Attempt, error) {
	return w.dao.ListAttempts(ctx, alertID)
}

func truncateDetail(s string) string {
	if len(s) <= maxDetailBytes {
		return s
	}
	return s[:maxDetailBytes]
}
