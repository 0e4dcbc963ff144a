package automation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vigilops/vigil/internal/alerting/metrics"
	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
)

// GuardrailGate is the guardrail surface the coordinator drives.
type GuardrailGate interface {
	TryAcquire(ctx context.Context, b *Binding, forRun, incrementDaily, dryRun bool) (bool, string, error)
	Release(ctx context.Context, bindingID string) error
}

// Coordinator matches alerts to playbook bindings, acquires guardrails,
// invokes the external runner, and records exactly one audit row per
// (alert, binding) evaluation.
type Coordinator struct {
	bindings BindingDAO
	guard    GuardrailGate
	runner   Runner
	audits   AuditDAO
	metrics  *metrics.Metrics

	nowFn func() time.Time
}

func NewCoordinator(bindings BindingDAO, guard GuardrailGate, runner Runner, audits AuditDAO, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		bindings: bindings,
		guard:    guard,
		runner:   runner,
		audits:   audits,
		metrics:  m,
		nowFn:    time.Now,
	}
}

// Evaluate runs the automation state machine for one alert against every
// matching binding. Fire-and-forget from ingestion: all failures end up in
// the audit trail, never at the caller.
func (c *Coordinator) Evaluate(ctx context.Context, alert *alertstore.Alert, actx AlertContext, bypassGuardrails bool, requestedBy string) {
	bindings, err := c.bindings.ListEnabled(ctx)
	if err != nil {
		log.Error().Err(err).Str("alert_id", alert.ID).Msg("load playbook bindings failed")
		return
	}
	for _, b := range bindings {
		if !BindingMatches(b, alert.RuleID, actx) {
			continue
		}
		c.evaluateBinding(ctx, b, alert, bypassGuardrails, requestedBy)
	}
}

// BindingMatches tests rule scope and the type/severity/tag filters. Empty
// filter lists are wildcards; non-empty lists must intersect the alert's
// derived context.
func BindingMatches(b *Binding, ruleID string, actx AlertContext) bool {
	if b.RuleID != nil && *b.RuleID != ruleID {
		return false
	}
	if len(b.MatchTypes) > 0 && !containsString(b.MatchTypes, actx.EntityType) {
		return false
	}
	if len(b.MatchSeverities) > 0 && !containsString(b.MatchSeverities, actx.Severity) {
		return false
	}
	if len(b.MatchTags) > 0 && !intersects(b.MatchTags, actx.Tags) {
		return false
	}
	return true
}

func (c *Coordinator) evaluateBinding(ctx context.Context, b *Binding, alert *alertstore.Alert, bypass bool, requestedBy string) {
	started := c.nowFn().UTC()
	audit := &RunAudit{
		ID:          uuid.NewString(),
		AlertID:     alert.ID,
		BindingID:   b.ID,
		PlaybookID:  b.PlaybookID,
		Mode:        b.Mode,
		RequestedBy: requestedBy,
		StartedAt:   started,
	}

	// suggest never executes anything, so it only consumes rate tokens;
	// dry_run and auto_run hold a concurrency slot and count against quota.
	forRun := b.Mode == ModeDryRun || b.Mode == ModeAutoRun
	incrementDaily := forRun

	acquired := false
	if bypass {
		// Manual run-now override: compute what would have happened without
		// consuming anything, and keep the underlying reason in the audit.
		if allowed, reason, err := c.guard.TryAcquire(ctx, b, forRun, incrementDaily, true); err == nil && !allowed {
			audit.Reason = "override:" + reason
		}
	} else {
		allowed, reason, err := c.guard.TryAcquire(ctx, b, forRun, incrementDaily, false)
		if err != nil {
			// Aborted transaction means not acquired, never a grant.
			c.finish(ctx, audit, DecisionFailedDependency, "guardrail: "+err.Error(), nil, "")
			return
		}
		if !allowed {
			c.metrics.GuardrailBlockedTotal.WithLabelValues(reason).Inc()
			c.finish(ctx, audit, reason, "guardrail denied acquisition", nil, "")
			return
		}
		acquired = forRun
	}
	if acquired {
		defer func() {
			if err := c.guard.Release(ctx, b.ID); err != nil {
				log.Error().Err(err).Str("binding_id", b.ID).Msg("guardrail release failed")
			}
		}()
	}

	switch b.Mode {
	case ModeSuggest:
		c.finish(ctx, audit, DecisionSuggested, "playbook suggested to operator", nil, "")

	case ModeDryRun:
		ref, err := c.runner.TestRun(ctx, b.PlaybookID, mockSubjectFor(alert), IdempotencyKey(alert.ID, b.ID, "dry"))
		c.finishExecution(ctx, audit, err, ref, DecisionDryRan, DecisionDryRunFailed)

	case ModeAutoRun:
		ref, err := c.runner.Run(ctx, "entity", alert.EntityID, b.PlaybookID, IdempotencyKey(alert.ID, b.ID, "run"))
		c.finishExecution(ctx, audit, err, ref, DecisionRan, DecisionRunFailed)

	default:
		c.finish(ctx, audit, DecisionFailedDependency, "unknown binding mode: "+b.Mode, nil, "")
	}
}

func (c *Coordinator) finishExecution(ctx context.Context, audit *RunAudit, err error, outputRef, okDecision, failDecision string) {
	var statusErr *StatusError
	switch {
	case err == nil:
		ok := true
		c.finish(ctx, audit, okDecision, "", &ok, outputRef)
	case errors.As(err, &statusErr):
		notOK := false
		c.finish(ctx, audit, failDecision, err.Error(), &notOK, outputRef)
	default:
		// Transport or unexpected failure: the runner never answered.
		c.finish(ctx, audit, DecisionFailedDependency, err.Error(), nil, "")
	}
}

func (c *Coordinator) finish(ctx context.Context, audit *RunAudit, decision, reason string, success *bool, outputRef string) {
	finished := c.nowFn().UTC()
	audit.Decision = decision
	if reason != "" {
		if audit.Reason != "" {
			audit.Reason = audit.Reason + "; " + reason
		} else {
			audit.Reason = reason
		}
	}
	audit.FinishedAt = &finished
	audit.Success = success
	audit.OutputRef = outputRef

	c.metrics.AutomationDecisionsTotal.WithLabelValues(decision).Inc()
	if err := c.audits.Insert(ctx, audit); err != nil {
		log.Error().Err(err).Str("alert_id", audit.AlertID).Str("binding_id", audit.BindingID).
			Str("decision", decision).Msg("record run audit failed")
	}
	log.Info().Str("alert_id", audit.AlertID).Str("binding_id", audit.BindingID).
		Str("mode", audit.Mode).Str("decision", decision).Msg("automation evaluated")
}

// mockSubjectFor synthesizes the dry-run subject from the alert.
func mockSubjectFor(alert *alertstore.Alert) map[string]any {
	return map[string]any{
		"id":       alert.EntityID,
		"alertId":  alert.ID,
		"severity": alert.Severity,
		"message":  alert.Message,
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
