package ruleengine

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/vigilops/vigil/internal/alerting/metrics"
	"github.com/vigilops/vigil/internal/alerting/model"
	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
	"github.com/vigilops/vigil/internal/alerting/service/automation"
	"github.com/vigilops/vigil/internal/alerting/service/dispatch"
	"github.com/vigilops/vigil/internal/alerting/service/suppression"
)

const idempotencyTTL = 10 * time.Minute

// Dispatcher is the fan-out surface the engine fires after alert creation.
type Dispatcher interface {
	DispatchOnCreate(ctx context.Context, alert *alertstore.Alert, route dispatch.RouteConfig)
}

// AutomationEvaluator runs playbook bindings for a new alert.
type AutomationEvaluator interface {
	Evaluate(ctx context.Context, alert *alertstore.Alert, actx automation.AlertContext, bypassGuardrails bool, requestedBy string)
}

// AlertUpserter owns alert identity and dedup.
type AlertUpserter interface {
	UpsertAlert(ctx context.Context, p alertstore.UpsertParams) (*alertstore.Alert, bool, error)
}

// SuppressionChecker evaluates an entity against active silences and
// maintenance windows.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, e model.Entity, now time.Time) suppression.Decision
}

// Engine is the ingestion pipeline: match rules, check windows and
// suppression, upsert alerts, then hand created unsuppressed alerts to
// dispatch and automation in the background.
type Engine struct {
	rules       RuleDAO
	windows     *WindowTracker
	suppression SuppressionChecker
	store       AlertUpserter
	dispatcher  Dispatcher
	automation  AutomationEvaluator
	metrics     *metrics.Metrics
	rdb         *redis.Client

	Concurrency int

	nowFn func() time.Time
}

func NewEngine(rules RuleDAO, windows *WindowTracker, sup SuppressionChecker, store AlertUpserter,
	dispatcher Dispatcher, auto AutomationEvaluator, m *metrics.Metrics, rdb *redis.Client) *Engine {
	return &Engine{
		rules:       rules,
		windows:     windows,
		suppression: sup,
		store:       store,
		dispatcher:  dispatcher,
		automation:  auto,
		metrics:     m,
		rdb:         rdb,
		Concurrency: 8,
		nowFn:       time.Now,
	}
}

// IngestResult summarizes one ingest batch.
type IngestResult struct {
	Entities  int  `json:"entities"`
	Created   int  `json:"created"`
	Merged    int  `json:"merged"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// IngestEntities evaluates every enabled rule against every entity in the
// batch. Entities are processed concurrently; individual entity failures are
// logged and the batch continues. A non-empty idempotencyKey dedupes whole
// batches across producer retries via redis.
func (e *Engine) IngestEntities(ctx context.Context, entities []model.Entity, idempotencyKey string) (*IngestResult, error) {
	res := &IngestResult{Entities: len(entities)}
	if len(entities) == 0 {
		return res, nil
	}

	if idempotencyKey != "" && !e.claimIdempotency(ctx, idempotencyKey) {
		res.Duplicate = true
		log.Info().Str("key", idempotencyKey).Msg("duplicate ingest batch skipped")
		return res, nil
	}

	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	workers := e.Concurrency
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, entity := range entities {
		wg.Add(1)
		sem <- struct{}{}
		go func(ent model.Entity) {
			defer wg.Done()
			defer func() { <-sem }()
			created, merged := e.evaluateEntity(ctx, rules, ent)
			mu.Lock()
			res.Created += created
			res.Merged += merged
			mu.Unlock()
		}(entity)
	}
	wg.Wait()
	return res, nil
}

func (e *Engine) evaluateEntity(ctx context.Context, rules []*Rule, ent model.Entity) (created, merged int) {
	e.metrics.EntitiesIngestedTotal.Inc()
	now := e.nowFn().UTC()

	for _, rule := range rules {
		e.metrics.RulesEvaluatedTotal.Inc()
		if !Matches(rule, ent) {
			continue
		}

		groupValue, groupOK := "", true
		if rule.GroupBy != "" {
			v, ok := model.ResolvePath(ent, rule.GroupBy)
			groupValue, groupOK = model.Stringify(v), ok
		}
		if !e.windows.WithinWindow(rule, groupValue, groupOK) {
			continue
		}

		decision := e.suppression.IsSuppressed(ctx, ent, now)

		params := alertstore.UpsertParams{
			RuleID:           rule.ID,
			EntityID:         ent.ID,
			Message:          RenderTemplate(rule.Message, ent),
			Severity:         rule.Severity,
			Fingerprint:      Fingerprint(rule, ent),
			GroupKey:         ComputeGroupKey(rule.CorrelationKeys, ent),
			MuteSeconds:      rule.MuteSeconds,
			SuppressedByKind: decision.Kind,
			SuppressedByID:   decision.ID,
			SuppressedByName: decision.Name,
		}
		alert, isNew, err := e.store.UpsertAlert(ctx, params)
		if err != nil {
			log.Error().Err(err).Str("rule_id", rule.ID).Str("entity_id", ent.ID).Msg("upsert alert failed")
			continue
		}

		if isNew {
			created++
			e.metrics.AlertsCreatedTotal.WithLabelValues(rule.Severity).Inc()
		} else {
			merged++
			e.metrics.AlertsDedupedTotal.Inc()
		}
		if decision.Kind != "" {
			e.metrics.AlertsSuppressedTotal.WithLabelValues(decision.Kind).Inc()
		}

		if isNew && !alert.Suppressed() {
			e.fanOut(ctx, alert, rule, ent)
		}
	}
	return created, merged
}

// fanOut hands the new alert to dispatch and automation without tying their
// lifetime to the ingest request context.
func (e *Engine) fanOut(ctx context.Context, alert *alertstore.Alert, rule *Rule, ent model.Entity) {
	bg := context.WithoutCancel(ctx)
	route := rule.Route
	go e.dispatcher.DispatchOnCreate(bg, alert, route)

	actx := automation.AlertContext{
		EntityType: ent.Type,
		Severity:   alert.Severity,
		Tags:       entityTags(ent),
	}
	go e.automation.Evaluate(bg, alert, actx, false, "system")
}

// entityTags pulls the conventional attrs.tags string list, if present.
func entityTags(ent model.Entity) []string {
	raw, ok := model.ResolvePath(ent, "attrs.tags")
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// claimIdempotency returns false when the key was already claimed. Redis
// being down degrades to processing the batch, never to dropping it.
func (e *Engine) claimIdempotency(ctx context.Context, key string) bool {
	if e.rdb == nil {
		return true
	}
	set, err := e.rdb.SetNX(ctx, "ingest:idem:"+key, 1, idempotencyTTL).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("idempotency check failed, processing anyway")
		return true
	}
	return set
}
