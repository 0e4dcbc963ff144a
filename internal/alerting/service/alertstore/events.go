package alertstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// EventChannel is the pub/sub channel real-time subscribers listen on.
const EventChannel = "alerts:events"

// Publisher pushes alert lifecycle events to Redis and maintains a
// write-through cache of alert records with per-status index sets.
// A nil client turns every method into a noop.
type Publisher struct {
	R *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher { return &Publisher{R: rdb} }

type alertEvent struct {
	T    string         `json:"t"`
	Data alertEventData `json:"data"`
}

type alertEventData struct {
	ID               string  `json:"id"`
	RuleID           string  `json:"ruleId"`
	EntityID         string  `json:"entityId"`
	Message          string  `json:"message"`
	Severity         string  `json:"severity"`
	Status           string  `json:"status"`
	Fingerprint      string  `json:"fingerprint"`
	GroupKey         *string `json:"groupKey"`
	Count            int     `json:"count"`
	FirstSeen        string  `json:"firstSeen"`
	LastSeen         string  `json:"lastSeen"`
	CreatedAt        string  `json:"createdAt"`
	SuppressedByKind *string `json:"suppressedByKind"`
	SuppressedByID   *string `json:"suppressedById"`
	SuppressedByName *string `json:"suppressedByName"`
}

func (p *Publisher) PublishCreated(ctx context.Context, a *Alert, suppressedByName string) {
	p.publish(ctx, "alert.created", a, suppressedByName)
	p.writeCache(ctx, a)
}

func (p *Publisher) PublishUpdated(ctx context.Context, a *Alert, suppressedByName string) {
	p.publish(ctx, "alert.updated", a, suppressedByName)
	p.writeCache(ctx, a)
}

func (p *Publisher) publish(ctx context.Context, eventType string, a *Alert, suppressedByName string) {
	if p.R == nil {
		return
	}
	data := alertEventData{
		ID:          a.ID,
		RuleID:      a.RuleID,
		EntityID:    a.EntityID,
		Message:     a.Message,
		Severity:    a.Severity,
		Status:      a.Status,
		Fingerprint: a.Fingerprint,
		GroupKey:    a.GroupKey,
		Count:       a.Count,
		FirstSeen:   a.FirstSeen.UTC().Format(time.RFC3339Nano),
		LastSeen:    a.LastSeen.UTC().Format(time.RFC3339Nano),
		CreatedAt:   a.FirstSeen.UTC().Format(time.RFC3339Nano),
	}
	if a.Suppressed() {
		kind := a.SuppressedByKind
		id := a.SuppressedByID
		data.SuppressedByKind = &kind
		data.SuppressedByID = &id
		if suppressedByName != "" {
			data.SuppressedByName = &suppressedByName
		}
	}
	payload, err := json.Marshal(alertEvent{T: eventType, Data: data})
	if err != nil {
		log.Error().Err(err).Str("alert_id", a.ID).Msg("marshal alert event failed")
		return
	}
	// Errors are ignored to avoid impacting the ingestion path.
	if err := p.R.Publish(ctx, EventChannel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("alert_id", a.ID).Str("type", eventType).Msg("publish alert event failed")
	}
}

// writeCache mirrors the alert record into Redis with status index sets so
// list queries can be served without touching Postgres.
func (p *Publisher) writeCache(ctx context.Context, a *Alert) {
	if p.R == nil {
		return
	}
	body, err := json.Marshal(a)
	if err != nil {
		return
	}
	key := "alert:" + a.ID
	pipe := p.R.Pipeline()
	pipe.Set(ctx, key, body, 7*24*time.Hour)
	for _, st := range []string{StatusOpen, StatusAck, StatusResolved} {
		idx := "alert:index:status:" + st
		if st == a.Status {
			pipe.SAdd(ctx, idx, a.ID)
		} else {
			pipe.SRem(ctx, idx, a.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("alert_id", a.ID).Msg("alert cache write failed")
	}
}
