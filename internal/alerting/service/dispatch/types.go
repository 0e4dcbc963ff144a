package dispatch

import (
	"context"
	"time"
)

// Destination types.
const (
	DestSlack   = "slack"
	DestWebhook = "webhook"
)

// Attempt statuses in alert_actions_log.
const (
	AttemptSuccess = "success"
	AttemptRetry   = "retry"
	AttemptFailed  = "failed"
)

// RouteConfig is a rule's dispatch target list.
type RouteConfig struct {
	Destinations []Destination `json:"destinations"`
}

// Destination is one notification target with its per-destination config.
type Destination struct {
	Type    string            `json:"type"` // slack | webhook
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Valid reports whether the destination carries enough config to deliver.
func (d Destination) Valid() bool {
	return (d.Type == DestSlack || d.Type == DestWebhook) && d.URL != ""
}

// Attempt is a row from alert_actions_log.
type Attempt struct {
	ID          string     `json:"id"`
	AlertID     string     `json:"alertId"`
	Destination string     `json:"destination"`
	Status      string     `json:"status"`
	Detail      string     `json:"detail"`
	Attempt     int        `json:"attempt"`
	ScheduledAt *time.Time `json:"scheduledAt"`
	SentAt      *time.Time `json:"sentAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// ActionLogDAO persists the attempt history and hands out retry claims.
type ActionLogDAO interface {
	InsertAttempt(ctx context.Context, a *Attempt) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Attempt, error)
	MarkSuccess(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, attempt int, detail string) error
	RearmRetry(ctx context.Context, id string, attempt int, detail string, scheduledAt time.Time) error
	FailedDestinations(ctx context.Context, alertID string) ([]string, error)
	ListAttempts(ctx context.Context, alertID string) ([]*Attempt, error)
}
