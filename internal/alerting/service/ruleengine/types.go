package ruleengine

import (
	"context"
	"time"

	"github.com/vigilops/vigil/internal/alerting/service/dispatch"
)

// Rule is a row from alert_rules. Match predicate keys name top-level entity
// fields or "attrs."-prefixed dotted paths; values are exact-match scalars or
// {"$in": [...]} membership lists.
type Rule struct {
	ID                  string               `json:"id"`
	Enabled             bool                 `json:"enabled"`
	Match               map[string]any       `json:"match"`
	WindowSpec          string               `json:"window"`
	GroupBy             string               `json:"groupBy"`
	Threshold           int                  `json:"threshold"`
	Message             string               `json:"message"`
	FingerprintTemplate string               `json:"fingerprintTemplate"`
	CorrelationKeys     []string             `json:"correlationKeys"`
	MuteSeconds         int                  `json:"muteSeconds"`
	Severity            string               `json:"severity"`
	Route               dispatch.RouteConfig `json:"route"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// RuleDAO loads and stores alert rules.
type RuleDAO interface {
	ListEnabled(ctx context.Context) ([]*Rule, error)
	Get(ctx context.Context, id string) (*Rule, error)
	Upsert(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Rule, error)
}
