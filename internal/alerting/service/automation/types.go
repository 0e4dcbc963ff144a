package automation

import (
	"context"
	"time"
)

// Binding execution modes.
const (
	ModeSuggest = "suggest"
	ModeDryRun  = "dry_run"
	ModeAutoRun = "auto_run"
)

// Terminal audit decisions.
const (
	DecisionSuggested          = "suggested"
	DecisionDryRan             = "dry_ran"
	DecisionDryRunFailed       = "dry_run_failed"
	DecisionRan                = "ran"
	DecisionRunFailed          = "run_failed"
	DecisionRateLimited        = "rate_limited"
	DecisionConcurrencyBlocked = "concurrency_blocked"
	DecisionQuotaExhausted     = "quota_exhausted"
	DecisionFailedDependency   = "failed_dependency"
)

// Binding is a configured rule-to-playbook association with guardrail limits.
// A nil RuleID applies the binding to all rules; empty filter lists match all.
type Binding struct {
	ID              string   `json:"id"`
	RuleID          *string  `json:"ruleId"`
	PlaybookID      string   `json:"playbookId"`
	Mode            string   `json:"mode"`
	MatchTypes      []string `json:"matchTypes"`
	MatchSeverities []string `json:"matchSeverities"`
	MatchTags       []string `json:"matchTags"`
	MaxPerMinute    int      `json:"maxPerMinute"`
	MaxConcurrent   int      `json:"maxConcurrent"`
	DailyQuota      int      `json:"dailyQuota"`
	Enabled         bool     `json:"enabled"`
}

// Usage is the durable guardrail counter row for one binding.
type Usage struct {
	BindingID  string    `json:"bindingId"`
	Day        time.Time `json:"day"` // UTC date, reset boundary
	CountToday int       `json:"countToday"`
	Tokens     float64   `json:"tokens"`
	RefilledAt time.Time `json:"refilledAt"`
	InFlight   int       `json:"inFlight"`
}

// RunAudit is one append-only automation evaluation record.
type RunAudit struct {
	ID          string     `json:"id"`
	AlertID     string     `json:"alertId"`
	BindingID   string     `json:"bindingId"`
	PlaybookID  string     `json:"playbookId"`
	Mode        string     `json:"mode"`
	Decision    string     `json:"decision"`
	Reason      string     `json:"reason"`
	RequestedBy string     `json:"requestedBy"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt"`
	Success     *bool      `json:"success"`
	OutputRef   string     `json:"outputRef"`
}

// AlertContext is the derived matching context for binding selection.
type AlertContext struct {
	EntityType string
	Severity   string
	Tags       []string
}

// BindingDAO loads playbook bindings.
type BindingDAO interface {
	ListEnabled(ctx context.Context) ([]*Binding, error)
}

// AuditDAO persists run audit rows.
type AuditDAO interface {
	Insert(ctx context.Context, a *RunAudit) error
}

// Runner invokes the external playbook step executor.
type Runner interface {
	TestRun(ctx context.Context, playbookID string, mockSubject map[string]any, idempotencyKey string) (string, error)
	Run(ctx context.Context, subjectKind, subjectID, playbookID, idempotencyKey string) (string, error)
}
