package automation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vigilops/vigil/internal/alerting/metrics"
	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
)

type fakeBindings struct {
	bindings []*Binding
	err      error
}

func (f *fakeBindings) ListEnabled(ctx context.Context) ([]*Binding, error) {
	return f.bindings, f.err
}

type fakeGate struct {
	allowed  bool
	reason   string
	err      error
	acquires int
	dryRuns  int
	releases int
}

func (f *fakeGate) TryAcquire(ctx context.Context, b *Binding, forRun, incrementDaily, dryRun bool) (bool, string, error) {
	if dryRun {
		f.dryRuns++
	} else {
		f.acquires++
	}
	return f.allowed, f.reason, f.err
}

func (f *fakeGate) Release(ctx context.Context, bindingID string) error {
	f.releases++
	return nil
}

type fakeRunner struct {
	testRunErr error
	runErr     error
	testRuns   int
	runs       int
	lastKey    string
}

func (f *fakeRunner) TestRun(ctx context.Context, playbookID string, mockSubject map[string]any, idempotencyKey string) (string, error) {
	f.testRuns++
	f.lastKey = idempotencyKey
	return "exec-dry", f.testRunErr
}

func (f *fakeRunner) Run(ctx context.Context, subjectKind, subjectID, playbookID, idempotencyKey string) (string, error) {
	f.runs++
	f.lastKey = idempotencyKey
	return "exec-run", f.runErr
}

type fakeAudits struct {
	rows []*RunAudit
}

func (f *fakeAudits) Insert(ctx context.Context, a *RunAudit) error {
	f.rows = append(f.rows, a)
	return nil
}

func coordAlert() *alertstore.Alert {
	return &alertstore.Alert{ID: "alert-1", RuleID: "rule-1", EntityID: "ent-1", Severity: "high", Message: "disk full"}
}

func coordBinding(mode string) *Binding {
	return &Binding{ID: "b1", PlaybookID: "pb1", Mode: mode, Enabled: true}
}

func newTestCoordinator(bindings []*Binding, gate *fakeGate, runner *fakeRunner) (*Coordinator, *fakeAudits) {
	audits := &fakeAudits{}
	c := NewCoordinator(&fakeBindings{bindings: bindings}, gate, runner, audits,
		metrics.NewWith(prometheus.NewRegistry()))
	c.nowFn = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return c, audits
}

func TestBindingMatches(t *testing.T) {
	ruleA := "rule-a"
	actx := AlertContext{EntityType: "service", Severity: "high", Tags: []string{"prod", "payments"}}

	tests := []struct {
		name    string
		binding *Binding
		ruleID  string
		want    bool
	}{
		{"wildcard binding", &Binding{}, "rule-a", true},
		{"rule scope hit", &Binding{RuleID: &ruleA}, "rule-a", true},
		{"rule scope miss", &Binding{RuleID: &ruleA}, "rule-b", false},
		{"type filter hit", &Binding{MatchTypes: []string{"service", "host"}}, "rule-a", true},
		{"type filter miss", &Binding{MatchTypes: []string{"host"}}, "rule-a", false},
		{"severity filter hit", &Binding{MatchSeverities: []string{"high", "critical"}}, "rule-a", true},
		{"severity filter miss", &Binding{MatchSeverities: []string{"low"}}, "rule-a", false},
		{"tag intersection", &Binding{MatchTags: []string{"payments"}}, "rule-a", true},
		{"tag disjoint", &Binding{MatchTags: []string{"search"}}, "rule-a", false},
		{"all filters hold", &Binding{RuleID: &ruleA, MatchTypes: []string{"service"}, MatchSeverities: []string{"high"}, MatchTags: []string{"prod"}}, "rule-a", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BindingMatches(tt.binding, tt.ruleID, actx); got != tt.want {
				t.Errorf("BindingMatches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateSuggest(t *testing.T) {
	gate := &fakeGate{allowed: true}
	runner := &fakeRunner{}
	c, audits := newTestCoordinator([]*Binding{coordBinding(ModeSuggest)}, gate, runner)

	c.Evaluate(context.Background(), coordAlert(), AlertContext{Severity: "high"}, false, "system")

	if len(audits.rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(audits.rows))
	}
	row := audits.rows[0]
	if row.Decision != DecisionSuggested {
		t.Errorf("decision = %q, want %q", row.Decision, DecisionSuggested)
	}
	if runner.testRuns+runner.runs != 0 {
		t.Error("suggest mode invoked the runner")
	}
	if gate.releases != 0 {
		t.Error("suggest mode released a concurrency slot it never held")
	}
}

func TestEvaluateDryRun(t *testing.T) {
	gate := &fakeGate{allowed: true}
	runner := &fakeRunner{}
	c, audits := newTestCoordinator([]*Binding{coordBinding(ModeDryRun)}, gate, runner)

	c.Evaluate(context.Background(), coordAlert(), AlertContext{Severity: "high"}, false, "system")

	row := audits.rows[0]
	if row.Decision != DecisionDryRan {
		t.Errorf("decision = %q, want %q", row.Decision, DecisionDryRan)
	}
	if row.Success == nil || !*row.Success {
		t.Error("success flag not set for completed dry run")
	}
	if row.OutputRef != "exec-dry" {
		t.Errorf("outputRef = %q, want exec-dry", row.OutputRef)
	}
	if runner.lastKey != "alert:alert-1:binding:b1:dry" {
		t.Errorf("idempotency key = %q", runner.lastKey)
	}
	if gate.releases != 1 {
		t.Errorf("releases = %d, want 1", gate.releases)
	}
}

func TestEvaluateAutoRunStatusFailure(t *testing.T) {
	gate := &fakeGate{allowed: true}
	runner := &fakeRunner{runErr: &StatusError{Status: "failed", Code: 200}}
	c, audits := newTestCoordinator([]*Binding{coordBinding(ModeAutoRun)}, gate, runner)

	c.Evaluate(context.Background(), coordAlert(), AlertContext{Severity: "high"}, false, "system")

	row := audits.rows[0]
	if row.Decision != DecisionRunFailed {
		t.Errorf("decision = %q, want %q", row.Decision, DecisionRunFailed)
	}
	if row.Success == nil || *row.Success {
		t.Error("success flag not false for failed run")
	}
	if gate.releases != 1 {
		t.Errorf("releases = %d, want 1 even on failure", gate.releases)
	}
}

func TestEvaluateAutoRunTransportFailure(t *testing.T) {
	gate := &fakeGate{allowed: true}
	runner := &fakeRunner{runErr: errors.New("connection refused")}
	c, audits := newTestCoordinator([]*Binding{coordBinding(ModeAutoRun)}, gate, runner)

	c.Evaluate(context.Background(), coordAlert(), AlertContext{Severity: "high"}, false, "system")

	row := audits.rows[0]
	if row.Decision != DecisionFailedDependency {
		t.Errorf("decision = %q, want %q", row.Decision, DecisionFailedDependency)
	}
	if row.Success != nil {
		t.Errorf("success = %v, want nil when the runner never answered", *row.Success)
	}
}

func TestEvaluateBlocked(t *testing.T) {
	gate := &fakeGate{allowed: false, reason: DecisionRateLimited}
	runner := &fakeRunner{}
	c, audits := newTestCoordinator([]*Binding{coordBinding(ModeAutoRun)}, gate, runner)

	c.Evaluate(context.Background(), coordAlert(), AlertContext{Severity: "high"}, false, "system")

	row := audits.rows[0]
	if row.Decision != DecisionRateLimited {
		t.Errorf("decision = %q, want %q", row.Decision, DecisionRateLimited)
	}
	if runner.runs != 0 {
		t.Error("blocked binding still invoked the runner")
	}
	if gate.releases != 0 {
		t.Error("blocked binding released a slot it never held")
	}
}

func TestEvaluateBypass(t *testing.T) {
	gate := &fakeGate{allowed: false, reason: DecisionQuotaExhausted}
	runner := &fakeRunner{}
	c, audits := newTestCoordinator([]*Binding{coordBinding(ModeAutoRun)}, gate, runner)

	c.Evaluate(context.Background(), coordAlert(), AlertContext{Severity: "high"}, true, "oncall")

	row := audits.rows[0]
	if row.Decision != DecisionRan {
		t.Errorf("decision = %q, want %q despite exhausted quota", row.Decision, DecisionRan)
	}
	if !strings.Contains(row.Reason, "override:"+DecisionQuotaExhausted) {
		t.Errorf("reason = %q, want override marker", row.Reason)
	}
	if gate.acquires != 0 {
		t.Errorf("bypass consumed guardrail state: acquires = %d", gate.acquires)
	}
	if gate.dryRuns != 1 {
		t.Errorf("bypass did not probe guardrail: dryRuns = %d", gate.dryRuns)
	}
	if runner.runs != 1 {
		t.Errorf("runs = %d, want 1", runner.runs)
	}
}

func TestEvaluateGateError(t *testing.T) {
	gate := &fakeGate{err: errors.New("tx aborted")}
	runner := &fakeRunner{}
	c, audits := newTestCoordinator([]*Binding{coordBinding(ModeAutoRun)}, gate, runner)

	c.Evaluate(context.Background(), coordAlert(), AlertContext{Severity: "high"}, false, "system")

	row := audits.rows[0]
	if row.Decision != DecisionFailedDependency {
		t.Errorf("decision = %q, want %q on guardrail error", row.Decision, DecisionFailedDependency)
	}
	if runner.runs != 0 {
		t.Error("guardrail error still invoked the runner")
	}
}

func TestEvaluateSkipsNonMatching(t *testing.T) {
	b := coordBinding(ModeAutoRun)
	b.MatchSeverities = []string{"low"}
	gate := &fakeGate{allowed: true}
	c, audits := newTestCoordinator([]*Binding{b}, gate, &fakeRunner{})

	c.Evaluate(context.Background(), coordAlert(), AlertContext{Severity: "high"}, false, "system")

	if len(audits.rows) != 0 {
		t.Errorf("audit rows = %d, want 0 for non-matching binding", len(audits.rows))
	}
}

func TestIdempotencyKey(t *testing.T) {
	if got := IdempotencyKey("a", "b", "run"); got != "alert:a:binding:b:run" {
		t.Errorf("IdempotencyKey() = %q", got)
	}
}
