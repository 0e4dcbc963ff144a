package ruleengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vigilops/vigil/internal/alerting/metrics"
	"github.com/vigilops/vigil/internal/alerting/model"
	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
	"github.com/vigilops/vigil/internal/alerting/service/automation"
	"github.com/vigilops/vigil/internal/alerting/service/dispatch"
	"github.com/vigilops/vigil/internal/alerting/service/suppression"
)

type fakeRuleDAO struct {
	rules []*Rule
}

func (f *fakeRuleDAO) ListEnabled(ctx context.Context) ([]*Rule, error) { return f.rules, nil }
func (f *fakeRuleDAO) Get(ctx context.Context, id string) (*Rule, error) {
	return nil, ErrRuleNotFound
}
func (f *fakeRuleDAO) Upsert(ctx context.Context, r *Rule) error   { return nil }
func (f *fakeRuleDAO) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeRuleDAO) List(ctx context.Context) ([]*Rule, error)   { return f.rules, nil }

type fakeUpserter struct {
	mu       sync.Mutex
	params   []alertstore.UpsertParams
	existing map[string]bool // fingerprints already open
}

func (f *fakeUpserter) UpsertAlert(ctx context.Context, p alertstore.UpsertParams) (*alertstore.Alert, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	created := !f.existing[p.Fingerprint]
	f.existing[p.Fingerprint] = true
	return &alertstore.Alert{
		ID:               "alert-" + p.Fingerprint,
		RuleID:           p.RuleID,
		EntityID:         p.EntityID,
		Severity:         p.Severity,
		Message:          p.Message,
		Fingerprint:      p.Fingerprint,
		Status:           alertstore.StatusOpen,
		SuppressedByKind: p.SuppressedByKind,
		SuppressedByID:   p.SuppressedByID,
	}, created, nil
}

type fakeSuppression struct {
	decision suppression.Decision
}

func (f *fakeSuppression) IsSuppressed(ctx context.Context, e model.Entity, now time.Time) suppression.Decision {
	return f.decision
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (f *fakeDispatcher) DispatchOnCreate(ctx context.Context, alert *alertstore.Alert, route dispatch.RouteConfig) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.done <- struct{}{}
}

type fakeAutomation struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (f *fakeAutomation) Evaluate(ctx context.Context, alert *alertstore.Alert, actx automation.AlertContext, bypassGuardrails bool, requestedBy string) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.done <- struct{}{}
}

func newTestEngine(rules []*Rule, sup suppression.Decision) (*Engine, *fakeUpserter, *fakeDispatcher, *fakeAutomation) {
	m := metrics.NewWith(prometheus.NewRegistry())
	store := &fakeUpserter{existing: map[string]bool{}}
	disp := &fakeDispatcher{done: make(chan struct{}, 16)}
	auto := &fakeAutomation{done: make(chan struct{}, 16)}
	e := NewEngine(&fakeRuleDAO{rules: rules}, NewWindowTracker(m), &fakeSuppression{decision: sup},
		store, disp, auto, m, nil)
	return e, store, disp, auto
}

func downEntity() model.Entity {
	return model.Entity{
		ID:   "svc-1",
		Type: "service",
		Attrs: map[string]any{
			"status": "down",
			"tags":   []any{"prod"},
		},
	}
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestIngestCreatesAndFansOut(t *testing.T) {
	rule := &Rule{
		ID:       "r1",
		Enabled:  true,
		Match:    map[string]any{"attrs.status": "down"},
		Message:  "${id} is down",
		Severity: "high",
	}
	e, store, disp, auto := newTestEngine([]*Rule{rule}, suppression.Decision{})

	res, err := e.IngestEntities(context.Background(), []model.Entity{downEntity()}, "")
	if err != nil {
		t.Fatalf("IngestEntities() error = %v", err)
	}
	if res.Created != 1 || res.Merged != 0 {
		t.Errorf("result = %+v, want 1 created", res)
	}
	if len(store.params) != 1 {
		t.Fatalf("upserts = %d, want 1", len(store.params))
	}
	if store.params[0].Message != "svc-1 is down" {
		t.Errorf("message = %q, want rendered template", store.params[0].Message)
	}

	waitSignal(t, disp.done, "dispatch fan-out")
	waitSignal(t, auto.done, "automation fan-out")
}

func TestIngestDedupsSecondEvent(t *testing.T) {
	rule := &Rule{
		ID:          "r1",
		Enabled:     true,
		Match:       map[string]any{"attrs.status": "down"},
		MuteSeconds: 600,
		Severity:    "high",
	}
	e, _, disp, auto := newTestEngine([]*Rule{rule}, suppression.Decision{})

	ents := []model.Entity{downEntity()}
	if _, err := e.IngestEntities(context.Background(), ents, ""); err != nil {
		t.Fatal(err)
	}
	waitSignal(t, disp.done, "first dispatch")
	waitSignal(t, auto.done, "first automation")

	res, err := e.IngestEntities(context.Background(), ents, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || res.Merged != 1 {
		t.Errorf("second ingest = %+v, want merged", res)
	}

	// Merged alerts never re-notify.
	select {
	case <-disp.done:
		t.Error("merged event triggered dispatch")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIngestSuppressedSkipsFanOut(t *testing.T) {
	rule := &Rule{ID: "r1", Enabled: true, Match: map[string]any{"attrs.status": "down"}, Severity: "high"}
	dec := suppression.Decision{Kind: suppression.KindSilence, ID: "s1", Name: "freeze"}
	e, store, disp, _ := newTestEngine([]*Rule{rule}, dec)

	res, err := e.IngestEntities(context.Background(), []model.Entity{downEntity()}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 {
		t.Errorf("result = %+v, want suppressed alert still created", res)
	}
	if store.params[0].SuppressedByKind != suppression.KindSilence {
		t.Errorf("suppressed_by_kind = %q, want silence", store.params[0].SuppressedByKind)
	}

	select {
	case <-disp.done:
		t.Error("suppressed alert triggered dispatch")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIngestNoMatch(t *testing.T) {
	rule := &Rule{ID: "r1", Enabled: true, Match: map[string]any{"attrs.status": "up"}}
	e, store, _, _ := newTestEngine([]*Rule{rule}, suppression.Decision{})

	res, err := e.IngestEntities(context.Background(), []model.Entity{downEntity()}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || len(store.params) != 0 {
		t.Errorf("non-matching entity produced alerts: %+v", res)
	}
}

func TestIngestBelowThreshold(t *testing.T) {
	rule := &Rule{
		ID:         "r1",
		Enabled:    true,
		Match:      map[string]any{"attrs.status": "down"},
		WindowSpec: "60",
		Threshold:  3,
	}
	e, store, _, _ := newTestEngine([]*Rule{rule}, suppression.Decision{})

	res, err := e.IngestEntities(context.Background(), []model.Entity{downEntity()}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || len(store.params) != 0 {
		t.Errorf("single match below threshold produced alerts: %+v", res)
	}
}
