package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vigilops/vigil/internal/alerting/metrics"
	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
)

type fakeActionLog struct {
	inserted []*Attempt
	due      []*Attempt

	successIDs []string
	failedIDs  []string
	rearmed    map[string]time.Time
	failedDest []string
}

func newFakeActionLog() *fakeActionLog {
	return &fakeActionLog{rearmed: map[string]time.Time{}}
}

func (f *fakeActionLog) InsertAttempt(ctx context.Context, a *Attempt) error {
	f.inserted = append(f.inserted, a)
	return nil
}

func (f *fakeActionLog) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Attempt, error) {
	out := f.due
	f.due = nil
	return out, nil
}

func (f *fakeActionLog) MarkSuccess(ctx context.Context, id string, sentAt time.Time) error {
	f.successIDs = append(f.successIDs, id)
	return nil
}

func (f *fakeActionLog) MarkFailed(ctx context.Context, id string, attempt int, detail string) error {
	f.failedIDs = append(f.failedIDs, id)
	return nil
}

func (f *fakeActionLog) RearmRetry(ctx context.Context, id string, attempt int, detail string, scheduledAt time.Time) error {
	f.rearmed[id] = scheduledAt
	return nil
}

func (f *fakeActionLog) FailedDestinations(ctx context.Context, alertID string) ([]string, error) {
	return f.failedDest, nil
}

func (f *fakeActionLog) ListAttempts(ctx context.Context, alertID string) ([]*Attempt, error) {
	return f.inserted, nil
}

type fakeSender struct {
	errByDest map[string]error
	sent      []string
}

func (f *fakeSender) Send(ctx context.Context, dest Destination, alert *alertstore.Alert) error {
	f.sent = append(f.sent, dest.Type)
	return f.errByDest[dest.Type]
}

type fakeAlertLoader struct {
	alert *alertstore.Alert
	err   error
}

func (f *fakeAlertLoader) GetAlert(ctx context.Context, id string) (*alertstore.Alert, error) {
	return f.alert, f.err
}

type fakeRouteResolver struct {
	route RouteConfig
	err   error
}

func (f *fakeRouteResolver) RouteForRule(ctx context.Context, ruleID string) (RouteConfig, error) {
	return f.route, f.err
}

func testAlert() *alertstore.Alert {
	return &alertstore.Alert{ID: "alert-1", RuleID: "rule-1", Severity: "high", Message: "db down"}
}

func newTestWorker(dao ActionLogDAO, sender Sender, loader AlertLoader, routes RouteResolver) *Worker {
	b := NewBackoff([]int{1, 5, 15}, 0, 3)
	b.jitterFn = func() float64 { return 0.5 }
	w := NewWorker(dao, sender, b, loader, routes, metrics.NewWith(prometheus.NewRegistry()))
	w.nowFn = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return w
}

func TestDispatchOnCreate(t *testing.T) {
	route := RouteConfig{Destinations: []Destination{
		{Type: DestSlack, URL: "https://hooks/T1"},
		{Type: DestWebhook, URL: "https://wh"},
		{Type: DestWebhook}, // invalid, skipped
	}}

	dao := newFakeActionLog()
	sender := &fakeSender{errByDest: map[string]error{DestWebhook: errors.New("503")}}
	w := newTestWorker(dao, sender, &fakeAlertLoader{}, &fakeRouteResolver{})

	w.DispatchOnCreate(context.Background(), testAlert(), route)

	if len(dao.inserted) != 2 {
		t.Fatalf("inserted %d attempts, want 2", len(dao.inserted))
	}

	slack := dao.inserted[0]
	if slack.Status != AttemptSuccess || slack.SentAt == nil {
		t.Errorf("slack attempt = %+v, want success with sent_at", slack)
	}

	wh := dao.inserted[1]
	if wh.Status != AttemptRetry || wh.ScheduledAt == nil {
		t.Fatalf("webhook attempt = %+v, want retry with scheduled_at", wh)
	}
	wantAt := w.nowFn().Add(time.Minute)
	if !wh.ScheduledAt.Equal(wantAt) {
		t.Errorf("webhook scheduled_at = %v, want %v (first backoff tier)", wh.ScheduledAt, wantAt)
	}
	if wh.Attempt != 1 {
		t.Errorf("webhook attempt number = %d, want 1", wh.Attempt)
	}
}

func TestRetryDueRearms(t *testing.T) {
	dao := newFakeActionLog()
	dao.due = []*Attempt{{ID: "row-1", AlertID: "alert-1", Destination: DestSlack, Status: AttemptRetry, Attempt: 1}}
	sender := &fakeSender{errByDest: map[string]error{DestSlack: errors.New("still down")}}
	routes := &fakeRouteResolver{route: RouteConfig{Destinations: []Destination{{Type: DestSlack, URL: "https://hooks/T1"}}}}
	w := newTestWorker(dao, sender, &fakeAlertLoader{alert: testAlert()}, routes)

	if err := w.RetryDue(context.Background()); err != nil {
		t.Fatalf("RetryDue() error = %v", err)
	}

	at, ok := dao.rearmed["row-1"]
	if !ok {
		t.Fatal("row-1 not re-armed after second failure")
	}
	wantAt := w.nowFn().Add(5 * time.Minute) // second tier
	if !at.Equal(wantAt) {
		t.Errorf("re-armed scheduled_at = %v, want %v", at, wantAt)
	}
}

func TestRetryDueExhausts(t *testing.T) {
	dao := newFakeActionLog()
	dao.due = []*Attempt{{ID: "row-1", AlertID: "alert-1", Destination: DestSlack, Status: AttemptRetry, Attempt: 2}}
	sender := &fakeSender{errByDest: map[string]error{DestSlack: errors.New("still down")}}
	routes := &fakeRouteResolver{route: RouteConfig{Destinations: []Destination{{Type: DestSlack, URL: "https://hooks/T1"}}}}
	w := newTestWorker(dao, sender, &fakeAlertLoader{alert: testAlert()}, routes)

	if err := w.RetryDue(context.Background()); err != nil {
		t.Fatalf("RetryDue() error = %v", err)
	}

	// attempt 2 + this failure = 3 = MaxRetries: terminal.
	if len(dao.failedIDs) != 1 || dao.failedIDs[0] != "row-1" {
		t.Errorf("failedIDs = %v, want [row-1]", dao.failedIDs)
	}
	if len(dao.rearmed) != 0 {
		t.Errorf("rearmed = %v, want none after exhaustion", dao.rearmed)
	}
}

func TestRetryDueSucceeds(t *testing.T) {
	dao := newFakeActionLog()
	dao.due = []*Attempt{{ID: "row-1", AlertID: "alert-1", Destination: DestSlack, Status: AttemptRetry, Attempt: 1}}
	sender := &fakeSender{}
	routes := &fakeRouteResolver{route: RouteConfig{Destinations: []Destination{{Type: DestSlack, URL: "https://hooks/T1"}}}}
	w := newTestWorker(dao, sender, &fakeAlertLoader{alert: testAlert()}, routes)

	if err := w.RetryDue(context.Background()); err != nil {
		t.Fatalf("RetryDue() error = %v", err)
	}
	if len(dao.successIDs) != 1 || dao.successIDs[0] != "row-1" {
		t.Errorf("successIDs = %v, want [row-1]", dao.successIDs)
	}
}

func TestRetryDueUnresolvableTarget(t *testing.T) {
	dao := newFakeActionLog()
	dao.due = []*Attempt{{ID: "row-1", AlertID: "alert-1", Destination: DestSlack, Status: AttemptRetry, Attempt: 1}}
	w := newTestWorker(dao, &fakeSender{}, &fakeAlertLoader{err: alertstore.ErrNotFound}, &fakeRouteResolver{})

	if err := w.RetryDue(context.Background()); err != nil {
		t.Fatalf("RetryDue() error = %v", err)
	}
	if len(dao.failedIDs) != 1 {
		t.Errorf("failedIDs = %v, want terminal failure for orphaned row", dao.failedIDs)
	}
}

func TestManualRetry(t *testing.T) {
	t.Run("explicit destination", func(t *testing.T) {
		dao := newFakeActionLog()
		w := newTestWorker(dao, &fakeSender{}, &fakeAlertLoader{}, &fakeRouteResolver{})

		n, err := w.ManualRetry(context.Background(), "alert-1", DestSlack)
		if err != nil {
			t.Fatalf("ManualRetry() error = %v", err)
		}
		if n != 1 || len(dao.inserted) != 1 {
			t.Fatalf("enqueued = %d, inserted = %d, want 1 and 1", n, len(dao.inserted))
		}
		row := dao.inserted[0]
		if row.Status != AttemptRetry || row.Attempt != 0 || row.ScheduledAt == nil {
			t.Errorf("manual retry row = %+v, want fresh retry row due now", row)
		}
	})

	t.Run("all failed destinations", func(t *testing.T) {
		dao := newFakeActionLog()
		dao.failedDest = []string{DestSlack, DestWebhook}
		w := newTestWorker(dao, &fakeSender{}, &fakeAlertLoader{}, &fakeRouteResolver{})

		n, err := w.ManualRetry(context.Background(), "alert-1", "")
		if err != nil {
			t.Fatalf("ManualRetry() error = %v", err)
		}
		if n != 2 || len(dao.inserted) != 2 {
			t.Errorf("enqueued = %d, inserted = %d, want 2 and 2", n, len(dao.inserted))
		}
	})
}

func TestTruncateDetail(t *testing.T) {
	long := make([]byte, maxDetailBytes+100)
	for i := range long {
		long[i] = 'x'
	}
	if got := truncateDetail(string(long)); len(got) != maxDetailBytes {
		t.Errorf("len(truncateDetail(long)) = %d, want %d", len(got), maxDetailBytes)
	}
	if got := truncateDetail("short"); got != "short" {
		t.Errorf("truncateDetail(short) = %q", got)
	}
}
