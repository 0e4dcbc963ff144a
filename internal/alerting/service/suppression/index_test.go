package suppression

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vigilops/vigil/internal/alerting/model"
)

type fakeWindowDAO struct {
	silences    []*Window
	maintenance []*Window
	err         error
}

func (f *fakeWindowDAO) ActiveSilences(ctx context.Context, now time.Time) ([]*Window, error) {
	return f.silences, f.err
}

func (f *fakeWindowDAO) ActiveMaintenanceWindows(ctx context.Context, now time.Time) ([]*Window, error) {
	return f.maintenance, f.err
}

func suppressionEntity() model.Entity {
	return model.Entity{
		ID:   "api-1",
		Type: "service",
		Attrs: map[string]any{
			"env":    "prod",
			"region": "us-east-1",
		},
	}
}

func TestMatchesFilter(t *testing.T) {
	e := suppressionEntity()
	tests := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{"empty filter matches", map[string]any{}, true},
		{"scalar equality", map[string]any{"attrs.env": "prod"}, true},
		{"scalar mismatch", map[string]any{"attrs.env": "staging"}, false},
		{"list membership", map[string]any{"attrs.region": []any{"us-east-1", "us-west-2"}}, true},
		{"list miss", map[string]any{"attrs.region": []any{"eu-central-1"}}, false},
		{"null means absent, field present", map[string]any{"attrs.env": nil}, false},
		{"null means absent, field missing", map[string]any{"attrs.owner": nil}, true},
		{"missing field fails scalar", map[string]any{"attrs.owner": "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesFilter(tt.filter, e); got != tt.want {
				t.Errorf("MatchesFilter(%v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestWindowActive(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	w := &Window{StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour)}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"inside", now, true},
		{"at start", w.StartsAt, true},
		{"at end", w.EndsAt, true},
		{"before", w.StartsAt.Add(-time.Second), false},
		{"after", w.EndsAt.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Active(tt.at); got != tt.want {
				t.Errorf("Active(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestIsSuppressedPrecedence(t *testing.T) {
	e := suppressionEntity()
	now := time.Now().UTC()

	silence := &Window{ID: "s1", Name: "deploy freeze", Match: map[string]any{"attrs.env": "prod"}}
	maint := &Window{ID: "m1", Name: "patch night", Match: map[string]any{"attrs.env": "prod"}}

	idx := NewIndex(&fakeWindowDAO{silences: []*Window{silence}, maintenance: []*Window{maint}})
	d := idx.IsSuppressed(context.Background(), e, now)
	if d.Kind != KindSilence || d.ID != "s1" {
		t.Errorf("IsSuppressed() = %+v, want silence s1", d)
	}

	idx = NewIndex(&fakeWindowDAO{maintenance: []*Window{maint}})
	d = idx.IsSuppressed(context.Background(), e, now)
	if d.Kind != KindMaintenance || d.ID != "m1" {
		t.Errorf("IsSuppressed() = %+v, want maintenance m1", d)
	}

	idx = NewIndex(&fakeWindowDAO{silences: []*Window{{ID: "s2", Match: map[string]any{"attrs.env": "staging"}}}})
	d = idx.IsSuppressed(context.Background(), e, now)
	if d.Kind != "" {
		t.Errorf("IsSuppressed() = %+v, want no suppression", d)
	}
}

func TestIsSuppressedDegradesOnError(t *testing.T) {
	e := suppressionEntity()
	idx := NewIndex(&fakeWindowDAO{err: errors.New("db down")})
	if d := idx.IsSuppressed(context.Background(), e, time.Now().UTC()); d.Kind != "" {
		t.Errorf("IsSuppressed() with failing DAO = %+v, want no suppression", d)
	}
}
