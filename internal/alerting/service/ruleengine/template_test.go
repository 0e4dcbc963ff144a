package ruleengine

import (
	"strings"
	"testing"

	"github.com/vigilops/vigil/internal/alerting/model"
)

func templateEntity() model.Entity {
	return model.Entity{
		ID:   "db-3",
		Type: "database",
		Attrs: map[string]any{
			"cluster": "pg-main",
			"status":  "degraded",
			"shard":   float64(12),
		},
	}
}

func TestRenderTemplate(t *testing.T) {
	e := templateEntity()
	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"plain text", "no placeholders", "no placeholders"},
		{"single path", "${attrs.cluster} is ${attrs.status}", "pg-main is degraded"},
		{"top level", "entity ${id} of type ${type}", "entity db-3 of type database"},
		{"number", "shard ${attrs.shard}", "shard 12"},
		{"unresolvable renders empty", "x=${attrs.missing}!", "x=!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderTemplate(tt.tmpl, e); got != tt.want {
				t.Errorf("RenderTemplate(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestFingerprintTemplate(t *testing.T) {
	e := templateEntity()
	rule := &Rule{ID: "r1", FingerprintTemplate: "db-${attrs.cluster}-${attrs.status}"}
	if got := Fingerprint(rule, e); got != "db-pg-main-degraded" {
		t.Errorf("Fingerprint() = %q, want %q", got, "db-pg-main-degraded")
	}
}

func TestFingerprintFallback(t *testing.T) {
	e := templateEntity()
	rule := &Rule{ID: "r1", Match: map[string]any{"attrs.status": "degraded", "type": "database"}}

	first := Fingerprint(rule, e)
	second := Fingerprint(rule, e)
	if first != second {
		t.Fatalf("Fingerprint() unstable: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, e.Type+"-") {
		t.Errorf("Fingerprint() = %q, want %q prefix", first, e.Type+"-")
	}

	// A different matching value must yield a different identity.
	other := templateEntity()
	other.Attrs["status"] = "down"
	otherRule := &Rule{ID: "r1", Match: map[string]any{"attrs.status": "down", "type": "database"}}
	if got := Fingerprint(otherRule, other); got == first {
		t.Errorf("Fingerprint() collision across different match values: %q", got)
	}

	// Different rules over the same entity must not collide either.
	rule2 := &Rule{ID: "r2", Match: map[string]any{"attrs.status": "degraded", "type": "database"}}
	if got := Fingerprint(rule2, e); got == first {
		t.Errorf("Fingerprint() collision across rules: %q", got)
	}
}

func TestComputeGroupKey(t *testing.T) {
	e := templateEntity()
	tests := []struct {
		name    string
		keys    []string
		want    string
		wantNil bool
	}{
		{"no keys", nil, "", true},
		{"single key", []string{"attrs.cluster"}, "pg-main", false},
		{"joined", []string{"attrs.cluster", "attrs.status"}, "pg-main:degraded", false},
		{"unresolvable key", []string{"attrs.cluster", "attrs.missing"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeGroupKey(tt.keys, e)
			if tt.wantNil {
				if got != nil {
					t.Errorf("ComputeGroupKey(%v) = %q, want nil", tt.keys, *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ComputeGroupKey(%v) = nil, want %q", tt.keys, tt.want)
			}
			if *got != tt.want {
				t.Errorf("ComputeGroupKey(%v) = %q, want %q", tt.keys, *got, tt.want)
			}
		})
	}
}
