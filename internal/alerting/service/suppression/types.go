package suppression

import (
	"context"
	"time"
)

// Window is one time-bounded match filter: either a silence or a maintenance
// window, depending on which table it was loaded from.
type Window struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Match     map[string]any `json:"match"`
	StartsAt  time.Time      `json:"startsAt"`
	EndsAt    time.Time      `json:"endsAt"`
	Reason    string         `json:"reason"`
	CreatedBy string         `json:"createdBy"`
}

// Active reports whether the window covers the given instant.
func (w *Window) Active(now time.Time) bool {
	return !now.Before(w.StartsAt) && !now.After(w.EndsAt)
}

// Decision is the outcome of a suppression check. Kind is empty when the
// entity is not suppressed.
type Decision struct {
	Kind string // "silence" | "maintenance" | ""
	ID   string
	Name string
}

// WindowDAO loads active silences and maintenance windows.
type WindowDAO interface {
	ActiveSilences(ctx context.Context, now time.Time) ([]*Window, error)
	ActiveMaintenanceWindows(ctx context.Context, now time.Time) ([]*Window, error)
}
