package dispatch

import (
	"fmt"

	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
)

// RoutePreviewEntry explains what would happen to one destination.
type RoutePreviewEntry struct {
	Destination string `json:"destination"`
	WouldSend   bool   `json:"wouldSend"`
	Reason      string `json:"reason"`
	Suppressed  bool   `json:"suppressed"`
}

// PreviewRoutes is the read-only projection of DispatchOnCreate's
// eligibility: wouldSend holds exactly when DispatchOnCreate would attempt
// delivery given the same alert, route, and suppression state. No side
// effects, no counters.
func PreviewRoutes(alert *alertstore.Alert, route RouteConfig) []RoutePreviewEntry {
	suppressed := alert.Suppressed()
	out := make([]RoutePreviewEntry, 0, len(route.Destinations))
	for _, dest := range route.Destinations {
		entry := RoutePreviewEntry{Destination: dest.Type, Suppressed: suppressed}
		switch {
		case !dest.Valid():
			entry.Reason = "destination config missing or invalid"
		case suppressed:
			entry.Reason = fmt.Sprintf("suppressed by %s %s", alert.SuppressedByKind, alert.SuppressedByID)
		default:
			entry.WouldSend = true
			entry.Reason = "would deliver"
		}
		out = append(out, entry)
	}
	return out
}
