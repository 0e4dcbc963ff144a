package suppression

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilops/vigil/internal/alerting/model"
)

const (
	KindSilence     = "silence"
	KindMaintenance = "maintenance"
)

// Index evaluates entities against active silences and maintenance windows.
// Silences take precedence; within each list, first match wins.
type Index struct {
	dao WindowDAO
}

func NewIndex(dao WindowDAO) *Index { return &Index{dao: dao} }

// IsSuppressed re-evaluates suppression for every matched-rule event, since
// silences can start or end between occurrences of the same fingerprint.
// DAO failures degrade to "not suppressed" rather than blocking ingestion.
func (i *Index) IsSuppressed(ctx context.Context, e model.Entity, now time.Time) Decision {
	silences, err := i.dao.ActiveSilences(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("load active silences failed")
	}
	for _, w := range silences {
		if MatchesFilter(w.Match, e) {
			return Decision{Kind: KindSilence, ID: w.ID, Name: w.Name}
		}
	}

	windows, err := i.dao.ActiveMaintenanceWindows(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("load active maintenance windows failed")
	}
	for _, w := range windows {
		if MatchesFilter(w.Match, e) {
			return Decision{Kind: KindMaintenance, ID: w.ID, Name: w.Name}
		}
	}
	return Decision{}
}

// MatchesFilter tests one match filter against an entity. Every key must
// hold: an expected scalar means exact equality, an expected list means
// membership, and an explicit null means the field must be absent.
func MatchesFilter(filter map[string]any, e model.Entity) bool {
	for key, want := range filter {
		got, present := model.ResolvePath(e, key)
		if want == nil {
			if present {
				return false
			}
			continue
		}
		if !present {
			return false
		}
		if allowed, ok := want.([]any); ok {
			found := false
			for _, candidate := range allowed {
				if model.EqualValue(got, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !model.EqualValue(got, want) {
			return false
		}
	}
	return true
}
