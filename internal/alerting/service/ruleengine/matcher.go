package ruleengine

import (
	"github.com/vigilops/vigil/internal/alerting/model"
)

// Matches evaluates a rule's match predicate against an entity. An empty
// predicate matches everything; a missing path never matches.
func Matches(rule *Rule, e model.Entity) bool {
	for key, want := range rule.Match {
		got, present := model.ResolvePath(e, key)
		if !present {
			return false
		}
		if in, ok := inList(want); ok {
			found := false
			for _, candidate := range in {
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

// inList unwraps a {"$in": [...]} predicate value.
func inList(want any) ([]any, bool) {
	m, ok := want.(map[string]any)
	if !ok {
		return nil, false
	}
	raw, ok := m["$in"]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]any)
	return list, ok
}
