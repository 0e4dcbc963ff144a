package ruleengine

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/vigilops/vigil/internal/alerting/model"
)

var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// RenderTemplate substitutes ${path} placeholders with values resolved from
// the entity. Unresolvable placeholders render empty.
func RenderTemplate(tmpl string, e model.Entity) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(ph string) string {
		path := ph[2 : len(ph)-1]
		v, ok := model.ResolvePath(e, path)
		if !ok {
			return ""
		}
		return model.Stringify(v)
	})
}

// Fingerprint derives the dedup identity for a (rule, entity) match. With a
// template configured the rendered string is the fingerprint; otherwise it is
// a digest over the entity type and the rule's match-key values, so entities
// that match for the same reason collapse together.
func Fingerprint(rule *Rule, e model.Entity) string {
	if rule.FingerprintTemplate != "" {
		return RenderTemplate(rule.FingerprintTemplate, e)
	}

	keys := make([]string, 0, len(rule.Match))
	for k := range rule.Match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(e.Type)
	sb.WriteByte('|')
	sb.WriteString(rule.ID)
	for _, k := range keys {
		v, _ := model.ResolvePath(e, k)
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(model.Stringify(v))
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return e.Type + "-" + hex.EncodeToString(sum[:8])
}

// ComputeGroupKey joins the correlation key values with ":". Nil means the
// rule has no correlation keys or one of them did not resolve, in which case
// the alert stays ungrouped.
func ComputeGroupKey(keys []string, e model.Entity) *string {
	if len(keys) == 0 {
		return nil
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := model.ResolvePath(e, k)
		if !ok {
			return nil
		}
		parts = append(parts, model.Stringify(v))
	}
	gk := strings.Join(parts, ":")
	return &gk
}
