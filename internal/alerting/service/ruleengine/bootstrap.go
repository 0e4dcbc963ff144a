package ruleengine

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/vigilops/vigil/internal/alerting/service/dispatch"
)

type bootstrapFile struct {
	Rules []bootstrapRule `yaml:"rules"`
}

type bootstrapRule struct {
	ID                  string         `yaml:"id"`
	Enabled             *bool          `yaml:"enabled"`
	Match               map[string]any `yaml:"match"`
	Window              string         `yaml:"window"`
	GroupBy             string         `yaml:"groupBy"`
	Threshold           int            `yaml:"threshold"`
	Message             string         `yaml:"message"`
	FingerprintTemplate string         `yaml:"fingerprintTemplate"`
	CorrelationKeys     []string       `yaml:"correlationKeys"`
	MuteSeconds         int            `yaml:"muteSeconds"`
	Severity            string         `yaml:"severity"`
	Route               struct {
		Destinations []struct {
			Type    string            `yaml:"type"`
			URL     string            `yaml:"url"`
			Headers map[string]string `yaml:"headers"`
		} `yaml:"destinations"`
	} `yaml:"route"`
}

// BootstrapRules loads rule definitions from a YAML file and upserts them.
// Missing path is not an error so deployments without a seed file start clean.
func BootstrapRules(ctx context.Context, dao RuleDAO, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Debug().Str("path", path).Msg("no rule bootstrap file")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read rule bootstrap file: %w", err)
	}

	var file bootstrapFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse rule bootstrap file: %w", err)
	}

	for _, br := range file.Rules {
		if br.ID == "" {
			return fmt.Errorf("bootstrap rule without id")
		}
		r := &Rule{
			ID:                  br.ID,
			Enabled:             br.Enabled == nil || *br.Enabled,
			Match:               br.Match,
			WindowSpec:          br.Window,
			GroupBy:             br.GroupBy,
			Threshold:           br.Threshold,
			Message:             br.Message,
			FingerprintTemplate: br.FingerprintTemplate,
			CorrelationKeys:     br.CorrelationKeys,
			MuteSeconds:         br.MuteSeconds,
			Severity:            br.Severity,
		}
		if r.Severity == "" {
			r.Severity = "medium"
		}
		for _, d := range br.Route.Destinations {
			r.Route.Destinations = append(r.Route.Destinations, dispatch.Destination{
				Type:    d.Type,
				URL:     d.URL,
				Headers: d.Headers,
			})
		}
		if err := dao.Upsert(ctx, r); err != nil {
			return fmt.Errorf("bootstrap rule %s: %w", r.ID, err)
		}
		log.Info().Str("rule_id", r.ID).Msg("rule bootstrapped")
	}
	return nil
}
