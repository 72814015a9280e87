package fraud

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() ([]Rule, error) {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		return nil, fmt.Errorf("default rules: %w", err)
	}
	return rules, nil
}

// ParseRules decodes a YAML rule file and validates every rule.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		if err := ValidateRule(r); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.ID, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		seen[r.ID] = true
	}
	return f.Rules, nil
}
