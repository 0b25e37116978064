package boundary

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/osmboundaries-go/internal/multipolygon"
)

// Rules holds optional tag rules applied after the built-in checks,
// separately for way and relation areas
type Rules struct {
	// Ways applies to areas built from a single closed way
	Ways *TagRules `yaml:"ways,omitempty"`
	// Relations applies to areas built from relations
	Relations *TagRules `yaml:"relations,omitempty"`
}

// TagRules selects areas by their tags
type TagRules struct {
	// Include lists tag keys with accepted values. An empty value list
	// accepts any value; "*" matches anything. If set, one entry must match.
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude rejects areas carrying one of these tags. Applied after Include.
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny lists keys of which at least one must be present
	RequireAny []string `yaml:"require_any,omitempty"`
}

// LoadRules reads a rules file
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return &r, nil
}

// For returns the rules for an area origin, nil if none apply
func (r *Rules) For(origin multipolygon.Origin) *TagRules {
	if r == nil {
		return nil
	}
	if origin == multipolygon.FromRelation {
		return r.Relations
	}
	return r.Ways
}

// Match reports whether tags pass the rules. Nil rules match everything.
func (r *TagRules) Match(tags map[string]string) bool {
	if r == nil {
		return true
	}

	if len(r.RequireAny) > 0 {
		found := false
		for _, key := range r.RequireAny {
			if _, ok := tags[key]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(r.Include) > 0 {
		matched := false
		for key, values := range r.Include {
			if v, ok := tags[key]; ok && matchValue(values, v) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for key, values := range r.Exclude {
		if v, ok := tags[key]; ok && matchValue(values, v) {
			return false
		}
	}

	return true
}

// matchValue treats an empty list as "any value"
func matchValue(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, want := range values {
		if want == v || want == "*" {
			return true
		}
	}
	return false
}
