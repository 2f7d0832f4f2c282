// Package ingest decides what happens to a report before it is stored:
// policy filtering, sampling, and rate limiting.
package ingest

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cspwatch/cspwatch/internal/cspreport"
)

// Drop reasons, recorded on the filtered-reports metric.
const (
	ReasonDirectiveIgnored  = "directive_ignored"
	ReasonDirectiveUnknown  = "directive_unknown"
	ReasonBlockedURIIgnored = "blocked_uri_ignored"
	ReasonOriginNotAllowed  = "origin_not_allowed"
	ReasonSampledOut        = "sampled_out"
)

// defaultIgnoreBlockedURI filters the noise every CSP deployment sees:
// violations triggered by the user's own browser extensions.
var defaultIgnoreBlockedURI = []string{
	"chrome-extension://*",
	"moz-extension://*",
	"safari-extension://*",
	"safari-web-extension://*",
	"ms-browser-extension://*",
}

// Rules filter one project's reports. Unset fields fall back to the
// policy defaults.
type Rules struct {
	IgnoreDirectives       []string `yaml:"ignore_directives"`
	DropUnknownDirectives  *bool    `yaml:"drop_unknown_directives"`
	IgnoreBlockedURI       []string `yaml:"ignore_blocked_uri"`
	AllowedDocumentOrigins []string `yaml:"allowed_document_origins"`
	SampleRate             *float64 `yaml:"sample_rate"`
}

type policyFile struct {
	Defaults Rules            `yaml:"defaults"`
	Projects map[string]Rules `yaml:"projects"`
}

// Decision is the outcome of policy evaluation for one report.
type Decision struct {
	Allow  bool
	Reason string
}

var accepted = Decision{Allow: true}

func dropped(reason string) Decision {
	return Decision{Reason: reason}
}

// Policy evaluates reports against per-project rules.
type Policy struct {
	defaults Rules
	projects map[string]Rules

	// sample is swappable so tests can pin the dice.
	sample func() float64
}

// DefaultPolicy accepts everything except browser-extension noise.
func DefaultPolicy() *Policy {
	return &Policy{
		defaults: Rules{IgnoreBlockedURI: defaultIgnoreBlockedURI},
		projects: map[string]Rules{},
		sample:   rand.Float64,
	}
}

// LoadPolicy reads rules from a YAML file. An empty path yields the
// default policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	if err := validateRules("defaults", file.Defaults); err != nil {
		return nil, err
	}
	for name, rules := range file.Projects {
		if err := validateRules(name, rules); err != nil {
			return nil, err
		}
	}

	defaults := file.Defaults
	if defaults.IgnoreBlockedURI == nil {
		defaults.IgnoreBlockedURI = defaultIgnoreBlockedURI
	}

	policy := &Policy{
		defaults: defaults,
		projects: file.Projects,
		sample:   rand.Float64,
	}
	if policy.projects == nil {
		policy.projects = map[string]Rules{}
	}
	return policy, nil
}

func validateRules(scope string, rules Rules) error {
	if rules.SampleRate != nil && (*rules.SampleRate < 0 || *rules.SampleRate > 1) {
		return fmt.Errorf("policy %s: sample_rate %v outside [0, 1]", scope, *rules.SampleRate)
	}
	return nil
}

// Decide evaluates one report. The report must already be validated.
func (p *Policy) Decide(projectID string, report *cspreport.Report) Decision {
	rules := p.effective(projectID)

	directive := report.Directive()
	for _, ignored := range rules.IgnoreDirectives {
		if ignored == directive {
			return dropped(ReasonDirectiveIgnored)
		}
	}

	if rules.DropUnknownDirectives != nil && *rules.DropUnknownDirectives &&
		!cspreport.IsKnownDirective(directive) {
		return dropped(ReasonDirectiveUnknown)
	}

	normalized := cspreport.NormalizeBlockedURI(report.BlockedURI, report.DocumentURI)
	for _, pattern := range rules.IgnoreBlockedURI {
		if globMatch(pattern, report.BlockedURI) || globMatch(pattern, normalized) {
			return dropped(ReasonBlockedURIIgnored)
		}
	}

	if len(rules.AllowedDocumentOrigins) > 0 {
		origin := cspreport.Origin(report.DocumentURI)
		allowed := false
		for _, candidate := range rules.AllowedDocumentOrigins {
			if candidate == origin {
				allowed = true
				break
			}
		}
		if !allowed {
			return dropped(ReasonOriginNotAllowed)
		}
	}

	if rules.SampleRate != nil && *rules.SampleRate < 1 {
		if p.sample() >= *rules.SampleRate {
			return dropped(ReasonSampledOut)
		}
	}

	return accepted
}

// effective overlays a project's rules on the defaults, field by field.
func (p *Policy) effective(projectID string) Rules {
	rules := p.defaults
	project, ok := p.projects[projectID]
	if !ok {
		return rules
	}

	if project.IgnoreDirectives != nil {
		rules.IgnoreDirectives = project.IgnoreDirectives
	}
	if project.DropUnknownDirectives != nil {
		rules.DropUnknownDirectives = project.DropUnknownDirectives
	}
	if project.IgnoreBlockedURI != nil {
		rules.IgnoreBlockedURI = project.IgnoreBlockedURI
	}
	if project.AllowedDocumentOrigins != nil {
		rules.AllowedDocumentOrigins = project.AllowedDocumentOrigins
	}
	if project.SampleRate != nil {
		rules.SampleRate = project.SampleRate
	}
	return rules
}

// globMatch matches with '*' wildcards that may cross path separators,
// which path.Match will not do for URI patterns.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}

	return strings.HasSuffix(s, parts[len(parts)-1])
}
