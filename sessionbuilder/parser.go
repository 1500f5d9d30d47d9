// Package sessionbuilder implements the Session Builder (§4.7): parsing
// a runbook body into ordered steps, deriving each step's sandbox
// profile and blast radius from its declared severity, and substituting
// ticket-specific placeholders before parsing. Grounded on the
// original implementation's RunbookParser/RunbookNormalizer
// (fenced-YAML-first, markdown-fallback, regex placeholder
// substitution), re-expressed with gopkg.in/yaml.v3 in place of
// PyYAML.
package sessionbuilder

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opsloop/orchestrator-core/domain"
)

// StepSpec is one parsed step before it is materialized into a
// domain.ExecutionStep (which additionally needs a session id and step
// number).
type StepSpec struct {
	Command          string
	RollbackCommand  string
	Description      string
	RequiresApproval bool
	Severity         string
}

// ParsedRunbook is the Session Builder's intermediate representation
// (§4.7: "{prechecks[], main_steps[], postchecks[], metadata}").
type ParsedRunbook struct {
	Prechecks  []StepSpec
	MainSteps  []StepSpec
	Postchecks []StepSpec
	Metadata   map[string]interface{}
}

var yamlFencePattern = regexp.MustCompile(`(?s)` + "```yaml\n(.*?)```")

type yamlStep struct {
	Command          string `yaml:"command"`
	RollbackCommand  string `yaml:"rollback_command"`
	Description      string `yaml:"description"`
	Name             string `yaml:"name"`
	Severity         string `yaml:"severity"`
	RequiresApproval bool   `yaml:"requires_approval"`
}

type yamlSpec struct {
	Title      string     `yaml:"title"`
	Service    string     `yaml:"service"`
	Env        string     `yaml:"env"`
	Risk       string     `yaml:"risk"`
	Version    string     `yaml:"version"`
	Prechecks  []yamlStep `yaml:"prechecks"`
	Steps      []yamlStep `yaml:"steps"`
	Postchecks []yamlStep `yaml:"postchecks"`
}

// Parse extracts the fenced ```yaml document from body and parses it.
// When no fence is found (or the fenced block fails to parse) it next
// tries the whole body as a YAML spec, kept only if that yields at least
// one main step, and otherwise falls back to scraping bash code blocks
// from raw markdown (§4.7: "fenced YAML document, else a markdown
// fallback").
func Parse(body string) (*ParsedRunbook, error) {
	if m := yamlFencePattern.FindStringSubmatch(body); m != nil {
		if parsed, err := parseYAMLSpec(strings.TrimSpace(m[1])); err == nil {
			return parsed, nil
		}
	}
	if parsed, err := parseYAMLSpec(strings.TrimSpace(body)); err == nil && len(parsed.MainSteps) > 0 {
		return parsed, nil
	}
	return parseMarkdownFallback(body), nil
}

func parseYAMLSpec(raw string) (*ParsedRunbook, error) {
	var spec yamlSpec
	if err := yaml.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("parsing runbook yaml: %w", err)
	}
	return &ParsedRunbook{
		Prechecks:  toStepSpecs(spec.Prechecks),
		MainSteps:  toStepSpecs(spec.Steps),
		Postchecks: toStepSpecs(spec.Postchecks),
		Metadata: map[string]interface{}{
			"title":   spec.Title,
			"service": spec.Service,
			"env":     spec.Env,
			"risk":    spec.Risk,
			"version": spec.Version,
		},
	}, nil
}

func toStepSpecs(steps []yamlStep) []StepSpec {
	out := make([]StepSpec, 0, len(steps))
	for _, s := range steps {
		severity := s.Severity
		if severity == "" {
			severity = "safe"
		}
		out = append(out, StepSpec{
			Command:          s.Command,
			RollbackCommand:  s.RollbackCommand,
			Description:      s.Description,
			RequiresApproval: s.RequiresApproval,
			Severity:         severity,
		})
	}
	return out
}

var bashFencePattern = regexp.MustCompile(`(?s)` + "```bash\n(.*?)```")

// parseMarkdownFallback extracts commands from ```bash fences into a
// flat main_steps list, matching the original parser's degraded-format
// handling: old runbooks authored as plain markdown rather than a YAML
// spec still yield something executable.
func parseMarkdownFallback(body string) *ParsedRunbook {
	var mains []StepSpec
	for _, m := range bashFencePattern.FindAllStringSubmatch(body, -1) {
		for _, line := range strings.Split(strings.TrimSpace(m[1]), "\n") {
			cmd := strings.TrimSpace(line)
			if cmd == "" {
				continue
			}
			mains = append(mains, StepSpec{
				Command:     cmd,
				Description: "Execute: " + cmd,
				Severity:    "moderate",
			})
		}
	}
	if len(mains) == 0 {
		mains = append(mains, StepSpec{
			Command:     "echo 'no commands found in runbook'",
			Description: "placeholder: unable to parse runbook structure",
			Severity:    "safe",
		})
	}
	return &ParsedRunbook{
		MainSteps: mains,
		Metadata: map[string]interface{}{
			"title":   "unknown",
			"service": "unknown",
		},
	}
}
