package metadata

import (
	"regexp"
	"strings"

	"github.com/opsloop/orchestrator-core/domain"
)

// ciKeywords is the metadata key search order, checked after the
// explicit alias fields. Grounded on CIExtractionService.CI_KEYWORDS.
var ciKeywords = []string{
	"ci_name", "configuration_item", "server_name", "hostname",
	"host_name", "server", "instance", "node", "machine", "host",
}

// serverPatterns are applied in order against lowercased text; the
// first match that also passes looksLikeServerName wins. Grounded on
// CIExtractionService.SERVER_PATTERNS.
var serverPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([a-z0-9-]+\.(?:example\.com|local|internal|corp))\b`),
	regexp.MustCompile(`\b(server[_-]?[0-9]+)\b`),
	regexp.MustCompile(`\b(host[_-]?[0-9]+)\b`),
	regexp.MustCompile(`\b([a-z]+[0-9]+)\b`),
	regexp.MustCompile(`\b([a-z]+-[a-z]+-[0-9]+)\b`),
}

var excludedServerWords = map[string]bool{
	"server": true, "database": true, "service": true,
	"application": true, "system": true, "error": true, "failed": true,
}

var alphanumeric = regexp.MustCompile(`[a-z0-9]`)

// ExtractCI derives a CI/server name from a ticket for infrastructure
// connection matching, in the priority order CIExtractionService uses:
// an explicit ci_association/ci_id alias, a metadata keyword match, a
// pattern match against the description/title, then the service field.
func ExtractCI(t *domain.Ticket) string {
	if t == nil {
		return ""
	}
	if v, ok := t.Metadata["ci_association"]; ok {
		if s, ok := stringValue(v); ok {
			return s
		}
	}
	if v, ok := t.Metadata["ci_id"]; ok {
		if s, ok := stringValue(v); ok {
			return s
		}
	}
	for _, key := range ciKeywords {
		if v, ok := t.Metadata[key]; ok {
			if s, ok := stringValue(v); ok {
				return s
			}
		}
	}
	text := t.Description
	if text == "" {
		text = t.Title
	}
	if text != "" {
		if found := extractFromText(text); found != "" {
			return found
		}
	}
	if t.Service != "" && looksLikeServerName(t.Service) {
		return strings.TrimSpace(t.Service)
	}
	return ""
}

func stringValue(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func extractFromText(text string) string {
	lower := strings.ToLower(text)
	for _, pattern := range serverPatterns {
		for _, match := range pattern.FindAllString(lower, -1) {
			if looksLikeServerName(match) {
				return match
			}
		}
	}
	return ""
}

func looksLikeServerName(name string) bool {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < 3 {
		return false
	}
	if excludedServerWords[strings.ToLower(trimmed)] {
		return false
	}
	return alphanumeric.MatchString(strings.ToLower(trimmed))
}
