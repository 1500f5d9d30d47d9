package sessionbuilder

import (
	"regexp"

	"github.com/opsloop/orchestrator-core/domain"
)

// genericServerPatterns are whole-word generic references replaced by
// the ticket's extracted server name, matching the original
// normalizer's "the server" / "target server" handling. Ordered
// longest-match-first so "target server" is consumed before the bare
// "server" pattern would otherwise leave a dangling "target".
var genericServerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\btarget server\b`),
	regexp.MustCompile(`(?i)\bthe server\b`),
	regexp.MustCompile(`(?i)\bhostname\b`),
}

// placeholderPatterns renders both the {{name}} and {name} spellings of
// a substitution key.
func placeholderPatterns(key string) []*regexp.Regexp {
	escaped := regexp.QuoteMeta(key)
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)\{\{\s*` + escaped + `\s*\}\}`),
		regexp.MustCompile(`(?i)\{\s*` + escaped + `\s*\}`),
	}
}

// ticketSubstitutions derives {{server_name}}, {{ci_name}}, {{service}},
// and {{environment}} values from a ticket, per §4.7. ci_name falls
// back to service when the ticket carries no distinct CI/server
// identifier; server_name mirrors ci_name for the generic-word pass.
func ticketSubstitutions(ticket *domain.Ticket) map[string]string {
	ciName := ""
	if v, ok := ticket.Metadata["server_name"].(string); ok && v != "" {
		ciName = v
	} else if v, ok := ticket.Metadata["ci_name"].(string); ok && v != "" {
		ciName = v
	} else if v, ok := ticket.Metadata["hostname"].(string); ok && v != "" {
		ciName = v
	}

	service := ticket.Service
	environment := ticket.Environment

	name := ciName
	if name == "" {
		name = service
	}

	out := map[string]string{}
	if name != "" {
		out["server_name"] = name
		out["ci_name"] = name
		out["hostname"] = name
	}
	if service != "" {
		out["service"] = service
	}
	if environment != "" {
		out["environment"] = environment
	}
	return out
}

// SubstitutePlaceholders normalizes a runbook body with ticket-specific
// details before parsing (§4.7): `{{placeholder}}` / `{placeholder}`
// substitution for server_name/ci_name/service/environment, plus
// whole-word replacement of generic references like "the server".
// Extraction and substitution are deterministic and side-effect-free;
// when the ticket yields no substitutable values the body is returned
// unchanged.
func SubstitutePlaceholders(body string, ticket *domain.Ticket) string {
	if ticket == nil {
		return body
	}
	subs := ticketSubstitutions(ticket)
	if len(subs) == 0 {
		return body
	}

	out := body
	for _, key := range []string{"server_name", "ci_name", "service", "environment", "hostname"} {
		val, ok := subs[key]
		if !ok {
			continue
		}
		for _, pattern := range placeholderPatterns(key) {
			out = pattern.ReplaceAllString(out, val)
		}
	}

	if serverName, ok := subs["server_name"]; ok && serverName != "" {
		for _, pattern := range genericServerPatterns {
			out = pattern.ReplaceAllStringFunc(out, func(string) string { return serverName })
		}
	}

	return out
}
