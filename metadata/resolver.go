// Package metadata implements the Metadata Resolver (§4.6): credential
// alias resolution and the outbound sanitize() pass every event payload
// goes through before persistence or publish.
package metadata

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/storage"
)

// Resolver resolves `credential_source` references against a
// CredentialStore and merges the resolved material into step metadata.
type Resolver struct {
	credentials storage.CredentialStore
}

// New constructs a Resolver backed by the given credential lookup.
func New(credentials storage.CredentialStore) *Resolver {
	return &Resolver{credentials: credentials}
}

// aliasRef is a parsed `alias:NAME[@ENV]` / `ENV/NAME` / `ENV:NAME`
// credential_source reference.
type aliasRef struct {
	alias       string
	environment string
}

// parseCredentialSource recognizes the four forms named in §4.6:
// "alias:NAME", "alias:NAME@ENV", "ENV/NAME", and "ENV:NAME". It
// returns ok=false for anything else (the caller treats credentials as
// already inline in that case).
func parseCredentialSource(src string) (ref aliasRef, ok bool) {
	if strings.HasPrefix(src, "alias:") {
		rest := strings.TrimPrefix(src, "alias:")
		if at := strings.Index(rest, "@"); at >= 0 {
			return aliasRef{alias: rest[:at], environment: rest[at+1:]}, true
		}
		return aliasRef{alias: rest}, true
	}
	if slash := strings.Index(src, "/"); slash >= 0 {
		return aliasRef{environment: src[:slash], alias: src[slash+1:]}, true
	}
	if colon := strings.Index(src, ":"); colon >= 0 {
		return aliasRef{environment: src[:colon], alias: src[colon+1:]}, true
	}
	return aliasRef{}, false
}

// Resolve mutates a copy of metadata per §4.6 steps 1-4 and returns it:
// alias lookup, non-overwriting merge into `credentials`, host/port/
// environment propagation into `connection`/`target`, and recording of
// `credential_resolved` for audit. tenant scopes the credential lookup.
func (r *Resolver) Resolve(ctx context.Context, tenant string, stepMetadata map[string]interface{}) (map[string]interface{}, error) {
	out := cloneShallow(stepMetadata)

	if src, _ := out["credential_source"].(string); src != "" {
		ref, ok := parseCredentialSource(src)
		if ok {
			cred, err := r.lookup(ctx, tenant, ref)
			if err != nil {
				return nil, err
			}
			mergeCredentials(out, cred)
			out["credential_resolved"] = resolvedMeta(src, cred)
		}
	}

	propagateConnectionFields(out)
	return out, nil
}

func (r *Resolver) lookup(ctx context.Context, tenant string, ref aliasRef) (*domain.Credential, error) {
	cred, err := r.credentials.GetCredentialByAlias(ctx, tenant, ref.alias, ref.environment)
	if err != nil {
		return nil, fmt.Errorf("resolving credential alias %q: %w", ref.alias, err)
	}
	return cred, nil
}

// mergeCredentials merges resolved secret material into
// metadata["credentials"] without overwriting fields already present
// there (§4.6 step 2: "inline wins").
func mergeCredentials(metadata map[string]interface{}, cred *domain.Credential) {
	existing, _ := metadata["credentials"].(map[string]interface{})
	merged := cloneShallow(existing)
	for k, v := range cred.Secret {
		if _, present := merged[k]; !present {
			merged[k] = v
		}
	}
	metadata["credentials"] = merged
}

// resolvedMeta builds the credential_resolved audit record (§4.6 step
// 4). rotated_at is omitted: Credential does not currently track a
// rotation timestamp distinct from UpdatedAt, and the field is
// advisory/optional anyway.
func resolvedMeta(source string, cred *domain.Credential) map[string]interface{} {
	return map[string]interface{}{
		"alias":         cred.Alias,
		"type":          string(cred.Kind),
		"environment":   cred.Environment,
		"source":        source,
		"credential_id": cred.ID,
	}
}

// propagateConnectionFields copies host/port/environment from the
// top-level metadata into connection/target blocks when those blocks
// exist but lack the field (§4.6 step 3).
func propagateConnectionFields(metadata map[string]interface{}) {
	for _, key := range []string{"connection", "target"} {
		block, ok := metadata[key].(map[string]interface{})
		if !ok {
			continue
		}
		for _, field := range []string{"host", "port", "environment"} {
			if _, present := block[field]; present {
				continue
			}
			if v, ok := metadata[field]; ok {
				block[field] = v
			}
		}
	}
}

func cloneShallow(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Sanitize produces a redacted deep-copy of metadata, applied to every
// outbound event payload (§4.6). It delegates to domain.Sanitize, the
// single source of truth for the sensitive-key rules.
func Sanitize(metadata map[string]interface{}) map[string]interface{} {
	sanitized := domain.Sanitize(map[string]interface{}(metadata))
	out, _ := sanitized.(map[string]interface{})
	return out
}
