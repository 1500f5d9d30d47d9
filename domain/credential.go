package domain

import (
	"strings"
	"time"
)

// CredentialKind distinguishes the shape of secret material a connector
// expects, used by the metadata resolver to pick a lookup strategy
// (§4.6).
type CredentialKind string

const (
	CredentialSSHKey       CredentialKind = "ssh_key"
	CredentialPassword     CredentialKind = "password"
	CredentialAPIToken     CredentialKind = "api_token"
	CredentialAWSRole      CredentialKind = "aws_role"
	CredentialAzureSP      CredentialKind = "azure_service_principal"
	CredentialGCPSA        CredentialKind = "gcp_service_account"
	CredentialDBConnString CredentialKind = "db_connection_string"
)

// Credential is a tenant- and environment-scoped secret reference. The
// orchestrator never stores raw secret material at rest beyond what the
// backing vault returns per lookup; Secret is populated only in memory
// after resolution and must never be persisted or logged.
type Credential struct {
	ID          string         `db:"id" json:"id"`
	Tenant      string         `db:"tenant_id" json:"tenant_id"`
	Alias       string         `db:"alias" json:"alias"`
	Environment string         `db:"environment" json:"environment,omitempty"`
	Kind        CredentialKind `db:"kind" json:"kind"`
	VaultPath   string         `db:"vault_path" json:"vault_path"`
	Secret      map[string]interface{} `db:"-" json:"-"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// sensitiveExact lists the field names sanitize() always redacts,
// regardless of depth (§4.6).
var sensitiveExact = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"access_key":    true,
	"secret_key":    true,
	"session_token": true,
	"private_key":   true,
	"client_secret": true,
	"ssh_key":       true,
	"key_material":  true,
	"tls_key":       true,
	"encryption_key": true,
	"key":           true,
	"passphrase":    true,
}

// sensitiveFragments catches field names that merely contain one of these
// substrings (e.g. "db_password", "oauth_token") even when not an exact
// match above.
var sensitiveFragments = []string{"password", "secret", "token", "passphrase"}

const redactedValue = "***"

func isSensitiveKey(k string) bool {
	lower := normalizeKey(k)
	if sensitiveExact[lower] {
		return true
	}
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Sanitize returns a deep copy of v with any map key matching the
// sensitive name rules replaced by the literal string "***". Applied to
// every outbound event payload before persistence or publish (§4.6).
func Sanitize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = Sanitize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Sanitize(val)
		}
		return out
	default:
		return v
	}
}

func normalizeKey(k string) string {
	return strings.ToLower(k)
}
