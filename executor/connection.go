package executor

import (
	"context"
	"errors"

	"github.com/opsloop/orchestrator-core/connectors"
	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/metadata"
)

// effectiveConnectionMetadata resolves the raw (pre-credential) connection
// metadata for a step under the §4.8 step 2 priority chain: ticket CI
// lookup/cloud discovery (folded into one InfrastructureConnectionStore
// lookup, see DESIGN.md) → ticket-embedded connection_config → runbook
// metadata connection_config → local default. Grounded on
// ConnectionService.get_connection_config.
func (e *Executor) effectiveConnectionMetadata(ctx context.Context, tenant string, session *domain.ExecutionSession, ticket *domain.Ticket, runbook *domain.Runbook) (map[string]interface{}, error) {
	if ticket != nil {
		if ci := metadata.ExtractCI(ticket); ci != "" {
			conn, err := e.infra.FindByCI(ctx, tenant, ci)
			switch {
			case err == nil:
				return connectionMetadataFromInfra(conn, ci), nil
			case !errors.Is(err, core.ErrNotFound):
				return nil, err
			}
		}
		if cfg, ok := embeddedConnectionConfig(ticket.Metadata); ok {
			return cfg, nil
		}
	}
	if runbook != nil {
		if cfg, ok := embeddedConnectionConfig(runbook.Metadata); ok {
			return cfg, nil
		}
	}
	return map[string]interface{}{"connector_type": string(connectors.KindLocal)}, nil
}

func connectionMetadataFromInfra(conn *domain.InfrastructureConnection, ci string) map[string]interface{} {
	cfg := cloneShallow(conn.Config)
	cfg["connector_type"] = conn.ConnectionType
	cfg["host"] = conn.TargetHost
	cfg["ci_name"] = ci
	cfg["connection_id"] = conn.ID
	return cfg
}

// embeddedConnectionConfig looks for a connection_config block nested in
// ticket or runbook metadata (§4.8 priority steps 3-4).
func embeddedConnectionConfig(md map[string]interface{}) (map[string]interface{}, bool) {
	if md == nil {
		return nil, false
	}
	cfg, ok := md["connection_config"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	return cloneShallow(cfg), true
}

func cloneShallow(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// configFromMetadata maps the resolved metadata bag (post credential-alias
// resolution) onto the typed connectors.Config every connector expects.
// New construction: the original system hands its connection dict
// straight to a duck-typed connector, which Go's typed Connector
// interface doesn't allow, so this is the adaptation point.
func configFromMetadata(m map[string]interface{}) connectors.Config {
	creds, _ := m["credentials"].(map[string]interface{})

	cfg := connectors.Config{
		ConnectorType: connectors.Kind(strVal(m, "connector_type", string(connectors.KindLocal))),
		Host:          firstNonEmpty(strVal(m, "host", ""), strVal(m, "target_host", "")),
		Port:          intVal(m, "port"),
		Shell:         strVal(m, "shell", ""),
		OSType:        strVal(m, "os_type", ""),
		Metadata:      m,

		User:       firstNonEmpty(strVal(m, "username", ""), strVal(m, "user", ""), strVal(creds, "username", ""), strVal(creds, "user", "")),
		Password:   firstNonEmpty(strVal(m, "password", ""), strVal(creds, "password", "")),
		PrivateKey: firstNonEmpty(strVal(m, "private_key", ""), strVal(creds, "private_key", ""), strVal(creds, "ssh_key", "")),
		Passphrase: firstNonEmpty(strVal(m, "passphrase", ""), strVal(creds, "passphrase", "")),

		AWSRegion:       strVal(m, "aws_region", ""),
		AWSAccessKey:    firstNonEmpty(strVal(m, "aws_access_key", ""), strVal(creds, "access_key", "")),
		AWSSecretKey:    firstNonEmpty(strVal(m, "aws_secret_key", ""), strVal(creds, "secret_key", "")),
		AWSSessionToken: firstNonEmpty(strVal(m, "aws_session_token", ""), strVal(creds, "session_token", "")),
		InstanceID:      strVal(m, "instance_id", ""),

		AzureResourceID:   firstNonEmpty(strVal(m, "resource_id", ""), strVal(m, "azure_resource_id", "")),
		AzureTenantID:     strVal(m, "azure_tenant_id", ""),
		AzureClientID:     firstNonEmpty(strVal(m, "client_id", ""), strVal(creds, "client_id", "")),
		AzureClientSecret: firstNonEmpty(strVal(m, "client_secret", ""), strVal(creds, "client_secret", "")),

		GCPProject:  strVal(m, "gcp_project", ""),
		GCPZone:     strVal(m, "gcp_zone", ""),
		GCPInstance: firstNonEmpty(strVal(m, "gcp_instance", ""), strVal(m, "ci_name", "")),

		DBDialect: strVal(m, "db_dialect", ""),
		DBDSN:     firstNonEmpty(strVal(m, "db_dsn", ""), strVal(creds, "db_connection_string", "")),

		APIBaseURL: strVal(m, "api_base_url", ""),
		APIMethod:  strVal(m, "api_method", ""),

		DeviceVendor: strVal(m, "device_vendor", ""),
	}
	if headers, ok := m["api_headers"].(map[string]interface{}); ok {
		h := make(map[string]string, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				h[k] = s
			}
		}
		cfg.APIHeaders = h
	}
	return cfg
}

// credentialsUsedFrom collects credential identifiers exercised while
// building a step's connection config, for ExecutionStep.CredentialsUsed.
func credentialsUsedFrom(m map[string]interface{}) []string {
	var out []string
	if id := strVal(m, "credential_id", ""); id != "" {
		out = append(out, id)
	}
	if resolved, ok := m["credential_resolved"].(map[string]interface{}); ok {
		if id := strVal(resolved, "credential_id", ""); id != "" && (len(out) == 0 || out[0] != id) {
			out = append(out, id)
		}
	}
	return out
}

func strVal(m map[string]interface{}, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func intVal(m map[string]interface{}, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
