package domain

import "time"

// InfrastructureConnection is a tenant-scoped, pre-registered target a
// step can execute against, matched by CI/server name extracted from a
// ticket (§4.8 step 2, "ticket CI lookup"/"cloud discovery"). It carries
// enough connector configuration to seed a connectors.Config without a
// further external lookup.
type InfrastructureConnection struct {
	ID             string                 `db:"id" json:"id"`
	Tenant         string                 `db:"tenant_id" json:"tenant_id"`
	Name           string                 `db:"name" json:"name"`
	TargetHost     string                 `db:"target_host" json:"target_host"`
	ConnectionType string                 `db:"connection_type" json:"connection_type"`
	Config         map[string]interface{} `db:"-" json:"config,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`
}
