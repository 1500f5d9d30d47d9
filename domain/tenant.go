package domain

// Tenant scopes every other entity in this module. Cross-tenant reads are
// forbidden: every repository method that accepts a tenant id must filter
// on it, never trust a caller-supplied row alone.
type Tenant struct {
	ID     string `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Active bool   `db:"active" json:"active"`
}
