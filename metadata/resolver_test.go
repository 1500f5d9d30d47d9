package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/storage"
)

func newStoreWithCred() *storage.MemoryStore {
	store := storage.NewMemoryStore()
	store.PutCredential(&domain.Credential{
		ID:          "cred-1",
		Tenant:      "acme",
		Alias:       "prod-db",
		Environment: "production",
		Kind:        domain.CredentialPassword,
		Secret:      map[string]interface{}{"username": "svc", "password": "hunter2"},
	})
	return store
}

func TestResolve_AliasForm(t *testing.T) {
	r := New(newStoreWithCred())
	out, err := r.Resolve(context.Background(), "acme", map[string]interface{}{
		"credential_source": "alias:prod-db",
	})
	require.NoError(t, err)

	creds, ok := out["credentials"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "svc", creds["username"])
	assert.Equal(t, "hunter2", creds["password"])

	resolved, ok := out["credential_resolved"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "prod-db", resolved["alias"])
	assert.Equal(t, "cred-1", resolved["credential_id"])
}

func TestResolve_AliasAtEnvironmentForm(t *testing.T) {
	r := New(newStoreWithCred())
	out, err := r.Resolve(context.Background(), "acme", map[string]interface{}{
		"credential_source": "alias:prod-db@production",
	})
	require.NoError(t, err)
	creds := out["credentials"].(map[string]interface{})
	assert.Equal(t, "svc", creds["username"])
}

func TestResolve_EnvironmentSlashForm(t *testing.T) {
	r := New(newStoreWithCred())
	out, err := r.Resolve(context.Background(), "acme", map[string]interface{}{
		"credential_source": "production/prod-db",
	})
	require.NoError(t, err)
	creds := out["credentials"].(map[string]interface{})
	assert.Equal(t, "svc", creds["username"])
}

func TestResolve_InlineCredentialsWin(t *testing.T) {
	r := New(newStoreWithCred())
	out, err := r.Resolve(context.Background(), "acme", map[string]interface{}{
		"credential_source": "alias:prod-db",
		"credentials": map[string]interface{}{
			"username": "explicit-user",
		},
	})
	require.NoError(t, err)
	creds := out["credentials"].(map[string]interface{})
	assert.Equal(t, "explicit-user", creds["username"])
	assert.Equal(t, "hunter2", creds["password"])
}

func TestResolve_UnknownAlias(t *testing.T) {
	r := New(newStoreWithCred())
	_, err := r.Resolve(context.Background(), "acme", map[string]interface{}{
		"credential_source": "alias:missing",
	})
	assert.Error(t, err)
}

func TestResolve_PropagatesConnectionFields(t *testing.T) {
	r := New(newStoreWithCred())
	out, err := r.Resolve(context.Background(), "acme", map[string]interface{}{
		"host":        "db.internal",
		"port":        5432,
		"environment": "production",
		"connection":  map[string]interface{}{},
	})
	require.NoError(t, err)
	conn := out["connection"].(map[string]interface{})
	assert.Equal(t, "db.internal", conn["host"])
	assert.Equal(t, 5432, conn["port"])
	assert.Equal(t, "production", conn["environment"])
}

func TestResolve_DoesNotOverwriteExistingConnectionFields(t *testing.T) {
	r := New(newStoreWithCred())
	out, err := r.Resolve(context.Background(), "acme", map[string]interface{}{
		"host":       "db.internal",
		"connection": map[string]interface{}{"host": "explicit-host"},
	})
	require.NoError(t, err)
	conn := out["connection"].(map[string]interface{})
	assert.Equal(t, "explicit-host", conn["host"])
}

func TestSanitize_RedactsSensitiveKeys(t *testing.T) {
	out := Sanitize(map[string]interface{}{
		"username": "svc",
		"credentials": map[string]interface{}{
			"password": "hunter2",
		},
	})
	creds := out["credentials"].(map[string]interface{})
	assert.Equal(t, "***", creds["password"])
	assert.Equal(t, "svc", out["username"])
}
