// Package config carries the typed configuration surface enumerated in
// §6 of the runbook orchestrator spec. Loading these values from the
// environment, a file, or a secrets manager is the embedding process's
// job (config loading is a Non-goal of this module, §1): this package
// only defines the struct and its documented defaults.
package config

import "time"

// Streams names the five logical streams used by the Stream Bus (§4.1).
type Streams struct {
	Assign     string
	Command    string
	Result     string
	Events     string
	DeadLetter string
}

// DefaultStreams returns the stream names the spec names (§6 table,
// REDIS_STREAM_{ASSIGN,COMMAND,RESULT,EVENTS,DEAD_LETTER}).
func DefaultStreams() Streams {
	return Streams{
		Assign:     "session.assign",
		Command:    "session.command",
		Result:     "session.result",
		Events:     "session.events",
		DeadLetter: "session.deadletter",
	}
}

// Config is the process-wide configuration the embedding service
// populates and passes to this module's constructors. There is no
// NewConfig-from-env helper here on purpose: the caller owns loading.
type Config struct {
	// Stream Bus (§4.1, §6)
	RedisURL               string
	Streams                Streams
	ConsumerGroupOrch      string // REDIS_CONSUMER_GROUP_ORCHESTRATOR
	DefaultMaxLen          int64  // REDIS_DEFAULT_MAXLEN, default 10_000
	WorkerOrchestrationOn  bool   // WORKER_ORCHESTRATION_ENABLED

	// Idempotency Store (§4.2, §6)
	IdempotencyTTL time.Duration // IDEMPOTENCY_TTL_SECONDS, default 86_400s, floor 60s

	// Audit Sink (§4.3, §6)
	AuditLogEnabled  bool   // AUDIT_LOG_ENABLED
	AuditLogPath     string // AUDIT_LOG_PATH
	AuditLogS3Bucket string // AUDIT_LOG_S3_BUCKET
	AuditLogS3Prefix string // AUDIT_LOG_S3_PREFIX

	// Worker Registry (§4.5)
	WorkerHeartbeatTTL time.Duration // default 60s

	// Rollback Engine (§4.10)
	RollbackTimeout time.Duration // fixed 30s per spec, overridable for tests

	// Relational persistence (§6, DOMAIN STACK)
	PostgresDSN string
}

// DefaultConfig returns a Config with every default value named in the
// spec. Fields with no stated default (RedisURL, PostgresDSN, ...) are
// left zero for the caller to fill in.
func DefaultConfig() *Config {
	return &Config{
		Streams:               DefaultStreams(),
		ConsumerGroupOrch:     "orchestrator",
		DefaultMaxLen:         10_000,
		WorkerOrchestrationOn: true,
		IdempotencyTTL:        24 * time.Hour,
		AuditLogEnabled:       true,
		AuditLogPath:          "./audit.log",
		WorkerHeartbeatTTL:    60 * time.Second,
		RollbackTimeout:       30 * time.Second,
	}
}

// IdempotencyTTLFloor is the minimum TTL the spec permits for the
// idempotency reservation window, regardless of configured value.
const IdempotencyTTLFloor = 60 * time.Second

// NormalizedIdempotencyTTL applies the 60s floor named in §6.
func (c *Config) NormalizedIdempotencyTTL() time.Duration {
	if c.IdempotencyTTL < IdempotencyTTLFloor {
		return IdempotencyTTLFloor
	}
	return c.IdempotencyTTL
}
