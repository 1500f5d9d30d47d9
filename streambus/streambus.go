// Package streambus implements the Stream Bus (§4.1): an append-only,
// ordered, consumer-group-aware log used for the five session.* streams.
// The production Bus is backed by Redis Streams (go-redis/redis/v8),
// the same client library the Idempotency Store uses for its SETNX
// reservations, used here as a dedicated streaming transport.
package streambus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/opsloop/orchestrator-core/core"
)

// Entry is one delivered message: its bus-assigned id and decoded payload.
type Entry struct {
	ID      string
	Payload map[string]interface{}
}

// Bus is the contract every caller in this module programs against.
// Never returns a partial/silent failure: any transport error is
// returned to the caller as core.ErrTransport-wrapped (§4.1 Failure).
type Bus interface {
	Publish(ctx context.Context, stream string, payload map[string]interface{}, maxLen int64, approximate bool) (string, error)
	Read(ctx context.Context, stream string, cursor string, count int64, block time.Duration) ([]Entry, error)
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]Entry, error)
	Ack(ctx context.Context, stream, group string, ids []string) error
	Delete(ctx context.Context, stream string, ids []string) error
}

// RedisBus is the production Bus, one XADD/XREADGROUP/XACK/XDEL call per
// operation against a single field named "payload" holding a JSON
// document per entry (§6 wire format; confirmed against
// services/queue_client.py in original_source/ — one field, not a
// multi-field hash).
type RedisBus struct {
	client *redis.Client
	logger core.Logger
}

// NewRedisBus constructs a RedisBus from an already-parsed redis.Client
// rather than a URL; the bus needs the raw client for XADD.
func NewRedisBus(client *redis.Client, logger core.Logger) *RedisBus {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &RedisBus{client: client, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, stream string, payload map[string]interface{}, maxLen int64, approximate bool) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", core.ErrValidationFailed)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"payload": string(body)},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = approximate
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		b.logger.Error("stream publish failed", map[string]interface{}{"stream": stream, "error": err.Error()})
		return "", fmt.Errorf("publish %s: %w", stream, core.ErrTransport)
	}
	return id, nil
}

func decodeMessages(msgs []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values["payload"].(string)
		var payload map[string]interface{}
		if raw != "" {
			_ = json.Unmarshal([]byte(raw), &payload)
		}
		out = append(out, Entry{ID: m.ID, Payload: payload})
	}
	return out
}

func (b *RedisBus) Read(ctx context.Context, stream string, cursor string, count int64, block time.Duration) ([]Entry, error) {
	if cursor == "" {
		cursor = "0"
	}
	res, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, cursor},
		Count:   count,
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", stream, core.ErrTransport)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return decodeMessages(res[0].Messages), nil
}

// EnsureGroup creates the consumer group starting from the beginning of
// the stream, tolerating BUSYGROUP (already exists) as a no-op rather
// than an error — confirmed against services/queue_client.py.
func (b *RedisBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("ensure group %s/%s: %w", stream, group, core.ErrTransport)
	}
	return nil
}

func (b *RedisBus) ReadGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]Entry, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group %s/%s: %w", group, stream, core.ErrTransport)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return decodeMessages(res[0].Messages), nil
}

func (b *RedisBus) Ack(ctx context.Context, stream, group string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("ack %s/%s: %w", stream, group, core.ErrTransport)
	}
	return nil
}

func (b *RedisBus) Delete(ctx context.Context, stream string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.client.XDel(ctx, stream, ids...).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", stream, core.ErrTransport)
	}
	return nil
}
