// Package audit implements the Audit Sink (§4.3): a single-writer,
// hash-chained, append-only JSON-lines log with optional asynchronous
// object-storage replication. The chain discipline (sorted-key compact
// JSON canonicalization, SHA-256 over prev_hash||canonical) and the
// cold-start recovery behavior (re-derive the last hash from the file's
// final line rather than keeping external state) are carried unchanged
// from services/audit_log.py in original_source/.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/opsloop/orchestrator-core/core"
)

// Envelope is one audit line's logical content before the chain fields
// are attached.
type Envelope struct {
	Timestamp time.Time              `json:"ts"`
	SessionID int64                  `json:"session_id"`
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
}

// Line is the persisted shape: the envelope plus the chain fields.
type Line struct {
	Timestamp time.Time              `json:"ts"`
	SessionID int64                  `json:"session_id"`
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	PrevHash  string                 `json:"prev_hash"`
	Hash      string                 `json:"hash"`
}

// Replicator is the optional object-storage replication target (§4.3
// step 5). Implemented separately from Sink so tests can substitute a
// no-op or a recording fake without touching the hash-chain logic.
type Replicator interface {
	Put(ctx context.Context, key string, body []byte) error
}

// S3Replicator replicates audit lines to `prefix/YYYY/MM/DD/{hash}.json`
// under server-side encryption, via aws-sdk-go-v2/service/s3.
type S3Replicator struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Replicator builds a replicator from an already-loaded aws.Config.
func NewS3Replicator(cfg aws.Config, bucket, prefix string) *S3Replicator {
	return &S3Replicator{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}
}

func (r *S3Replicator) Put(ctx context.Context, key string, body []byte) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(r.bucket),
		Key:                  aws.String(r.prefix + "/" + key),
		Body:                 bytes.NewReader(body),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	return err
}

// Sink is the single-writer hash-chained log. One Sink instance owns one
// file; concurrent processes must write to their own shard (§5).
type Sink struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	lastHash   string
	logger     core.Logger
	replicator Replicator
	enabled    bool
}

// Options configures a Sink.
type Options struct {
	Path       string
	Enabled    bool
	Replicator Replicator // nil disables replication
	Logger     core.Logger
}

// Open creates or appends to the audit log file at opts.Path, recovering
// the chain's last hash from the file's final line if it already exists
// (cold-start recovery, §4.3 step 2 / §8 Audit chain).
func Open(opts Options) (*Sink, error) {
	logger := opts.Logger
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	s := &Sink{path: opts.Path, logger: logger, replicator: opts.Replicator, enabled: opts.Enabled}
	if !opts.Enabled {
		return s, nil
	}

	f, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", opts.Path, core.ErrTransport)
	}
	s.file = f

	last, err := readLastHash(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("recover audit chain: %w", core.ErrTransport)
	}
	s.lastHash = last
	return s, nil
}

func readLastHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	var lastLine string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if lastLine == "" {
		return "", nil
	}
	var l Line
	if err := json.Unmarshal([]byte(lastLine), &l); err != nil {
		return "", fmt.Errorf("parse last audit line: %w", err)
	}
	return l.Hash, nil
}

// canonicalize renders v as compact JSON with keys sorted, matching the
// original audit_log.py's canonicalization discipline. json.Marshal on a
// map already emits keys in sorted order and never inserts whitespace,
// so its output is used as is.
func canonicalize(env Envelope) ([]byte, error) {
	ordered := map[string]interface{}{
		"ts":         env.Timestamp.UTC().Format(time.RFC3339Nano),
		"session_id": env.SessionID,
		"event_type": env.EventType,
		"payload":    env.Payload,
	}
	return json.Marshal(ordered)
}

func computeHash(prevHash string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordEvent appends one envelope to the chain (§4.3 steps 1-4) and, if
// a replicator is configured, fires an async best-effort copy to object
// storage (step 5). Local append failures are returned; replication
// failures are only logged (§7 Propagation policy: "audit-sink errors
// are logged and swallowed so they cannot wedge execution" — that
// applies to replication, not the local append itself, which is a
// required, synchronous step).
func (s *Sink) RecordEvent(ctx context.Context, sessionID int64, eventType string, payload map[string]interface{}) error {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	env := Envelope{Timestamp: time.Now(), SessionID: sessionID, EventType: eventType, Payload: payload}
	canonical, err := canonicalize(env)
	if err != nil {
		return fmt.Errorf("canonicalize audit envelope: %w", core.ErrValidationFailed)
	}
	hash := computeHash(s.lastHash, canonical)

	line := Line{
		Timestamp: env.Timestamp, SessionID: sessionID, EventType: eventType, Payload: payload,
		PrevHash: s.lastHash, Hash: hash,
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode audit line: %w", core.ErrValidationFailed)
	}
	encoded = append(encoded, '\n')

	if _, err := s.file.Write(encoded); err != nil {
		return fmt.Errorf("append audit log: %w", core.ErrTransport)
	}
	if err := s.file.Sync(); err != nil {
		s.logger.Warn("audit log sync failed", map[string]interface{}{"error": err.Error()})
	}
	s.lastHash = hash

	if s.replicator != nil {
		go s.replicate(context.WithoutCancel(ctx), line, hash)
	}
	return nil
}

func (s *Sink) replicate(ctx context.Context, line Line, hash string) {
	body, err := json.Marshal(line)
	if err != nil {
		s.logger.Warn("audit replication marshal failed", map[string]interface{}{"error": err.Error()})
		return
	}
	key := fmt.Sprintf("%04d/%02d/%02d/%s.json", line.Timestamp.Year(), line.Timestamp.Month(), line.Timestamp.Day(), hash)
	if err := s.replicator.Put(ctx, key, body); err != nil {
		s.logger.Warn("audit replication failed", map[string]interface{}{"error": err.Error(), "key": key})
	}
}

// Close releases the underlying file handle.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// VerifyChain replays path end to end and confirms every line's hash
// matches SHA-256(prev_hash || canonical(line)), returning the first
// mismatch encountered (§8 Audit chain property).
func VerifyChain(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, core.ErrTransport)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	prev := ""
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if raw == "" {
			continue
		}
		var l Line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return fmt.Errorf("line %d: invalid json: %w", lineNo, err)
		}
		if l.PrevHash != prev {
			return fmt.Errorf("line %d: prev_hash mismatch", lineNo)
		}
		canonical, err := canonicalize(Envelope{
			Timestamp: l.Timestamp, SessionID: l.SessionID, EventType: l.EventType, Payload: l.Payload,
		})
		if err != nil {
			return fmt.Errorf("line %d: canonicalize: %w", lineNo, err)
		}
		expected := computeHash(l.PrevHash, canonical)
		if expected != l.Hash {
			return fmt.Errorf("line %d: hash mismatch", lineNo)
		}
		prev = l.Hash
	}
	return scanner.Err()
}
