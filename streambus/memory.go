package streambus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	id      int64
	payload map[string]interface{}
}

type memoryStream struct {
	entries []memoryEntry
	groups  map[string]*memoryGroup
}

type memoryGroup struct {
	lastDelivered int64
	pending       map[int64]bool
}

// MemoryBus is an in-process Bus used by unit tests that want the
// ordering and consumer-group contract of §4.1 without a live Redis
// instance. IDs are "<seq>-0" strings to match Redis Streams' shape.
type MemoryBus struct {
	mu      sync.Mutex
	streams map[string]*memoryStream
	seq     int64
}

// NewMemoryBus constructs an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{streams: make(map[string]*memoryStream)}
}

func (b *MemoryBus) streamFor(name string) *memoryStream {
	s, ok := b.streams[name]
	if !ok {
		s = &memoryStream{groups: make(map[string]*memoryGroup)}
		b.streams[name] = s
	}
	return s
}

func formatID(seq int64) string { return fmt.Sprintf("%d-0", seq) }

func parseID(id string) int64 {
	parts := strings.SplitN(id, "-", 2)
	n, _ := strconv.ParseInt(parts[0], 10, 64)
	return n
}

func (b *MemoryBus) Publish(_ context.Context, stream string, payload map[string]interface{}, maxLen int64, _ bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := b.seq
	s := b.streamFor(stream)
	s.entries = append(s.entries, memoryEntry{id: id, payload: payload})
	if maxLen > 0 && int64(len(s.entries)) > maxLen {
		s.entries = s.entries[int64(len(s.entries))-maxLen:]
	}
	return formatID(id), nil
}

func (b *MemoryBus) Read(_ context.Context, stream string, cursor string, count int64, _ time.Duration) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.streamFor(stream)
	after := int64(0)
	if cursor != "" && cursor != "0" {
		after = parseID(cursor)
	}
	var out []Entry
	for _, e := range s.entries {
		if e.id > after {
			out = append(out, Entry{ID: formatID(e.id), Payload: e.payload})
			if count > 0 && int64(len(out)) >= count {
				break
			}
		}
	}
	return out, nil
}

func (b *MemoryBus) EnsureGroup(_ context.Context, stream, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.streamFor(stream)
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = &memoryGroup{pending: make(map[int64]bool)}
	}
	return nil
}

func (b *MemoryBus) ReadGroup(_ context.Context, group, _ string, stream string, count int64, _ time.Duration) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.streamFor(stream)
	g, ok := s.groups[group]
	if !ok {
		g = &memoryGroup{pending: make(map[int64]bool)}
		s.groups[group] = g
	}
	var out []Entry
	for _, e := range s.entries {
		if e.id > g.lastDelivered {
			out = append(out, Entry{ID: formatID(e.id), Payload: e.payload})
			g.pending[e.id] = true
			g.lastDelivered = e.id
			if count > 0 && int64(len(out)) >= count {
				break
			}
		}
	}
	return out, nil
}

func (b *MemoryBus) Ack(_ context.Context, stream, group string, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.streamFor(stream)
	g, ok := s.groups[group]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(g.pending, parseID(id))
	}
	return nil
}

func (b *MemoryBus) Delete(_ context.Context, stream string, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.streamFor(stream)
	toDelete := make(map[int64]bool, len(ids))
	for _, id := range ids {
		toDelete[parseID(id)] = true
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !toDelete[e.id] {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return nil
}

// Len reports how many entries remain on a stream; a test convenience.
func (b *MemoryBus) Len(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streamFor(stream).entries)
}
