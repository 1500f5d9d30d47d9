package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
)

// MemoryStore is a process-local implementation of every repository
// interface in this package, guarded by a single mutex. It backs the
// unit test suite and is a reasonable substitute for a single-process
// deployment that doesn't need durability across restarts.
type MemoryStore struct {
	mu sync.Mutex

	sessions    map[int64]*domain.ExecutionSession
	steps       map[int64]map[int]*domain.ExecutionStep
	assignments map[int64][]*domain.AgentWorkerAssignment
	feedback    map[int64]*domain.SessionFeedback
	events      map[int64][]*domain.ExecutionEvent
	runbooks    map[string]*domain.Runbook
	tickets     map[string]*domain.Ticket
	ticketKey   map[string]string // tenant|source|external_id -> ticket id
	credentials map[string]*domain.Credential
	connections map[string]*TicketConnection
	infraConns  []*domain.InfrastructureConnection

	nextSessionID int64
	nextEventID   int64
	nextAssignID  int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[int64]*domain.ExecutionSession),
		steps:       make(map[int64]map[int]*domain.ExecutionStep),
		assignments: make(map[int64][]*domain.AgentWorkerAssignment),
		feedback:    make(map[int64]*domain.SessionFeedback),
		events:      make(map[int64][]*domain.ExecutionEvent),
		runbooks:    make(map[string]*domain.Runbook),
		tickets:     make(map[string]*domain.Ticket),
		ticketKey:   make(map[string]string),
		credentials: make(map[string]*domain.Credential),
		connections: make(map[string]*TicketConnection),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *domain.ExecutionSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSessionID++
	s.ID = m.nextSessionID
	cp := *s
	m.sessions[s.ID] = &cp
	m.steps[s.ID] = make(map[int]*domain.ExecutionStep)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id int64) (*domain.ExecutionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, s *domain.ExecutionSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return core.ErrSessionNotFound
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateSteps(_ context.Context, steps []*domain.ExecutionStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range steps {
		bySession, ok := m.steps[s.SessionID]
		if !ok {
			bySession = make(map[int]*domain.ExecutionStep)
			m.steps[s.SessionID] = bySession
		}
		cp := *s
		bySession[s.StepNumber] = &cp
	}
	return nil
}

func (m *MemoryStore) GetStep(_ context.Context, sessionID int64, stepNumber int) (*domain.ExecutionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySession, ok := m.steps[sessionID]
	if !ok {
		return nil, core.ErrStepNotFound
	}
	s, ok := bySession[stepNumber]
	if !ok {
		return nil, core.ErrStepNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSteps(_ context.Context, sessionID int64) ([]*domain.ExecutionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySession := m.steps[sessionID]
	out := make([]*domain.ExecutionStep, 0, len(bySession))
	for i := 1; i <= len(bySession); i++ {
		if s, ok := bySession[i]; ok {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateStep(_ context.Context, s *domain.ExecutionStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySession, ok := m.steps[s.SessionID]
	if !ok {
		return core.ErrStepNotFound
	}
	if _, ok := bySession[s.StepNumber]; !ok {
		return core.ErrStepNotFound
	}
	cp := *s
	bySession[s.StepNumber] = &cp
	return nil
}

func (m *MemoryStore) CreateAssignment(_ context.Context, a *domain.AgentWorkerAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAssignID++
	a.ID = m.nextAssignID
	cp := *a
	m.assignments[a.SessionID] = append(m.assignments[a.SessionID], &cp)
	return nil
}

func (m *MemoryStore) LatestAssignment(_ context.Context, sessionID int64) (*domain.AgentWorkerAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.assignments[sessionID]
	if len(list) == 0 {
		return nil, core.ErrNotFound
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (m *MemoryStore) SaveFeedback(_ context.Context, f *domain.SessionFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.feedback[f.SessionID] = &cp
	return nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *domain.ExecutionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	e.ID = m.nextEventID
	cp := *e
	m.events[e.SessionID] = append(m.events[e.SessionID], &cp)
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, sessionID int64, sinceID int64, limit int) ([]*domain.ExecutionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ExecutionEvent
	for _, e := range m.events[sessionID] {
		if e.ID > sinceID {
			cp := *e
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) GetRunbook(_ context.Context, id string) (*domain.Runbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runbooks[id]
	if !ok {
		return nil, core.ErrRunbookNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateRunbook(_ context.Context, r *domain.Runbook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runbooks[r.ID] = &cp
	return nil
}

func ticketNaturalKey(tenant, source, externalID string) string {
	return tenant + "|" + source + "|" + externalID
}

func (m *MemoryStore) GetTicket(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpsertTicket(_ context.Context, t *domain.Ticket) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ticketNaturalKey(t.Tenant, t.Source, t.ExternalID)
	if id, ok := m.ticketKey[key]; ok {
		existing := m.tickets[id]
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	} else {
		m.ticketKey[key] = t.ID
	}
	cp := *t
	m.tickets[t.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) UpdateTicketStatus(_ context.Context, id string, status domain.TicketStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return core.ErrNotFound
	}
	t.Status = status
	if status == domain.TicketResolved || status == domain.TicketClosed {
		now := time.Now()
		t.ResolvedAt = &now
	}
	return nil
}

func (m *MemoryStore) GetCredentialByAlias(_ context.Context, tenant, alias, environment string) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.credentials {
		if c.Tenant != tenant || c.Alias != alias {
			continue
		}
		if environment != "" && c.Environment != "" && c.Environment != environment {
			continue
		}
		cp := *c
		return &cp, nil
	}
	return nil, core.ErrCredentialNotFound
}

func (m *MemoryStore) GetCredential(_ context.Context, id string) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, core.ErrCredentialNotFound
	}
	cp := *c
	return &cp, nil
}

// PutCredential is a test/seed helper; there is no public "create
// credential" operation in the spec (credential provisioning is external).
func (m *MemoryStore) PutCredential(c *domain.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.credentials[c.ID] = &cp
}

func (m *MemoryStore) GetConnection(_ context.Context, id string) (*TicketConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListActivePollConnections(_ context.Context) ([]*TicketConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TicketConnection
	for _, c := range m.connections {
		if c.Active && c.ConnectionType == "api_poll" {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateConnectionMetadata(_ context.Context, id string, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return core.ErrNotFound
	}
	c.Metadata = metadata
	return nil
}

func (m *MemoryStore) UpdateSyncStatus(_ context.Context, id string, lastSyncAt string, status string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return core.ErrNotFound
	}
	c.LastSyncAt = &lastSyncAt
	c.LastSyncStatus = status
	c.LastSyncError = errMsg
	return nil
}

// PutConnection is a test/seed helper.
func (m *MemoryStore) PutConnection(c *TicketConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.connections[c.ID] = &cp
}

// FindByCI matches ciName against a connection's name or target host
// (case-insensitive substring, mirroring CIExtractionService.
// find_infrastructure_connection's ILIKE '%ci_name%' behavior): name
// match takes priority over host match.
func (m *MemoryStore) FindByCI(_ context.Context, tenant, ciName string) (*domain.InfrastructureConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(ciName)
	var hostMatch *domain.InfrastructureConnection
	for _, c := range m.infraConns {
		if c.Tenant != tenant {
			continue
		}
		if strings.Contains(strings.ToLower(c.Name), needle) {
			cp := *c
			return &cp, nil
		}
		if hostMatch == nil && strings.Contains(strings.ToLower(c.TargetHost), needle) {
			cp := *c
			hostMatch = &cp
		}
	}
	if hostMatch != nil {
		return hostMatch, nil
	}
	return nil, core.ErrNotFound
}

// PutInfrastructureConnection is a test/seed helper.
func (m *MemoryStore) PutInfrastructureConnection(c *domain.InfrastructureConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.infraConns = append(m.infraConns, &cp)
}
