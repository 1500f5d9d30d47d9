package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
)

// PostgresStore implements every repository interface in this package
// against a single Postgres database via sqlx + lib/pq. Schema migration
// is the embedding service's concern; this type only issues DML against
// tables matching the §3 column names.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens a connection pool against dsn and verifies it
// with a ping before returning.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", core.ErrConnectionFailed)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", core.ErrConnectionFailed)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func marshalJSON(v interface{}) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *domain.ExecutionSession) error {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO execution_sessions
			(tenant_id, runbook_id, ticket_id, user_id, issue_description, status,
			 current_step, total_steps, waiting_for_approval, approval_step_number,
			 transport_channel, sandbox_profile, assignment_retry_count, last_event_seq)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, created_at, updated_at`,
		s.Tenant, s.RunbookID, s.TicketID, s.UserID, s.IssueDescription, s.Status,
		s.CurrentStep, s.TotalSteps, s.WaitingForApproval, s.ApprovalStepNumber,
		s.TransportChannel, s.SandboxProfile, s.AssignmentRetryCount, s.LastEventSeq)
	return row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (p *PostgresStore) GetSession(ctx context.Context, id int64) (*domain.ExecutionSession, error) {
	var s domain.ExecutionSession
	err := p.db.GetContext(ctx, &s, `SELECT * FROM execution_sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", core.ErrTransport)
	}
	return &s, nil
}

func (p *PostgresStore) UpdateSession(ctx context.Context, s *domain.ExecutionSession) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE execution_sessions SET
			status=$1, current_step=$2, total_steps=$3, waiting_for_approval=$4,
			approval_step_number=$5, assignment_retry_count=$6, last_event_seq=$7,
			started_at=$8, completed_at=$9, total_duration_minutes=$10,
			paused_from_status=$11, updated_at=now()
		WHERE id=$12`,
		s.Status, s.CurrentStep, s.TotalSteps, s.WaitingForApproval, s.ApprovalStepNumber,
		s.AssignmentRetryCount, s.LastEventSeq, s.StartedAt, s.CompletedAt,
		s.TotalDurationMinutes, s.PausedFromStatus, s.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", core.ErrTransport)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) CreateSteps(ctx context.Context, steps []*domain.ExecutionStep) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", core.ErrTransport)
	}
	defer tx.Rollback()
	for _, st := range steps {
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO execution_steps
				(session_id, step_number, step_type, command, rollback_command,
				 description, requires_approval, severity, blast_radius, completed)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false)
			RETURNING id, created_at, updated_at`,
			st.SessionID, st.StepNumber, st.StepType, st.Command, st.RollbackCommand,
			st.Description, st.RequiresApproval, st.Severity, st.BlastRadius)
		if err := row.Scan(&st.ID, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return fmt.Errorf("insert step: %w", core.ErrTransport)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit steps: %w", core.ErrTransport)
	}
	return nil
}

func (p *PostgresStore) GetStep(ctx context.Context, sessionID int64, stepNumber int) (*domain.ExecutionStep, error) {
	var s domain.ExecutionStep
	err := p.db.GetContext(ctx, &s,
		`SELECT * FROM execution_steps WHERE session_id=$1 AND step_number=$2`, sessionID, stepNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrStepNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get step: %w", core.ErrTransport)
	}
	return &s, nil
}

func (p *PostgresStore) ListSteps(ctx context.Context, sessionID int64) ([]*domain.ExecutionStep, error) {
	var steps []*domain.ExecutionStep
	err := p.db.SelectContext(ctx, &steps,
		`SELECT * FROM execution_steps WHERE session_id=$1 ORDER BY step_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", core.ErrTransport)
	}
	return steps, nil
}

func (p *PostgresStore) UpdateStep(ctx context.Context, s *domain.ExecutionStep) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE execution_steps SET
			completed=$1, success=$2, output=$3, error=$4, approved=$5,
			approved_by=$6, approved_at=$7, completed_at=$8, updated_at=now()
		WHERE session_id=$9 AND step_number=$10`,
		s.Completed, s.Success, s.Output, s.Error, s.Approved, s.ApprovedBy,
		s.ApprovedAt, s.CompletedAt, s.SessionID, s.StepNumber)
	if err != nil {
		return fmt.Errorf("update step: %w", core.ErrTransport)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.ErrStepNotFound
	}
	return nil
}

func (p *PostgresStore) CreateAssignment(ctx context.Context, a *domain.AgentWorkerAssignment) error {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO agent_worker_assignments (session_id, worker_id, status, details)
		VALUES ($1,$2,$3,$4) RETURNING id, created_at`,
		a.SessionID, a.WorkerID, a.Status, marshalJSON(a.Details))
	return row.Scan(&a.ID, &a.CreatedAt)
}

func (p *PostgresStore) LatestAssignment(ctx context.Context, sessionID int64) (*domain.AgentWorkerAssignment, error) {
	var a domain.AgentWorkerAssignment
	err := p.db.GetContext(ctx, &a,
		`SELECT * FROM agent_worker_assignments WHERE session_id=$1 ORDER BY id DESC LIMIT 1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest assignment: %w", core.ErrTransport)
	}
	return &a, nil
}

func (p *PostgresStore) SaveFeedback(ctx context.Context, f *domain.SessionFeedback) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO session_feedback (session_id, was_successful, issue_resolved, rating, feedback)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id) DO UPDATE SET
			was_successful=excluded.was_successful, issue_resolved=excluded.issue_resolved,
			rating=excluded.rating, feedback=excluded.feedback`,
		f.SessionID, f.WasSuccessful, f.IssueResolved, f.Rating, f.Feedback)
	if err != nil {
		return fmt.Errorf("save feedback: %w", core.ErrTransport)
	}
	return nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, e *domain.ExecutionEvent) error {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO execution_events (session_id, seq, type, step_number, payload, stream_id)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		e.SessionID, e.Seq, e.Type, e.StepNumber, marshalJSON(e.Payload), e.StreamID)
	return row.Scan(&e.ID, &e.CreatedAt)
}

func (p *PostgresStore) ListEvents(ctx context.Context, sessionID int64, sinceID int64, limit int) ([]*domain.ExecutionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*domain.ExecutionEvent
	err := p.db.SelectContext(ctx, &events, `
		SELECT * FROM execution_events
		WHERE session_id=$1 AND id > $2
		ORDER BY id ASC LIMIT $3`, sessionID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", core.ErrTransport)
	}
	return events, nil
}

func (p *PostgresStore) GetRunbook(ctx context.Context, id string) (*domain.Runbook, error) {
	var r domain.Runbook
	err := p.db.GetContext(ctx, &r, `SELECT * FROM runbooks WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRunbookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get runbook: %w", core.ErrTransport)
	}
	return &r, nil
}

func (p *PostgresStore) CreateRunbook(ctx context.Context, r *domain.Runbook) error {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO runbooks (tenant_id, title, body, confidence, parent_version, status, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		r.Tenant, r.Title, r.Body, r.Confidence, r.ParentVersion, r.Status, r.Active)
	return row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

func (p *PostgresStore) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	var t domain.Ticket
	err := p.db.GetContext(ctx, &t, `SELECT * FROM tickets WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", core.ErrTransport)
	}
	return &t, nil
}

func (p *PostgresStore) UpsertTicket(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error) {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO tickets
			(tenant_id, external_id, source, title, description, severity, environment,
			 service, status, classification, classification_confidence, raw_payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (tenant_id, source, external_id) DO UPDATE SET
			title=excluded.title, description=excluded.description, severity=excluded.severity,
			environment=excluded.environment, service=excluded.service, status=excluded.status,
			classification=excluded.classification,
			classification_confidence=excluded.classification_confidence,
			raw_payload=excluded.raw_payload, updated_at=now()
		RETURNING id, created_at, updated_at`,
		t.Tenant, t.ExternalID, t.Source, t.Title, t.Description, t.Severity, t.Environment,
		t.Service, t.Status, t.Classification, t.ClassificationConfidence, marshalJSON(t.RawPayload))
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert ticket: %w", core.ErrTransport)
	}
	return t, nil
}

func (p *PostgresStore) UpdateTicketStatus(ctx context.Context, id string, status domain.TicketStatus) error {
	var res sql.Result
	var err error
	if status == domain.TicketResolved || status == domain.TicketClosed {
		res, err = p.db.ExecContext(ctx,
			`UPDATE tickets SET status=$1, resolved_at=now(), updated_at=now() WHERE id=$2`, status, id)
	} else {
		res, err = p.db.ExecContext(ctx,
			`UPDATE tickets SET status=$1, updated_at=now() WHERE id=$2`, status, id)
	}
	if err != nil {
		return fmt.Errorf("update ticket status: %w", core.ErrTransport)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetCredentialByAlias(ctx context.Context, tenant, alias, environment string) (*domain.Credential, error) {
	var c domain.Credential
	err := p.db.GetContext(ctx, &c, `
		SELECT * FROM credentials
		WHERE tenant_id=$1 AND alias=$2 AND (environment=$3 OR environment='' OR $3='')
		ORDER BY (environment=$3) DESC LIMIT 1`, tenant, alias, environment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential by alias: %w", core.ErrTransport)
	}
	return &c, nil
}

func (p *PostgresStore) GetCredential(ctx context.Context, id string) (*domain.Credential, error) {
	var c domain.Credential
	err := p.db.GetContext(ctx, &c, `SELECT * FROM credentials WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", core.ErrTransport)
	}
	return &c, nil
}

func (p *PostgresStore) GetConnection(ctx context.Context, id string) (*TicketConnection, error) {
	var c TicketConnection
	err := p.db.GetContext(ctx, &c, `SELECT * FROM ticket_connections WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", core.ErrTransport)
	}
	return &c, nil
}

func (p *PostgresStore) ListActivePollConnections(ctx context.Context) ([]*TicketConnection, error) {
	var conns []*TicketConnection
	err := p.db.SelectContext(ctx, &conns,
		`SELECT * FROM ticket_connections WHERE active=true AND connection_type='api_poll'`)
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", core.ErrTransport)
	}
	return conns, nil
}

func (p *PostgresStore) UpdateConnectionMetadata(ctx context.Context, id string, metadata map[string]interface{}) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE ticket_connections SET metadata=$1 WHERE id=$2`, marshalJSON(metadata), id)
	if err != nil {
		return fmt.Errorf("update connection metadata: %w", core.ErrTransport)
	}
	return nil
}

func (p *PostgresStore) UpdateSyncStatus(ctx context.Context, id string, lastSyncAt string, status string, errMsg string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE ticket_connections SET last_sync_at=$1, last_sync_status=$2, last_sync_error=$3 WHERE id=$4`,
		lastSyncAt, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update sync status: %w", core.ErrTransport)
	}
	return nil
}

func (p *PostgresStore) FindByCI(ctx context.Context, tenant, ciName string) (*domain.InfrastructureConnection, error) {
	var c domain.InfrastructureConnection
	err := p.db.GetContext(ctx, &c, `
		SELECT * FROM infrastructure_connections
		WHERE tenant_id=$1 AND (name ILIKE '%'||$2||'%' OR target_host ILIKE '%'||$2||'%')
		ORDER BY (name ILIKE '%'||$2||'%') DESC LIMIT 1`, tenant, ciName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find infrastructure connection: %w", core.ErrTransport)
	}
	return &c, nil
}
