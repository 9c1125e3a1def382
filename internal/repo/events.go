package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"failsafe/internal/domain"
)

const eventCols = `id,tenant_id,workflow_id,vendor_id,event_type,payload_json,idempotency_key,occurred_at,received_at,correlation_id`

func scanEvent(sc interface{ Scan(dest ...any) error }) (domain.Event, error) {
	var e domain.Event
	var vendorID sql.NullString
	var payloadJSON string
	err := sc.Scan(&e.ID, &e.TenantID, &e.WorkflowID, &vendorID, &e.EventType, &payloadJSON,
		&e.IdempotencyKey, &e.OccurredAt, &e.ReceivedAt, &e.CorrelationID)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.VendorID = fromNullStringPtr(vendorID)
	if payloadJSON != "" {
		_ = json.Unmarshal([]byte(payloadJSON), &e.Payload)
	}
	return e, nil
}

// InsertEventTx persists the event row. The caller must have already checked
// for an existing (tenant_id, idempotency_key) row; this is the final
// duplicate guard via the unique index, surfaced as ErrConflict.
func (r Repo) InsertEventTx(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO workflow_events(`+eventCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TenantID, e.WorkflowID, nullableStringPtr(e.VendorID), e.EventType, string(payload),
		e.IdempotencyKey, e.OccurredAt, e.ReceivedAt, e.CorrelationID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) GetEventByIdempotencyKeyTx(ctx context.Context, tx *sql.Tx, tenantID, key string) (domain.Event, error) {
	return scanEvent(tx.QueryRowContext(ctx, `SELECT `+eventCols+` FROM workflow_events WHERE tenant_id=? AND idempotency_key=?`, tenantID, key))
}

func (r Repo) GetEventByIdempotencyKey(ctx context.Context, tenantID, key string) (domain.Event, error) {
	return scanEvent(r.DB.QueryRowContext(ctx, `SELECT `+eventCols+` FROM workflow_events WHERE tenant_id=? AND idempotency_key=?`, tenantID, key))
}

func (r Repo) GetEvent(ctx context.Context, tenantID, id string) (domain.Event, error) {
	return scanEvent(r.DB.QueryRowContext(ctx, `SELECT `+eventCols+` FROM workflow_events WHERE tenant_id=? AND id=?`, tenantID, id))
}

// LinkIncidentEventTx appends event to the incident's correlation set in
// insertion order.
func (r Repo) LinkIncidentEventTx(ctx context.Context, tx *sql.Tx, incidentID, eventID string) error {
	var nextPos int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1,0) FROM incident_events WHERE incident_id=?`, incidentID)
	if err := row.Scan(&nextPos); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO incident_events(incident_id,event_id,position) VALUES (?,?,?)`, incidentID, eventID, nextPos)
	return err
}

func (r Repo) ListIncidentEventIDsTx(ctx context.Context, tx *sql.Tx, incidentID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT event_id FROM incident_events WHERE incident_id=? ORDER BY position`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// IncidentIDForEventTx reverses the correlation-set link: which incident
// does eventID belong to.
func (r Repo) IncidentIDForEventTx(ctx context.Context, tx *sql.Tx, eventID string) (string, error) {
	var incidentID string
	row := tx.QueryRowContext(ctx, `SELECT incident_id FROM incident_events WHERE event_id=?`, eventID)
	err := row.Scan(&incidentID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return incidentID, err
}

func (r Repo) IncidentIDForEvent(ctx context.Context, eventID string) (string, error) {
	var incidentID string
	row := r.DB.QueryRowContext(ctx, `SELECT incident_id FROM incident_events WHERE event_id=?`, eventID)
	err := row.Scan(&incidentID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return incidentID, err
}

func (r Repo) ListIncidentEventIDs(ctx context.Context, incidentID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT event_id FROM incident_events WHERE incident_id=? ORDER BY position`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
