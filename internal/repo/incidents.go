package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"failsafe/internal/domain"
)

const incidentCols = `id,tenant_id,workflow_id,signature,title,status,severity,event_count,first_seen_at,last_seen_at,retry_count,metadata_json,created_at,updated_at`

func scanIncident(sc interface{ Scan(dest ...any) error }) (domain.Incident, error) {
	var i domain.Incident
	var metaJSON string
	err := sc.Scan(&i.ID, &i.TenantID, &i.WorkflowID, &i.Signature, &i.Title, &i.Status, &i.Severity,
		&i.EventCount, &i.FirstSeenAt, &i.LastSeenAt, &i.RetryCount, &metaJSON, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &i.Metadata)
	}
	return i, nil
}

func (r Repo) InsertIncidentTx(ctx context.Context, tx *sql.Tx, i domain.Incident) error {
	meta, err := json.Marshal(i.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO incidents(`+incidentCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.TenantID, i.WorkflowID, i.Signature, i.Title, i.Status, i.Severity, i.EventCount,
		i.FirstSeenAt, i.LastSeenAt, i.RetryCount, string(meta), i.CreatedAt, i.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetOpenIncidentBySignatureTx finds the incident for (tenant, workflow,
// signature) that is not RESOLVED/IGNORED, matching the unique partial index.
func (r Repo) GetOpenIncidentBySignatureTx(ctx context.Context, tx *sql.Tx, tenantID, workflowID, signature string) (domain.Incident, error) {
	return scanIncident(tx.QueryRowContext(ctx, `
SELECT `+incidentCols+` FROM incidents
WHERE tenant_id=? AND workflow_id=? AND signature=? AND status NOT IN ('resolved','ignored')`,
		tenantID, workflowID, signature))
}

func (r Repo) GetIncidentTx(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Incident, error) {
	return scanIncident(tx.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM incidents WHERE tenant_id=? AND id=?`, tenantID, id))
}

func (r Repo) GetIncident(ctx context.Context, tenantID, id string) (domain.Incident, error) {
	return scanIncident(r.DB.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM incidents WHERE tenant_id=? AND id=?`, tenantID, id))
}

// GetIncidentByID looks up an incident by id alone, for callers like the
// action scheduler that discover work across tenants and need to resolve
// which tenant an action belongs to before doing anything tenant-scoped.
func (r Repo) GetIncidentByID(ctx context.Context, id string) (domain.Incident, error) {
	return scanIncident(r.DB.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM incidents WHERE id=?`, id))
}

func (r Repo) ListIncidents(ctx context.Context, tenantID string) ([]domain.Incident, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+incidentCols+` FROM incidents WHERE tenant_id=? ORDER BY last_seen_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Incident
	for rows.Next() {
		i, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// UpdateIncidentOnEventTx bumps event_count, last_seen_at, and severity in
// one statement, within the caller's transaction.
func (r Repo) UpdateIncidentOnEventTx(ctx context.Context, tx *sql.Tx, id string, eventCount int, lastSeenAt, severity, status, now string) error {
	_, err := tx.ExecContext(ctx, `
UPDATE incidents SET event_count=?, last_seen_at=?, severity=?, status=?, updated_at=? WHERE id=?`,
		eventCount, lastSeenAt, severity, status, now, id)
	return err
}

func (r Repo) IncrementIncidentRetryCountTx(ctx context.Context, tx *sql.Tx, id string, now string) (int, error) {
	_, err := tx.ExecContext(ctx, `UPDATE incidents SET retry_count=retry_count+1, updated_at=? WHERE id=?`, now, id)
	if err != nil {
		return 0, err
	}
	var retryCount int
	row := tx.QueryRowContext(ctx, `SELECT retry_count FROM incidents WHERE id=?`, id)
	if err := row.Scan(&retryCount); err != nil {
		return 0, err
	}
	return retryCount, nil
}

func (r Repo) SetIncidentStatusTx(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE incidents SET status=?, updated_at=? WHERE id=?`, status, now, id)
	return err
}

func (r Repo) SetIncidentStatus(ctx context.Context, id, status, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE incidents SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetIncidentMetadataTx(ctx context.Context, tx *sql.Tx, id string, metadata map[string]any, now string) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE incidents SET metadata_json=?, updated_at=? WHERE id=?`, string(data), now, id)
	return err
}
