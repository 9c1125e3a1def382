package repo

import (
	"context"
	"database/sql"

	"failsafe/internal/domain"
)

func (r Repo) InsertTenant(ctx context.Context, t domain.Tenant) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tenants(id,name,active,created_at) VALUES (?,?,?,?)`,
		t.ID, t.Name, t.Active, t.CreatedAt)
	return err
}

func scanTenant(sc interface{ Scan(dest ...any) error }) (domain.Tenant, error) {
	var t domain.Tenant
	err := sc.Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	return scanTenant(r.DB.QueryRowContext(ctx, `SELECT id,name,active,created_at FROM tenants WHERE id=?`, id))
}

func (r Repo) GetTenantTx(ctx context.Context, tx *sql.Tx, id string) (domain.Tenant, error) {
	return scanTenant(tx.QueryRowContext(ctx, `SELECT id,name,active,created_at FROM tenants WHERE id=?`, id))
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,active,created_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r Repo) SetTenantActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tenants SET active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertWorkflowTx(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflows(id,tenant_id,name,active,created_at) VALUES (?,?,?,?,?)`,
		w.ID, w.TenantID, w.Name, w.Active, w.CreatedAt)
	return err
}

func (r Repo) InsertWorkflow(ctx context.Context, w domain.Workflow) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workflows(id,tenant_id,name,active,created_at) VALUES (?,?,?,?,?)`,
		w.ID, w.TenantID, w.Name, w.Active, w.CreatedAt)
	return err
}

func scanWorkflow(sc interface{ Scan(dest ...any) error }) (domain.Workflow, error) {
	var w domain.Workflow
	err := sc.Scan(&w.ID, &w.TenantID, &w.Name, &w.Active, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

const workflowCols = `id,tenant_id,name,active,created_at`

func (r Repo) GetWorkflow(ctx context.Context, tenantID, id string) (domain.Workflow, error) {
	return scanWorkflow(r.DB.QueryRowContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE tenant_id=? AND id=?`, tenantID, id))
}

func (r Repo) GetWorkflowTx(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Workflow, error) {
	return scanWorkflow(tx.QueryRowContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE tenant_id=? AND id=?`, tenantID, id))
}

func (r Repo) GetWorkflowByName(ctx context.Context, tenantID, name string) (domain.Workflow, error) {
	return scanWorkflow(r.DB.QueryRowContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE tenant_id=? AND name=?`, tenantID, name))
}

func (r Repo) ListWorkflows(ctx context.Context, tenantID string) ([]domain.Workflow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE tenant_id=? ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ActiveKillSwitchTx reports whether an active kill switch blocks workflowID
// (a tenant-wide switch with workflow_id NULL, or one scoped to workflowID).
func (r Repo) ActiveKillSwitchTx(ctx context.Context, tx *sql.Tx, tenantID, workflowID string) (domain.KillSwitch, bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT id,tenant_id,workflow_id,active,reason,activated_by,created_at,updated_at
FROM kill_switches
WHERE tenant_id=? AND active=1 AND (workflow_id IS NULL OR workflow_id=?)
ORDER BY workflow_id IS NULL
LIMIT 1`, tenantID, workflowID)
	ks, err := scanKillSwitch(row)
	if err == ErrNotFound {
		return domain.KillSwitch{}, false, nil
	}
	if err != nil {
		return domain.KillSwitch{}, false, err
	}
	return ks, true, nil
}

func scanKillSwitch(sc interface{ Scan(dest ...any) error }) (domain.KillSwitch, error) {
	var ks domain.KillSwitch
	var workflowID sql.NullString
	err := sc.Scan(&ks.ID, &ks.TenantID, &workflowID, &ks.Active, &ks.Reason, &ks.ActivatedBy, &ks.CreatedAt, &ks.UpdatedAt)
	if err == sql.ErrNoRows {
		return ks, ErrNotFound
	}
	if err != nil {
		return ks, err
	}
	ks.WorkflowID = fromNullStringPtr(workflowID)
	return ks, nil
}

func (r Repo) InsertKillSwitch(ctx context.Context, ks domain.KillSwitch) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO kill_switches(id,tenant_id,workflow_id,active,reason,activated_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		ks.ID, ks.TenantID, nullableStringPtr(ks.WorkflowID), ks.Active, ks.Reason, ks.ActivatedBy, ks.CreatedAt, ks.UpdatedAt)
	return err
}

func (r Repo) SetKillSwitchActive(ctx context.Context, tenantID, id string, active bool, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE kill_switches SET active=?, updated_at=? WHERE tenant_id=? AND id=?`, active, now, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListKillSwitches(ctx context.Context, tenantID string) ([]domain.KillSwitch, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id,tenant_id,workflow_id,active,reason,activated_by,created_at,updated_at
FROM kill_switches WHERE tenant_id=? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.KillSwitch
	for rows.Next() {
		ks, err := scanKillSwitch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ks)
	}
	return out, rows.Err()
}
