package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
)

// HashAPIKey mirrors the teacher's API-key hashing: keys are never stored in
// the clear, only their digest.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertAPIKeyTx(ctx context.Context, tx *sql.Tx, keyHash, tenantID, label, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO api_keys(key_hash,tenant_id,label,created_at) VALUES (?,?,?,?)`, keyHash, tenantID, label, now)
	return err
}

func (r Repo) TenantIDForAPIKey(ctx context.Context, keyHash string) (string, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT tenant_id FROM api_keys WHERE key_hash=?`, keyHash)
	var tenantID string
	err := row.Scan(&tenantID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return tenantID, err
}

// OperatorHasPermission checks the operator_roles/operator_role_permissions/
// operator_assignments join, the same shape as the teacher's actor-RBAC
// lookup, repurposed to gate kill-switch and incident-resolution actions.
func (r Repo) OperatorHasPermission(ctx context.Context, tenantID, operatorID, permission string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT 1 FROM operator_assignments oa
JOIN operator_role_permissions rp ON rp.tenant_id=oa.tenant_id AND rp.role_id=oa.role_id
WHERE oa.tenant_id=? AND oa.operator_id=? AND rp.permission_id=? LIMIT 1`,
		tenantID, operatorID, permission)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertOperatorRoleTx(ctx context.Context, tx *sql.Tx, tenantID, roleID, description string, permissions []string) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO operator_roles(id,tenant_id,description) VALUES (?,?,?)`, roleID, tenantID, description); err != nil {
		return err
	}
	for _, p := range permissions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO operator_role_permissions(tenant_id,role_id,permission_id) VALUES (?,?,?)`, tenantID, roleID, p); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) AssignOperatorRoleTx(ctx context.Context, tx *sql.Tx, tenantID, operatorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO operator_assignments(tenant_id,operator_id,role_id) VALUES (?,?,?)`, tenantID, operatorID, roleID)
	return err
}
