package repo

import (
	"context"
	"database/sql"

	"failsafe/internal/domain"
)

const vendorCols = `id,tenant_id,name,breaker_state,breaker_failure_count,breaker_opened_at,breaker_probe_count,rate_limit_per_minute,created_at`

func scanVendor(sc interface{ Scan(dest ...any) error }) (domain.Vendor, error) {
	var v domain.Vendor
	var openedAt sql.NullString
	err := sc.Scan(&v.ID, &v.TenantID, &v.Name, &v.BreakerState, &v.BreakerFailureCount, &openedAt,
		&v.BreakerProbeCount, &v.RateLimitPerMinute, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.BreakerOpenedAt = fromNullStringPtr(openedAt)
	return v, nil
}

func (r Repo) InsertVendor(ctx context.Context, v domain.Vendor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO vendors(`+vendorCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		v.ID, v.TenantID, v.Name, v.BreakerState, v.BreakerFailureCount, nullableStringPtr(v.BreakerOpenedAt),
		v.BreakerProbeCount, v.RateLimitPerMinute, v.CreatedAt)
	return err
}

func (r Repo) GetVendor(ctx context.Context, tenantID, id string) (domain.Vendor, error) {
	return scanVendor(r.DB.QueryRowContext(ctx, `SELECT `+vendorCols+` FROM vendors WHERE tenant_id=? AND id=?`, tenantID, id))
}

func (r Repo) GetVendorTx(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Vendor, error) {
	return scanVendor(tx.QueryRowContext(ctx, `SELECT `+vendorCols+` FROM vendors WHERE tenant_id=? AND id=?`, tenantID, id))
}

func (r Repo) GetVendorByName(ctx context.Context, tenantID, name string) (domain.Vendor, error) {
	return scanVendor(r.DB.QueryRowContext(ctx, `SELECT `+vendorCols+` FROM vendors WHERE tenant_id=? AND name=?`, tenantID, name))
}

func (r Repo) GetVendorByNameTx(ctx context.Context, tx *sql.Tx, tenantID, name string) (domain.Vendor, error) {
	return scanVendor(tx.QueryRowContext(ctx, `SELECT `+vendorCols+` FROM vendors WHERE tenant_id=? AND name=?`, tenantID, name))
}

func (r Repo) ListVendors(ctx context.Context, tenantID string) ([]domain.Vendor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+vendorCols+` FROM vendors WHERE tenant_id=? ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// IncrementBreakerFailureTx bumps breaker_failure_count and returns the
// updated vendor; it does not change breaker_state or breaker_opened_at
// (the caller decides the new state).
func (r Repo) IncrementBreakerFailureTx(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Vendor, error) {
	_, err := tx.ExecContext(ctx, `UPDATE vendors SET breaker_failure_count=breaker_failure_count+1 WHERE tenant_id=? AND id=?`, tenantID, id)
	if err != nil {
		return domain.Vendor{}, err
	}
	return r.GetVendorTx(ctx, tx, tenantID, id)
}

func (r Repo) ResetBreakerFailureTx(ctx context.Context, tx *sql.Tx, tenantID, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE vendors SET breaker_failure_count=0, breaker_probe_count=0 WHERE tenant_id=? AND id=?`, tenantID, id)
	return err
}

func (r Repo) UpdateBreakerStateTx(ctx context.Context, tx *sql.Tx, tenantID, id, state string, openedAt *string) (domain.Vendor, error) {
	_, err := tx.ExecContext(ctx, `UPDATE vendors SET breaker_state=?, breaker_opened_at=? WHERE tenant_id=? AND id=?`,
		state, nullableStringPtr(openedAt), tenantID, id)
	if err != nil {
		return domain.Vendor{}, err
	}
	return r.GetVendorTx(ctx, tx, tenantID, id)
}

func (r Repo) IncrementBreakerProbeTx(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Vendor, error) {
	_, err := tx.ExecContext(ctx, `UPDATE vendors SET breaker_probe_count=breaker_probe_count+1 WHERE tenant_id=? AND id=?`, tenantID, id)
	if err != nil {
		return domain.Vendor{}, err
	}
	return r.GetVendorTx(ctx, tx, tenantID, id)
}
