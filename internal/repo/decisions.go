package repo

import (
	"context"
	"database/sql"

	"failsafe/internal/domain"
)

const decisionCols = `id,incident_id,kind,reasoning,confidence,model_tag,created_at`

func scanDecision(sc interface{ Scan(dest ...any) error }) (domain.Decision, error) {
	var d domain.Decision
	err := sc.Scan(&d.ID, &d.IncidentID, &d.Kind, &d.Reasoning, &d.Confidence, &d.ModelTag, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) InsertDecisionTx(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decisions(`+decisionCols+`) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.IncidentID, d.Kind, d.Reasoning, d.Confidence, d.ModelTag, d.CreatedAt)
	return err
}

func (r Repo) GetDecision(ctx context.Context, id string) (domain.Decision, error) {
	return scanDecision(r.DB.QueryRowContext(ctx, `SELECT `+decisionCols+` FROM decisions WHERE id=?`, id))
}

func (r Repo) LatestDecisionForIncidentTx(ctx context.Context, tx *sql.Tx, incidentID string) (domain.Decision, error) {
	return scanDecision(tx.QueryRowContext(ctx, `SELECT `+decisionCols+` FROM decisions WHERE incident_id=? ORDER BY created_at DESC LIMIT 1`, incidentID))
}

func (r Repo) ListDecisionsForIncident(ctx context.Context, incidentID string) ([]domain.Decision, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+decisionCols+` FROM decisions WHERE incident_id=? ORDER BY created_at`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
