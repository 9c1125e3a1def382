package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"failsafe/internal/domain"
)

const actionCols = `id,incident_id,decision_id,kind,status,parameters_json,result_json,reversible,reversal_of,attempt_number,escalation_level,scheduled_for,created_at,completed_at`

func scanAction(sc interface{ Scan(dest ...any) error }) (domain.Action, error) {
	var a domain.Action
	var paramsJSON, resultJSON string
	var reversalOf, scheduledFor, completedAt sql.NullString
	err := sc.Scan(&a.ID, &a.IncidentID, &a.DecisionID, &a.Kind, &a.Status, &paramsJSON, &resultJSON,
		&a.Reversible, &reversalOf, &a.AttemptNumber, &a.EscalationLevel, &scheduledFor, &a.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if paramsJSON != "" {
		_ = json.Unmarshal([]byte(paramsJSON), &a.Parameters)
	}
	if resultJSON != "" {
		_ = json.Unmarshal([]byte(resultJSON), &a.Result)
	}
	a.ReversalOf = fromNullStringPtr(reversalOf)
	a.ScheduledFor = fromNullStringPtr(scheduledFor)
	a.CompletedAt = fromNullStringPtr(completedAt)
	return a, nil
}

// InsertActionTx creates a new action. The unique partial index on
// (incident_id) WHERE status IN (pending,in_progress) is the single-flight
// enforcement backstop; a violation surfaces as ErrConflict.
func (r Repo) InsertActionTx(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	params, err := json.Marshal(a.Parameters)
	if err != nil {
		return err
	}
	result, err := json.Marshal(a.Result)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO actions(`+actionCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.IncidentID, a.DecisionID, a.Kind, a.Status, string(params), string(result),
		a.Reversible, nullableStringPtr(a.ReversalOf), a.AttemptNumber, a.EscalationLevel,
		nullableStringPtr(a.ScheduledFor), a.CreatedAt, nullableStringPtr(a.CompletedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) GetActionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Action, error) {
	return scanAction(tx.QueryRowContext(ctx, `SELECT `+actionCols+` FROM actions WHERE id=?`, id))
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.Action, error) {
	return scanAction(r.DB.QueryRowContext(ctx, `SELECT `+actionCols+` FROM actions WHERE id=?`, id))
}

// InFlightActionForIncidentTx reports the PENDING/IN_PROGRESS action for an
// incident, if any, per the single-flight invariant.
func (r Repo) InFlightActionForIncidentTx(ctx context.Context, tx *sql.Tx, incidentID string) (domain.Action, bool, error) {
	a, err := scanAction(tx.QueryRowContext(ctx, `
SELECT `+actionCols+` FROM actions WHERE incident_id=? AND status IN ('pending','in_progress')`, incidentID))
	if err == ErrNotFound {
		return domain.Action{}, false, nil
	}
	if err != nil {
		return domain.Action{}, false, err
	}
	return a, true, nil
}

func (r Repo) LatestActionForIncidentTx(ctx context.Context, tx *sql.Tx, incidentID string) (domain.Action, error) {
	return scanAction(tx.QueryRowContext(ctx, `SELECT `+actionCols+` FROM actions WHERE incident_id=? ORDER BY created_at DESC LIMIT 1`, incidentID))
}

func (r Repo) ListActionsForIncident(ctx context.Context, incidentID string) ([]domain.Action, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionCols+` FROM actions WHERE incident_id=? ORDER BY created_at`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListDuePendingActions returns PENDING actions whose scheduled_for has
// passed, for the background scheduler poll.
func (r Repo) ListDuePendingActions(ctx context.Context, now string, limit int) ([]domain.Action, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+actionCols+` FROM actions
WHERE status='pending' AND (scheduled_for IS NULL OR scheduled_for<=?)
ORDER BY scheduled_for LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TransitionActionTx moves an action from `from` to `to`, failing with
// ErrConflict if the current status no longer matches `from` (another
// worker already claimed it).
func (r Repo) TransitionActionTx(ctx context.Context, tx *sql.Tx, id, from, to string, completedAt *string, result map[string]any) error {
	var resultJSON string
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resultJSON = string(data)
	}
	args := []any{to}
	set := "status=?"
	if resultJSON != "" {
		set += ",result_json=?"
		args = append(args, resultJSON)
	}
	if completedAt != nil {
		set += ",completed_at=?"
		args = append(args, *completedAt)
	}
	args = append(args, id, from)
	res, err := tx.ExecContext(ctx, `UPDATE actions SET `+set+` WHERE id=? AND status=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}
