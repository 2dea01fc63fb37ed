package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetOrCreateStep ensures a step row exists for (instanceID, nodeID) and
// returns it. The insert is idempotent; re-visiting an existing step only
// stamps updated_at.
func (s *Store) GetOrCreateStep(ctx context.Context, instanceID, nodeID string) (Step, error) {
	now := ms(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (instance_id, node_id, status, attempts, created_at, updated_at)
		VALUES (?, ?, 'pending', 0, ?, ?)
		ON CONFLICT(instance_id, node_id) DO UPDATE SET updated_at = excluded.updated_at
	`, instanceID, nodeID, now, now)
	if err != nil {
		return Step{}, fmt.Errorf("get or create step %s/%s: %w", instanceID, nodeID, err)
	}
	return s.GetStep(ctx, instanceID, nodeID)
}

// GetStep fetches one step row.
func (s *Store) GetStep(ctx context.Context, instanceID, nodeID string) (Step, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT instance_id, node_id, status, attempts, last_error, output, created_at, updated_at
		FROM workflow_steps WHERE instance_id = ? AND node_id = ?
	`, instanceID, nodeID)
	step, err := scanStep(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Step{}, ErrNotFound
	}
	return step, err
}

// IncrementStepAttempts atomically bumps the attempt counter and returns
// the new value. The read happens inside the same transaction as the
// write so concurrent drift cannot under-report.
func (s *Store) IncrementStepAttempts(ctx context.Context, instanceID, nodeID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_steps SET attempts = attempts + 1, updated_at = ?
		WHERE instance_id = ? AND node_id = ?
	`, ms(time.Now()), instanceID, nodeID)
	if err != nil {
		return 0, fmt.Errorf("increment attempts %s/%s: %w", instanceID, nodeID, err)
	}

	var attempts int
	err = tx.QueryRowContext(ctx, `
		SELECT attempts FROM workflow_steps WHERE instance_id = ? AND node_id = ?
	`, instanceID, nodeID).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("increment attempts %s/%s: read back: %w", instanceID, nodeID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("increment attempts: commit: %w", err)
	}
	return attempts, nil
}

// UpdateStepSuccess marks a step succeeded, clearing any previous error
// and recording the optional output payload.
func (s *Store) UpdateStepSuccess(ctx context.Context, instanceID, nodeID string, output any) error {
	outJSON, err := marshalOutput(output)
	if err != nil {
		return fmt.Errorf("step success %s/%s: %w", instanceID, nodeID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = 'succeeded', last_error = NULL, output = ?, updated_at = ?
		WHERE instance_id = ? AND node_id = ?
	`, outJSON, ms(time.Now()), instanceID, nodeID)
	if err != nil {
		return fmt.Errorf("step success %s/%s: %w", instanceID, nodeID, err)
	}
	return nil
}

// UpdateStepError records a transient failure: the step stays pending
// with last_error set, eligible for retry.
func (s *Store) UpdateStepError(ctx context.Context, instanceID, nodeID, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_steps SET last_error = ?, updated_at = ?
		WHERE instance_id = ? AND node_id = ?
	`, lastError, ms(time.Now()), instanceID, nodeID)
	if err != nil {
		return fmt.Errorf("step error %s/%s: %w", instanceID, nodeID, err)
	}
	return nil
}

// UpdateStepFailed marks a step terminally failed after retry exhaustion.
func (s *Store) UpdateStepFailed(ctx context.Context, instanceID, nodeID, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_steps SET status = 'failed', last_error = ?, updated_at = ?
		WHERE instance_id = ? AND node_id = ?
	`, lastError, ms(time.Now()), instanceID, nodeID)
	if err != nil {
		return fmt.Errorf("step failed %s/%s: %w", instanceID, nodeID, err)
	}
	return nil
}

// StepsForInstance returns every step row for an instance keyed by
// effective node id.
func (s *Store) StepsForInstance(ctx context.Context, instanceID string) (map[string]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, node_id, status, attempts, last_error, output, created_at, updated_at
		FROM workflow_steps WHERE instance_id = ?
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("steps for instance %s: %w", instanceID, err)
	}
	defer rows.Close()

	steps := make(map[string]Step)
	for rows.Next() {
		step, err := scanStep(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("steps for instance %s: %w", instanceID, err)
		}
		steps[step.NodeID] = step
	}
	return steps, rows.Err()
}

func scanStep(scan func(dest ...any) error) (Step, error) {
	var step Step
	var status string
	var lastError, output sql.NullString
	var created, updated int64
	err := scan(&step.InstanceID, &step.NodeID, &status, &step.Attempts, &lastError, &output, &created, &updated)
	if err != nil {
		return Step{}, err
	}
	step.Status = StepStatus(status)
	if lastError.Valid {
		step.LastError = lastError.String
	}
	if output.Valid {
		out, err := unmarshalOutput(&output.String)
		if err != nil {
			return Step{}, err
		}
		step.Output = out
	}
	step.CreatedAt = time.UnixMilli(created).UTC()
	step.UpdatedAt = time.UnixMilli(updated).UTC()
	return step, nil
}
