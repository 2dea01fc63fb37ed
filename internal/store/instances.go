package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateInstance creates a runnable instance of a definition with the
// caller-supplied initial blackboard, scheduled to run at now.
func (s *Store) CreateInstance(ctx context.Context, definitionID string, blackboard map[string]any, now time.Time) (Instance, error) {
	bbJSON, err := marshalBlackboard(blackboard)
	if err != nil {
		return Instance{}, fmt.Errorf("create instance: %w", err)
	}

	id := uuid.NewString()
	stamp := ms(now)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances
		(id, definition_id, status, blackboard, next_run_at, created_at, updated_at)
		VALUES (?, ?, 'runnable', ?, ?, ?, ?)
	`, id, definitionID, bbJSON, ms(now), stamp, stamp)
	if err != nil {
		return Instance{}, fmt.Errorf("create instance: %w", err)
	}

	return s.GetInstance(ctx, id)
}

// GetInstance fetches one instance by id.
func (s *Store) GetInstance(ctx context.Context, id string) (Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, definition_id, status, blackboard, next_run_at, lease_owner, lease_until, created_at, updated_at
		FROM workflow_instances WHERE id = ?
	`, id)
	inst, err := scanInstance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Instance{}, ErrNotFound
	}
	return inst, err
}

// ListInstances returns all instances, newest first.
func (s *Store) ListInstances(ctx context.Context) ([]Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, definition_id, status, blackboard, next_run_at, lease_owner, lease_until, created_at, updated_at
		FROM workflow_instances ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var insts []Instance
	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}
	return insts, rows.Err()
}

// DeleteInstance removes an instance; its steps cascade.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimNext atomically claims the most overdue runnable instance whose
// lease is absent or expired, stamping the worker's lease. Returns nil
// when nothing is claimable.
//
// This is the skip-locked emulation: the candidate SELECT and the guarded
// UPDATE run in one transaction, and the UPDATE re-checks the claim
// predicate so a row claimed by a racing worker is simply not updated.
func (s *Store) ClaimNext(ctx context.Context, workerID string, leaseFor time.Duration, now time.Time) (*Instance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim next: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	nowMS := ms(now)
	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM workflow_instances
		WHERE status = 'runnable'
		  AND next_run_at IS NOT NULL AND next_run_at <= ?
		  AND (lease_until IS NULL OR lease_until < ?)
		ORDER BY next_run_at ASC
		LIMIT 1
	`, nowMS, nowMS).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next: select candidate: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_instances
		SET lease_owner = ?, lease_until = ?, updated_at = ?
		WHERE id = ? AND status = 'runnable'
		  AND (lease_until IS NULL OR lease_until < ?)
	`, workerID, ms(now.Add(leaseFor)), nowMS, id, nowMS)
	if err != nil {
		return nil, fmt.Errorf("claim next: stamp lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim next: rows affected: %w", err)
	}
	if n == 0 {
		// Lost the race to another worker; treat as nothing claimable
		// this pass rather than retrying inside the transaction.
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, definition_id, status, blackboard, next_run_at, lease_owner, lease_until, created_at, updated_at
		FROM workflow_instances WHERE id = ?
	`, id)
	inst, err := scanInstance(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("claim next: read claimed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim next: commit: %w", err)
	}
	return &inst, nil
}

// UpdateInstanceBlackboard persists a new blackboard document.
func (s *Store) UpdateInstanceBlackboard(ctx context.Context, id string, blackboard map[string]any) error {
	bbJSON, err := marshalBlackboard(blackboard)
	if err != nil {
		return fmt.Errorf("update blackboard %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_instances SET blackboard = ?, updated_at = ? WHERE id = ?
	`, bbJSON, ms(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update blackboard %s: %w", id, err)
	}
	return nil
}

// UpdateInstanceStatus sets the instance status and schedule, clearing
// the lease as part of the same write.
//
// nextRunAt may be nil only for terminal statuses: a NULL schedule never
// matches the claim query, so a runnable row with a NULL next_run_at
// would sleep forever.
func (s *Store) UpdateInstanceStatus(ctx context.Context, id string, status InstanceStatus, nextRunAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET status = ?, next_run_at = ?, lease_owner = NULL, lease_until = NULL, updated_at = ?
		WHERE id = ?
	`, string(status), msPtr(nextRunAt), ms(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update instance status %s: %w", id, err)
	}
	return nil
}

// ReleaseInstanceLease clears the lease without touching status or
// schedule. Used when a worker discovers mid-lease that there is nothing
// for it to do.
func (s *Store) ReleaseInstanceLease(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET lease_owner = NULL, lease_until = NULL, updated_at = ?
		WHERE id = ?
	`, ms(time.Now()), id)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", id, err)
	}
	return nil
}

// NextRunTime returns the earliest next_run_at over runnable instances,
// or nil when none are runnable. Used for idle pacing.
func (s *Store) NextRunTime(ctx context.Context) (*time.Time, error) {
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(next_run_at) FROM workflow_instances
		WHERE status = 'runnable' AND next_run_at IS NOT NULL
	`).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next run time: %w", err)
	}
	return fromMS(next), nil
}

// ResetInstance re-opens an instance: status runnable, scheduled now,
// lease cleared, and every step back to pending with zero attempts.
// One transaction, so a crash mid-reset leaves the old state intact.
func (s *Store) ResetInstance(ctx context.Context, id string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset instance %s: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	nowMS := ms(now)
	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_instances
		SET status = 'runnable', next_run_at = ?, lease_owner = NULL, lease_until = NULL, updated_at = ?
		WHERE id = ?
	`, nowMS, nowMS, id)
	if err != nil {
		return fmt.Errorf("reset instance %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset instance %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = 'pending', attempts = 0, last_error = NULL, output = NULL, updated_at = ?
		WHERE instance_id = ?
	`, nowMS, id)
	if err != nil {
		return fmt.Errorf("reset instance %s: reset steps: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset instance %s: commit: %w", id, err)
	}
	return nil
}

func scanInstance(scan func(dest ...any) error) (Instance, error) {
	var inst Instance
	var status, bbJSON string
	var nextRun, leaseUntil sql.NullInt64
	var leaseOwner sql.NullString
	var created, updated int64
	err := scan(&inst.ID, &inst.DefinitionID, &status, &bbJSON, &nextRun, &leaseOwner, &leaseUntil, &created, &updated)
	if err != nil {
		return Instance{}, err
	}
	inst.Status = InstanceStatus(status)
	bb, err := unmarshalBlackboard(bbJSON)
	if err != nil {
		return Instance{}, fmt.Errorf("scan instance %s: %w", inst.ID, err)
	}
	inst.Blackboard = bb
	inst.NextRunAt = fromMS(nextRun)
	if leaseOwner.Valid {
		inst.LeaseOwner = &leaseOwner.String
	}
	inst.LeaseUntil = fromMS(leaseUntil)
	inst.CreatedAt = time.UnixMilli(created).UTC()
	inst.UpdatedAt = time.UnixMilli(updated).UTC()
	return inst, nil
}
