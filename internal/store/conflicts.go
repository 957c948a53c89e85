package store

import (
	"context"
	"database/sql"
	"time"
)

const conflictColumns = `id, account_id, path, local_modified_at, remote_modified_at,
	local_size, remote_size, detected_at, strategy, resolved`

// CreateConflict records a newly detected conflict and fills in its ID.
func (d *DB) CreateConflict(ctx context.Context, conflict *Conflict) error {
	if conflict.DetectedAt.IsZero() {
		conflict.DetectedAt = time.Now()
	}
	if conflict.Strategy == "" {
		conflict.Strategy = StrategyNone
	}
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO conflicts (account_id, path, local_modified_at, remote_modified_at,
			local_size, remote_size, detected_at, strategy, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, conflict.AccountID, conflict.Path, conflict.LocalModifiedAt.Unix(), conflict.RemoteModifiedAt.Unix(),
		conflict.LocalSize, conflict.RemoteSize, conflict.DetectedAt.Unix(),
		conflict.Strategy, boolToInt(conflict.Resolved))
	if err != nil {
		return err
	}
	conflict.ID, err = result.LastInsertId()
	return err
}

// GetConflict retrieves one conflict by ID, or nil.
func (d *DB) GetConflict(ctx context.Context, id int64) (*Conflict, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+conflictColumns+` FROM conflicts WHERE id = ?
	`, id)
	conflict, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conflict, nil
}

// ListUnresolvedConflicts returns the open conflicts for an account in
// detection order.
func (d *DB) ListUnresolvedConflicts(ctx context.Context, accountID string) (conflicts []*Conflict, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+conflictColumns+` FROM conflicts
		WHERE account_id = ? AND resolved = 0 ORDER BY detected_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, conflict)
	}
	return conflicts, rows.Err()
}

// ResolveConflict marks a conflict resolved with the strategy that closed it.
func (d *DB) ResolveConflict(ctx context.Context, id int64, strategy string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE conflicts SET resolved = 1, strategy = ? WHERE id = ?
	`, strategy, id)
	return err
}

func scanConflict(scanner interface {
	Scan(dest ...interface{}) error
}) (*Conflict, error) {
	var conflict Conflict
	var localMod, remoteMod, detected int64
	var resolved int
	err := scanner.Scan(&conflict.ID, &conflict.AccountID, &conflict.Path, &localMod, &remoteMod,
		&conflict.LocalSize, &conflict.RemoteSize, &detected, &conflict.Strategy, &resolved)
	if err != nil {
		return nil, err
	}
	conflict.LocalModifiedAt = time.Unix(localMod, 0)
	conflict.RemoteModifiedAt = time.Unix(remoteMod, 0)
	conflict.DetectedAt = time.Unix(detected, 0)
	conflict.Resolved = resolved != 0
	return &conflict, nil
}
