package store

import (
	"context"
	"database/sql"
	"time"
)

// GetCursor returns the stored delta cursor for an account, or nil when
// absent. An absent cursor forces the next run into full reconciliation.
func (d *DB) GetCursor(ctx context.Context, accountID string) (*DeltaCursor, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT account_id, cursor, updated_at FROM delta_cursors WHERE account_id = ?
	`, accountID)
	var cursor DeltaCursor
	var updatedAt int64
	err := row.Scan(&cursor.AccountID, &cursor.Cursor, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cursor.UpdatedAt = time.Unix(updatedAt, 0)
	return &cursor, nil
}

// SaveCursor replaces the account's cursor atomically. Callers only invoke
// this after the corresponding page's items are durably in the index.
func (d *DB) SaveCursor(ctx context.Context, accountID, cursor string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO delta_cursors (account_id, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET cursor=excluded.cursor, updated_at=excluded.updated_at
	`, accountID, cursor, time.Now().Unix())
	return err
}

// InvalidateCursor removes the stored cursor after the remote reports it
// expired.
func (d *DB) InvalidateCursor(ctx context.Context, accountID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM delta_cursors WHERE account_id = ?`, accountID)
	return err
}
