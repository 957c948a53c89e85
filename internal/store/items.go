package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/skysync/skysync/internal/types"
)

const itemColumns = `account_id, remote_id, path, etag, ctag, size, modified_at, is_folder, deleted,
	selected, local_path, local_hash, remote_hash, status, last_direction, updated_at`

const upsertItemSQL = `
	INSERT INTO items (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(account_id, remote_id) DO UPDATE SET
		path=excluded.path,
		etag=excluded.etag,
		ctag=excluded.ctag,
		size=excluded.size,
		modified_at=excluded.modified_at,
		is_folder=excluded.is_folder,
		deleted=excluded.deleted,
		selected=excluded.selected,
		local_path=excluded.local_path,
		local_hash=excluded.local_hash,
		remote_hash=excluded.remote_hash,
		status=excluded.status,
		last_direction=excluded.last_direction,
		updated_at=excluded.updated_at`

// A remote move can transiently put two live rows on one path: the moving
// item claims it before the old occupant's tombstone arrives. The path
// belongs to the row written last; earlier occupants are retired so the
// "path unique among non-deleted records" invariant holds at all times.
const retirePathSQL = `
	UPDATE items SET deleted = 1, updated_at = ?
	WHERE account_id = ? AND path = ? AND remote_id <> ? AND deleted = 0`

// UpsertItem writes one index row keyed by (account, remote id).
func (d *DB) UpsertItem(ctx context.Context, item *ItemRecord) error {
	item.UpdatedAt = time.Now()
	if _, err := d.db.ExecContext(ctx, upsertItemSQL, itemArgs(item)...); err != nil {
		return err
	}
	if item.Deleted {
		return nil
	}
	_, err := d.db.ExecContext(ctx, retirePathSQL,
		item.UpdatedAt.Unix(), item.AccountID, item.Path, item.RemoteID)
	return err
}

// UpsertItems applies a batch of index rows in a single transaction. Used
// for delta page application: either the whole page lands or none of it,
// which keeps the cursor-advance invariant simple.
func (d *DB) UpsertItems(ctx context.Context, items []*ItemRecord) (err error) {
	if len(items) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, upsertItemSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	now := time.Now()
	for _, item := range items {
		item.UpdatedAt = now
		if _, err := stmt.ExecContext(ctx, itemArgs(item)...); err != nil {
			_ = tx.Rollback()
			return err
		}
		if item.Deleted {
			continue
		}
		if _, err := tx.ExecContext(ctx, retirePathSQL,
			now.Unix(), item.AccountID, item.Path, item.RemoteID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetItemByPath finds the non-deleted index row for a path, or nil.
func (d *DB) GetItemByPath(ctx context.Context, accountID, path string) (*ItemRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE account_id = ? AND path = ? AND deleted = 0 LIMIT 1
	`, accountID, path)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetItemByRemoteID finds the index row for a remote id, or nil.
func (d *DB) GetItemByRemoteID(ctx context.Context, accountID, remoteID string) (*ItemRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE account_id = ? AND remote_id = ?
	`, accountID, remoteID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns every index row for an account, tombstones included.
func (d *DB) ListItems(ctx context.Context, accountID string) (items []*ItemRecord, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE account_id = ? ORDER BY path
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
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkItemDeleted soft-deletes the row so the tombstone can still propagate
// on later runs.
func (d *DB) MarkItemDeleted(ctx context.Context, accountID, remoteID string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE items SET deleted = 1, updated_at = ? WHERE account_id = ? AND remote_id = ?
	`, time.Now().Unix(), accountID, remoteID)
	return err
}

func itemArgs(item *ItemRecord) []interface{} {
	return []interface{}{
		item.AccountID, item.RemoteID, item.Path, item.ETag, item.CTag, item.Size,
		item.ModifiedAt.Unix(), boolToInt(item.IsFolder), boolToInt(item.Deleted),
		boolToInt(item.Selected), item.LocalPath, item.LocalHash, item.RemoteHash,
		item.Status, int(item.LastDirection), item.UpdatedAt.Unix(),
	}
}

func scanItem(scanner interface {
	Scan(dest ...interface{}) error
}) (*ItemRecord, error) {
	var item ItemRecord
	var isFolder, deleted, selected, direction int
	var modifiedAt, updatedAt int64
	err := scanner.Scan(&item.AccountID, &item.RemoteID, &item.Path, &item.ETag, &item.CTag,
		&item.Size, &modifiedAt, &isFolder, &deleted, &selected, &item.LocalPath,
		&item.LocalHash, &item.RemoteHash, &item.Status, &direction, &updatedAt)
	if err != nil {
		return nil, err
	}
	item.IsFolder = isFolder != 0
	item.Deleted = deleted != 0
	item.Selected = selected != 0
	item.LastDirection = types.Direction(direction)
	item.ModifiedAt = time.Unix(modifiedAt, 0)
	item.UpdatedAt = time.Unix(updatedAt, 0)
	return &item, nil
}
