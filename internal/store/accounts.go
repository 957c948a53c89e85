package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/skysync/skysync/internal/utils"
)

const accountColumns = `hashed_id, raw_id, display_name, local_root, authenticated, verbose_logging,
	debug_logging, max_parallel, max_batch_size, auto_sync_interval_min, created_at, updated_at`

// AddAccount inserts a new account. The hashed identifier is derived from
// the raw one when unset, and the transfer/batch/interval settings are
// clamped to their allowed ranges.
func (d *DB) AddAccount(ctx context.Context, account *Account) error {
	if account.HashedID == "" {
		account.HashedID = utils.HashAccountID(account.ID)
	}
	normalizeAccount(account)
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, account.HashedID, account.ID, account.DisplayName, account.LocalRoot,
		boolToInt(account.Authenticated), boolToInt(account.VerboseLogging), boolToInt(account.DebugLogging),
		account.MaxParallel, account.MaxBatchSize, account.AutoSyncIntervalMin,
		account.CreatedAt.Unix(), account.UpdatedAt.Unix())
	if err != nil {
		return utils.NewSyncError(utils.ErrCodeStoreError, "adding account").WithCause(err).Build()
	}
	return nil
}

// UpdateAccount persists settings changes. Missing rows surface as
// ACCOUNT_NOT_FOUND.
func (d *DB) UpdateAccount(ctx context.Context, account *Account) error {
	normalizeAccount(account)
	account.UpdatedAt = time.Now()

	result, err := d.db.ExecContext(ctx, `
		UPDATE accounts SET display_name = ?, local_root = ?, authenticated = ?, verbose_logging = ?,
			debug_logging = ?, max_parallel = ?, max_batch_size = ?, auto_sync_interval_min = ?, updated_at = ?
		WHERE hashed_id = ?
	`, account.DisplayName, account.LocalRoot, boolToInt(account.Authenticated),
		boolToInt(account.VerboseLogging), boolToInt(account.DebugLogging),
		account.MaxParallel, account.MaxBatchSize, account.AutoSyncIntervalMin,
		account.UpdatedAt.Unix(), account.HashedID)
	if err != nil {
		return utils.NewSyncError(utils.ErrCodeStoreError, "updating account").WithCause(err).Build()
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return utils.NewSyncError(utils.ErrCodeAccountNotFound, "account not found").
			WithContext("account", account.HashedID).Build()
	}
	return nil
}

// GetAccount retrieves an account by hashed identifier.
func (d *DB) GetAccount(ctx context.Context, hashedID string) (*Account, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE hashed_id = ?
	`, hashedID)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, utils.NewSyncError(utils.ErrCodeAccountNotFound, "account not found").
			WithContext("account", hashedID).Build()
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccounts returns all configured accounts.
func (d *DB) ListAccounts(ctx context.Context) (accounts []*Account, err error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account and cascades to every per-account
// record: items, conflicts, sessions, operation log, delta cursor.
func (d *DB) DeleteAccount(ctx context.Context, hashedID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	statements := []string{
		`DELETE FROM operations WHERE session_id IN (SELECT id FROM sessions WHERE account_id = ?)`,
		`DELETE FROM sessions WHERE account_id = ?`,
		`DELETE FROM conflicts WHERE account_id = ?`,
		`DELETE FROM items WHERE account_id = ?`,
		`DELETE FROM delta_cursors WHERE account_id = ?`,
		`DELETE FROM accounts WHERE hashed_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, hashedID); err != nil {
			_ = tx.Rollback()
			return utils.NewSyncError(utils.ErrCodeStoreError, "deleting account").WithCause(err).Build()
		}
	}
	return tx.Commit()
}

func normalizeAccount(account *Account) {
	if account.MaxParallel < 1 {
		account.MaxParallel = 1
	}
	if account.MaxParallel > 10 {
		account.MaxParallel = 10
	}
	if account.MaxBatchSize < 1 {
		account.MaxBatchSize = 1
	}
	if account.MaxBatchSize > 100 {
		account.MaxBatchSize = 100
	}
	if account.AutoSyncIntervalMin != 0 {
		if account.AutoSyncIntervalMin < 60 {
			account.AutoSyncIntervalMin = 60
		}
		if account.AutoSyncIntervalMin > 1440 {
			account.AutoSyncIntervalMin = 1440
		}
	}
}

func scanAccount(scanner interface {
	Scan(dest ...interface{}) error
}) (*Account, error) {
	var account Account
	var authenticated, verbose, debug int
	var createdAt, updatedAt int64
	err := scanner.Scan(&account.HashedID, &account.ID, &account.DisplayName, &account.LocalRoot,
		&authenticated, &verbose, &debug, &account.MaxParallel, &account.MaxBatchSize,
		&account.AutoSyncIntervalMin, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	account.Authenticated = authenticated != 0
	account.VerboseLogging = verbose != 0
	account.DebugLogging = debug != 0
	account.CreatedAt = time.Unix(createdAt, 0)
	account.UpdatedAt = time.Unix(updatedAt, 0)
	return &account, nil
}
