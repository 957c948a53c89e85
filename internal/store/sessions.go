package store

import (
	"context"
	"database/sql"
	"time"
)

// CreateSession opens a run's bookkeeping row with status running.
func (d *DB) CreateSession(ctx context.Context, session *Session) error {
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	if session.Status == "" {
		session.Status = SessionStatusRunning
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sessions (id, account_id, started_at, status)
		VALUES (?, ?, ?, ?)
	`, session.ID, session.AccountID, session.StartedAt.Unix(), session.Status)
	return err
}

// FinalizeSession writes the terminal status and aggregate counts. A
// session is finalized exactly once, before the run leaves Running.
func (d *DB) FinalizeSession(ctx context.Context, session *Session) error {
	now := time.Now()
	session.EndedAt = &now
	_, err := d.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, status = ?, uploaded = ?, downloaded = ?,
			deleted_files = ?, conflicts_detected = ?, bytes_transferred = ?
		WHERE id = ?
	`, now.Unix(), session.Status, session.Uploaded, session.Downloaded,
		session.DeletedFiles, session.ConflictsDetected, session.BytesTransferred, session.ID)
	return err
}

// AppendOperation adds one audit row to the session's operation log.
func (d *DB) AppendOperation(ctx context.Context, op *Operation) error {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO operations (session_id, timestamp, kind, path, size, success, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, op.SessionID, op.Timestamp.Unix(), op.Kind, op.Path, op.Size, boolToInt(op.Success), op.Detail)
	if err != nil {
		return err
	}
	op.ID, err = result.LastInsertId()
	return err
}

// ListSessions returns the most recent sessions for an account, newest first.
func (d *DB) ListSessions(ctx context.Context, accountID string, limit int) (sessions []*Session, err error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, account_id, started_at, ended_at, status, uploaded, downloaded,
			deleted_files, conflicts_detected, bytes_transferred
		FROM sessions WHERE account_id = ? ORDER BY started_at DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var session Session
		var startedAt int64
		var endedAt sql.NullInt64
		if err := rows.Scan(&session.ID, &session.AccountID, &startedAt, &endedAt, &session.Status,
			&session.Uploaded, &session.Downloaded, &session.DeletedFiles,
			&session.ConflictsDetected, &session.BytesTransferred); err != nil {
			return nil, err
		}
		session.StartedAt = time.Unix(startedAt, 0)
		if endedAt.Valid {
			ended := time.Unix(endedAt.Int64, 0)
			session.EndedAt = &ended
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// ListOperations returns the audit trail for one session in append order.
func (d *DB) ListOperations(ctx context.Context, sessionID string) (ops []*Operation, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, session_id, timestamp, kind, path, size, success, detail
		FROM operations WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var op Operation
		var ts int64
		var success int
		if err := rows.Scan(&op.ID, &op.SessionID, &ts, &op.Kind, &op.Path, &op.Size, &success, &op.Detail); err != nil {
			return nil, err
		}
		op.Timestamp = time.Unix(ts, 0)
		op.Success = success != 0
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}
