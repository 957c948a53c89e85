// Package sync orchestrates one end-to-end synchronization run per account:
// delta drain, classification, conflict recording, transfer execution, and
// session bookkeeping. At most one run is active per account; state
// snapshots are pushed to subscribers through a broadcaster.
package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/skysync/skysync/internal/logging"
	"github.com/skysync/skysync/internal/remote"
	"github.com/skysync/skysync/internal/store"
	"github.com/skysync/skysync/internal/sync/classify"
	"github.com/skysync/skysync/internal/sync/delta"
	"github.com/skysync/skysync/internal/sync/executor"
	"github.com/skysync/skysync/internal/sync/progress"
	"github.com/skysync/skysync/internal/sync/scanner"
	"github.com/skysync/skysync/internal/types"
	"github.com/skysync/skysync/internal/utils"
)

// APIProvider builds the remote client for an account. Accounts may live on
// different remotes or credentials, so the engine never holds a single API.
type APIProvider interface {
	APIFor(ctx context.Context, account *store.Account) (remote.API, error)
}

// APIProviderFunc adapts a function to APIProvider.
type APIProviderFunc func(ctx context.Context, account *store.Account) (remote.API, error)

func (f APIProviderFunc) APIFor(ctx context.Context, account *store.Account) (remote.API, error) {
	return f(ctx, account)
}

type Engine struct {
	db       *store.DB
	provider APIProvider
	logger   logging.Logger

	mu      stdsync.Mutex
	running map[string]bool
	casts   map[string]*progress.Broadcaster
}

func NewEngine(db *store.DB, provider APIProvider, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Engine{
		db:       db,
		provider: provider,
		logger:   logger,
		running:  make(map[string]bool),
		casts:    make(map[string]*progress.Broadcaster),
	}
}

// Subscribe returns a live feed of state snapshots for the account. The
// cancel func must be called when the subscriber is done.
func (e *Engine) Subscribe(accountID string) (<-chan types.SyncState, func()) {
	return e.broadcaster(accountID).Subscribe()
}

// State returns the latest published snapshot for the account, and whether
// any run has published one yet.
func (e *Engine) State(accountID string) (types.SyncState, bool) {
	return e.broadcaster(accountID).Last()
}

// Running reports whether a run is currently active for the account.
func (e *Engine) Running(accountID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running[accountID]
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cast := range e.casts {
		cast.Close()
	}
	e.casts = make(map[string]*progress.Broadcaster)
}

func (e *Engine) broadcaster(accountID string) *progress.Broadcaster {
	e.mu.Lock()
	defer e.mu.Unlock()
	cast, ok := e.casts[accountID]
	if !ok {
		cast = progress.NewBroadcaster()
		e.casts[accountID] = cast
	}
	return cast
}

// Run executes one synchronization run for the account identified by its
// hashed id. A second Run for the same account while one is in flight is
// rejected with SYNC_IN_PROGRESS. Cancellation through ctx ends the run in
// the Paused state and is not reported as an error.
func (e *Engine) Run(ctx context.Context, accountID string) (*store.Session, error) {
	account, err := e.db.GetAccount(ctx, accountID)
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeAccountNotFound) {
			e.publishStatus(accountID, types.StatusFailed, "account not found")
		}
		return nil, err
	}

	e.mu.Lock()
	if e.running[accountID] {
		e.mu.Unlock()
		return nil, utils.NewSyncError(utils.ErrCodeSyncInProgress, "a sync run is already active for this account").
			WithContext("account", accountID).Build()
	}
	e.running[accountID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, accountID)
		e.mu.Unlock()
	}()

	sessionID := uuid.NewString()
	r := &run{
		db:      e.db,
		account: account,
		logger:  e.logger.WithTraceID(sessionID),
		cast:    e.broadcaster(accountID),
		state: types.SyncState{
			AccountID: accountID,
			StartedAt: time.Now(),
		},
	}

	api, err := e.provider.APIFor(ctx, account)
	if err != nil {
		r.setStatus(types.StatusFailed, "remote client unavailable")
		return nil, err
	}
	r.api = api

	return r.execute(ctx, sessionID)
}

func (e *Engine) publishStatus(accountID string, status types.SyncStatus, activity string) {
	e.broadcaster(accountID).Publish(types.SyncState{
		AccountID:       accountID,
		Status:          status,
		CurrentActivity: activity,
		UpdatedAt:       time.Now(),
	})
}

// run carries the per-run state. All counter mutation goes through publish.
type run struct {
	db      *store.DB
	api     remote.API
	account *store.Account
	logger  logging.Logger
	cast    *progress.Broadcaster
	session *store.Session

	mu    stdsync.Mutex
	state types.SyncState
}

// plan is the classified work for one run, built while draining the delta
// feed and completed by the local-only pass.
type plan struct {
	uploads   []executor.Task
	downloads []executor.Task
	deletes   []executor.Task
	conflicts []*store.Conflict
	mkdirs    []string

	// pendingRemote keeps the remote metadata a queued download was derived
	// from, so the index advances to exactly that version on completion.
	pendingRemote map[string]*remote.Item
	// seen marks local paths already matched against a delta item.
	seen map[string]bool
}

func newPlan() *plan {
	return &plan{
		pendingRemote: make(map[string]*remote.Item),
		seen:          make(map[string]bool),
	}
}

func (p *plan) totalItems() int {
	return len(p.uploads) + len(p.downloads) + len(p.deletes)
}

func (p *plan) totalBytes() int64 {
	var total int64
	for _, t := range p.uploads {
		total += t.Size
	}
	for _, t := range p.downloads {
		total += t.Size
	}
	return total
}

func (r *run) execute(ctx context.Context, sessionID string) (*store.Session, error) {
	r.setStatus(types.StatusQueued, "queued")

	r.session = &store.Session{
		ID:        sessionID,
		AccountID: r.account.HashedID,
		StartedAt: time.Now(),
		Status:    store.SessionStatusRunning,
	}
	if err := r.db.CreateSession(ctx, r.session); err != nil {
		r.setStatus(types.StatusFailed, "session bookkeeping failed")
		return nil, err
	}

	cursor := ""
	if row, err := r.db.GetCursor(ctx, r.account.HashedID); err != nil {
		return r.fail(ctx, err)
	} else if row != nil {
		cursor = row.Cursor
	}
	if cursor == "" {
		r.setStatus(types.StatusInitialDeltaSync, "full reconciliation")
	} else {
		r.setStatus(types.StatusIncrementalDeltaSync, "reading delta feed")
	}

	locals, err := r.scanLocal(ctx)
	if err != nil {
		return r.finish(ctx, err)
	}

	reader := delta.NewReader(r.api, r.logger)
	p := newPlan()
	newCursor, err := reader.Pages(ctx, cursor, func(items []remote.Item) error {
		return r.applyPage(ctx, items, locals, p)
	})
	if utils.IsCode(err, utils.ErrCodeCursorExpired) {
		// Stale cursor: drop it and reconcile from scratch within this run.
		r.logger.Warn("delta cursor expired, restarting full reconciliation",
			logging.F("account", r.account.HashedID))
		if ierr := r.db.InvalidateCursor(ctx, r.account.HashedID); ierr != nil {
			return r.fail(ctx, ierr)
		}
		r.setStatus(types.StatusInitialDeltaSync, "full reconciliation")
		p = newPlan()
		newCursor, err = reader.Pages(ctx, "", func(items []remote.Item) error {
			return r.applyPage(ctx, items, locals, p)
		})
	}
	if err != nil {
		return r.finish(ctx, err)
	}
	if newCursor != "" {
		if err := r.db.SaveCursor(ctx, r.account.HashedID, newCursor); err != nil {
			return r.fail(ctx, err)
		}
	}

	if err := r.queueLocalOnly(ctx, locals, p); err != nil {
		return r.finish(ctx, err)
	}

	r.publish(func(s *types.SyncState) {
		s.Status = types.StatusRunning
		s.TotalItems = p.totalItems()
		s.TotalBytes = p.totalBytes()
		s.CurrentActivity = "transferring"
	})

	if err := r.recordConflicts(ctx, p); err != nil {
		return r.fail(ctx, err)
	}

	for _, rel := range p.mkdirs {
		if err := os.MkdirAll(r.abs(rel), 0700); err != nil {
			r.logger.Warn("mkdir failed", logging.F("path", rel), logging.F("error", err.Error()))
		}
	}

	r.applyDeletes(ctx, p)

	exec := executor.New(r.api, r.logger)
	exec.ExecuteDownloads(ctx, p.downloads, r.account.MaxParallel,
		r.downloadResult(ctx, p), r.transferProgress(true))
	exec.ExecuteUploads(ctx, p.uploads, r.account.MaxParallel,
		r.uploadResult(ctx, locals), r.transferProgress(false))

	return r.finish(ctx, nil)
}

// finish closes out the run: Paused on cancellation, Failed on a structural
// error, Completed otherwise. The session row is finalized before the state
// leaves Running; unresolved conflicts never block completion.
func (r *run) finish(ctx context.Context, err error) (*store.Session, error) {
	cancelled := ctx.Err() != nil || errors.Is(err, context.Canceled) ||
		utils.IsCode(err, utils.ErrCodeCancelled)

	switch {
	case cancelled:
		r.finalizeSession(store.SessionStatusPaused)
		r.setStatus(types.StatusPaused, "paused")
		return r.session, nil
	case err != nil:
		return r.fail(ctx, err)
	default:
		r.finalizeSession(store.SessionStatusSuccess)
		r.setStatus(types.StatusCompleted, "completed")
		return r.session, nil
	}
}

func (r *run) fail(ctx context.Context, err error) (*store.Session, error) {
	r.finalizeSession(store.SessionStatusFailure)
	r.setStatus(types.StatusFailed, err.Error())
	return r.session, err
}

func (r *run) finalizeSession(status string) {
	if r.session == nil {
		return
	}
	now := time.Now()
	r.session.EndedAt = &now
	r.session.Status = status
	// Bookkeeping uses a fresh context so a cancelled run still records its
	// terminal row.
	if err := r.db.FinalizeSession(context.Background(), r.session); err != nil {
		r.logger.Error("failed to finalize session",
			logging.F("session", r.session.ID), logging.F("error", err.Error()))
	}
}

func (r *run) scanLocal(ctx context.Context) (map[string]scanner.LocalEntry, error) {
	records, err := r.db.ListItems(ctx, r.account.HashedID)
	if err != nil {
		return nil, err
	}
	hints := make(map[string]scanner.HashHint, len(records))
	for _, rec := range records {
		if rec.LocalHash == "" {
			continue
		}
		hints[rec.Path] = scanner.HashHint{Size: rec.Size, ModTime: rec.ModifiedAt, Hash: rec.LocalHash}
	}
	return scanner.EnumerateTree(ctx, r.account.LocalRoot, hints)
}

// applyPage classifies one delta page against the index and local tree,
// queues the resulting work, and upserts the page's records in a single
// transaction. The caller advances the cursor only after every page applied
// cleanly.
func (r *run) applyPage(ctx context.Context, items []remote.Item, locals map[string]scanner.LocalEntry, p *plan) error {
	records := make([]*store.ItemRecord, 0, len(items))

	for i := range items {
		item := &items[i]

		entry, err := r.db.GetItemByRemoteID(ctx, r.account.HashedID, item.ID)
		if err != nil {
			return err
		}
		// Tombstones from some remotes carry only the id; recover the path
		// from the index so the local copy can be matched.
		if item.Deleted && item.Path == "" && entry != nil {
			item.Path = entry.Path
		}
		var local *scanner.LocalEntry
		if le, ok := locals[item.Path]; ok {
			copied := le
			local = &copied
			p.seen[item.Path] = true
		}

		action := classify.Classify(classify.Input{
			Entry:   entry,
			Remote:  item,
			Local:   local,
			InScope: true,
		})

		switch action {
		case classify.ActionNone:
			if item.Deleted {
				// Tombstone for something we never had locally; retire the
				// index row if one exists.
				if entry != nil {
					if err := r.db.MarkItemDeleted(ctx, r.account.HashedID, item.ID); err != nil {
						return err
					}
				}
				continue
			}
			rec := r.mergeRecord(entry, item)
			rec.ETag = item.ETag
			rec.Status = store.ItemStatusSynced
			if local != nil {
				rec.LocalHash = local.Hash
			}
			records = append(records, rec)

		case classify.ActionDownload:
			rec := r.mergeRecord(entry, item)
			if item.IsFolder {
				rec.ETag = item.ETag
				rec.Status = store.ItemStatusSynced
				p.mkdirs = append(p.mkdirs, item.Path)
			} else {
				// The reconciled tag advances only when the content lands.
				rec.Status = store.ItemStatusPending
				copied := *item
				p.pendingRemote[item.ID] = &copied
				p.downloads = append(p.downloads, executor.Task{
					RemoteID:  item.ID,
					Path:      item.Path,
					LocalPath: r.abs(item.Path),
					Size:      item.Size,
				})
			}
			records = append(records, rec)

		case classify.ActionUpload:
			rec := r.mergeRecord(entry, item)
			rec.Status = store.ItemStatusPending
			records = append(records, rec)
			p.uploads = append(p.uploads, executor.Task{
				RemoteID:  item.ID,
				Path:      item.Path,
				LocalPath: r.abs(item.Path),
				Size:      local.Size,
			})

		case classify.ActionDelete:
			p.deletes = append(p.deletes, executor.Task{
				RemoteID:  item.ID,
				Path:      item.Path,
				LocalPath: r.abs(item.Path),
			})

		case classify.ActionConflict:
			if !item.Deleted {
				rec := r.mergeRecord(entry, item)
				rec.Status = store.ItemStatusPending
				records = append(records, rec)
			}
			conflict := &store.Conflict{
				AccountID:        r.account.HashedID,
				Path:             item.Path,
				RemoteModifiedAt: item.ModifiedAt,
				RemoteSize:       item.Size,
			}
			if local != nil {
				conflict.LocalModifiedAt = local.ModTime
				conflict.LocalSize = local.Size
			}
			p.conflicts = append(p.conflicts, conflict)
		}
	}

	if len(records) == 0 {
		return nil
	}
	return r.db.UpsertItems(ctx, records)
}

// queueLocalOnly picks up local files the delta feed had nothing to say
// about: new files under the root and locally edited files whose remote is
// unchanged. Local deletions are never propagated to the remote.
func (r *run) queueLocalOnly(ctx context.Context, locals map[string]scanner.LocalEntry, p *plan) error {
	for path, le := range locals {
		if p.seen[path] || le.IsDir {
			continue
		}
		entry, err := r.db.GetItemByPath(ctx, r.account.HashedID, path)
		if err != nil {
			return err
		}
		local := le
		action := classify.Classify(classify.Input{
			Entry:   entry,
			Local:   &local,
			InScope: true,
		})
		if action != classify.ActionUpload {
			continue
		}
		remoteID := ""
		if entry != nil {
			remoteID = entry.RemoteID
		}
		p.uploads = append(p.uploads, executor.Task{
			RemoteID:  remoteID,
			Path:      path,
			LocalPath: le.AbsPath,
			Size:      le.Size,
		})
	}
	return nil
}

// recordConflicts persists newly detected conflicts; a path with an open
// conflict from an earlier run is not duplicated.
func (r *run) recordConflicts(ctx context.Context, p *plan) error {
	open, err := r.db.ListUnresolvedConflicts(ctx, r.account.HashedID)
	if err != nil {
		return err
	}
	openPaths := make(map[string]bool, len(open))
	for _, c := range open {
		openPaths[c.Path] = true
	}

	total := 0
	for _, conflict := range p.conflicts {
		total++
		if openPaths[conflict.Path] {
			continue
		}
		if err := r.db.CreateConflict(ctx, conflict); err != nil {
			return err
		}
		r.appendOp(ctx, store.OpConflictDetected, conflict.Path, conflict.RemoteSize, true, "")
		r.session.ConflictsDetected++
	}
	if total > 0 {
		r.publish(func(s *types.SyncState) { s.ConflictsFound = total })
	}
	return nil
}

// applyDeletes propagates remote tombstones to the local tree.
func (r *run) applyDeletes(ctx context.Context, p *plan) {
	for _, task := range p.deletes {
		if ctx.Err() != nil {
			return
		}
		if err := os.Remove(task.LocalPath); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("local delete failed",
				logging.F("path", task.Path), logging.F("error", err.Error()))
			r.appendOp(ctx, store.OpDeleteLocal, task.Path, 0, false, err.Error())
			r.publish(func(s *types.SyncState) { s.FailedItems++ })
			continue
		}
		if err := r.db.MarkItemDeleted(ctx, r.account.HashedID, task.RemoteID); err != nil {
			r.logger.Warn("index delete failed",
				logging.F("path", task.Path), logging.F("error", err.Error()))
		}
		r.appendOp(ctx, store.OpDeleteLocal, task.Path, 0, true, "")
		r.session.DeletedFiles++
		r.publish(func(s *types.SyncState) { s.CompletedItems++ })
	}
}

// downloadResult reconciles the index after each finished download,
// verifying the content hash against the remote checksum when one exists.
func (r *run) downloadResult(ctx context.Context, p *plan) func(executor.Result) {
	return func(res executor.Result) {
		if res.Err != nil {
			r.appendOp(ctx, store.OpTransferFailed, res.Task.Path, res.Task.Size, false, res.Err.Error())
			r.publish(func(s *types.SyncState) { s.FailedItems++ })
			return
		}

		pending := p.pendingRemote[res.Task.RemoteID]
		hash, err := scanner.ComputeHash(res.Task.LocalPath)
		if err != nil {
			r.appendOp(ctx, store.OpTransferFailed, res.Task.Path, res.Task.Size, false, err.Error())
			r.publish(func(s *types.SyncState) { s.FailedItems++ })
			return
		}
		if pending != nil && pending.ContentHash != "" && hash != pending.ContentHash {
			r.appendOp(ctx, store.OpHashMismatch, res.Task.Path, res.Task.Size, false,
				"downloaded content does not match remote checksum")
			r.markItemError(ctx, res.Task.RemoteID)
			r.publish(func(s *types.SyncState) { s.FailedItems++ })
			return
		}

		if pending != nil && !pending.ModifiedAt.IsZero() {
			if err := os.Chtimes(res.Task.LocalPath, pending.ModifiedAt, pending.ModifiedAt); err != nil {
				r.logger.Warn("failed to restore mtime",
					logging.F("path", res.Task.Path), logging.F("error", err.Error()))
			}
		}

		entry, err := r.db.GetItemByRemoteID(ctx, r.account.HashedID, res.Task.RemoteID)
		if err == nil && entry != nil && pending != nil {
			entry.ETag = pending.ETag
			entry.CTag = pending.CTag
			entry.LocalHash = hash
			entry.RemoteHash = pending.ContentHash
			entry.Status = store.ItemStatusSynced
			entry.LastDirection = types.DirectionDownload
			if err := r.db.UpsertItem(ctx, entry); err != nil {
				r.logger.Warn("index update failed",
					logging.F("path", res.Task.Path), logging.F("error", err.Error()))
			}
		}

		r.appendOp(ctx, store.OpDownload, res.Task.Path, res.Task.Size, true, "")
		// Session counters share the state lock; result handlers run on
		// executor workers.
		r.publish(func(s *types.SyncState) {
			r.session.Downloaded++
			r.session.BytesTransferred += res.Task.Size
			s.CompletedItems++
			s.CompletedBytes += res.Task.Size
		})
	}
}

// uploadResult reconciles the index after each finished upload using the
// remote item the upload produced.
func (r *run) uploadResult(ctx context.Context, locals map[string]scanner.LocalEntry) func(executor.Result) {
	return func(res executor.Result) {
		if res.Err != nil {
			r.appendOp(ctx, store.OpTransferFailed, res.Task.Path, res.Task.Size, false, res.Err.Error())
			r.publish(func(s *types.SyncState) { s.FailedItems++ })
			return
		}

		item := res.RemoteItem
		entry, err := r.db.GetItemByPath(ctx, r.account.HashedID, res.Task.Path)
		if err == nil {
			if entry == nil {
				entry = &store.ItemRecord{
					AccountID: r.account.HashedID,
					Path:      res.Task.Path,
					LocalPath: res.Task.Path,
					Selected:  true,
				}
			}
			if item != nil {
				entry.RemoteID = item.ID
				entry.ETag = item.ETag
				entry.CTag = item.CTag
				entry.RemoteHash = item.ContentHash
			}
			if le, ok := locals[res.Task.Path]; ok {
				entry.LocalHash = le.Hash
				entry.Size = le.Size
				entry.ModifiedAt = le.ModTime
			}
			entry.Status = store.ItemStatusSynced
			entry.LastDirection = types.DirectionUpload
			if err := r.db.UpsertItem(ctx, entry); err != nil {
				r.logger.Warn("index update failed",
					logging.F("path", res.Task.Path), logging.F("error", err.Error()))
			}
		}

		r.appendOp(ctx, store.OpUpload, res.Task.Path, res.Task.Size, true, "")
		r.publish(func(s *types.SyncState) {
			r.session.Uploaded++
			r.session.BytesTransferred += res.Task.Size
			s.CompletedItems++
			s.CompletedBytes += res.Task.Size
		})
	}
}

// transferProgress feeds executor throughput into the live snapshot. Item
// counters are owned by the result handlers; only rate and in-flight data
// come from here.
func (r *run) transferProgress(download bool) func(executor.Progress) {
	return func(pr executor.Progress) {
		r.publish(func(s *types.SyncState) {
			s.BytesPerSecond = pr.BytesPerSecond
			if download {
				s.DownloadsInFlight = pr.InFlight
				s.CurrentActivity = "downloading " + pr.CurrentPath
			} else {
				s.UploadsInFlight = pr.InFlight
				s.CurrentActivity = "uploading " + pr.CurrentPath
			}
		})
	}
}

func (r *run) appendOp(ctx context.Context, kind, path string, size int64, success bool, detail string) {
	op := &store.Operation{
		SessionID: r.session.ID,
		Timestamp: time.Now(),
		Kind:      kind,
		Path:      path,
		Size:      size,
		Success:   success,
		Detail:    detail,
	}
	// The audit log is best-effort; a failed append never fails the run.
	if err := r.db.AppendOperation(ctx, op); err != nil {
		r.logger.Warn("failed to append operation",
			logging.F("kind", kind), logging.F("path", path), logging.F("error", err.Error()))
	}
}

func (r *run) markItemError(ctx context.Context, remoteID string) {
	entry, err := r.db.GetItemByRemoteID(ctx, r.account.HashedID, remoteID)
	if err != nil || entry == nil {
		return
	}
	entry.Status = store.ItemStatusError
	if err := r.db.UpsertItem(ctx, entry); err != nil {
		r.logger.Warn("index update failed", logging.F("error", err.Error()))
	}
}

func (r *run) mergeRecord(entry *store.ItemRecord, item *remote.Item) *store.ItemRecord {
	rec := &store.ItemRecord{
		AccountID: r.account.HashedID,
		RemoteID:  item.ID,
		Selected:  true,
	}
	if entry != nil {
		copied := *entry
		rec = &copied
	}
	rec.Path = item.Path
	rec.LocalPath = item.Path
	rec.Size = item.Size
	rec.ModifiedAt = item.ModifiedAt
	rec.IsFolder = item.IsFolder
	rec.CTag = item.CTag
	rec.RemoteHash = item.ContentHash
	rec.Deleted = false
	return rec
}

func (r *run) abs(relPath string) string {
	return filepath.Join(r.account.LocalRoot, filepath.FromSlash(relPath))
}

func (r *run) setStatus(status types.SyncStatus, activity string) {
	r.publish(func(s *types.SyncState) {
		s.Status = status
		s.CurrentActivity = activity
	})
}

func (r *run) publish(mutate func(*types.SyncState)) {
	r.mu.Lock()
	mutate(&r.state)
	r.state.UpdatedAt = time.Now()
	if r.state.BytesPerSecond > 0 && r.state.TotalBytes > r.state.CompletedBytes {
		remaining := float64(r.state.TotalBytes - r.state.CompletedBytes)
		r.state.ETA = time.Duration(remaining / r.state.BytesPerSecond * float64(time.Second))
	} else {
		r.state.ETA = 0
	}
	snapshot := r.state
	r.mu.Unlock()
	r.cast.Publish(snapshot)
}
