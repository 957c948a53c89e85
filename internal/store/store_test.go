package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/skysync/skysync/internal/utils"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "skysync.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func addTestAccount(t *testing.T, db *DB, rawID string) *Account {
	t.Helper()
	account := &Account{
		ID:           rawID,
		DisplayName:  "Test Account",
		LocalRoot:    "/tmp/sync",
		MaxParallel:  3,
		MaxBatchSize: 50,
	}
	if err := db.AddAccount(context.Background(), account); err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}
	return account
}

func TestAccountRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	account := addTestAccount(t, db, "user@example.com")
	if account.HashedID == "" {
		t.Fatal("AddAccount should derive the hashed identifier")
	}
	if account.HashedID == account.ID {
		t.Error("hashed identifier must differ from the raw one")
	}

	got, err := db.GetAccount(ctx, account.HashedID)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.LocalRoot != "/tmp/sync" {
		t.Errorf("LocalRoot = %q", got.LocalRoot)
	}
	if got.MaxParallel != 3 {
		t.Errorf("MaxParallel = %d, want 3", got.MaxParallel)
	}
}

func TestAccountClamping(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	account := &Account{
		ID:                  "clamp@example.com",
		LocalRoot:           "/tmp/sync",
		MaxParallel:         99,
		MaxBatchSize:        0,
		AutoSyncIntervalMin: 5,
	}
	if err := db.AddAccount(ctx, account); err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}

	got, err := db.GetAccount(ctx, account.HashedID)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.MaxParallel != 10 {
		t.Errorf("MaxParallel = %d, want clamped to 10", got.MaxParallel)
	}
	if got.MaxBatchSize != 1 {
		t.Errorf("MaxBatchSize = %d, want clamped to 1", got.MaxBatchSize)
	}
	if got.AutoSyncIntervalMin != 60 {
		t.Errorf("AutoSyncIntervalMin = %d, want clamped to 60", got.AutoSyncIntervalMin)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetAccount(context.Background(), "missing")
	if !utils.IsCode(err, utils.ErrCodeAccountNotFound) {
		t.Errorf("expected ACCOUNT_NOT_FOUND, got %v", err)
	}
}

func TestItemUpsertIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	account := addTestAccount(t, db, "items@example.com")

	item := &ItemRecord{
		AccountID:  account.HashedID,
		RemoteID:   "r1",
		Path:       "docs/a.txt",
		ETag:       "e1",
		Size:       10,
		ModifiedAt: time.Now(),
		Selected:   true,
		Status:     ItemStatusSynced,
	}
	if err := db.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem() error = %v", err)
	}

	item.ETag = "e2"
	item.Size = 20
	if err := db.UpsertItem(ctx, item); err != nil {
		t.Fatalf("second UpsertItem() error = %v", err)
	}

	items, err := db.ListItems(ctx, account.HashedID)
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly one row per (account, remote id), got %d", len(items))
	}
	if items[0].ETag != "e2" || items[0].Size != 20 {
		t.Errorf("upsert did not replace fields: %+v", items[0])
	}
}

func TestItemSoftDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	account := addTestAccount(t, db, "tombstone@example.com")

	item := &ItemRecord{
		AccountID: account.HashedID,
		RemoteID:  "r1",
		Path:      "a.txt",
		Selected:  true,
	}
	if err := db.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem() error = %v", err)
	}
	if err := db.MarkItemDeleted(ctx, account.HashedID, "r1"); err != nil {
		t.Fatalf("MarkItemDeleted() error = %v", err)
	}

	byPath, err := db.GetItemByPath(ctx, account.HashedID, "a.txt")
	if err != nil {
		t.Fatalf("GetItemByPath() error = %v", err)
	}
	if byPath != nil {
		t.Error("GetItemByPath should not return tombstoned rows")
	}

	byID, err := db.GetItemByRemoteID(ctx, account.HashedID, "r1")
	if err != nil {
		t.Fatalf("GetItemByRemoteID() error = %v", err)
	}
	if byID == nil || !byID.Deleted {
		t.Error("tombstone should remain reachable by remote id")
	}
}

func TestUpsertItemsBatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	account := addTestAccount(t, db, "batch@example.com")

	batch := []*ItemRecord{
		{AccountID: account.HashedID, RemoteID: "r1", Path: "a.txt", Selected: true},
		{AccountID: account.HashedID, RemoteID: "r2", Path: "b.txt", Selected: true},
		{AccountID: account.HashedID, RemoteID: "r3", Path: "c.txt", Selected: true},
	}
	if err := db.UpsertItems(ctx, batch); err != nil {
		t.Fatalf("UpsertItems() error = %v", err)
	}

	items, err := db.ListItems(ctx, account.HashedID)
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 rows, got %d", len(items))
	}
}

func TestUpsertItemRetiresPathOccupant(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	account := addTestAccount(t, db, "moves@example.com")

	old := &ItemRecord{AccountID: account.HashedID, RemoteID: "r1", Path: "report.txt", Selected: true}
	if err := db.UpsertItem(ctx, old); err != nil {
		t.Fatalf("UpsertItem() error = %v", err)
	}

	// A moved remote item claims the path before the old occupant's
	// tombstone arrives in the feed.
	moved := &ItemRecord{AccountID: account.HashedID, RemoteID: "r2", Path: "report.txt", Selected: true}
	if err := db.UpsertItem(ctx, moved); err != nil {
		t.Fatalf("UpsertItem() error = %v", err)
	}

	byPath, err := db.GetItemByPath(ctx, account.HashedID, "report.txt")
	if err != nil || byPath == nil {
		t.Fatalf("GetItemByPath() = %v, error = %v", byPath, err)
	}
	if byPath.RemoteID != "r2" {
		t.Errorf("path occupant = %q, want the later writer r2", byPath.RemoteID)
	}

	oldRow, err := db.GetItemByRemoteID(ctx, account.HashedID, "r1")
	if err != nil || oldRow == nil {
		t.Fatalf("GetItemByRemoteID() = %v, error = %v", oldRow, err)
	}
	if !oldRow.Deleted {
		t.Error("previous occupant must be retired when another row takes its path")
	}
}

func TestUpsertItemsBatchRetiresPathOccupant(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	account := addTestAccount(t, db, "batch-moves@example.com")

	seed := &ItemRecord{AccountID: account.HashedID, RemoteID: "r1", Path: "report.txt", Selected: true}
	if err := db.UpsertItem(ctx, seed); err != nil {
		t.Fatalf("UpsertItem() error = %v", err)
	}

	batch := []*ItemRecord{
		{AccountID: account.HashedID, RemoteID: "r2", Path: "report.txt", Selected: true},
	}
	if err := db.UpsertItems(ctx, batch); err != nil {
		t.Fatalf("UpsertItems() error = %v", err)
	}

	byPath, err := db.GetItemByPath(ctx, account.HashedID, "report.txt")
	if err != nil || byPath == nil || byPath.RemoteID != "r2" {
		t.Fatalf("GetItemByPath() = %v (err %v), want live row r2", byPath, err)
	}
	oldRow, _ := db.GetItemByRemoteID(ctx, account.HashedID, "r1")
	if oldRow == nil || !oldRow.Deleted {
		t.Error("previous occupant must be retired during batch application")
	}
}

func TestConflictLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	account := addTestAccount(t, db, "conflicts@example.com")

	conflict := &Conflict{
		AccountID:        account.HashedID,
		Path:             "docs/report.docx",
		LocalModifiedAt:  time.Now().Add(-time.Hour),
		RemoteModifiedAt: time.Now(),
		LocalSize:        100,
		RemoteSize:       200,
	}
	if err := db.CreateConflict(ctx, conflict); err != nil {
		t.Fatalf("CreateConflict() error = %v", err)
	}
	if conflict.ID == 0 {
		t.Fatal("CreateConflict should assign an ID")
	}
	if conflict.Strategy != StrategyNone {
		t.Errorf("initial strategy = %q, want none", conflict.Strategy)
	}

	open, err := db.ListUnresolvedConflicts(ctx, account.HashedID)
	if err != nil {
		t.Fatalf("ListUnresolvedConflicts() error = %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 unresolved conflict, got %d", len(open))
	}

	if err := db.ResolveConflict(ctx, conflict.ID, StrategyKeepRemote); err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}

	open, err = db.ListUnresolvedConflicts(ctx, account.HashedID)
	if err != nil {
		t.Fatalf("ListUnresolvedConflicts() error = %v", err)
	}
	if len(open) != 0 {
		t.Errorf("resolved conflict still listed as open")
	}

	got, err := db.GetConflict(ctx, conflict.ID)
	if err != nil {
		t.Fatalf("GetConflict() error = %v", err)
	}
	if !got.Resolved || got.Strategy != StrategyKeepRemote {
		t.Errorf("conflict not finalized: %+v", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	account := addTestAccount(t, db, "sessions@example.com")

	session := &Session{ID: "sess-1", AccountID: account.HashedID}
	if err := db.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.Status != SessionStatusRunning {
		t.Errorf("new session status = %q, want running", session.Status)
	}

	if err := db.AppendOperation(ctx, &Operation{
		SessionID: session.ID,
		Kind:      OpDownload,
		Path:      "a.txt",
		Size:      42,
		Success:   true,
	}); err != nil {
		t.Fatalf("AppendOperation() error = %v", err)
	}

	session.Status = SessionStatusSuccess
	session.Downloaded = 1
	session.BytesTransferred = 42
	if err := db.FinalizeSession(ctx, session); err != nil {
		t.Fatalf("FinalizeSession() error = %v", err)
	}

	sessions, err := db.ListSessions(ctx, account.HashedID, 10)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].EndedAt == nil || sessions[0].Status != SessionStatusSuccess {
		t.Errorf("session not finalized: %+v", sessions[0])
	}

	ops, err := db.ListOperations(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != OpDownload {
		t.Errorf("operation log mismatch: %+v", ops)
	}
}

func TestCursorLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	account := addTestAccount(t, db, "cursor@example.com")

	got, err := db.GetCursor(ctx, account.HashedID)
	if err != nil {
		t.Fatalf("GetCursor() error = %v", err)
	}
	if got != nil {
		t.Error("absent cursor should be nil")
	}

	if err := db.SaveCursor(ctx, account.HashedID, "token-1"); err != nil {
		t.Fatalf("SaveCursor() error = %v", err)
	}
	if err := db.SaveCursor(ctx, account.HashedID, "token-2"); err != nil {
		t.Fatalf("SaveCursor() replace error = %v", err)
	}

	got, err = db.GetCursor(ctx, account.HashedID)
	if err != nil {
		t.Fatalf("GetCursor() error = %v", err)
	}
	if got == nil || got.Cursor != "token-2" {
		t.Errorf("cursor = %+v, want token-2", got)
	}

	if err := db.InvalidateCursor(ctx, account.HashedID); err != nil {
		t.Fatalf("InvalidateCursor() error = %v", err)
	}
	got, err = db.GetCursor(ctx, account.HashedID)
	if err != nil {
		t.Fatalf("GetCursor() error = %v", err)
	}
	if got != nil {
		t.Error("invalidated cursor should read back as absent")
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	account := addTestAccount(t, db, "cascade@example.com")

	if err := db.UpsertItem(ctx, &ItemRecord{AccountID: account.HashedID, RemoteID: "r1", Path: "a.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateConflict(ctx, &Conflict{AccountID: account.HashedID, Path: "a.txt"}); err != nil {
		t.Fatal(err)
	}
	session := &Session{ID: "sess-c", AccountID: account.HashedID}
	if err := db.CreateSession(ctx, session); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendOperation(ctx, &Operation{SessionID: session.ID, Kind: OpUpload}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCursor(ctx, account.HashedID, "tok"); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteAccount(ctx, account.HashedID); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}

	if _, err := db.GetAccount(ctx, account.HashedID); !utils.IsCode(err, utils.ErrCodeAccountNotFound) {
		t.Error("account row should be gone")
	}
	items, _ := db.ListItems(ctx, account.HashedID)
	if len(items) != 0 {
		t.Error("items should cascade")
	}
	conflicts, _ := db.ListUnresolvedConflicts(ctx, account.HashedID)
	if len(conflicts) != 0 {
		t.Error("conflicts should cascade")
	}
	cursor, _ := db.GetCursor(ctx, account.HashedID)
	if cursor != nil {
		t.Error("cursor should cascade")
	}
}
