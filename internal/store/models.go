package store

import (
	"time"

	"github.com/skysync/skysync/internal/types"
)

// Account is the per-account configuration row. HashedID is the
// privacy-preserving identifier used as the foreign key in every other
// table and in all log fields; the raw ID never leaves this row.
type Account struct {
	ID                  string // raw remote identifier
	HashedID            string
	DisplayName         string
	LocalRoot           string
	Authenticated       bool
	VerboseLogging      bool
	DebugLogging        bool
	MaxParallel         int // clamped to 1..10
	MaxBatchSize        int // clamped to 1..100
	AutoSyncIntervalMin int // 0 disables auto-sync, otherwise 60..1440
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Item sync status values.
const (
	ItemStatusSynced  = "synced"
	ItemStatusPending = "pending"
	ItemStatusError   = "error"
)

// ItemRecord is one row of the item index: the last reconciled local and
// remote state of a single remote item. Exactly one row exists per
// (account, remote id); among non-deleted rows the path is unique within
// an account.
type ItemRecord struct {
	AccountID     string // hashed
	RemoteID      string
	Path          string // slash-separated, relative to the account root
	ETag          string
	CTag          string
	Size          int64
	ModifiedAt    time.Time
	IsFolder      bool
	Deleted       bool // soft-delete tombstone
	Selected      bool // path in scope for sync
	LocalPath     string
	LocalHash     string
	RemoteHash    string
	Status        string
	LastDirection types.Direction
	UpdatedAt     time.Time
}

// Conflict resolution strategy names as persisted.
const (
	StrategyNone       = "none"
	StrategyKeepLocal  = "keep_local"
	StrategyKeepRemote = "keep_remote"
	StrategyKeepBoth   = "keep_both"
	StrategyKeepNewer  = "keep_newer"
)

// Conflict records a detected both-sides-changed discrepancy. It is never
// deleted; resolution flips Resolved and records the strategy used.
type Conflict struct {
	ID               int64
	AccountID        string // hashed
	Path             string
	LocalModifiedAt  time.Time
	RemoteModifiedAt time.Time
	LocalSize        int64
	RemoteSize       int64
	DetectedAt       time.Time
	Strategy         string
	Resolved         bool
}

// Session terminal status values.
const (
	SessionStatusRunning = "running"
	SessionStatusSuccess = "success"
	SessionStatusFailure = "failure"
	SessionStatusPaused  = "paused"
)

// Session is one orchestrator run: created with status running, finalized
// exactly once with aggregate counts.
type Session struct {
	ID                string // uuid
	AccountID         string // hashed
	StartedAt         time.Time
	EndedAt           *time.Time
	Status            string
	Uploaded          int
	Downloaded        int
	DeletedFiles      int
	ConflictsDetected int
	BytesTransferred  int64
}

// Operation kinds recorded in the audit log.
const (
	OpUpload           = "upload"
	OpDownload         = "download"
	OpDeleteLocal      = "delete_local"
	OpConflictDetected = "conflict_detected"
	OpConflictResolved = "conflict_resolved"
	OpTransferFailed   = "transfer_failed"
	OpHashMismatch     = "hash_mismatch"
)

// Operation is one append-only audit row owned by a session.
type Operation struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Kind      string
	Path      string
	Size      int64
	Success   bool
	Detail    string
}

// DeltaCursor is the resumable pagination token for one account.
type DeltaCursor struct {
	AccountID string // hashed
	Cursor    string
	UpdatedAt time.Time
}
