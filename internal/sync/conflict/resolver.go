// Package conflict applies whole-file resolution strategies to detected
// sync conflicts. Strategies never merge content; they pick a side (or keep
// both files) and bring the index back in line.
package conflict

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/skysync/skysync/internal/logging"
	"github.com/skysync/skysync/internal/remote"
	"github.com/skysync/skysync/internal/store"
	"github.com/skysync/skysync/internal/sync/scanner"
	"github.com/skysync/skysync/internal/types"
	"github.com/skysync/skysync/internal/utils"
)

// Strategy selects how a conflict is resolved. The zero value is
// StrategyNone, an explicit no-op that leaves the conflict open.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyKeepLocal
	StrategyKeepRemote
	StrategyKeepBoth
	StrategyKeepNewer
)

func (s Strategy) String() string {
	switch s {
	case StrategyKeepLocal:
		return store.StrategyKeepLocal
	case StrategyKeepRemote:
		return store.StrategyKeepRemote
	case StrategyKeepBoth:
		return store.StrategyKeepBoth
	case StrategyKeepNewer:
		return store.StrategyKeepNewer
	default:
		return store.StrategyNone
	}
}

// ParseStrategy maps the persisted/CLI strategy name to a Strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case store.StrategyKeepLocal, "local":
		return StrategyKeepLocal, nil
	case store.StrategyKeepRemote, "remote":
		return StrategyKeepRemote, nil
	case store.StrategyKeepBoth, "both":
		return StrategyKeepBoth, nil
	case store.StrategyKeepNewer, "newer":
		return StrategyKeepNewer, nil
	case store.StrategyNone, "":
		return StrategyNone, nil
	default:
		return StrategyNone, utils.NewSyncError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("unknown resolution strategy %q", value)).Build()
	}
}

// Store is the persistence surface the resolver needs. *store.DB satisfies it.
type Store interface {
	GetItemByPath(ctx context.Context, accountID, path string) (*store.ItemRecord, error)
	UpsertItem(ctx context.Context, item *store.ItemRecord) error
	ResolveConflict(ctx context.Context, id int64, strategy string) error
}

type Resolver struct {
	api    remote.API
	db     Store
	logger logging.Logger
}

func NewResolver(api remote.API, db Store, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Resolver{api: api, db: db, logger: logger}
}

// Resolve applies the strategy to the conflict. On success the conflict is
// marked resolved with the strategy recorded; on any failure it stays open
// and the error surfaces to the caller.
func (r *Resolver) Resolve(ctx context.Context, account *store.Account, conflict *store.Conflict, strategy Strategy) error {
	if strategy == StrategyNone {
		return nil
	}

	entry, err := r.db.GetItemByPath(ctx, account.HashedID, conflict.Path)
	if err != nil {
		return err
	}
	if entry == nil {
		return utils.NewSyncError(utils.ErrCodeMetadataNotFound, "no index record for conflicted path").
			WithContext("path", conflict.Path).Build()
	}

	localAbs := filepath.Join(account.LocalRoot, filepath.FromSlash(conflict.Path))

	switch strategy {
	case StrategyKeepLocal:
		err = r.keepLocal(ctx, entry, conflict.Path, localAbs)
	case StrategyKeepRemote:
		err = r.keepRemote(ctx, entry, localAbs)
	case StrategyKeepBoth:
		err = r.keepBoth(ctx, entry, localAbs)
	case StrategyKeepNewer:
		if conflict.LocalModifiedAt.After(conflict.RemoteModifiedAt) {
			err = r.keepLocal(ctx, entry, conflict.Path, localAbs)
		} else {
			err = r.keepRemote(ctx, entry, localAbs)
		}
	default:
		return utils.NewSyncError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("unhandled strategy %v", strategy)).Build()
	}
	if err != nil {
		return err
	}

	if err := r.db.ResolveConflict(ctx, conflict.ID, strategy.String()); err != nil {
		return err
	}
	conflict.Resolved = true
	conflict.Strategy = strategy.String()

	r.logger.Info("conflict resolved",
		logging.F("account", account.HashedID),
		logging.F("path", conflict.Path),
		logging.F("strategy", strategy.String()),
	)
	return nil
}

// keepLocal uploads the local file over the remote version.
func (r *Resolver) keepLocal(ctx context.Context, entry *store.ItemRecord, relPath, localAbs string) error {
	info, err := os.Stat(localAbs)
	if os.IsNotExist(err) {
		return utils.NewSyncError(utils.ErrCodeLocalFileMissing, "local file no longer exists").
			WithContext("path", relPath).Build()
	}
	if err != nil {
		return err
	}

	item, err := r.api.Upload(ctx, relPath, localAbs)
	if err != nil {
		return err
	}

	hash, err := scanner.ComputeHash(localAbs)
	if err != nil {
		return err
	}

	entry.ETag = item.ETag
	entry.CTag = item.CTag
	entry.Size = info.Size()
	entry.ModifiedAt = info.ModTime()
	entry.LocalHash = hash
	entry.RemoteHash = item.ContentHash
	entry.Status = store.ItemStatusSynced
	entry.LastDirection = types.DirectionUpload
	return r.db.UpsertItem(ctx, entry)
}

// keepRemote downloads the remote version over the local copy, then aligns
// the local mtime with the remote's so later classification sees them as
// equal.
func (r *Resolver) keepRemote(ctx context.Context, entry *store.ItemRecord, localAbs string) error {
	if err := os.MkdirAll(filepath.Dir(localAbs), 0700); err != nil {
		return err
	}
	if err := r.api.Download(ctx, entry.RemoteID, localAbs); err != nil {
		return err
	}

	item, err := r.api.GetItem(ctx, entry.RemoteID)
	if err != nil {
		return err
	}
	if !item.ModifiedAt.IsZero() {
		if err := os.Chtimes(localAbs, item.ModifiedAt, item.ModifiedAt); err != nil {
			return err
		}
	}

	hash, err := scanner.ComputeHash(localAbs)
	if err != nil {
		return err
	}

	entry.ETag = item.ETag
	entry.CTag = item.CTag
	entry.Size = item.Size
	entry.ModifiedAt = item.ModifiedAt
	entry.LocalHash = hash
	entry.RemoteHash = item.ContentHash
	entry.Status = store.ItemStatusSynced
	entry.LastDirection = types.DirectionDownload
	return r.db.UpsertItem(ctx, entry)
}

// keepBoth renames the existing local file in place with a conflict marker,
// then restores the remote version at the original path. The renamed copy
// is picked up as a new local file on the next run.
func (r *Resolver) keepBoth(ctx context.Context, entry *store.ItemRecord, localAbs string) error {
	if _, err := os.Stat(localAbs); os.IsNotExist(err) {
		return utils.NewSyncError(utils.ErrCodeLocalFileMissing, "local file no longer exists").
			WithContext("path", entry.Path).Build()
	} else if err != nil {
		return err
	}

	renamed := ConflictCopyName(localAbs, time.Now())
	if err := os.Rename(localAbs, renamed); err != nil {
		return err
	}

	if err := r.keepRemote(ctx, entry, localAbs); err != nil {
		// The renamed copy is left in place; nothing was lost.
		return err
	}
	return nil
}

// ConflictCopyName appends a timestamped conflict marker before the
// extension: "report.docx" -> "report (Conflict 2026-01-02_150405).docx".
func ConflictCopyName(p string, at time.Time) string {
	ext := path.Ext(filepath.ToSlash(p))
	base := strings.TrimSuffix(p, ext)
	return fmt.Sprintf("%s (Conflict %s)%s", base, at.Format("2006-01-02_150405"), ext)
}
