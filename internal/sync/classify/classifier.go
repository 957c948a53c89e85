// Package classify decides the required sync action for a single item from
// the stored index row and fresh remote/local observations. Classification
// is pure: no clock, no I/O, no state beyond the inputs, so items can be
// classified in any order or in parallel.
package classify

import (
	"fmt"

	"github.com/skysync/skysync/internal/remote"
	"github.com/skysync/skysync/internal/store"
	"github.com/skysync/skysync/internal/sync/scanner"
)

// Action is the classification outcome.
type Action int

const (
	ActionNone Action = iota
	ActionUpload
	ActionDownload
	ActionDelete // propagate a remote deletion locally
	ActionConflict
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	case ActionDelete:
		return "delete"
	case ActionConflict:
		return "conflict"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Input bundles the three observations for one item. Any of Entry, Remote,
// Local may be nil (not indexed, not observed remotely, no local file).
// InScope reports whether the item's path falls inside the account's
// selected sync scope; it only matters for files with no index entry yet.
type Input struct {
	Entry   *store.ItemRecord
	Remote  *remote.Item
	Local   *scanner.LocalEntry
	InScope bool
}

// Classify applies the tie-break policy. A remote version-tag mismatch
// combined with a local content-hash mismatch is always a conflict, even
// when the tag change was metadata-only; the policy is deliberately
// conservative and never compares byte content across sides.
func Classify(in Input) Action {
	// Remote tombstone: propagate the deletion unless the local copy
	// changed since the last synced state (edit vs. delete conflict).
	if in.Remote != nil && in.Remote.Deleted {
		if in.Local == nil {
			return ActionNone
		}
		if localModified(in.Entry, in.Local) {
			return ActionConflict
		}
		return ActionDelete
	}

	if in.Entry == nil {
		switch {
		case in.Remote != nil && in.Local == nil:
			return ActionDownload
		case in.Local != nil && in.Remote == nil:
			if in.InScope && !in.Local.IsDir {
				return ActionUpload
			}
			return ActionNone
		case in.Remote != nil && in.Local != nil:
			// Both sides appeared independently. Identical content needs
			// no transfer; anything else is a create/create conflict.
			if in.Remote.IsFolder && in.Local.IsDir {
				return ActionNone
			}
			if in.Remote.ContentHash != "" && in.Remote.ContentHash == in.Local.Hash {
				return ActionNone
			}
			return ActionConflict
		default:
			return ActionNone
		}
	}

	if in.Entry.IsFolder {
		if in.Remote != nil && in.Local == nil {
			return ActionDownload
		}
		return ActionNone
	}

	remoteChanged := in.Remote != nil && in.Remote.ETag != in.Entry.ETag
	localChanged := in.Local != nil && in.Local.Hash != in.Entry.LocalHash

	switch {
	case remoteChanged && localChanged:
		return ActionConflict
	case remoteChanged:
		return ActionDownload
	case localChanged:
		return ActionUpload
	case in.Remote != nil && in.Local == nil:
		// The local copy vanished while the remote is unchanged. Local
		// deletions are never propagated to the remote, so restore the file.
		return ActionDownload
	default:
		return ActionNone
	}
}

func localModified(entry *store.ItemRecord, local *scanner.LocalEntry) bool {
	if entry == nil {
		// Never synced; any local content counts as a local edit.
		return local != nil
	}
	return local != nil && local.Hash != entry.LocalHash
}
