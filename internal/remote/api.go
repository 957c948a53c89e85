// Package remote defines the normalized contract the sync core uses to talk
// to a file-hosting backend. Concrete adapters (internal/remote/drive) own
// the wire format; the core only ever sees these types.
package remote

import (
	"context"
	"time"

	"github.com/skysync/skysync/internal/utils"
)

// Item is a remote file or folder normalized from the backend's wire shape.
type Item struct {
	ID          string
	Name        string
	Path        string // slash-separated, relative to the synced root
	Size        int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	IsFolder    bool
	Deleted     bool
	ETag        string
	CTag        string
	ContentHash string // hex digest comparable with scanner.ComputeHash output
}

// DeltaPage is one page of the remote change feed.
type DeltaPage struct {
	Items []Item
	// NextLink continues pagination within the current run. Empty when the
	// feed is drained.
	NextLink string
	// DeltaLink is the resumable cursor for the next run. Only set on the
	// final page of a sequence.
	DeltaLink string
}

// API is the narrow surface the core consumes. Adapters must return a
// CURSOR_EXPIRED SyncError from ListDeltaPage when the backend signals the
// cursor is no longer usable.
type API interface {
	// ListDeltaPage fetches one page of changes. An empty cursor requests
	// the full enumeration that starts a new delta sequence.
	ListDeltaPage(ctx context.Context, cursor string) (*DeltaPage, error)
	// Upload sends the local file to remotePath, overwriting any existing
	// remote content, and returns the resulting item.
	Upload(ctx context.Context, remotePath, localPath string) (*Item, error)
	// Download fetches the remote item's content into destPath.
	Download(ctx context.Context, remoteID, destPath string) error
	// GetItem fetches current metadata for a single item.
	GetItem(ctx context.Context, remoteID string) (*Item, error)
}

// IsCursorExpired reports whether err signals an expired delta cursor.
func IsCursorExpired(err error) bool {
	return utils.IsCode(err, utils.ErrCodeCursorExpired)
}
