// Package mocks provides in-memory test doubles for the narrow interfaces
// the sync core consumes.
package mocks

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/skysync/skysync/internal/remote"
	"github.com/skysync/skysync/internal/utils"
)

// RemoteAPI is a scriptable implementation of remote.API. Each func field
// overrides the default behavior; unset fields fall back to the in-memory
// item table.
type RemoteAPI struct {
	mu sync.Mutex

	ListDeltaPageFunc func(ctx context.Context, cursor string) (*remote.DeltaPage, error)
	UploadFunc        func(ctx context.Context, remotePath, localPath string) (*remote.Item, error)
	DownloadFunc      func(ctx context.Context, remoteID, destPath string) error
	GetItemFunc       func(ctx context.Context, remoteID string) (*remote.Item, error)

	// Pages is consumed in order by the default ListDeltaPage.
	Pages []*remote.DeltaPage
	// Items backs the default GetItem and Download.
	Items map[string]*remote.Item
	// Content maps remote id to file content for the default Download.
	Content map[string][]byte

	pageIndex int
	Uploads   []string // remote paths uploaded, in call order
	Downloads []string // remote ids downloaded, in call order
}

func NewRemoteAPI() *RemoteAPI {
	return &RemoteAPI{
		Items:   make(map[string]*remote.Item),
		Content: make(map[string][]byte),
	}
}

func (m *RemoteAPI) ListDeltaPage(ctx context.Context, cursor string) (*remote.DeltaPage, error) {
	if m.ListDeltaPageFunc != nil {
		return m.ListDeltaPageFunc(ctx, cursor)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pageIndex >= len(m.Pages) {
		return &remote.DeltaPage{DeltaLink: cursor}, nil
	}
	page := m.Pages[m.pageIndex]
	m.pageIndex++
	return page, nil
}

func (m *RemoteAPI) Upload(ctx context.Context, remotePath, localPath string) (*remote.Item, error) {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, remotePath, localPath)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Uploads = append(m.Uploads, remotePath)

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	item := &remote.Item{
		ID:   "mock-" + remotePath,
		Name: filepath.Base(remotePath),
		Path: remotePath,
		Size: int64(len(data)),
		ETag: "etag-" + remotePath,
	}
	m.Items[item.ID] = item
	m.Content[item.ID] = data
	return item, nil
}

func (m *RemoteAPI) Download(ctx context.Context, remoteID, destPath string) error {
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, remoteID, destPath)
	}
	m.mu.Lock()
	data, ok := m.Content[remoteID]
	m.Downloads = append(m.Downloads, remoteID)
	m.mu.Unlock()
	if !ok {
		return utils.NewSyncError(utils.ErrCodeTransferFailed, "no such remote item").
			WithContext("remoteId", remoteID).Build()
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return err
	}
	return os.WriteFile(destPath, data, 0600)
}

func (m *RemoteAPI) GetItem(ctx context.Context, remoteID string) (*remote.Item, error) {
	if m.GetItemFunc != nil {
		return m.GetItemFunc(ctx, remoteID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.Items[remoteID]
	if !ok {
		return nil, utils.NewSyncError(utils.ErrCodeMetadataNotFound, "no such remote item").
			WithContext("remoteId", remoteID).Build()
	}
	copied := *item
	return &copied, nil
}

// CursorExpiredError builds the typed error adapters return for stale
// cursors, so tests exercise the same code path as production.
func CursorExpiredError() error {
	return utils.NewSyncError(utils.ErrCodeCursorExpired, "delta cursor expired").Build()
}
