package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/skysync/skysync/internal/logging"
	"github.com/skysync/skysync/internal/remote"
	"github.com/skysync/skysync/internal/utils"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	fileFields     = "id, name, mimeType, size, createdTime, modifiedTime, md5Checksum, version, headRevisionId, parents, trashed"
	pageSize       = 100
)

// Cursor encoding. The initial enumeration walks files.list while carrying
// the changes start token captured up front; once the listing is drained the
// delta link switches to the changes feed.
const (
	listCursorPrefix    = "list:"
	changesCursorPrefix = "changes:"
)

// API implements remote.API on Google Drive. Folder paths are resolved
// through the parents chain and cached for the lifetime of the adapter.
type API struct {
	client *Client
	logger logging.Logger

	mu      sync.Mutex
	paths   map[string]string // folder id -> slash path relative to root
	folders map[string]string // slash path -> folder id
}

var _ remote.API = (*API)(nil)

// NewAPI builds the adapter from an injected token source. Token acquisition
// and storage are the caller's concern.
func NewAPI(ctx context.Context, ts oauth2.TokenSource, logger logging.Logger) (*API, error) {
	service, err := drivev3.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, utils.NewSyncError(utils.ErrCodeNetworkError, "failed to build drive service").
			WithCause(err).Build()
	}
	return NewAPIWithService(service, logger), nil
}

func NewAPIWithService(service *drivev3.Service, logger logging.Logger) *API {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &API{
		client:  NewClient(service, 0, 0, logger),
		logger:  logger,
		paths:   map[string]string{"root": ""},
		folders: map[string]string{"": "root"},
	}
}

// ListDeltaPage serves one page of the delta feed. An empty cursor starts a
// full enumeration; a stale changes token surfaces as CURSOR_EXPIRED.
func (a *API) ListDeltaPage(ctx context.Context, cursor string) (*remote.DeltaPage, error) {
	switch {
	case cursor == "":
		startToken, err := executeWithRetry(ctx, a.client, "changes.getStartPageToken",
			func() (*drivev3.StartPageToken, error) {
				return a.client.service.Changes.GetStartPageToken().Context(ctx).Do()
			})
		if err != nil {
			return nil, err
		}
		return a.listPage(ctx, "", startToken.StartPageToken)

	case strings.HasPrefix(cursor, listCursorPrefix):
		rest := strings.TrimPrefix(cursor, listCursorPrefix)
		pageToken, startToken, ok := strings.Cut(rest, "|")
		if !ok {
			return nil, utils.NewSyncError(utils.ErrCodeInvalidArgument, "malformed delta cursor").Build()
		}
		return a.listPage(ctx, pageToken, startToken)

	default:
		return a.changesPage(ctx, strings.TrimPrefix(cursor, changesCursorPrefix))
	}
}

func (a *API) listPage(ctx context.Context, pageToken, startToken string) (*remote.DeltaPage, error) {
	res, err := executeWithRetry(ctx, a.client, "files.list", func() (*drivev3.FileList, error) {
		call := a.client.service.Files.List().
			Q("trashed = false").
			PageSize(pageSize).
			Fields(googleapi.Field(fmt.Sprintf("nextPageToken, files(%s)", fileFields))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	page := &remote.DeltaPage{}
	for _, f := range res.Files {
		item, err := a.toItem(ctx, f)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	if res.NextPageToken != "" {
		page.NextLink = listCursorPrefix + res.NextPageToken + "|" + startToken
	} else {
		page.DeltaLink = changesCursorPrefix + startToken
	}
	return page, nil
}

func (a *API) changesPage(ctx context.Context, token string) (*remote.DeltaPage, error) {
	res, err := executeWithRetry(ctx, a.client, "changes.list", func() (*drivev3.ChangeList, error) {
		return a.client.service.Changes.List(token).
			IncludeRemoved(true).
			PageSize(pageSize).
			Fields(googleapi.Field(fmt.Sprintf("nextPageToken, newStartPageToken, changes(fileId, removed, file(%s))", fileFields))).
			Context(ctx).
			Do()
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == 404 || apiErr.Code == 410) {
			return nil, utils.NewSyncError(utils.ErrCodeCursorExpired, "delta cursor expired").
				WithCause(err).Build()
		}
		return nil, err
	}

	page := &remote.DeltaPage{}
	for _, change := range res.Changes {
		if change.Removed || (change.File != nil && change.File.Trashed) {
			page.Items = append(page.Items, remote.Item{ID: change.FileId, Deleted: true})
			continue
		}
		if change.File == nil {
			continue
		}
		item, err := a.toItem(ctx, change.File)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	if res.NextPageToken != "" {
		page.NextLink = changesCursorPrefix + res.NextPageToken
	}
	if res.NewStartPageToken != "" {
		page.DeltaLink = changesCursorPrefix + res.NewStartPageToken
	}
	return page, nil
}

// Upload creates or replaces the file at remotePath with the local content.
// The file is reopened on every retry attempt so the media stream is always
// fresh.
func (a *API) Upload(ctx context.Context, remotePath, localPath string) (*remote.Item, error) {
	dir := path.Dir(remotePath)
	if dir == "." {
		dir = ""
	}
	name := path.Base(remotePath)

	parentID, err := a.ensureFolder(ctx, dir)
	if err != nil {
		return nil, err
	}
	existing, err := a.findChild(ctx, parentID, name)
	if err != nil {
		return nil, err
	}

	file, err := executeWithRetry(ctx, a.client, "files.upload", func() (*drivev3.File, error) {
		f, err := os.Open(localPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if existing != nil {
			return a.client.service.Files.Update(existing.Id, &drivev3.File{}).
				Media(f).
				Fields(fileFields).
				Context(ctx).
				Do()
		}
		return a.client.service.Files.Create(&drivev3.File{Name: name, Parents: []string{parentID}}).
			Media(f).
			Fields(fileFields).
			Context(ctx).
			Do()
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, utils.NewSyncError(utils.ErrCodeLocalFileMissing, "local file no longer exists").
				WithContext("path", localPath).WithCause(err).Build()
		}
		return nil, err
	}

	item, err := a.toItem(ctx, file)
	if err != nil {
		return nil, err
	}
	item.Path = remotePath
	return &item, nil
}

// Download streams the file content to destPath through a temp file so a
// failed transfer never leaves a truncated file behind.
func (a *API) Download(ctx context.Context, remoteID, destPath string) error {
	res, err := executeWithRetry(ctx, a.client, "files.download", func() (*http.Response, error) {
		return a.client.service.Files.Get(remoteID).Context(ctx).Download()
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return err
	}
	tmp := destPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, res.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return utils.NewSyncError(utils.ErrCodeTransferFailed, "download interrupted").
			WithContext("remoteId", remoteID).WithCause(err).Build()
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, destPath)
}

func (a *API) GetItem(ctx context.Context, remoteID string) (*remote.Item, error) {
	file, err := executeWithRetry(ctx, a.client, "files.get", func() (*drivev3.File, error) {
		return a.client.service.Files.Get(remoteID).Fields(fileFields).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	item, err := a.toItem(ctx, file)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (a *API) toItem(ctx context.Context, f *drivev3.File) (remote.Item, error) {
	parentPath := ""
	if len(f.Parents) > 0 {
		var err error
		parentPath, err = a.folderPath(ctx, f.Parents[0])
		if err != nil {
			return remote.Item{}, err
		}
	}
	itemPath := f.Name
	if parentPath != "" {
		itemPath = parentPath + "/" + f.Name
	}

	isFolder := f.MimeType == folderMimeType
	if isFolder {
		a.mu.Lock()
		a.paths[f.Id] = itemPath
		a.folders[itemPath] = f.Id
		a.mu.Unlock()
	}

	item := remote.Item{
		ID:          f.Id,
		Name:        f.Name,
		Path:        itemPath,
		Size:        f.Size,
		IsFolder:    isFolder,
		Deleted:     f.Trashed,
		ETag:        strconv.FormatInt(f.Version, 10),
		CTag:        f.HeadRevisionId,
		ContentHash: f.Md5Checksum,
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		item.ModifiedAt = t
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		item.CreatedAt = t
	}
	return item, nil
}

// folderPath resolves a folder id to its slash path by walking the parents
// chain, caching every hop.
func (a *API) folderPath(ctx context.Context, folderID string) (string, error) {
	a.mu.Lock()
	if p, ok := a.paths[folderID]; ok {
		a.mu.Unlock()
		return p, nil
	}
	a.mu.Unlock()

	f, err := executeWithRetry(ctx, a.client, "files.get", func() (*drivev3.File, error) {
		return a.client.service.Files.Get(folderID).Fields("id, name, parents").Context(ctx).Do()
	})
	if err != nil {
		return "", err
	}

	parentPath := ""
	if len(f.Parents) > 0 {
		parentPath, err = a.folderPath(ctx, f.Parents[0])
		if err != nil {
			return "", err
		}
	}

	p := f.Name
	if parentPath != "" {
		p = parentPath + "/" + f.Name
	}
	// A folder with no parents is the drive root itself.
	if len(f.Parents) == 0 {
		p = ""
	}

	a.mu.Lock()
	a.paths[folderID] = p
	a.folders[p] = folderID
	a.mu.Unlock()
	return p, nil
}

// ensureFolder walks the slash path from the root, creating any missing
// folder segments, and returns the id of the final one.
func (a *API) ensureFolder(ctx context.Context, dir string) (string, error) {
	a.mu.Lock()
	if id, ok := a.folders[dir]; ok {
		a.mu.Unlock()
		return id, nil
	}
	a.mu.Unlock()

	parentID := "root"
	walked := ""
	for _, segment := range strings.Split(dir, "/") {
		if segment == "" {
			continue
		}
		if walked == "" {
			walked = segment
		} else {
			walked = walked + "/" + segment
		}

		a.mu.Lock()
		id, ok := a.folders[walked]
		a.mu.Unlock()
		if ok {
			parentID = id
			continue
		}

		child, err := a.findChild(ctx, parentID, segment)
		if err != nil {
			return "", err
		}
		if child == nil {
			child, err = executeWithRetry(ctx, a.client, "files.mkdir", func() (*drivev3.File, error) {
				return a.client.service.Files.Create(&drivev3.File{
					Name:     segment,
					MimeType: folderMimeType,
					Parents:  []string{parentID},
				}).Fields("id, name").Context(ctx).Do()
			})
			if err != nil {
				return "", err
			}
		}

		a.mu.Lock()
		a.folders[walked] = child.Id
		a.paths[child.Id] = walked
		a.mu.Unlock()
		parentID = child.Id
	}
	return parentID, nil
}

func (a *API) findChild(ctx context.Context, parentID, name string) (*drivev3.File, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), parentID)
	res, err := executeWithRetry(ctx, a.client, "files.list", func() (*drivev3.FileList, error) {
		return a.client.service.Files.List().
			Q(query).
			PageSize(1).
			Fields(googleapi.Field(fmt.Sprintf("files(%s)", fileFields))).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}
	if len(res.Files) == 0 {
		return nil, nil
	}
	return res.Files[0], nil
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}
