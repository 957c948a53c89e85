// Package scanner enumerates the local directory tree and computes content
// fingerprints. Hashing is a stateless pure function; the same digest is
// used for change detection and post-transfer verification.
package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"
)

// LocalEntry is one observed filesystem entry, keyed by slash-separated
// path relative to the scanned root.
type LocalEntry struct {
	RelativePath string
	AbsPath      string
	IsDir        bool
	Size         int64
	ModTime      time.Time
	Hash         string
}

// HashHint lets EnumerateTree reuse a previously stored hash when size and
// mtime are unchanged, avoiding a full re-read of unmodified files.
type HashHint struct {
	Size    int64
	ModTime time.Time
	Hash    string
}

// ComputeHash returns the hex MD5 digest of the file's content. MD5 matches
// the checksum the remote reports, so verification is a direct compare.
func ComputeHash(path string) (hash string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EnumerateTree walks root and returns every regular file and directory
// under it. Files that vanish between enumeration and hashing are skipped
// rather than failing the scan; symlinks are never followed.
func EnumerateTree(ctx context.Context, root string, hints map[string]HashHint) (map[string]LocalEntry, error) {
	entries := make(map[string]LocalEntry)

	err := filepath.WalkDir(root, func(current string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.Type()&os.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = path.Clean(filepath.ToSlash(rel))

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if info.Mode().IsRegular() {
			hash := ""
			if hint, ok := hints[rel]; ok && hint.Size == info.Size() && hint.ModTime.Equal(info.ModTime()) && hint.Hash != "" {
				hash = hint.Hash
			} else {
				hash, err = ComputeHash(current)
				if err != nil {
					if os.IsNotExist(err) {
						return nil
					}
					return err
				}
			}

			entries[rel] = LocalEntry{
				RelativePath: rel,
				AbsPath:      current,
				IsDir:        false,
				Size:         info.Size(),
				ModTime:      info.ModTime(),
				Hash:         hash,
			}
			return nil
		}

		if info.IsDir() {
			entries[rel] = LocalEntry{
				RelativePath: rel,
				AbsPath:      current,
				IsDir:        true,
				ModTime:      info.ModTime(),
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// StatFile observes a single path, returning nil when the file is missing.
func StatFile(root, relPath string) (*LocalEntry, error) {
	abs := filepath.Join(root, filepath.FromSlash(relPath))
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry := &LocalEntry{
		RelativePath: relPath,
		AbsPath:      abs,
		IsDir:        info.IsDir(),
		Size:         info.Size(),
		ModTime:      info.ModTime(),
	}
	if info.Mode().IsRegular() {
		hash, err := ComputeHash(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		entry.Hash = hash
	}
	return entry, nil
}
