// Package layout materializes a manifest's file mapping onto disk ahead of
// chunk writes: directories get created, regular files get pre-sized
// without clobbering any partial content already on disk.
package layout

import (
	"os"
	"path/filepath"

	"depotdl/internal/manifest"
)

// Materialize ensures mapping's path exists under root with the right
// shape. For a directory marker it creates the directory and returns
// skip=true so the caller does not attempt to schedule chunk downloads for
// it. For a regular file it creates the parent directory and pre-sizes the
// file to mapping.Size, leaving existing bytes untouched — a resumed run
// writes into the same file rather than starting from empty.
func Materialize(root string, mapping manifest.FileMapping) (skip bool, err error) {
	path := filepath.Join(root, filepath.FromSlash(mapping.Path))

	if mapping.IsDirectory() {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return true, err
		}
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() < mapping.Size {
		if err := f.Truncate(mapping.Size); err != nil {
			return false, err
		}
	}

	return false, nil
}
