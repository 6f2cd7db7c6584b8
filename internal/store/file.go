package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/place-resolver/internal/model"
)

// DefaultFileName is the index file used when none is configured.
const DefaultFileName = "place-cache.json"

// File stores the whole index as one JSON document.
type File struct {
	path string
}

// NewFile returns a backend writing to dir/name.
func NewFile(dir, name string) *File {
	if name == "" {
		name = DefaultFileName
	}
	return &File{path: filepath.Join(dir, name)}
}

// Path returns the index file location.
func (f *File) Path() string { return f.path }

// Name implements Backend.
func (f *File) Name() string { return "file" }

// Load implements Backend.
func (f *File) Load(_ context.Context) (*model.CacheIndex, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrIndexNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: read %s", f.path)
	}

	idx := model.NewCacheIndex()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, eris.Wrapf(err, "store: parse %s", f.path)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]model.CacheEntry)
	}
	return idx, nil
}

// Save implements Backend. The file is replaced atomically; the change set
// is ignored because the document is always rewritten whole.
func (f *File) Save(_ context.Context, idx *model.CacheIndex, _ ChangeSet) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return eris.Wrap(err, "store: marshal index")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "store: create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "store: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "store: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "store: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), f.path), "store: replace %s", f.path)
}

// Close implements Backend.
func (f *File) Close() error { return nil }
