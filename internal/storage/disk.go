package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore writes objects below a local directory. It backs development
// setups that have no bucket configured.
type DiskStore struct {
	root      string
	publicURL string
}

var _ ObjectStore = (*DiskStore)(nil)

// NewDiskStore creates root if needed. publicURL may be empty.
func NewDiskStore(root, publicURL string) (*DiskStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: disk root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolving disk root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating disk root: %w", err)
	}
	return &DiskStore{root: abs, publicURL: publicURL}, nil
}

// Put writes to a temp file and renames it into place, so readers never see
// a partial object. contentType is not recorded.
func (d *DiskStore) Put(ctx context.Context, key, _ string, body []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	key = joinKey("", key)
	dest := filepath.Join(d.root, filepath.FromSlash(key))
	if key == "" || !strings.HasPrefix(dest, d.root+string(filepath.Separator)) {
		return Object{}, fmt.Errorf("storage: key %q escapes the store root", key)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Object{}, fmt.Errorf("storage: creating directory for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("storage: creating temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("storage: writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("storage: closing %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return Object{}, fmt.Errorf("storage: placing %s: %w", key, err)
	}

	return Object{Key: key, URL: joinURL(d.publicURL, key)}, nil
}
