package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemAssetStore keeps result files on local disk under a root
// directory. Suitable for single-node deployments and development.
type FilesystemAssetStore struct {
	root string
}

// NewFilesystemAssetStore creates the root directory if needed.
func NewFilesystemAssetStore(root string) (*FilesystemAssetStore, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem asset root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create asset root: %w", err)
	}
	return &FilesystemAssetStore{root: root}, nil
}

// PutObject writes the content to a temp file and renames it into place so a
// partially written object is never observable under its final key.
func (f *FilesystemAssetStore) PutObject(ctx context.Context, key string, content io.Reader, contentType string) error {
	path, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write asset %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to place asset %s: %w", key, err)
	}
	return nil
}

func (f *FilesystemAssetStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := f.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open asset %s: %w", key, err)
	}
	return file, nil
}

func (f *FilesystemAssetStore) ObjectExists(ctx context.Context, key string) (bool, error) {
	path, err := f.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat asset %s: %w", key, err)
	}
	return true, nil
}

func (f *FilesystemAssetStore) DeleteObject(ctx context.Context, key string) error {
	path, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete asset %s: %w", key, err)
	}
	return nil
}

func (f *FilesystemAssetStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("asset root inaccessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("asset root %s is not a directory", f.root)
	}
	return nil
}

// resolve maps an object key to a path under the root, rejecting any key
// that would escape it.
func (f *FilesystemAssetStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("asset key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid asset key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}
