// Package cache provides the local, write-once stores that sit in front of
// the remote forward-solution repository.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DiskProvider stores each entry as a file named after its key inside Dir.
type DiskProvider struct {
	dir string
}

// NewDiskProvider creates the directory if needed.
func NewDiskProvider(dir string) (*DiskProvider, error) {
	if dir == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &DiskProvider{dir: dir}, nil
}

// Dir returns the cache directory.
func (p *DiskProvider) Dir() string { return p.dir }

// Path returns the file backing key.
func (p *DiskProvider) Path(key string) string {
	return filepath.Join(p.dir, key)
}

// Get reads the file for key, returning ErrCacheMiss when absent.
func (p *DiskProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	return data, nil
}

// SetNX writes the file unless it already exists. The write goes through a
// temp file and a hard link so readers never observe a partial entry and a
// concurrent writer of the same key loses harmlessly.
func (p *DiskProvider) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target := p.Path(key)
	if _, err := os.Stat(target); err == nil {
		return false, nil
	}

	tmp, err := os.CreateTemp(p.dir, "."+key+".*.tmp")
	if err != nil {
		return false, fmt.Errorf("create cache temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write cache entry %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close cache entry %s: %w", key, err)
	}
	if err := os.Link(tmpName, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("publish cache entry %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the file for key. A missing file is not an error.
func (p *DiskProvider) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(p.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete cache entry %s: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (p *DiskProvider) Close() error { return nil }

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("invalid cache key %q", key)
	}
	return nil
}
