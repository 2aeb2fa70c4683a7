package ports

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/fleetctl/pkg/errs"
)

// LocalObjectStore is an ObjectStore adapter backed by a local filesystem
// root. It is the reference implementation for StorageLocation kind
// "local"; a remote-object-store adapter would satisfy the same
// interface with credentials opaque to the core.
type LocalObjectStore struct {
	root string
}

// NewLocalObjectStore returns an adapter rooted at dir, creating it if
// it does not already exist.
func NewLocalObjectStore(dir string) (*LocalObjectStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindObjectStoreError, "creating object store root", err)
	}
	return &LocalObjectStore{root: dir}, nil
}

func (s *LocalObjectStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", errs.New(errs.KindInvalidArgument, "invalid object key")
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalObjectStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errs.Wrap(errs.KindObjectStoreError, "creating parent directory", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.KindObjectStoreError, "writing object", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return errs.Wrap(errs.KindObjectStoreError, "renaming object into place", err)
	}
	return nil
}

func (s *LocalObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindNotFound, "object not found", err)
		}
		return nil, errs.Wrap(errs.KindObjectStoreError, "reading object", err)
	}
	return data, nil
}

func (s *LocalObjectStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindObjectStoreError, "deleting object", err)
	}
	return nil
}

func (s *LocalObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasSuffix(rel, ".tmp") {
			return nil
		}
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindObjectStoreError, "listing objects", err)
	}
	return keys, nil
}

func (s *LocalObjectStore) Stat(ctx context.Context, key string) (ObjectStat, error) {
	if err := ctx.Err(); err != nil {
		return ObjectStat{}, err
	}
	p, err := s.path(key)
	if err != nil {
		return ObjectStat{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectStat{}, errs.Wrap(errs.KindNotFound, "object not found", err)
		}
		return ObjectStat{}, errs.Wrap(errs.KindObjectStoreError, "stat object", err)
	}
	return ObjectStat{Size: info.Size(), LastModified: info.ModTime()}, nil
}
