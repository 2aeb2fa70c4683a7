// Package fsrestore implements the Rollback Executor's Restorer port
// against a local filesystem layout: one snapshot tree per artifact
// kind, copied into the live install root a rollback step names by
// target. It is the concrete counterpart to pkg/ports.LocalObjectStore
// for the "restore" side of a rollback plan, grounded on the same
// local-root-plus-relative-key shape and on pkg/backup's
// filepath.WalkDir enumeration.
package fsrestore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/rs/zerolog"
)

// Restorer copies snapshot trees into a service's live install
// location. snapshotRoot holds one subdirectory per artifact kind
// (services/<name>, configs/<path>, databases/<target>); installRoot
// is where those trees are materialized for the running services to
// pick up.
type Restorer struct {
	snapshotRoot string
	installRoot  string
	logger       zerolog.Logger
}

// New returns a Restorer rooted at snapshotRoot (read-only source
// trees) and installRoot (the live tree rollback steps restore into).
func New(snapshotRoot, installRoot string) *Restorer {
	return &Restorer{
		snapshotRoot: snapshotRoot,
		installRoot:  installRoot,
		logger:       log.WithComponent("fs-restorer"),
	}
}

func (r *Restorer) RestoreFiles(ctx context.Context, serviceName string) error {
	return r.copyTree(ctx, filepath.Join(r.snapshotRoot, "services", serviceName), filepath.Join(r.installRoot, serviceName))
}

func (r *Restorer) RestoreConfig(ctx context.Context, path string) error {
	return r.copyTree(ctx, filepath.Join(r.snapshotRoot, "configs", path), filepath.Join(r.installRoot, "config", path))
}

func (r *Restorer) RestoreDatabase(ctx context.Context, target string) error {
	return r.copyTree(ctx, filepath.Join(r.snapshotRoot, "databases", target), filepath.Join(r.installRoot, "data", target))
}

func (r *Restorer) copyTree(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return errs.Wrap(errs.KindNotFound, "no snapshot at "+src, err)
	}
	if !info.IsDir() {
		return r.copyFile(src, dst, info.Mode())
	}

	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return r.copyFile(path, target, fi.Mode())
	})
}

func (r *Restorer) copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.Wrap(errs.KindUnexpected, "creating restore target directory", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap(errs.KindUnexpected, "opening snapshot file", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errs.Wrap(errs.KindUnexpected, "opening restore target file", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errs.Wrap(errs.KindUnexpected, "copying restore file", err)
	}
	r.logger.Debug().Str("src", src).Str("dst", dst).Msg("restored file")
	return nil
}
