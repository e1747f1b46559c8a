// Package fsutil provides the durable filesystem primitives the object
// store engine builds on: atomic writes, synced renames and fsync'd
// directory creation. Every exported function accepts a context so
// callers can bound it with a timeout; none of them retry on their own.
package fsutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aoxcloud/storeengine/pkg/errors"
)

const component = "fsutil"

// AtomicWrite writes data to path by first writing to a sibling temp
// file, fsyncing it, renaming it into place and fsyncing the parent
// directory. Any failure at any step returns an Io error; the temp file
// is removed on failure.
func AtomicWrite(ctx context.Context, path string, data []byte) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	if err := tmp.Sync(); err != nil {
		return errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	succeeded = true

	if err := syncDir(dir); err != nil {
		return errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	return nil
}

// AtomicWriteFrom streams r into path using the same temp-file+fsync+
// rename+parent-fsync sequence as AtomicWrite, without buffering the
// whole payload in memory.
func AtomicWriteFrom(ctx context.Context, path string, r io.Reader) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	if err := tmp.Sync(); err != nil {
		return n, errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		return n, errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	succeeded = true

	if err := syncDir(dir); err != nil {
		return n, errors.Io(component, "atomic_write", err).WithDetail("path", path)
	}
	return n, nil
}

// RenameWithSync renames src to dst and fsyncs the parent directories of
// both. A cross-device rename fails with an Io error; callers must not
// fall back to copy+delete.
func RenameWithSync(ctx context.Context, src, dst string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	if err := os.Rename(src, dst); err != nil {
		return errors.Io(component, "rename_with_sync", err).
			WithDetail("src", src).WithDetail("dst", dst)
	}

	srcDir, dstDir := filepath.Dir(src), filepath.Dir(dst)
	if err := syncDir(srcDir); err != nil {
		return errors.Io(component, "rename_with_sync", err).WithDetail("dir", srcDir)
	}
	if dstDir != srcDir {
		if err := syncDir(dstDir); err != nil {
			return errors.Io(component, "rename_with_sync", err).WithDetail("dir", dstDir)
		}
	}
	return nil
}

// EnsureDir creates path and any missing ancestors, fsyncing each
// directory it creates. It is a no-op (besides the final stat) if path
// already exists and is a directory.
func EnsureDir(ctx context.Context, path string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return errors.Other(component, fmt.Sprintf("%s exists and is not a directory", path))
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return errors.Io(component, "ensure_dir", err).WithDetail("path", path)
	}

	parent := filepath.Dir(path)
	if parent != path {
		if err := EnsureDir(ctx, parent); err != nil {
			return err
		}
	}

	if err := os.Mkdir(path, 0o755); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return errors.Io(component, "ensure_dir", err).WithDetail("path", path)
	}
	if err := syncDir(parent); err != nil {
		return errors.Io(component, "ensure_dir", err).WithDetail("path", parent)
	}
	return nil
}

// EnsureParentDirectory ensures the directory containing path exists.
func EnsureParentDirectory(ctx context.Context, path string) error {
	return EnsureDir(ctx, filepath.Dir(path))
}

// RemoveFile removes a regular file, tolerating it already being absent.
func RemoveFile(ctx context.Context, path string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Io(component, "remove", err).WithDetail("path", path)
	}
	return nil
}

// RemoveAll removes path and everything beneath it.
func RemoveAll(ctx context.Context, path string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return errors.Io(component, "remove_all", err).WithDetail("path", path)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.Timeout(component, "fs_op", "").WithCause(ctx.Err())
	default:
		return nil
	}
}
