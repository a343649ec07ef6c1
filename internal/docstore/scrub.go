package docstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/shop/pkg/fs"
)

// baseNameFS returns errors that name files by their base name only, so no
// error leaving the store carries the directory it lives in.
//
// The rewrite happens here, before any caller wraps the error with
// fmt.Errorf and freezes its message.
type baseNameFS struct {
	fs.FS
}

func (b baseNameFS) Open(path string) (fs.File, error) {
	f, err := b.FS.Open(path)
	if err != nil {
		return nil, baseNameErr(err, path)
	}

	return baseNameFile{File: f, path: path}, nil
}

func (b baseNameFS) OpenFile(path string, flag int, perm os.FileMode) (fs.File, error) {
	f, err := b.FS.OpenFile(path, flag, perm)
	if err != nil {
		return nil, baseNameErr(err, path)
	}

	return baseNameFile{File: f, path: path}, nil
}

func (b baseNameFS) ReadDir(path string) ([]os.DirEntry, error) {
	entries, err := b.FS.ReadDir(path)

	return entries, baseNameErr(err, path)
}

func (b baseNameFS) MkdirAll(path string, perm os.FileMode) error {
	return baseNameErr(b.FS.MkdirAll(path, perm), path)
}

func (b baseNameFS) Stat(path string) (os.FileInfo, error) {
	info, err := b.FS.Stat(path)

	return info, baseNameErr(err, path)
}

func (b baseNameFS) Exists(path string) (bool, error) {
	ok, err := b.FS.Exists(path)

	return ok, baseNameErr(err, path)
}

func (b baseNameFS) Remove(path string) error {
	return baseNameErr(b.FS.Remove(path), path)
}

// WriteFileAtomic errors from the temp file dance are plain strings holding
// the temp file and target paths, both inside path's directory.
func (b baseNameFS) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return baseNameErr(b.FS.WriteFileAtomic(path, data, perm), path)
}

type baseNameFile struct {
	fs.File

	path string
}

func (f baseNameFile) Read(p []byte) (int, error) {
	n, err := f.File.Read(p)

	return n, baseNameErr(err, f.path)
}

func (f baseNameFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)

	return n, baseNameErr(err, f.path)
}

func (f baseNameFile) Seek(offset int64, whence int) (int64, error) {
	n, err := f.File.Seek(offset, whence)

	return n, baseNameErr(err, f.path)
}

func (f baseNameFile) Truncate(size int64) error {
	return baseNameErr(f.File.Truncate(size), f.path)
}

func (f baseNameFile) Sync() error {
	return baseNameErr(f.File.Sync(), f.path)
}

func (f baseNameFile) Close() error {
	return baseNameErr(f.File.Close(), f.path)
}

// baseNameErr rewrites err, produced by an operation on path, so that it
// mentions no directory. [os.PathError] and [os.LinkError] keep their type
// with base names; any other error keeps its chain for errors.Is and gets
// a message with path's directory cut out. io.EOF and friends pass through.
func baseNameErr(err error, path string) error {
	if err == nil {
		return nil
	}

	switch e := err.(type) {
	case *os.PathError:
		return &os.PathError{Op: e.Op, Path: filepath.Base(e.Path), Err: e.Err}
	case *os.LinkError:
		return &os.LinkError{Op: e.Op, Old: filepath.Base(e.Old), New: filepath.Base(e.New), Err: e.Err}
	}

	dir := filepath.Dir(path)
	msg := err.Error()

	if dir == "." || dir == "" || !strings.Contains(msg, dir) {
		return err
	}

	msg = strings.ReplaceAll(msg, dir+string(filepath.Separator), "")
	msg = strings.ReplaceAll(msg, dir, filepath.Base(dir))

	return &baseNameError{msg: msg, err: err}
}

type baseNameError struct {
	msg string
	err error
}

func (e *baseNameError) Error() string { return e.msg }

func (e *baseNameError) Unwrap() error { return e.err }
