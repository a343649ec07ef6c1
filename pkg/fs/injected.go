package fs

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
)

// Op names an operation [Injected] can fail.
type Op string

// Operations that can be failed with [Injected.Fail].
const (
	OpOpen            Op = "open"
	OpOpenFile        Op = "openfile"
	OpReadDir         Op = "readdir"
	OpMkdirAll        Op = "mkdirall"
	OpStat            Op = "stat"
	OpRemove          Op = "remove"
	OpWriteFileAtomic Op = "writefileatomic"
	OpRead            Op = "read"
	OpWrite           Op = "write"
	OpTruncate        Op = "truncate"
	OpClose           Op = "close"
)

// InjectedError marks an error as intentionally injected by [Injected].
//
// It wraps the underlying error so errors.Is/As continue to work.
type InjectedError struct {
	Op  Op
	Err error
}

// Error returns the underlying error's message prefixed with the operation.
func (e *InjectedError) Error() string {
	return "injected " + string(e.Op) + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) was injected by [Injected].
// Returns false if err is nil.
func IsInjected(err error) bool {
	if err == nil {
		return false
	}

	var injected *InjectedError

	return errors.As(err, &injected)
}

// Injected wraps another [FS], failing selected operations on demand and
// tracking how many files it has handed out that are still open.
//
// Used by tests to drive error paths and to check that every descriptor is
// released on every exit path.
type Injected struct {
	fs FS

	mu     sync.Mutex
	faults map[Op]error

	open atomic.Int64
}

// NewInjected wraps fsys. Panics if fsys is nil.
func NewInjected(fsys FS) *Injected {
	if fsys == nil {
		panic("fs is nil")
	}

	return &Injected{fs: fsys, faults: make(map[Op]error)}
}

// Fail makes every subsequent op return err (wrapped in [InjectedError]).
// A nil err clears the fault.
func (i *Injected) Fail(op Op, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err == nil {
		delete(i.faults, op)

		return
	}

	i.faults[op] = err
}

// Reset clears all faults.
func (i *Injected) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()

	clear(i.faults)
}

// OpenFiles reports how many files opened through i have not been closed.
func (i *Injected) OpenFiles() int64 {
	return i.open.Load()
}

func (i *Injected) fault(op Op) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	err, ok := i.faults[op]
	if !ok {
		return nil
	}

	return &InjectedError{Op: op, Err: err}
}

// Open implements [FS].
func (i *Injected) Open(path string) (File, error) {
	if err := i.fault(OpOpen); err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	f, err := i.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return i.track(f), nil
}

// OpenFile implements [FS].
func (i *Injected) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := i.fault(OpOpenFile); err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	f, err := i.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return i.track(f), nil
}

// ReadDir implements [FS].
func (i *Injected) ReadDir(path string) ([]os.DirEntry, error) {
	if err := i.fault(OpReadDir); err != nil {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: err}
	}

	return i.fs.ReadDir(path)
}

// MkdirAll implements [FS].
func (i *Injected) MkdirAll(path string, perm os.FileMode) error {
	if err := i.fault(OpMkdirAll); err != nil {
		return &os.PathError{Op: "mkdir", Path: path, Err: err}
	}

	return i.fs.MkdirAll(path, perm)
}

// Stat implements [FS].
func (i *Injected) Stat(path string) (os.FileInfo, error) {
	if err := i.fault(OpStat); err != nil {
		return nil, &os.PathError{Op: "stat", Path: path, Err: err}
	}

	return i.fs.Stat(path)
}

// Exists implements [FS]. It shares the [OpStat] fault.
func (i *Injected) Exists(path string) (bool, error) {
	if err := i.fault(OpStat); err != nil {
		return false, &os.PathError{Op: "stat", Path: path, Err: err}
	}

	return i.fs.Exists(path)
}

// Remove implements [FS].
func (i *Injected) Remove(path string) error {
	if err := i.fault(OpRemove); err != nil {
		return &os.PathError{Op: "remove", Path: path, Err: err}
	}

	return i.fs.Remove(path)
}

// WriteFileAtomic implements [FS].
func (i *Injected) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := i.fault(OpWriteFileAtomic); err != nil {
		return &os.PathError{Op: "write", Path: path, Err: err}
	}

	return i.fs.WriteFileAtomic(path, data, perm)
}

func (i *Injected) track(f File) File {
	i.open.Add(1)

	return &injectedFile{File: f, fs: i}
}

type injectedFile struct {
	File

	fs     *Injected
	closed atomic.Bool
}

func (f *injectedFile) Read(p []byte) (int, error) {
	if err := f.fs.fault(OpRead); err != nil {
		return 0, err
	}

	return f.File.Read(p)
}

func (f *injectedFile) Write(p []byte) (int, error) {
	if err := f.fs.fault(OpWrite); err != nil {
		return 0, err
	}

	return f.File.Write(p)
}

func (f *injectedFile) Truncate(size int64) error {
	if err := f.fs.fault(OpTruncate); err != nil {
		return err
	}

	return f.File.Truncate(size)
}

// Close always closes the underlying descriptor, even when a fault is
// injected, so the open count stays accurate.
func (f *injectedFile) Close() error {
	err := f.File.Close()

	if f.closed.CompareAndSwap(false, true) {
		f.fs.open.Add(-1)
	}

	if fault := f.fs.fault(OpClose); fault != nil {
		return fault
	}

	return err
}

// Compile-time interface check.
var _ FS = (*Injected)(nil)
