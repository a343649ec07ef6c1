package docstore_test

import (
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/calvinalkan/shop/internal/docstore"
	"github.com/calvinalkan/shop/pkg/fs"
)

// openTestDB connects a DB in a temp dir with the given collections.
func openTestDB(t *testing.T, specs ...docstore.CollectionSpec) (*docstore.DB, string) {
	t.Helper()

	return openTestDBWithFS(t, fs.NewReal(), specs...)
}

func openTestDBWithFS(t *testing.T, fsys fs.FS, specs ...docstore.CollectionSpec) (*docstore.DB, string) {
	t.Helper()

	dir := t.TempDir()
	db := docstore.New(dir, docstore.WithFS(fsys))

	for _, spec := range specs {
		db.Configure(spec)
	}

	err := db.Connect(t.Context())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	return db, dir
}

// openTestCollection returns a connected collection called name.
func openTestCollection(t *testing.T, spec docstore.CollectionSpec) (*docstore.Collection, string) {
	t.Helper()

	db, dir := openTestDB(t, spec)

	c, err := db.Collection(spec.Name)
	if err != nil {
		t.Fatalf("collection %s: %v", spec.Name, err)
	}

	return c, dir
}

func mustCreate(t *testing.T, c *docstore.Collection, rec docstore.Record) docstore.Record {
	t.Helper()

	created, err := c.Create(t.Context(), rec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	return created
}

func readRaw(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	return string(data)
}

// vanishingFS deletes victim right after every directory listing, standing in
// for a concurrent RemoveByID between List and Read.
type vanishingFS struct {
	fs.FS

	victim string
}

func (v *vanishingFS) ReadDir(path string) ([]os.DirEntry, error) {
	entries, err := v.FS.ReadDir(path)
	if err != nil {
		return nil, err
	}

	if v.victim != "" {
		_ = os.Remove(v.victim)
	}

	return entries, nil
}

// failingAtomicFS fails every atomic write the way a temp file rename helper
// does: with a plain string error naming the absolute temp file path.
type failingAtomicFS struct {
	fs.FS
}

func (failingAtomicFS) WriteFileAtomic(path string, _ []byte, _ os.FileMode) error {
	openErr := &os.PathError{Op: "open", Path: path + "2372789563", Err: syscall.ENAMETOOLONG}

	return fmt.Errorf("cannot create temp file: %v", openErr)
}

func injectedAtomicFailure() *fs.Injected {
	injected := fs.NewInjected(fs.NewReal())
	injected.Fail(fs.OpWriteFileAtomic, syscall.EIO)

	return injected
}
