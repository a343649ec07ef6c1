package docstore_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/shop/internal/docstore"
	"github.com/calvinalkan/shop/pkg/fs"
)

func Test_Create_Stores_Record_When_ID_Is_Given(t *testing.T) {
	t.Parallel()

	c, dir := openTestCollection(t, docstore.CollectionSpec{Name: "Items"})
	ctx := t.Context()

	mustCreate(t, c, docstore.Record{"_id": "first", "name": "Pepperoni", "price": 20.0})

	ok, err := c.Exists(ctx, "first")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := c.Read(ctx, "first")
	require.NoError(t, err)

	want := docstore.Record{"_id": "first", "name": "Pepperoni", "price": 20.0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("read mismatch (-want +got):\n%s", diff)
	}

	// Directory is the lower-cased collection name.
	_, err = os.Stat(filepath.Join(dir, "items", "first.json"))
	require.NoError(t, err)
}

func Test_Create_Assigns_Random_ID_When_Record_Has_None(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "products"})
	ctx := t.Context()

	names := []string{"Pepperoni", "Four Cheese", "BBQ Steak"}
	ids := make([]string, 0, len(names))

	for _, name := range names {
		rec := docstore.Record{"name": name}
		created := mustCreate(t, c, rec)

		id := c.ID(created)
		if !hexID.MatchString(id) {
			t.Fatalf("assigned id = %q, want 32 hex chars", id)
		}

		// The caller's record receives the id as well.
		assert.Equal(t, id, rec["_id"])

		ids = append(ids, id)
	}

	listed, err := c.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, listed)

	require.NoError(t, c.RemoveByID(ctx, ids[1]))

	listed, err = c.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ids[0], ids[2]}, listed)
}

func Test_Create_Returns_ErrDuplicateID_When_Record_Exists(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "users"})
	ctx := t.Context()

	mustCreate(t, c, docstore.Record{"_id": "alice", "name": "Alice"})

	_, err := c.Create(ctx, docstore.Record{"_id": "alice", "name": "Mallory"})
	if !errors.Is(err, docstore.ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}

	var storeErr *docstore.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "users", storeErr.Collection)
	assert.Equal(t, "alice", storeErr.ID)

	got, err := c.Read(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"])
}

func Test_Create_Lets_Exactly_One_Writer_Win_When_IDs_Collide(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "tokens"})
	ctx := t.Context()

	const writers = 16

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		wins       int
		duplicates int
		others     []error
	)

	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := c.Create(ctx, docstore.Record{"_id": "same", "writer": float64(i)})

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				wins++
			case errors.Is(err, docstore.ErrDuplicateID):
				duplicates++
			default:
				others = append(others, err)
			}
		}()
	}

	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, duplicates)
}

func Test_Create_Returns_ErrInvalidID_When_ID_Is_Not_A_String(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "users"})

	_, err := c.Create(t.Context(), docstore.Record{"_id": 12.0})
	if !errors.Is(err, docstore.ErrInvalidID) {
		t.Fatalf("err = %v, want ErrInvalidID", err)
	}
}

func Test_Create_Removes_Partial_File_When_Write_Fails(t *testing.T) {
	t.Parallel()

	injected := fs.NewInjected(fs.NewReal())
	db, _ := openTestDBWithFS(t, injected, docstore.CollectionSpec{Name: "users"})
	c := db.MustCollection("users")
	ctx := t.Context()

	injected.Fail(fs.OpWrite, syscall.ENOSPC)

	_, err := c.Create(ctx, docstore.Record{"_id": "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ENOSPC)

	injected.Reset()

	ok, err := c.Exists(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), injected.OpenFiles())
}

func Test_Read_Returns_Nil_When_Record_Is_Missing(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "users"})

	got, err := c.Read(t.Context(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := c.Exists(t.Context(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_Read_Sets_ID_Field_When_File_Lacks_It(t *testing.T) {
	t.Parallel()

	c, dir := openTestCollection(t, docstore.CollectionSpec{Name: "users", IDField: "email"})

	path := filepath.Join(dir, "users", docstore.EncodeFilename("a@b.c")+".json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"A"}`), 0o600))

	got, err := c.Read(t.Context(), "a@b.c")
	require.NoError(t, err)

	want := docstore.Record{"email": "a@b.c", "name": "A"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("read mismatch (-want +got):\n%s", diff)
	}
}

func Test_Read_Releases_File_When_Read_Fails(t *testing.T) {
	t.Parallel()

	injected := fs.NewInjected(fs.NewReal())
	db, _ := openTestDBWithFS(t, injected, docstore.CollectionSpec{Name: "users"})
	c := db.MustCollection("users")

	mustCreate(t, c, docstore.Record{"_id": "alice"})

	injected.Fail(fs.OpRead, syscall.EIO)

	_, err := c.Read(t.Context(), "alice")
	require.ErrorIs(t, err, syscall.EIO)
	assert.Equal(t, int64(0), injected.OpenFiles())
}

func Test_Read_Hides_Base_Dir_When_Open_Fails(t *testing.T) {
	t.Parallel()

	injected := fs.NewInjected(fs.NewReal())
	db, dir := openTestDBWithFS(t, injected, docstore.CollectionSpec{Name: "users"})
	c := db.MustCollection("users")

	injected.Fail(fs.OpOpen, syscall.EACCES)

	_, err := c.Read(t.Context(), "alice")
	require.ErrorIs(t, err, syscall.EACCES)

	if strings.Contains(err.Error(), dir) {
		t.Fatalf("error %q leaks base dir %q", err, dir)
	}

	assert.Contains(t, err.Error(), "alice.json")
}

func Test_Update_Hides_Base_Dir_When_Atomic_Write_Fails(t *testing.T) {
	t.Parallel()

	for _, fsys := range []fs.FS{failingAtomicFS{FS: fs.NewReal()}, injectedAtomicFailure()} {
		db, dir := openTestDBWithFS(t, fsys, docstore.CollectionSpec{Name: "users", Durable: true})
		c := db.MustCollection("users")

		mustCreate(t, c, docstore.Record{"_id": "alice"})

		_, err := c.Update(t.Context(), docstore.Record{"_id": "alice", "name": "Alice"})
		require.Error(t, err)

		if strings.Contains(err.Error(), dir) {
			t.Fatalf("error %q leaks base dir %q", err, dir)
		}

		assert.Contains(t, err.Error(), "alice.json")
	}
}

func Test_Operations_Hide_Base_Dir_When_Directory_Is_Gone(t *testing.T) {
	t.Parallel()

	c, dir := openTestCollection(t, docstore.CollectionSpec{Name: "users"})
	ctx := t.Context()

	mustCreate(t, c, docstore.Record{"_id": "alice"})

	// A file where the collection directory was makes every path under it
	// fail with ENOTDIR.
	collDir := filepath.Join(dir, "users")
	require.NoError(t, os.RemoveAll(collDir))
	require.NoError(t, os.WriteFile(collDir, []byte("x"), 0o600))

	_, listErr := c.List(ctx)
	_, readErr := c.Read(ctx, "alice")
	_, createErr := c.Create(ctx, docstore.Record{"_id": "bob"})
	_, updateErr := c.Update(ctx, docstore.Record{"_id": "alice"})
	removeErr := c.RemoveByID(ctx, "alice")

	for _, err := range []error{listErr, readErr, createErr, updateErr, removeErr} {
		require.Error(t, err)

		if strings.Contains(err.Error(), dir) {
			t.Fatalf("error %q leaks base dir %q", err, dir)
		}
	}
}

func Test_Update_Replaces_Record_When_It_Exists(t *testing.T) {
	t.Parallel()

	for _, durable := range []bool{false, true} {
		c, dir := openTestCollection(t, docstore.CollectionSpec{Name: "carts", Durable: durable})
		ctx := t.Context()

		mustCreate(t, c, docstore.Record{"_id": "u1", "items": []any{"a", "b", "c"}, "note": "a long note that will go away"})

		_, err := c.Update(ctx, docstore.Record{"_id": "u1", "items": []any{}})
		require.NoError(t, err)

		got, err := c.Read(ctx, "u1")
		require.NoError(t, err)

		want := docstore.Record{"_id": "u1", "items": []any{}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("durable=%v: read mismatch (-want +got):\n%s", durable, diff)
		}

		// No trailing bytes from the longer previous content, no temp files.
		raw := readRaw(t, filepath.Join(dir, "carts", "u1.json"))
		assert.NotContains(t, raw, "long note")

		entries, err := os.ReadDir(filepath.Join(dir, "carts"))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	}
}

func Test_Create_Returns_ErrInvalidID_When_Encoded_ID_Leaves_No_Room_For_Temp_File(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "users", Durable: true})
	ctx := t.Context()

	// 240 bytes plus ".json" plus a 10 digit temp suffix is exactly 255.
	longest := strings.Repeat("a", 240)

	mustCreate(t, c, docstore.Record{"_id": longest})

	_, err := c.Update(ctx, docstore.Record{"_id": longest, "name": "updated"})
	require.NoError(t, err)

	got, err := c.Read(ctx, longest)
	require.NoError(t, err)
	assert.Equal(t, docstore.Record{"_id": longest, "name": "updated"}, got)

	tooLong := longest + "a"

	_, err = c.Create(ctx, docstore.Record{"_id": tooLong})
	require.ErrorIs(t, err, docstore.ErrInvalidID)

	// Escaping counts: 80 spaces encode to 240 bytes, 81 do not fit.
	mustCreate(t, c, docstore.Record{"_id": strings.Repeat(" ", 80)})

	_, err = c.Create(ctx, docstore.Record{"_id": strings.Repeat(" ", 81)})
	require.ErrorIs(t, err, docstore.ErrInvalidID)
}

func Test_Operations_Treat_ID_As_Missing_When_It_Cannot_Be_Stored(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "tokens"})
	ctx := t.Context()

	// Longer than NAME_MAX: opening the file would fail with ENAMETOOLONG.
	id := strings.Repeat("x", 300)

	got, err := c.Read(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := c.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Update(ctx, docstore.Record{"_id": id})
	require.ErrorIs(t, err, docstore.ErrNotFound)

	require.ErrorIs(t, c.RemoveByID(ctx, id), docstore.ErrNotFound)
}

func Test_Update_Returns_ErrNotFound_When_Record_Is_Missing(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "users"})
	ctx := t.Context()

	_, err := c.Update(ctx, docstore.Record{"_id": "ghost", "name": "x"})
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// Update is not an upsert.
	ok, err := c.Exists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_Update_Returns_ErrMissingID_When_Record_Has_No_ID(t *testing.T) {
	t.Parallel()

	injected := fs.NewInjected(fs.NewReal())
	db, _ := openTestDBWithFS(t, injected, docstore.CollectionSpec{Name: "users"})
	c := db.MustCollection("users")

	// Any I/O would hit these faults first.
	injected.Fail(fs.OpOpenFile, syscall.EIO)
	injected.Fail(fs.OpStat, syscall.EIO)

	_, err := c.Update(t.Context(), docstore.Record{"name": "nobody"})
	require.ErrorIs(t, err, docstore.ErrMissingID)
	assert.NotErrorIs(t, err, syscall.EIO)
}

func Test_Update_Releases_File_When_Truncate_Fails(t *testing.T) {
	t.Parallel()

	injected := fs.NewInjected(fs.NewReal())
	db, _ := openTestDBWithFS(t, injected, docstore.CollectionSpec{Name: "users"})
	c := db.MustCollection("users")

	mustCreate(t, c, docstore.Record{"_id": "alice", "name": "Alice"})

	injected.Fail(fs.OpTruncate, syscall.EROFS)

	_, err := c.Update(t.Context(), docstore.Record{"_id": "alice", "name": "Bob"})
	require.ErrorIs(t, err, syscall.EROFS)
	assert.Equal(t, int64(0), injected.OpenFiles())
}

func Test_RemoveByID_Deletes_Record_When_It_Exists(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "users"})
	ctx := t.Context()

	mustCreate(t, c, docstore.Record{"_id": "alice"})

	require.NoError(t, c.RemoveByID(ctx, "alice"))

	ok, err := c.Exists(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := c.Read(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	err = c.RemoveByID(ctx, "alice")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("second remove err = %v, want ErrNotFound", err)
	}
}

func Test_Remove_Returns_ErrMissingID_When_Record_Has_No_ID(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "users"})

	_, err := c.Remove(t.Context(), docstore.Record{"name": "x"})
	require.ErrorIs(t, err, docstore.ErrMissingID)

	removed, err := c.Remove(t.Context(), mustCreate(t, c, docstore.Record{"name": "y"}))
	require.NoError(t, err)
	assert.Equal(t, "y", removed["name"])
}

func Test_List_Returns_Decoded_IDs_When_IDs_Need_Escaping(t *testing.T) {
	t.Parallel()

	c, dir := openTestCollection(t, docstore.CollectionSpec{
		Name:       "tags",
		IDStrategy: docstore.FieldStrategy("name"),
	})
	ctx := t.Context()

	names := []string{"?/+=.,:!", "..", ".env", "100%"}

	for _, name := range names {
		created := mustCreate(t, c, docstore.Record{"name": name})
		assert.Equal(t, name, c.ID(created))
	}

	listed, err := c.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, names, listed)

	for _, name := range names {
		got, err := c.Read(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, got, "read %q", name)
		assert.Equal(t, name, got["name"])
	}

	// Everything stays inside the collection directory.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func Test_List_Skips_Foreign_Files_When_Directory_Has_Them(t *testing.T) {
	t.Parallel()

	c, dir := openTestCollection(t, docstore.CollectionSpec{Name: "users"})

	mustCreate(t, c, docstore.Record{"_id": "alice"})

	collDir := filepath.Join(dir, "users")
	require.NoError(t, os.WriteFile(filepath.Join(collDir, "alice.json123456"), []byte("{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(collDir, "README"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(collDir, "sub.json"), 0o750))

	listed, err := c.List(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, listed)
}

func Test_List_Skips_File_When_Name_Does_Not_Decode(t *testing.T) {
	t.Parallel()

	c, dir := openTestCollection(t, docstore.CollectionSpec{Name: "products"})
	ctx := t.Context()

	mustCreate(t, c, docstore.Record{"_id": "pizza"})

	foreign := filepath.Join(dir, "products", "100%.json")
	require.NoError(t, os.WriteFile(foreign, []byte("{}"), 0o600))

	listed, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pizza"}, listed)

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, c.Empty(ctx))

	listed, err = c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.FileExists(t, foreign)
}

func Test_Empty_Removes_All_Records_When_Called(t *testing.T) {
	t.Parallel()

	c, _ := openTestCollection(t, docstore.CollectionSpec{Name: "orders"})
	ctx := t.Context()

	for range 5 {
		mustCreate(t, c, docstore.Record{"total": 1.0})
	}

	require.NoError(t, c.Empty(ctx))

	listed, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func Test_All_Reports_Missing_When_Record_Vanishes_During_Scan(t *testing.T) {
	t.Parallel()

	vanishing := &vanishingFS{FS: fs.NewReal()}
	db, dir := openTestDBWithFS(t, vanishing, docstore.CollectionSpec{Name: "products"})
	c := db.MustCollection("products")
	ctx := t.Context()

	mustCreate(t, c, docstore.Record{"_id": "keep", "name": "Four Cheese"})
	mustCreate(t, c, docstore.Record{"_id": "gone", "name": "BBQ Steak"})

	vanishing.victim = filepath.Join(dir, "products", "gone.json")

	all, err := c.All(ctx)
	require.ErrorIs(t, err, docstore.ErrNotFound)

	var missing *docstore.MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"gone"}, missing.IDs)

	require.Len(t, all, 1)
	assert.Equal(t, "keep", all[0]["_id"])
}

func Test_Record_Clone_Does_Not_Share_Top_Level_Fields(t *testing.T) {
	t.Parallel()

	orig := docstore.Record{"a": 1.0}
	clone := orig.Clone()
	clone["a"] = 2.0
	clone["b"] = true

	assert.Equal(t, docstore.Record{"a": 1.0}, orig)
	assert.Nil(t, docstore.Record(nil).Clone())
}

func Test_Operations_Return_ErrNotConnected_When_Collection_Is_Not_Attached(t *testing.T) {
	t.Parallel()

	db := docstore.New(t.TempDir()).Configure(docstore.CollectionSpec{Name: "users"})

	_, err := db.Collection("users")
	require.ErrorIs(t, err, docstore.ErrNotConnected)

	require.NoError(t, db.Connect(t.Context()))

	c := db.MustCollection("users")

	listed, err := c.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, listed)
}
