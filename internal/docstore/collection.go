package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/EagleChen/mapmutex"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/calvinalkan/shop/pkg/fs"
)

// DefaultIDField is the identifier field used when a collection does not name one.
const DefaultIDField = "_id"

const (
	fileExt   = ".json"
	dirPerms  = 0o750
	filePerms = 0o600
)

// maxEncodedIDLen keeps "<encoded id>.json" and the temp file a durable
// Update writes next to it (up to 10 extra digits) within NAME_MAX.
const maxEncodedIDLen = 255 - len(fileExt) - 10

// Patch lock backoff, in nanoseconds. One TryLock round gives up well under
// a second so a waiting Patch notices a canceled context.
const (
	lockRetries   = 40
	lockMaxDelay  = 20_000_000
	lockBaseDelay = 1_000
)

// Record is one stored document: field name to JSON value. Numbers read back
// from disk are float64.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}

	return maps.Clone(r)
}

// CollectionSpec describes a collection before it is attached.
type CollectionSpec struct {
	// Name is the logical collection name. The directory is its lower-cased form.
	Name string

	// IDField is the record field holding the identifier. Default: "_id".
	IDField string

	// IDStrategy assigns identifiers to records created without one.
	// Default: [RandomStrategy].
	IDStrategy IDStrategy

	// Durable makes Update replace files via temp file and rename instead of
	// truncating in place, so a crash never leaves a half-written record.
	Durable bool
}

// Collection is a directory of JSON documents, one file per record, named by
// the percent-encoded identifier.
//
// # Concurrency
//
// Every operation is a single whole-file read or write. Concurrent Create
// calls for one identifier are safe: exclusive create lets exactly one win.
// Update has no version check, so concurrent writers of one record are last
// writer wins. [Collection.Patch] serializes read-modify-write cycles per
// identifier, but only inside this process.
type Collection struct {
	name     string
	dirName  string
	idField  string
	strategy IDStrategy
	durable  bool

	fs      fs.FS
	log     *zap.Logger
	metrics *Metrics
	locks   *mapmutex.Mutex

	// dir is set once by Attach, before the registry publishes the collection.
	dir string
}

func newCollection(spec CollectionSpec, fsys fs.FS, log *zap.Logger, metrics *Metrics) (*Collection, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, errors.New("collection name is empty")
	}

	dirName := strings.ToLower(name)
	if dirName == "." || dirName == ".." || strings.ContainsAny(dirName, `/\`) {
		return nil, fmt.Errorf("collection name %q is not a valid directory name", name)
	}

	idField := spec.IDField
	if idField == "" {
		idField = DefaultIDField
	}

	strategy := spec.IDStrategy
	if strategy == nil {
		strategy = RandomStrategy
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Collection{
		name:     name,
		dirName:  dirName,
		idField:  idField,
		strategy: strategy,
		durable:  spec.Durable,
		fs:       fsys,
		log:      log.With(zap.String("collection", name)),
		metrics:  metrics,
		locks:    mapmutex.NewCustomizedMapMutex(lockRetries, lockMaxDelay, lockBaseDelay, 1.5, 0.2),
	}, nil
}

// Name returns the logical collection name.
func (c *Collection) Name() string { return c.name }

// IDField returns the name of the identifier field.
func (c *Collection) IDField() string { return c.idField }

// ID returns the identifier carried by rec, or "" if it has none.
func (c *Collection) ID(rec Record) string {
	id, _ := rec[c.idField].(string)

	return id
}

// Attach binds the collection to <baseDir>/<lower(name)> and creates that
// directory if needed. An existing directory is not an error.
func (c *Collection) Attach(ctx context.Context, baseDir string) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	dir := filepath.Join(baseDir, c.dirName)

	c.log.Debug("attaching collection", zap.String("dir", c.dirName))

	err = c.fs.MkdirAll(dir, dirPerms)
	if err != nil {
		return c.wrap("", fmt.Errorf("attach: %w", err))
	}

	c.dir = dir

	return nil
}

// List returns the identifiers of all records, in filesystem order.
func (c *Collection) List(ctx context.Context) (ids []string, err error) {
	start := time.Now()
	defer func() { err = c.done("list", "", start, err) }()

	err = c.ready(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := c.fs.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	ids = make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}

		id, decodeErr := DecodeFilename(strings.TrimSuffix(name, fileExt))
		if decodeErr != nil {
			c.log.Debug("skipping undecodable file", zap.String("file", name), zap.Error(decodeErr))

			continue
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// All reads every listed record.
//
// A record removed between listing and reading is reported through a
// [*MissingError] (matching [ErrNotFound]) returned next to the records that
// were read. Any other failure aborts and returns no records.
func (c *Collection) All(ctx context.Context) ([]Record, error) {
	ids, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(ids))

	var missing []string

	for _, id := range ids {
		rec, readErr := c.Read(ctx, id)
		if readErr != nil {
			return nil, readErr
		}

		if rec == nil {
			missing = append(missing, id)

			continue
		}

		records = append(records, rec)
	}

	if len(missing) > 0 {
		return records, &MissingError{Collection: c.name, IDs: missing}
	}

	return records, nil
}

// Exists reports whether a record file exists for id.
// A missing record is (false, nil); only unexpected I/O failures are errors.
func (c *Collection) Exists(ctx context.Context, id string) (ok bool, err error) {
	start := time.Now()
	defer func() { err = c.done("exists", id, start, err) }()

	path, err := c.path(ctx, id)
	if err != nil {
		return false, err
	}

	if !fitsName(id) {
		return false, nil
	}

	ok, err = c.fs.Exists(path)
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}

	return ok, nil
}

// Create stores rec as a new record.
//
// If rec has no identifier, the collection's strategy assigns one and rec is
// updated in place. Create never overwrites: an existing record with the same
// identifier yields [ErrDuplicateID].
func (c *Collection) Create(ctx context.Context, rec Record) (_ Record, err error) {
	start := time.Now()
	id := ""

	defer func() { err = c.done("create", id, start, err) }()

	if rec == nil {
		return nil, fmt.Errorf("%w: record is nil", ErrMissingID)
	}

	id, err = c.ensureID(rec)
	if err != nil {
		return nil, err
	}

	if !fitsName(id) {
		return nil, fmt.Errorf("%w: encoded identifier is longer than %d bytes", ErrInvalidID, maxEncodedIDLen)
	}

	path, err := c.path(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("create: encode: %w", err)
	}

	file, err := c.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerms)
	if err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return nil, ErrDuplicateID
		}

		return nil, fmt.Errorf("create: %w", err)
	}

	_, writeErr := file.Write(data)
	closeErr := file.Close()

	if writeErr != nil || closeErr != nil {
		// Do not leave a truncated record behind for the next reader.
		removeErr := c.fs.Remove(path)
		if removeErr != nil && errors.Is(removeErr, iofs.ErrNotExist) {
			removeErr = nil
		}

		return nil, fmt.Errorf("create: %w", errors.Join(writeErr, closeErr, removeErr))
	}

	return rec, nil
}

// Read returns the record stored under id, or (nil, nil) if there is none.
// The identifier field is always set on the returned record.
func (c *Collection) Read(ctx context.Context, id string) (rec Record, err error) {
	start := time.Now()
	defer func() { err = c.done("read", id, start, err) }()

	path, err := c.path(ctx, id)
	if err != nil {
		return nil, err
	}

	if !fitsName(id) {
		return nil, nil
	}

	data, err := c.readFile(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read: %w", err)
	}

	err = json.Unmarshal(data, &rec)
	if err != nil {
		return nil, fmt.Errorf("read: decode: %w", err)
	}

	if rec == nil {
		rec = Record{}
	}

	rec[c.idField] = id

	return rec, nil
}

// Update replaces the stored record with rec. rec must carry its identifier
// and the record must already exist: Update is not an upsert.
func (c *Collection) Update(ctx context.Context, rec Record) (_ Record, err error) {
	start := time.Now()
	id := c.ID(rec)

	defer func() { err = c.done("update", id, start, err) }()

	if id == "" {
		return nil, fmt.Errorf("update: %w: field %q", ErrMissingID, c.idField)
	}

	path, err := c.path(ctx, id)
	if err != nil {
		return nil, err
	}

	if !fitsName(id) {
		return nil, ErrNotFound
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("update: encode: %w", err)
	}

	file, err := c.fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("update: %w", err)
	}

	writeErr := c.rewrite(file, path, data)
	closeErr := file.Close()

	if writeErr != nil || closeErr != nil {
		return nil, fmt.Errorf("update: %w", errors.Join(writeErr, closeErr))
	}

	return rec, nil
}

// Remove deletes the record carried by rec. rec must carry its identifier.
func (c *Collection) Remove(ctx context.Context, rec Record) (Record, error) {
	id := c.ID(rec)
	if id == "" {
		return nil, c.wrap("", fmt.Errorf("remove: %w: field %q", ErrMissingID, c.idField))
	}

	err := c.RemoveByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// RemoveByID deletes the record stored under id.
// A missing record yields [ErrNotFound].
func (c *Collection) RemoveByID(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { err = c.done("remove", id, start, err) }()

	path, err := c.path(ctx, id)
	if err != nil {
		return err
	}

	if !fitsName(id) {
		return ErrNotFound
	}

	err = c.fs.Remove(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return ErrNotFound
		}

		return fmt.Errorf("remove: %w", err)
	}

	return nil
}

// Empty deletes every record currently listed. Records removed concurrently
// are skipped. Meant for tests and resets, not request paths.
func (c *Collection) Empty(ctx context.Context) error {
	c.log.Debug("emptying collection")

	ids, err := c.List(ctx)
	if err != nil {
		return err
	}

	var errs []error

	for _, id := range ids {
		removeErr := c.RemoveByID(ctx, id)
		if removeErr != nil && !errors.Is(removeErr, ErrNotFound) {
			errs = append(errs, removeErr)
		}
	}

	return errors.Join(errs...)
}

// --- Private api ---

func (c *Collection) ready(ctx context.Context) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	if c.dir == "" {
		return ErrNotConnected
	}

	return nil
}

func (c *Collection) path(ctx context.Context, id string) (string, error) {
	err := c.ready(ctx)
	if err != nil {
		return "", err
	}

	if id == "" {
		return "", ErrInvalidID
	}

	return filepath.Join(c.dir, EncodeFilename(id)+fileExt), nil
}

// fitsName reports whether a record under id can exist. Create rejects
// longer identifiers, so every other operation treats them as missing.
func fitsName(id string) bool {
	return len(EncodeFilename(id)) <= maxEncodedIDLen
}

func (c *Collection) ensureID(rec Record) (string, error) {
	raw, present := rec[c.idField]
	if present && raw != nil && raw != "" {
		id, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("%w: field %q is %T, want string", ErrInvalidID, c.idField, raw)
		}

		return id, nil
	}

	id, err := c.strategy(rec)
	if err != nil {
		return "", err
	}

	if id == "" {
		return "", fmt.Errorf("%w: strategy returned an empty identifier", ErrInvalidID)
	}

	rec[c.idField] = id

	return id, nil
}

func (c *Collection) readFile(path string) (_ []byte, err error) {
	file, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	return io.ReadAll(file)
}

// rewrite replaces the content of the file open at file/path with data.
func (c *Collection) rewrite(file fs.File, path string, data []byte) error {
	if c.durable {
		return c.fs.WriteFileAtomic(path, data, filePerms)
	}

	err := file.Truncate(0)
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	_, err = file.Seek(0, io.SeekStart)
	if err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	_, err = file.Write(data)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	return nil
}

// done finishes an operation: it adds collection context, records metrics
// and logs.
func (c *Collection) done(op, id string, start time.Time, err error) error {
	err = c.wrap(id, err)
	c.metrics.observe(c.name, op, start, err)

	if ce := c.log.Check(zap.DebugLevel, op); ce != nil {
		ce.Write(zap.String("id", id), zap.Duration("took", time.Since(start)), zap.Error(err))
	}

	return err
}
