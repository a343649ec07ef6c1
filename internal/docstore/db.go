package docstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/shop/pkg/fs"
)

// DB is the registry of collections under one base directory.
//
// Collections are configured first and become usable once [DB.Connect] has
// created the base directory and attached all of them. Collections configured
// after Connect are attached immediately.
//
// Safe for concurrent use.
type DB struct {
	baseDir string
	fs      fs.FS
	log     *zap.Logger
	metrics *Metrics

	mu        sync.RWMutex
	pending   []*Collection
	byName    map[string]*Collection
	errs      []error
	connected bool
}

// Option configures a [DB].
type Option func(*DB)

// WithFS sets the filesystem. Default: [fs.NewReal].
func WithFS(fsys fs.FS) Option {
	return func(db *DB) { db.fs = fsys }
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(log *zap.Logger) Option {
	return func(db *DB) { db.log = log }
}

// WithMetrics sets the metrics sink. Default: none.
func WithMetrics(m *Metrics) Option {
	return func(db *DB) { db.metrics = m }
}

// New returns an unconnected registry rooted at baseDir. Relative paths are
// resolved against the working directory on Connect.
func New(baseDir string, opts ...Option) *DB {
	db := &DB{
		baseDir: baseDir,
		fs:      fs.NewReal(),
		log:     zap.NewNop(),
		byName:  make(map[string]*Collection),
	}

	for _, opt := range opts {
		opt(db)
	}

	db.fs = baseNameFS{FS: db.fs}

	return db
}

// Configure registers a collection and returns db for chaining.
//
// Before Connect, errors (empty or duplicate names) are collected and
// returned by Connect. After Connect the collection is attached right away;
// use [DB.ConfigureContext] there to observe the attach error, Configure
// only records it in [DB.Err].
func (db *DB) Configure(spec CollectionSpec) *DB {
	_, err := db.ConfigureContext(context.Background(), spec)
	if err != nil {
		db.mu.Lock()
		db.errs = append(db.errs, err)
		db.mu.Unlock()
	}

	return db
}

// ConfigureContext is [DB.Configure] reporting the error directly.
func (db *DB) ConfigureContext(ctx context.Context, spec CollectionSpec) (*DB, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, err := newCollection(spec, db.fs, db.log, db.metrics)
	if err != nil {
		return db, err
	}

	key := c.dirName
	if _, ok := db.byName[key]; ok || slices.ContainsFunc(db.pending, func(p *Collection) bool { return p.dirName == key }) {
		return db, fmt.Errorf("%w: %s", ErrDuplicateCollection, c.name)
	}

	if !db.connected {
		db.pending = append(db.pending, c)

		return db, nil
	}

	err = c.Attach(ctx, db.baseDir)
	if err != nil {
		return db, err
	}

	db.byName[key] = c

	return db, nil
}

// Connect creates the base directory and attaches every configured
// collection concurrently. It succeeds only if every attach succeeds; on
// failure no collection becomes reachable.
//
// Calling Connect on a connected DB is a no-op.
func (db *DB) Connect(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.connected {
		return nil
	}

	err := errors.Join(db.errs...)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	baseDir, err := filepath.Abs(db.baseDir)
	if err != nil {
		return fmt.Errorf("connect: resolve base dir: %w", err)
	}

	db.log.Info("connecting store", zap.String("dir", baseDir), zap.Strings("collections", collectionNames(db.pending)))

	err = db.fs.MkdirAll(baseDir, dirPerms)
	if err != nil {
		return fmt.Errorf("connect: create base dir: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	for _, c := range db.pending {
		group.Go(func() error {
			return c.Attach(groupCtx, baseDir)
		})
	}

	err = group.Wait()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	for _, c := range db.pending {
		db.byName[c.dirName] = c
	}

	db.pending = nil
	db.baseDir = baseDir
	db.connected = true

	return nil
}

// Collection returns the attached collection called name (case-insensitive).
func (db *DB) Collection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if !db.connected {
		return nil, ErrNotConnected
	}

	c, ok := db.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}

	return c, nil
}

// MustCollection is [DB.Collection] for wiring code that cannot continue
// without the collection. Panics on error.
func (db *DB) MustCollection(name string) *Collection {
	c, err := db.Collection(name)
	if err != nil {
		panic(err)
	}

	return c
}

// Names returns the attached collection names, sorted.
func (db *DB) Names() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.byName))
	for _, c := range db.byName {
		names = append(names, c.name)
	}

	slices.Sort(names)

	return names
}

// Connected reports whether Connect has succeeded.
func (db *DB) Connected() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.connected
}

// BaseDir returns the base directory. It is absolute once connected.
func (db *DB) BaseDir() string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.baseDir
}

// Err returns configuration errors recorded by [DB.Configure].
func (db *DB) Err() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return errors.Join(db.errs...)
}

// Ping checks that the base directory is still reachable.
func (db *DB) Ping(context.Context) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if !db.connected {
		return ErrNotConnected
	}

	ok, err := db.fs.Exists(db.baseDir)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	if !ok {
		return errors.New("ping: base directory is gone")
	}

	return nil
}

func collectionNames(cs []*Collection) []string {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.name)
	}

	return names
}
