package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"vdotapes/internal/logging"
	"vdotapes/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

const (
	driverName = "sqlite3_vdotapes"

	// DefaultCacheSizeKiB is the page cache size used when Options leaves it unset.
	DefaultCacheSizeKiB = 8 * 1024
	// DefaultBusyTimeout is how long a statement waits on a locked store.
	DefaultBusyTimeout = 5 * time.Second
)

func init() {
	// temp_store cannot be set from the DSN, so apply it on every new
	// connection the pool opens.
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			_, err := conn.Exec("PRAGMA temp_store = MEMORY", nil)
			return err
		},
	})
}

// LegacyPolicy decides what Initialize does with a store in the legacy layout.
type LegacyPolicy int

const (
	// LegacyBackup moves the legacy store aside and starts a fresh one.
	LegacyBackup LegacyPolicy = iota
	// LegacyRefuse fails initialization with ErrLegacySchema.
	LegacyRefuse
)

// ParseLegacyPolicy converts "backup" or "refuse" to a LegacyPolicy.
func ParseLegacyPolicy(s string) (LegacyPolicy, error) {
	switch s {
	case "", "backup":
		return LegacyBackup, nil
	case "refuse":
		return LegacyRefuse, nil
	default:
		return LegacyBackup, fmt.Errorf("unknown legacy policy %q (want backup or refuse)", s)
	}
}

func (p LegacyPolicy) String() string {
	if p == LegacyRefuse {
		return "refuse"
	}
	return "backup"
}

// Options tunes the storage core. A nil *Options uses the defaults.
type Options struct {
	CacheSizeKiB int
	BusyTimeout  time.Duration
	LegacyPolicy LegacyPolicy
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.CacheSizeKiB <= 0 {
		out.CacheSizeKiB = DefaultCacheSizeKiB
	}
	if out.BusyTimeout <= 0 {
		out.BusyTimeout = DefaultBusyTimeout
	}
	return out
}

// Database owns the single live handle to the catalog store.
//
// The pool is capped at one connection so every statement in the process
// goes through the same SQLite handle. Transactions pin that connection
// for their whole lifetime (see Execute).
type Database struct {
	db          *sql.DB
	dbPath      string
	opts        Options
	mu          sync.RWMutex
	initialized bool

	version      atomic.Int32
	compatWindow atomic.Bool
	inTx         atomic.Bool

	// txSlot admits one transaction at a time; other writers queue on it.
	txSlot chan struct{}

	migrator *Migrator
}

// New creates a Database for the store file at dbPath. No I/O happens until
// Initialize is called.
func New(dbPath string, opts *Options) *Database {
	d := &Database{
		dbPath: dbPath,
		opts:   opts.withDefaults(),
		txSlot: make(chan struct{}, 1),
	}
	d.migrator = newMigrator(d)
	return d
}

// Open is New followed by Initialize.
func Open(ctx context.Context, dbPath string, opts *Options) (*Database, error) {
	d := New(dbPath, opts)
	if err := d.Initialize(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) dsn() string {
	// Negative cache_size is interpreted by SQLite as KiB.
	return fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_cache_size=-%d&_busy_timeout=%d",
		d.dbPath, d.opts.CacheSizeKiB, d.opts.BusyTimeout.Milliseconds())
}

// Initialize opens the store, bootstraps the schema and brings it to the
// latest version. Calling it on an initialized store is a no-op. On failure
// the Database is left uninitialized and may be retried.
func (d *Database) Initialize(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { recordQuery("initialize", start, err) }()

	if d.IsInitialized() {
		return nil
	}

	logging.Info("Database path: %s", d.dbPath)

	dir := filepath.Dir(d.dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &InitializationError{Op: "create directory", Path: d.dbPath, Err: err}
	}
	if err := diagnoseDatabasePermissions(d.dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	if err := d.handleLegacyStore(ctx); err != nil {
		return err
	}

	db, err := sql.Open(driverName, d.dsn())
	if err != nil {
		return &InitializationError{Op: "open", Path: d.dbPath, Err: err}
	}

	// One handle for the whole process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		closeQuietly(db)
		return &InitializationError{Op: "connect", Path: d.dbPath, Err: err}
	}

	if err := bootstrapSchema(pingCtx, db); err != nil {
		closeQuietly(db)
		return &InitializationError{Op: "bootstrap schema", Path: d.dbPath, Err: err}
	}

	d.mu.Lock()
	d.db = db
	d.mu.Unlock()

	if _, err := d.migrator.Migrate(ctx); err != nil {
		d.mu.Lock()
		d.db = nil
		d.mu.Unlock()
		closeQuietly(db)
		return &InitializationError{Op: "migrate", Path: d.dbPath, Err: err}
	}

	if err := d.refreshPhase(ctx); err != nil {
		d.mu.Lock()
		d.db = nil
		d.mu.Unlock()
		closeQuietly(db)
		return &InitializationError{Op: "read schema version", Path: d.dbPath, Err: err}
	}

	d.mu.Lock()
	d.initialized = true
	d.mu.Unlock()

	d.UpdateDBMetrics()
	logging.Info("Database initialized successfully at %s (schema v%d, compatibility window: %t)",
		d.dbPath, d.SchemaVersion(), d.InCompatibilityWindow())
	return nil
}

func closeQuietly(db *sql.DB) {
	if closeErr := db.Close(); closeErr != nil {
		logging.Error("failed to close database after initialization failure: %v", closeErr)
	}
}

// handle returns the underlying pool while it is open, including during
// Initialize's migration phase.
func (d *Database) handle() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrNotInitialized
	}
	return d.db, nil
}

// Conn returns the live handle. It fails with ErrNotInitialized before
// Initialize has completed or after Close.
func (d *Database) Conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.initialized || d.db == nil {
		return nil, ErrNotInitialized
	}
	return d.db, nil
}

// IsInitialized reports whether Initialize completed and Close has not run.
func (d *Database) IsInitialized() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initialized
}

// Path returns the store file path.
func (d *Database) Path() string {
	return d.dbPath
}

// SchemaVersion returns the schema version recorded at the last phase change.
func (d *Database) SchemaVersion() int {
	return int(d.version.Load())
}

// InCompatibilityWindow reports whether migration backups still exist and
// legacy-shaped writes must be mirrored.
func (d *Database) InCompatibilityWindow() bool {
	return d.compatWindow.Load()
}

// IsInTransaction reports whether a transaction is currently open.
func (d *Database) IsInTransaction() bool {
	return d.inTx.Load()
}

// Migrator returns the migration engine bound to this store.
func (d *Database) Migrator() *Migrator {
	return d.migrator
}

// refreshPhase re-reads the schema version and backup presence.
func (d *Database) refreshPhase(ctx context.Context) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	version, err := readVersion(ctx, db)
	if err != nil {
		return err
	}
	window, err := backupsPresent(ctx, db)
	if err != nil {
		return err
	}
	d.setPhase(version, window)
	return nil
}

func (d *Database) setPhase(version int, window bool) {
	d.version.Store(int32(version))
	d.compatWindow.Store(window)

	metrics.SchemaVersion.Set(float64(version))
	if window {
		metrics.CompatibilityWindowOpen.Set(1)
	} else {
		metrics.CompatibilityWindowOpen.Set(0)
	}
}

// Close releases the handle and forgets the schema phase. Closing an
// uninitialized store is a no-op.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.initialized = false
	if d.db == nil {
		return nil
	}
	d.setPhase(0, false)
	err := d.db.Close()
	d.db = nil
	return err
}

// Vacuum optimizes the database.
func (d *Database) Vacuum(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { recordQuery("vacuum", start, err) }()

	db, err := d.Conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err = db.ExecContext(ctx, "VACUUM")
	return err
}

// IntegrityCheck runs PRAGMA integrity_check and returns an error describing
// the first problem found.
func (d *Database) IntegrityCheck(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { recordQuery("integrity_check", start, err) }()

	db, err := d.Conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var result string
	if err = db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		err = fmt.Errorf("integrity check failed: %s", result)
	}
	return err
}

// ObserveQuery starts timing an operation and returns the function that
// records its outcome.
//
//	done := database.ObserveQuery("list_items")
//	defer func() { done(err) }()
func ObserveQuery(operation string) func(error) {
	start := time.Now()
	return func(err error) { recordQuery(operation, start, err) }
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// UpdateDBMetrics updates connection and file size metrics.
func (d *Database) UpdateDBMetrics() {
	if db, err := d.handle(); err == nil {
		metrics.DBConnectionsOpen.Set(float64(db.Stats().OpenConnections))
	}

	files := map[string]string{
		"main": d.dbPath,
		"wal":  d.dbPath + "-wal",
		"shm":  d.dbPath + "-shm",
	}
	for label, path := range files {
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		metrics.DBSizeBytes.WithLabelValues(label).Set(float64(size))
	}
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}

	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		logging.Debug("Store file exists: %s (mode: %v, size: %d bytes)", path, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("Store file %s is read-only! Mode: %v - this will cause write failures", path, info.Mode())
		}
	}

	return nil
}
