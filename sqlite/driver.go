package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/asaidimu/go-loom/core/store"
	"go.uber.org/zap"
)

// MemoryPath makes the driver open private in-memory databases.
const MemoryPath = ":memory:"

// Options configures a Driver.
type Options struct {
	// Dir is the directory holding one <database>.db file per database, or
	// MemoryPath.
	Dir string
	// CollectionPrefix is prepended to every table name.
	CollectionPrefix string
}

// DefaultOptions returns options that keep database files in the working
// directory.
func DefaultOptions() Options {
	return Options{Dir: "."}
}

// Driver opens SQLite databases that store each collection as a table of
// JSON documents.
type Driver struct {
	options Options
	engine  *store.Engine
	logger  *zap.Logger
}

var _ store.Driver = (*Driver)(nil)

// NewDriver creates a Driver. A nil logger disables logging.
func NewDriver(options Options, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.Dir == "" {
		options.Dir = DefaultOptions().Dir
	}
	return &Driver{
		options: options,
		engine:  store.NewEngine(logger),
		logger:  logger,
	}
}

// Engine returns the engine the driver evaluates queries with.
func (d *Driver) Engine() *store.Engine {
	return d.engine
}

// Path returns the file a database is stored in.
func (d *Driver) Path(name string) string {
	if d.options.Dir == MemoryPath {
		return MemoryPath
	}
	return filepath.Join(d.options.Dir, name+".db")
}

// Open opens the named database, creating its file if needed.
//
// Connections are configured for SQLite's single-writer model:
//   - one open connection, so writes never see SQLITE_BUSY from this process
//   - WAL journal with NORMAL synchronous mode
//   - 5 second busy timeout for other processes
func (d *Driver) Open(ctx context.Context, name string) (store.Database, error) {
	if name == "" {
		return nil, fmt.Errorf("sqlite: database name is required")
	}
	if d.options.Dir != MemoryPath {
		if err := os.MkdirAll(d.options.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	path := d.Path(name)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	d.logger.Debug("Opened SQLite database", zap.String("database", name), zap.String("path", path))
	return newDatabase(name, db, d.options, d.engine, d.logger), nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}
