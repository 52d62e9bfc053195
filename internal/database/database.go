package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"songmap/internal/config"
)

// Database is the graph store. Songs and NEXT edges live in an adjacency
// list schema partitioned by namespace tag; graph metadata, ownership and
// accounts live next to them. It is safe for concurrent use because the
// underlying *sql.DB is concurrency-safe and every counter change is a single
// upsert statement.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger
	cb     *gobreaker.CircuitBreaker[any]
	res    ResilienceConfig
	now    func() time.Time
}

// Options configures NewDatabase
type Options struct {
	Path           string
	MaxConnections int
	BusyTimeout    time.Duration
	Resilience     ResilienceConfig
	// Clock stamps listened_at and graph timestamps. Defaults to time.Now.
	Clock func() time.Time
}

// OptionsFromConfig builds Options from the application configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Path:           cfg.Database.Path,
		MaxConnections: cfg.Database.MaxConnections,
		BusyTimeout:    time.Duration(cfg.Database.BusyTimeoutMs) * time.Millisecond,
		Resilience: ResilienceConfig{
			Timeout:         time.Duration(cfg.Store.TimeoutMs) * time.Millisecond,
			MaxRetries:      cfg.Store.MaxRetries,
			Backoff:         time.Duration(cfg.Store.RetryBackoffMs) * time.Millisecond,
			BreakerFailures: uint32(cfg.Store.BreakerFailures),
			BreakerOpen:     time.Duration(cfg.Store.BreakerOpenSecs) * time.Second,
		},
	}
}

// NewDatabase opens (or creates) the SQLite database at opts.Path and
// ensures all tables and indices exist. Foreign keys, WAL and the busy
// timeout are set through the DSN so that every pooled connection gets them.
// Caller should Close() it when finished.
func NewDatabase(opts Options, logger *logrus.Logger) (*Database, error) {
	if opts.MaxConnections < 1 {
		opts.MaxConnections = 5
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	opts.Resilience = opts.Resilience.withDefaults()

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate",
		opts.Path, opts.BusyTimeout.Milliseconds())

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(opts.MaxConnections)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	db := &Database{
		conn:   conn,
		logger: logger,
		res:    opts.Resilience,
		now:    opts.Clock,
	}
	db.cb = newBreaker("graph-store", opts.Resilience, logger)

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.WithField("db_path", opts.Path).Info("Graph store initialized successfully")
	return db, nil
}

// createTables creates tables and indices if they do not already exist. It
// is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	usersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		avatar TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		created_at INTEGER NOT NULL
	);`

	graphsTable := `
	CREATE TABLE IF NOT EXISTS graphs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		tag TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		cover_color TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`

	// Ownership is its own relation; a graph has exactly one owner
	ownersTable := `
	CREATE TABLE IF NOT EXISTS graph_owners (
		user_id INTEGER NOT NULL,
		graph_id INTEGER NOT NULL UNIQUE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (graph_id) REFERENCES graphs(id) ON DELETE CASCADE
	);`

	// Songs are not tied to graphs by a foreign key: removing a graph's
	// metadata leaves its namespace intact.
	songsTable := `
	CREATE TABLE IF NOT EXISTS songs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		namespace TEXT NOT NULL,
		name TEXT NOT NULL,
		artist TEXT NOT NULL,
		listened_at INTEGER,
		listen_count INTEGER NOT NULL DEFAULT 0 CHECK (listen_count >= 0),
		full_play_count INTEGER NOT NULL DEFAULT 0 CHECK (full_play_count >= 0),
		skip_count INTEGER NOT NULL DEFAULT 0 CHECK (skip_count >= 0),
		user_select_count INTEGER NOT NULL DEFAULT 0 CHECK (user_select_count >= 0),
		random_select_count INTEGER NOT NULL DEFAULT 0 CHECK (random_select_count >= 0),
		props TEXT NOT NULL DEFAULT '{}',
		UNIQUE (namespace, name, artist)
	);`

	edgesTable := `
	CREATE TABLE IF NOT EXISTS next_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		namespace TEXT NOT NULL,
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL,
		jump_count INTEGER NOT NULL DEFAULT 0 CHECK (jump_count >= 0),
		user_select_count INTEGER NOT NULL DEFAULT 0 CHECK (user_select_count >= 0),
		random_select_count INTEGER NOT NULL DEFAULT 0 CHECK (random_select_count >= 0),
		props TEXT NOT NULL DEFAULT '{}',
		UNIQUE (from_id, to_id),
		CHECK (from_id <> to_id),
		FOREIGN KEY (from_id) REFERENCES songs(id) ON DELETE CASCADE,
		FOREIGN KEY (to_id) REFERENCES songs(id) ON DELETE CASCADE
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_graph_owners_user ON graph_owners(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_songs_namespace_name ON songs(namespace, name);",
		"CREATE INDEX IF NOT EXISTS idx_next_edges_to ON next_edges(to_id);",
		"CREATE INDEX IF NOT EXISTS idx_next_edges_namespace ON next_edges(namespace);",
	}

	tables := []string{usersTable, graphsTable, ownersTable, songsTable, edgesTable}
	for _, table := range tables {
		if _, err := db.conn.Exec(table); err != nil {
			return err
		}
	}

	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}

	return nil
}

// Ping checks that the store answers
func (db *Database) Ping(ctx context.Context) error {
	_, err := retried(ctx, db, "ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, db.conn.PingContext(ctx)
	})
	return err
}

// Close closes the underlying database connection.
func (db *Database) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
