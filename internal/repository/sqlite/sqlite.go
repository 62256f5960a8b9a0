// Package sqlite implements the repository interfaces on top of SQLite.
//
// WHY SQLITE?
// The whole chat history of a deployment fits in one file next to the
// binary. There is no database server to run, backups are a file copy, and
// tests open ":memory:" and get a fresh schema in a few milliseconds.
//
// WHY modernc.org/sqlite?
// It is SQLite translated to pure Go. The server builds with CGO_ENABLED=0,
// cross-compiles like any other Go program, and needs no C toolchain in
// the container image. mattn/go-sqlite3 would need all three.
//
// STORES:
// One DB value owns the connection and hands out three stores, one per
// table family:
//   - UserStore    → users (accounts, password digests, names)
//   - ThreadStore  → threads (ownership, titles, listing)
//   - MessageStore → thread_messages (append-only log, gapless idx)
//
// Each store satisfies an interface from internal/repository, so the
// service and session layers never import this package.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	// BLANK IMPORT:
	// Nothing from the driver package is referenced by name. Its init()
	// registers "sqlite" with database/sql, which is what sql.Open below
	// looks up.
	_ "modernc.org/sqlite"
)

// DB owns the connection and hands out the per-entity stores.
//
// WHY WRAP sql.DB IN A STRUCT?
//  1. Open, migrate and Close stay in one place with one lifecycle
//  2. The stores share the same *sql.DB without each opening their own
//  3. The logger travels with the connection for migration reports
type DB struct {
	conn   *sql.DB
	logger *slog.Logger

	users    *UserStore
	threads  *ThreadStore
	messages *MessageStore
}

// New opens the database at dbPath, applies pragmas and brings the schema
// up to date.
//
// dbPath examples:
//   - "data/chatbot.db" → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests)
//
// ONE CONNECTION:
// sql.DB is a pool, but this one is capped at a single connection.
// SQLite allows one writer at a time anyway, so a larger pool only adds
// SQLITE_BUSY retries. It also keeps ":memory:" sane: every new pooled
// connection to ":memory:" would be a separate, empty database.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	// sql.Open is lazy; Ping surfaces a bad path or permissions now
	// instead of on the first request.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are off by default; cascades on threads and
	// thread_messages depend on them.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{
		conn:     conn,
		logger:   logger.With(slog.String("component", "sqlite")),
		users:    &UserStore{conn: conn},
		threads:  &ThreadStore{conn: conn},
		messages: &MessageStore{conn: conn},
	}

	report, err := db.Migrate(context.Background())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	db.logger.Info("database ready",
		slog.String("path", dbPath),
		slog.Int("columnsAdded", len(report.Applied)),
		slog.Int("migrationWarnings", len(report.Warnings)),
	)

	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Users returns the account store.
func (db *DB) Users() *UserStore { return db.users }

// Threads returns the thread store.
func (db *DB) Threads() *ThreadStore { return db.threads }

// Messages returns the message log.
func (db *DB) Messages() *MessageStore { return db.messages }

const baseSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT UNIQUE NOT NULL,
		email         TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		first_name    TEXT,
		last_name     TEXT,
		created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(username);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);

	CREATE TABLE IF NOT EXISTS threads (
		thread_id  TEXT PRIMARY KEY,
		user_id    INTEGER NOT NULL,
		title      TEXT DEFAULT 'New Chat',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_threads_user_created ON threads(user_id, created_at);

	CREATE TABLE IF NOT EXISTS thread_messages (
		thread_id TEXT,
		idx       INTEGER,
		role      TEXT CHECK(role IN ('user','assistant')),
		content   TEXT,
		media_b64 TEXT,
		PRIMARY KEY (thread_id, idx),
		FOREIGN KEY (thread_id) REFERENCES threads(thread_id) ON DELETE CASCADE
	);
`

// column is one additive migration: a column that must exist on table.
type column struct {
	table      string
	name       string
	definition string
}

// additiveColumns lists every column added after the first release.
// Databases created by older builds lack some of them; new databases
// already have all of them from baseSchema. Entries are only ever
// appended: no migration removes or renames a column.
var additiveColumns = []column{
	{table: "users", name: "password_hash", definition: "TEXT NOT NULL DEFAULT ''"},
	{table: "users", name: "first_name", definition: "TEXT"},
	{table: "users", name: "last_name", definition: "TEXT"},
	{table: "users", name: "created_at", definition: "TIMESTAMP"},
	{table: "thread_messages", name: "media_b64", definition: "TEXT"},
	{table: "threads", name: "title", definition: "TEXT DEFAULT 'New Chat'"},
}

// MigrationReport describes what a Migrate run changed.
type MigrationReport struct {
	Applied  []string // "table.column" entries that were added
	Warnings []error  // non-fatal failures, already logged
}

// Migrate creates missing tables and adds missing columns. It is safe to
// run on every start regardless of the database's prior state.
//
// MIGRATION STRATEGY:
// There is no migrations table and no version number. The schema only
// ever grows: CREATE TABLE IF NOT EXISTS covers fresh databases, and each
// additive column is checked with pragma_table_info before ALTER TABLE.
// Running it twice is a no-op, so there is nothing to track.
//
// Only a failure to create the base tables is returned as an error.
// Column migrations that fail are logged as warnings and reported, and
// startup continues.
func (db *DB) Migrate(ctx context.Context) (MigrationReport, error) {
	if _, err := db.conn.ExecContext(ctx, baseSchema); err != nil {
		return MigrationReport{}, fmt.Errorf("creating base schema: %w", err)
	}
	return db.applyColumns(ctx, additiveColumns), nil
}

func (db *DB) applyColumns(ctx context.Context, cols []column) MigrationReport {
	var report MigrationReport
	for _, c := range cols {
		added, err := db.addColumnIfNotExists(ctx, c.table, c.name, c.definition)
		if err != nil {
			db.logger.Warn("migration warning",
				slog.String("table", c.table),
				slog.String("column", c.name),
				slog.String("error", err.Error()),
			)
			report.Warnings = append(report.Warnings, fmt.Errorf("adding %s.%s: %w", c.table, c.name, err))
			continue
		}
		if added {
			db.logger.Info("applied migration", slog.String("table", c.table), slog.String("column", c.name))
			report.Applied = append(report.Applied, c.table+"."+c.name)
		}
	}
	return report
}

// addColumnIfNotExists adds a column only when pragma_table_info does not
// list it. A "duplicate column name" failure from a racing migrator is
// treated as success.
func (db *DB) addColumnIfNotExists(ctx context.Context, table, column, definition string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return false, nil
	}

	_, err = db.conn.ExecContext(ctx, fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	if err != nil {
		if isDuplicateColumn(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isDuplicateColumn(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// isConstraintViolation checks the error text for a SQLite constraint
// failure. Constraint names ("users.email") are part of the message.
func isConstraintViolation(err error, names ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "constraint failed") {
		return false
	}
	for _, n := range names {
		if !strings.Contains(msg, n) {
			return false
		}
	}
	return true
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// nullString stores empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
