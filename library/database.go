package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db *sqlx.DB
	sq goqu.DialectWrapper

	claimBookStmt *sqlx.Stmt
	addLoanStmt   *sqlx.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares the circulation statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// busy_timeout and BEGIN IMMEDIATE keep concurrent writers queued instead of failing.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db, sq: goqu.Dialect("sqlite3")}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.claimBookStmt != nil {
		d.claimBookStmt.Close()
	}
	if d.addLoanStmt != nil {
		d.addLoanStmt.Close()
	}
	return d.db.Close()
}

// Ping checks the connection.
func (d *Database) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS authors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		date_of_birth DATE,
		date_of_death DATE
	);`,
	`CREATE TABLE IF NOT EXISTS translators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		date_of_birth DATE,
		date_of_death DATE
	);`,
	`CREATE TABLE IF NOT EXISTS publishers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		author_id INTEGER REFERENCES authors(id) ON DELETE SET NULL,
		translator_id INTEGER REFERENCES translators(id) ON DELETE SET NULL,
		publisher_id INTEGER REFERENCES publishers(id) ON DELETE SET NULL,
		isbn TEXT UNIQUE,
		year INTEGER NOT NULL,
		short_description TEXT NOT NULL DEFAULT '',
		key_words TEXT NOT NULL DEFAULT '',
		available BOOLEAN NOT NULL DEFAULT 1,
		times_of_issued INTEGER NOT NULL DEFAULT 0 CHECK (times_of_issued >= 0)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_books_author ON books(author_id);`,
	`CREATE INDEX IF NOT EXISTS idx_books_translator ON books(translator_id);`,
	`CREATE INDEX IF NOT EXISTS idx_books_publisher ON books(publisher_id);`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		date_of_birth DATE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'patron' CHECK (role IN ('patron', 'staff', 'admin')),
		active BOOLEAN NOT NULL DEFAULT 1,
		joined_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS carts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS cart_books (
		cart_id INTEGER NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
		book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		PRIMARY KEY (cart_id, book_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_cart_books_book ON cart_books(book_id);`,
	`CREATE TABLE IF NOT EXISTS borrowed_books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		borrowed_at DATETIME NOT NULL,
		returned BOOLEAN NOT NULL DEFAULT 0,
		returned_at DATETIME,
		CHECK ((returned = 0 AND returned_at IS NULL) OR (returned = 1 AND returned_at IS NOT NULL))
	);`,
	// At most one active loan per book.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_borrowed_books_active ON borrowed_books(book_id) WHERE returned = 0;`,
	`CREATE INDEX IF NOT EXISTS idx_borrowed_books_user ON borrowed_books(user_id);`,
}

func applyMigrations(db *sqlx.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return fmt.Errorf("create meta: %w", err)
	}

	var current int
	_ = db.Get(&current, `SELECT value FROM meta WHERE key='schema_version';`)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	// Compare-and-swap on availability: only one issuer can flip a book.
	if d.claimBookStmt, err = d.db.Preparex(`UPDATE books
		SET available=0, times_of_issued=times_of_issued+1
		WHERE id=? AND available=1`); err != nil {
		return fmt.Errorf("prepare claim book: %w", err)
	}
	if d.addLoanStmt, err = d.db.Preparex(`INSERT INTO borrowed_books(user_id,book_id,borrowed_at,returned)
		VALUES(?,?,?,0)`); err != nil {
		return fmt.Errorf("prepare add loan: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (d *Database) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// get runs a built select and scans one row, reporting absence as (false, nil).
func (d *Database) get(ctx context.Context, q queryer, dest any, ds *goqu.SelectDataset) (bool, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	if err := sqlx.GetContext(ctx, q, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// selectAll runs a built select and scans every row into dest.
func (d *Database) selectAll(ctx context.Context, q queryer, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

// count returns the number of rows ds would produce.
func (d *Database) count(ctx context.Context, q queryer, ds *goqu.SelectDataset) (int64, error) {
	query, args, err := ds.ClearOrder().ClearLimit().ClearOffset().
		Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int64
	if err := sqlx.GetContext(ctx, q, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

// exists reports whether ds yields at least one row.
func (d *Database) exists(ctx context.Context, q queryer, ds *goqu.SelectDataset) (bool, error) {
	var one int
	return d.get(ctx, q, &one, ds.Select(goqu.L("1")).Limit(1))
}

type execBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func (d *Database) exec(ctx context.Context, q queryer, b execBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	return q.ExecContext(ctx, query, args...)
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
