// Package store implements the storage engine: a single-connection,
// migrated SQLite database that is the source of truth for tasks,
// dependencies, docs, learnings, anchors, edges, runs, workers, claims, and
// events (spec.md §4.A).
//
// Grounded on the teacher's internal/store/local_core.go (NewLocalStore:
// WAL + busy_timeout + synchronous pragmas, single *sql.DB with
// SetMaxOpenConns(1)) and internal/store/migrations.go (schema_version
// bookkeeping).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jamesaphoenix/tx-sub011/internal/logging"
)

// DB wraps the single process-owned SQLite connection. All mutation and
// read access is serialized through mu, matching spec.md §5's "single
// connection per process; concurrent callers serialize on a process-level
// mutex" rule.
type DB struct {
	conn *sql.DB
	path string

	mu sync.Mutex

	stmtMu sync.Mutex
	stmts  map[string]*sql.Stmt

	vectorExt bool
}

type txKey struct{}

// Open creates the parent directory if needed, opens the database in WAL
// mode with foreign keys enforced, and applies any pending migrations.
func Open(path string) (*DB, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Get(logging.CategoryStore).Warn("WAL unavailable, continuing: %v", err)
	}
	if _, err := conn.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set synchronous=NORMAL: %v", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{conn: conn, path: path, stmts: make(map[string]*sql.Stmt)}
	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	db.vectorExt = detectVecExtension(conn)

	logging.Store("store opened at %s (vector_ext=%v)", path, db.vectorExt)
	return db, nil
}

// Close releases the underlying connection and any cached statements.
func (db *DB) Close() error {
	db.stmtMu.Lock()
	for _, stmt := range db.stmts {
		_ = stmt.Close()
	}
	db.stmts = make(map[string]*sql.Stmt)
	db.stmtMu.Unlock()
	return db.conn.Close()
}

// HasVectorExtension reports whether sqlite-vec loaded successfully.
func (db *DB) HasVectorExtension() bool { return db.vectorExt }

// querier is the narrow subset of *sql.DB/*sql.Tx that repository methods
// call through; preparedQuerier is the sole implementation, letting
// repository code run unchanged whether or not it is inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// q returns a querier that routes every Exec/Query/QueryRow through db's
// prepared-statement cache (see prepare), bound to the transaction active
// on ctx if any (spec.md §4.A, §5).
func (db *DB) q(ctx context.Context) querier {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return preparedQuerier{db: db, tx: tx}
}

// preparedQuerier looks up (or lazily prepares) a statement keyed by its
// SQL text and, inside a transaction, derives a tx-bound handle from it via
// tx.StmtContext rather than preparing a second time.
type preparedQuerier struct {
	db *DB
	tx *sql.Tx
}

func (pq preparedQuerier) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	stmt, err := pq.db.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	if pq.tx != nil {
		return pq.tx.StmtContext(ctx, stmt), nil
	}
	return stmt, nil
}

func (pq preparedQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	stmt, err := pq.stmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

func (pq preparedQuerier) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	stmt, err := pq.stmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

func (pq preparedQuerier) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	stmt, err := pq.stmt(ctx, query)
	if err != nil {
		// Fall back to an unprepared call so callers still get a *sql.Row
		// that reports the error on Scan, matching database/sql's own
		// QueryRowContext contract.
		if pq.tx != nil {
			return pq.tx.QueryRowContext(ctx, query, args...)
		}
		return pq.db.conn.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// Tx runs fn inside a transaction. Any error returned by fn rolls the
// transaction back; success commits once at the outermost boundary.
// Nested calls (ctx already carrying a transaction) reuse the outer
// transaction instead of opening a new one — the system is single-writer
// per process, so savepoints are unnecessary for correctness (spec.md
// §4.A).
func (db *DB) Tx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.StoreError("rollback failed after error %v: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// prepare returns a cached prepared statement for sql, preparing it on
// first use (spec.md §4.A: "repositories hold statement handles keyed by
// SQL text").
func (db *DB) prepare(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	db.stmtMu.Lock()
	defer db.stmtMu.Unlock()
	if stmt, ok := db.stmts[sqlText]; ok {
		return stmt, nil
	}
	stmt, err := db.conn.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	db.stmts[sqlText] = stmt
	return stmt, nil
}

func detectVecExtension(conn *sql.DB) bool {
	_, err := conn.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS __vec_probe USING vec0(sample_embedding float[1])`)
	if err != nil {
		return false
	}
	_, _ = conn.Exec("DROP TABLE IF EXISTS __vec_probe")
	return true
}
