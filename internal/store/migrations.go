package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/logging"
)

// Schema versions (spec.md §3, "Migration record"):
// v1: tasks, dependencies, learnings, file_learnings, anchors, edges, runs,
//     workers, task_claims, events, config — the storage engine's core.
// v2: docs, doc_links, task_doc_links, invariants, invariant_checks — the
//     doc graph & invariants subsystem.
// v3: learnings_fts (FTS5) + sync triggers — BM25 candidate generation for
//     hybrid retrieval.
// v4: anchor_invalidations — the anchor verification audit log.
const CurrentSchemaVersion = 4

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{version: 1, stmts: []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'backlog',
			parent_id TEXT REFERENCES tasks(id),
			score INTEGER NOT NULL DEFAULT 500,
			assignee_type TEXT,
			assignee_id TEXT,
			assigned_at DATETIME,
			assigned_by TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			completed_at DATETIME,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_score ON tasks(score DESC, id ASC)`,

		`CREATE TABLE IF NOT EXISTS dependencies (
			blocker_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			blocked_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (blocker_id, blocked_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deps_blocked ON dependencies(blocked_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deps_blocker ON dependencies(blocker_id)`,

		`CREATE TABLE IF NOT EXISTS learnings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_ref TEXT,
			keywords TEXT NOT NULL DEFAULT '[]',
			category TEXT,
			embedding BLOB,
			usage_count INTEGER NOT NULL DEFAULT 0,
			outcome_score REAL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS file_learnings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_pattern TEXT NOT NULL,
			note TEXT NOT NULL,
			task_id TEXT REFERENCES tasks(id),
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_file_learnings_pattern ON file_learnings(file_pattern)`,

		`CREATE TABLE IF NOT EXISTS anchors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			learning_id INTEGER NOT NULL REFERENCES learnings(id) ON DELETE CASCADE,
			anchor_type TEXT NOT NULL,
			anchor_value TEXT NOT NULL,
			file_path TEXT NOT NULL,
			symbol_fqname TEXT,
			line_start INTEGER,
			line_end INTEGER,
			content_hash TEXT,
			status TEXT NOT NULL DEFAULT 'valid',
			pinned INTEGER NOT NULL DEFAULT 0,
			verified_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anchors_learning ON anchors(learning_id)`,
		`CREATE INDEX IF NOT EXISTS idx_anchors_file ON anchors(file_path)`,

		`CREATE TABLE IF NOT EXISTS edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			edge_type TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			metadata TEXT NOT NULL DEFAULT '{}',
			invalidated_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_type, source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_type, target_id)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task_id TEXT REFERENCES tasks(id),
			agent TEXT NOT NULL,
			pid INTEGER,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			status TEXT NOT NULL DEFAULT 'running',
			exit_code INTEGER,
			transcript_path TEXT,
			stdout_path TEXT,
			stderr_path TEXT,
			context_injected INTEGER,
			summary TEXT,
			error_message TEXT,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC, id ASC)`,

		`CREATE TABLE IF NOT EXISTS workers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			hostname TEXT NOT NULL,
			pid INTEGER NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'starting',
			current_task_id TEXT REFERENCES tasks(id),
			registered_at DATETIME NOT NULL,
			last_heartbeat_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS task_claims (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			worker_id TEXT NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
			claimed_at DATETIME NOT NULL,
			lease_expires_at DATETIME NOT NULL,
			renewed_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_claim ON task_claims(task_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_claims_worker ON task_claims(worker_id)`,

		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			content TEXT NOT NULL,
			duration_ms INTEGER,
			run_id TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id)`,

		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}},
	{version: 2, stmts: []string{
		`CREATE TABLE IF NOT EXISTS docs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hash TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			title TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'changing',
			file_path TEXT NOT NULL,
			parent_doc_id INTEGER REFERENCES docs(id),
			created_at DATETIME NOT NULL,
			locked_at DATETIME,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_docs_name ON docs(name)`,

		`CREATE TABLE IF NOT EXISTS doc_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_doc_id INTEGER NOT NULL REFERENCES docs(id) ON DELETE CASCADE,
			to_doc_id INTEGER NOT NULL REFERENCES docs(id) ON DELETE CASCADE,
			link_type TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS task_doc_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			doc_id INTEGER NOT NULL REFERENCES docs(id) ON DELETE CASCADE,
			link_type TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_doc_links_task ON task_doc_links(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_doc_links_doc ON task_doc_links(doc_id)`,

		`CREATE TABLE IF NOT EXISTS invariants (
			id TEXT PRIMARY KEY,
			rule TEXT NOT NULL,
			enforcement TEXT NOT NULL,
			doc_id INTEGER NOT NULL REFERENCES docs(id) ON DELETE CASCADE,
			subsystem TEXT,
			test_ref TEXT,
			lint_rule TEXT,
			prompt_ref TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invariants_doc ON invariants(doc_id)`,

		`CREATE TABLE IF NOT EXISTS invariant_checks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invariant_id TEXT NOT NULL REFERENCES invariants(id) ON DELETE CASCADE,
			passed INTEGER NOT NULL,
			details TEXT,
			checked_at DATETIME NOT NULL,
			duration_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invariant_checks_invariant ON invariant_checks(invariant_id)`,
	}},
	{version: 3, stmts: []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS learnings_fts USING fts5(
			content, content='learnings', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS learnings_ai AFTER INSERT ON learnings BEGIN
			INSERT INTO learnings_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS learnings_ad AFTER DELETE ON learnings BEGIN
			INSERT INTO learnings_fts(learnings_fts, rowid, content) VALUES('delete', old.id, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS learnings_au AFTER UPDATE ON learnings BEGIN
			INSERT INTO learnings_fts(learnings_fts, rowid, content) VALUES('delete', old.id, old.content);
			INSERT INTO learnings_fts(rowid, content) VALUES (new.id, new.content);
		END`,
	}},
	{version: 4, stmts: []string{
		`CREATE TABLE IF NOT EXISTS anchor_invalidations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			anchor_id INTEGER NOT NULL REFERENCES anchors(id) ON DELETE CASCADE,
			old_status TEXT NOT NULL,
			new_status TEXT NOT NULL,
			detected_by TEXT NOT NULL,
			reason TEXT,
			detected_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anchor_invalidations_anchor ON anchor_invalidations(anchor_id)`,
	}},
}

// runMigrations applies every migration whose version exceeds
// MAX(version) in schema_version, each inside its own transaction, and
// records {version, appliedAt} on success (spec.md §4.A step 3).
func runMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(conn, m); err != nil {
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		applied++
	}
	logging.Store("migrations applied: %d (now at v%d)", applied, CurrentSchemaVersion)
	return nil
}

func applyMigration(conn *sql.DB, m migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`, m.version, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
