// Package store is forumcast's single durable embedded SQL store (spec
// §4.1). All write operations serialize behind a process-wide mutex; reads
// use the pool directly. Schema migrations additively add missing columns,
// matching the teacher's preference for file-backed, dependency-light
// persistence (the teacher uses modernc.org/sqlite for WhatsApp's session
// store; forumcast uses the same driver for its own state).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is the durable state backing every forumcast subsystem.
type Store struct {
	db     *sql.DB
	writeMu sync.Mutex
	log    *log.Logger
}

// Open opens (creating if absent) the SQLite database at path, enables WAL
// mode for concurrent reads during long writes, and runs migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}
	s := &Store{db: db, log: log.New(log.Writer(), "[store] ", log.LstdFlags)}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// withWrite serializes fn behind the store's write mutex, the single lock
// guarding every write path (spec §5).
func (s *Store) withWrite(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS source_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS topics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_group_id INTEGER NOT NULL REFERENCES source_groups(id),
	topic_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_group_id, topic_id)
);

CREATE TABLE IF NOT EXISTS channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	is_standby INTEGER NOT NULL DEFAULT 0,
	in_use INTEGER NOT NULL DEFAULT 0,
	consumed_at TIMESTAMP,
	admin_check_at TIMESTAMP,
	last_seen_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS topic_bindings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_group_id INTEGER NOT NULL,
	topic_id INTEGER NOT NULL,
	channel_chat_id INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_group_id, topic_id)
);

CREATE TABLE IF NOT EXISTS banned_channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_group_id INTEGER NOT NULL,
	topic_id INTEGER NOT NULL,
	channel_chat_id INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	detected_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_group_id, topic_id, channel_chat_id)
);

CREATE TABLE IF NOT EXISTS recovery_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_group_id INTEGER NOT NULL,
	topic_id INTEGER NOT NULL,
	old_channel_chat_id INTEGER NOT NULL,
	new_channel_chat_id INTEGER,
	reason TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_cloned_message_id INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_recovery_jobs_status ON recovery_jobs(status);
CREATE INDEX IF NOT EXISTS idx_recovery_jobs_topic ON recovery_jobs(source_group_id, topic_id);
CREATE INDEX IF NOT EXISTS idx_topic_bindings_active ON topic_bindings(active);
`

// columnSpec is one column a migrate() pass must guarantee exists, added via
// "PRAGMA table_info" -> "ALTER TABLE ... ADD COLUMN" when absent, per §6's
// additive-migration contract.
type columnSpec struct {
	table, column, ddl string
}

// additiveColumns lists columns introduced after the initial schema. New
// columns belong here, never in the CREATE TABLE statements above, so
// upgrading an existing database file never loses data.
var additiveColumns = []columnSpec{
	{table: "channels", column: "access_hash", ddl: "INTEGER NOT NULL DEFAULT 0"},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	for _, col := range additiveColumns {
		has, err := s.hasColumn(ctx, col.table, col.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.table, col.column, col.ddl)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: add column %s.%s: %w", col.table, col.column, err)
		}
		s.log.Printf("migrated: added column %s.%s", col.table, col.column)
	}
	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
