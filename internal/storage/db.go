package storage

import (
	"database/sql"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{"busy_timeout(10000)", "journal_mode(WAL)", "synchronous(NORMAL)"},
	}.Encode()
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer; workers queue on the pool instead of failing with SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS topics (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  category TEXT NOT NULL,
  title TEXT NOT NULL,
  body TEXT NOT NULL DEFAULT '',
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_topics_category ON topics(category, id);

CREATE TABLE IF NOT EXISTS topic_custom_fields (
  topicId INTEGER NOT NULL,
  name TEXT NOT NULL,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(topicId, name),
  FOREIGN KEY(topicId) REFERENCES topics(id)
);
CREATE INDEX IF NOT EXISTS idx_topic_custom_fields_value ON topic_custom_fields(name, value);

CREATE TABLE IF NOT EXISTS tags (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS topic_tags (
  topicId INTEGER NOT NULL,
  tagId INTEGER NOT NULL,
  PRIMARY KEY(topicId, tagId),
  FOREIGN KEY(topicId) REFERENCES topics(id),
  FOREIGN KEY(tagId) REFERENCES tags(id)
);

CREATE TABLE IF NOT EXISTS analyses (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  category TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  countsJson TEXT NOT NULL DEFAULT '{}',
  localTotal INTEGER NOT NULL DEFAULT 0,
  externalTotal INTEGER NOT NULL DEFAULT 0,
  progressMessage TEXT NOT NULL DEFAULT '',
  errorMessage TEXT NOT NULL DEFAULT '',
  applyStatus TEXT NOT NULL DEFAULT 'not_applied',
  applyStatsJson TEXT NOT NULL DEFAULT '{}',
  applyCheckpointJson TEXT,
  applyPlanJson TEXT,
  applyErrorMessage TEXT NOT NULL DEFAULT '',
  applyStartedAt TEXT,
  applyFinishedAt TEXT,
  completedAt TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS analysis_entries (
  analysisId INTEGER NOT NULL,
  category TEXT NOT NULL,
  position INTEGER NOT NULL,
  entryJson TEXT NOT NULL,
  PRIMARY KEY(analysisId, category, position),
  FOREIGN KEY(analysisId) REFERENCES analyses(id)
);

CREATE TABLE IF NOT EXISTS import_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  mode TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  filtersJson TEXT NOT NULL DEFAULT '{}',
  pageSize INTEGER NOT NULL DEFAULT 0,
  currentPage INTEGER NOT NULL DEFAULT 0,
  pageOffset INTEGER NOT NULL DEFAULT 0,
  totalRecords INTEGER NOT NULL DEFAULT 0,
  processed INTEGER NOT NULL DEFAULT 0,
  statsJson TEXT NOT NULL DEFAULT '{}',
  errorsJson TEXT NOT NULL DEFAULT '[]',
  resultMessage TEXT NOT NULL DEFAULT '',
  errorMessage TEXT NOT NULL DEFAULT '',
  pausedAt TEXT,
  startedAt TEXT,
  finishedAt TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
