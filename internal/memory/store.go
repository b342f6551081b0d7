package memory

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schema is applied with CREATE TABLE IF NOT EXISTS on open. It is the
// only checkpoint schema in this repository; there is no Postgres
// variant and no versioned migration (the schema here is small and
// append-mostly enough that ALTER-free idempotent creation is simpler
// than carrying a migration directory for it).
const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id           TEXT PRIMARY KEY,
	sovereign_id TEXT NOT NULL,
	domain       TEXT NOT NULL,
	parent_id    TEXT,
	reason       TEXT,
	state_blob   BLOB NOT NULL,
	checksum     TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_sovereign_domain ON checkpoints(sovereign_id, domain);

CREATE TABLE IF NOT EXISTS last_checkpoint (
	sovereign_id  TEXT NOT NULL,
	domain        TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	PRIMARY KEY (sovereign_id, domain)
);

CREATE TABLE IF NOT EXISTS notes (
	id           TEXT PRIMARY KEY,
	sovereign_id TEXT NOT NULL,
	domain       TEXT NOT NULL,
	key          TEXT NOT NULL,
	content      TEXT NOT NULL,
	updated_at   DATETIME NOT NULL,
	UNIQUE(sovereign_id, domain, key)
);
CREATE INDEX IF NOT EXISTS idx_notes_sovereign_domain ON notes(sovereign_id, domain);
`

// Open opens (creating if necessary) the sqlite-backed store at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer, avoid SQLITE_BUSY under our own lock discipline
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
