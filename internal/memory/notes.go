package memory

import (
	"context"
	"database/sql"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cell0os/core/internal/cerr"
)

// NoteStore is the long-term, curated tier: a keyed store retrieved
// during LOAD, backed by sqlite with an LRU hot cache in front of it.
type NoteStore struct {
	db    *sql.DB
	cache *lru.Cache[string, Note]
	now   func() time.Time
}

func NewNoteStore(db *sql.DB, cacheSize int) (*NoteStore, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, Note](cacheSize)
	if err != nil {
		return nil, err
	}
	return &NoteStore{db: db, cache: cache, now: time.Now}, nil
}

func cacheKey(sovereignID, domain, key string) string {
	return sovereignID + "\x00" + domain + "\x00" + key
}

func (n *NoteStore) Put(ctx context.Context, sovereignID, domain, key, content string) error {
	now := n.now().UTC()
	_, err := n.db.ExecContext(ctx,
		`INSERT INTO notes (id, sovereign_id, domain, key, content, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sovereign_id, domain, key) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		sovereignID+":"+domain+":"+key, sovereignID, domain, key, content, now,
	)
	if err != nil {
		return cerr.Wrap(cerr.Internal, "memory.note_put_failed", "failed to write note", err)
	}
	n.cache.Add(cacheKey(sovereignID, domain, key), Note{SovereignID: sovereignID, Domain: domain, Key: key, Content: content, UpdatedAt: now})
	return nil
}

func (n *NoteStore) Get(ctx context.Context, sovereignID, domain, key string) (Note, bool) {
	if note, ok := n.cache.Get(cacheKey(sovereignID, domain, key)); ok {
		return note, true
	}
	var note Note
	row := n.db.QueryRowContext(ctx,
		`SELECT sovereign_id, domain, key, content, updated_at FROM notes WHERE sovereign_id = ? AND domain = ? AND key = ?`,
		sovereignID, domain, key)
	if err := row.Scan(&note.SovereignID, &note.Domain, &note.Key, &note.Content, &note.UpdatedAt); err != nil {
		return Note{}, false
	}
	n.cache.Add(cacheKey(sovereignID, domain, key), note)
	return note, true
}

// MatchingDomain returns up to limit notes for (sovereignID, domain),
// most-recently-updated first, used to fill LOAD's memory context slice.
func (n *NoteStore) MatchingDomain(ctx context.Context, sovereignID, domain string, limit int) []Note {
	if limit <= 0 {
		limit = 20
	}
	rows, err := n.db.QueryContext(ctx,
		`SELECT sovereign_id, domain, key, content, updated_at FROM notes WHERE sovereign_id = ? AND domain = ? ORDER BY updated_at DESC LIMIT ?`,
		sovereignID, domain, limit)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		var note Note
		if err := rows.Scan(&note.SovereignID, &note.Domain, &note.Key, &note.Content, &note.UpdatedAt); err != nil {
			continue
		}
		out = append(out, note)
	}
	return out
}
