// Package memory implements spec §4.8's three-tier store: scratch lives
// in the gateway's Session.Log and isn't modeled here; this package
// owns the two durable tiers (daily log, long-term notes) plus the
// checkpoint/continuity subsystem every destructive op and periodic
// autosave writes into.
package memory

import "time"

// Checkpoint is a durable, restorable snapshot of a session's state.
// Checkpoints form a parent chain: restoring one that fails its checksum
// walks Parent until a verifiable ancestor is found.
type Checkpoint struct {
	ID          string
	SovereignID string
	Domain      string
	ParentID    string // "" for a chain root
	Reason      string
	StateBlob   []byte // zstd-compressed
	Checksum    string // sha256 of the uncompressed state, hex
	CreatedAt   time.Time
}

// Note is one long-term, curated memory entry retrieved during LOAD.
type Note struct {
	ID          string
	SovereignID string
	Domain      string
	Key         string
	Content     string
	UpdatedAt   time.Time
}

// DailyEntry is one line of the append-only daily log.
type DailyEntry struct {
	SovereignID string    `json:"sovereignId"`
	SessionKey  string    `json:"sessionKey"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	At          time.Time `json:"at"`
}
