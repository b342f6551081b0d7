package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/cell0os/core/internal/cerr"
)

// SnapshotSource supplies the bytes a checkpoint captures. The gateway
// (sole owner of Sessions, per spec §3) implements this by serializing
// the session state for (sovereignID, domain).
type SnapshotSource interface {
	Snapshot(ctx context.Context, sovereignID, domain string) ([]byte, error)
}

// CheckpointStore implements col.Checkpointer plus explicit
// create/restore for the CLI and periodic-autosave callers.
type CheckpointStore struct {
	db       *sql.DB
	snapshot SnapshotSource

	// sessionLocksMu serializes checkpoint writes per (sovereignID,domain)
	// so the CAS on last_checkpoint never races two concurrent writers,
	// matching spec §5's "concurrent writers serialize on the session lock".
	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sync.Mutex

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	now func() time.Time
}

func NewCheckpointStore(db *sql.DB, snapshot SnapshotSource) (*CheckpointStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &CheckpointStore{
		db:           db,
		snapshot:     snapshot,
		sessionLocks: make(map[string]*sync.Mutex),
		encoder:      enc,
		decoder:      dec,
		now:          time.Now,
	}, nil
}

func (s *CheckpointStore) lockFor(key string) *sync.Mutex {
	s.sessionLocksMu.Lock()
	defer s.sessionLocksMu.Unlock()
	l, ok := s.sessionLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.sessionLocks[key] = l
	}
	return l
}

// Create implements col.Checkpointer: snapshot, compress, checksum,
// chain onto the current parent, CAS last_checkpoint to the new id.
func (s *CheckpointStore) Create(ctx context.Context, sovereignID, domain, reason string) (string, error) {
	key := sovereignID + ":" + domain
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	raw, err := s.snapshot.Snapshot(ctx, sovereignID, domain)
	if err != nil {
		return "", cerr.Wrap(cerr.Internal, "memory.snapshot_failed", "failed to capture session state", err)
	}

	sum := sha256.Sum256(raw)
	checksum := hex.EncodeToString(sum[:])
	blob := s.encoder.EncodeAll(raw, nil)

	var parentID sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT checkpoint_id FROM last_checkpoint WHERE sovereign_id = ? AND domain = ?`, sovereignID, domain).Scan(&parentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", cerr.Wrap(cerr.Internal, "memory.lookup_parent_failed", "failed to look up prior checkpoint", err)
	}

	id := uuid.NewString()
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", cerr.Wrap(cerr.Internal, "memory.tx_begin_failed", "failed to begin checkpoint transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, sovereign_id, domain, parent_id, reason, state_blob, checksum, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sovereignID, domain, nullIfEmpty(parentID.String), reason, blob, checksum, now,
	); err != nil {
		return "", cerr.Wrap(cerr.Internal, "memory.insert_failed", "failed to write checkpoint row", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO last_checkpoint (sovereign_id, domain, checkpoint_id) VALUES (?, ?, ?)
		 ON CONFLICT(sovereign_id, domain) DO UPDATE SET checkpoint_id = excluded.checkpoint_id`,
		sovereignID, domain, id,
	); err != nil {
		return "", cerr.Wrap(cerr.Internal, "memory.cas_failed", "failed to advance last checkpoint", err)
	}

	if err := tx.Commit(); err != nil {
		return "", cerr.Wrap(cerr.Internal, "memory.tx_commit_failed", "failed to commit checkpoint", err)
	}

	return id, nil
}

// Restore reads back the uncompressed state for id, verifying its
// checksum. A mismatch marks this checkpoint corrupted and walks Parent,
// per spec §4.8.
func (s *CheckpointStore) Restore(ctx context.Context, id string) ([]byte, error) {
	for id != "" {
		cp, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		raw, err := s.decoder.DecodeAll(cp.StateBlob, nil)
		if err != nil {
			id = cp.ParentID
			continue
		}
		sum := sha256.Sum256(raw)
		if hex.EncodeToString(sum[:]) != cp.Checksum {
			id = cp.ParentID
			continue
		}
		return raw, nil
	}
	return nil, cerr.New(cerr.CheckpointBad, "memory.chain_exhausted", "no verifiable checkpoint found in the parent chain")
}

func (s *CheckpointStore) get(ctx context.Context, id string) (Checkpoint, error) {
	var cp Checkpoint
	var parentID sql.NullString
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sovereign_id, domain, parent_id, reason, state_blob, checksum, created_at FROM checkpoints WHERE id = ?`, id)
	if err := row.Scan(&cp.ID, &cp.SovereignID, &cp.Domain, &parentID, &cp.Reason, &cp.StateBlob, &cp.Checksum, &cp.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkpoint{}, cerr.New(cerr.CheckpointBad, "memory.not_found", fmt.Sprintf("checkpoint %q not found", id))
		}
		return Checkpoint{}, cerr.Wrap(cerr.Internal, "memory.get_failed", "failed to read checkpoint", err)
	}
	cp.ParentID = parentID.String
	return cp, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
