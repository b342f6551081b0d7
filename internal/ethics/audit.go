package ethics

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// AuditLog is the append-only JSONL sink every Evaluate call writes to,
// one file per UTC day under dir (ethics-2026-07-31.jsonl). Unlike
// sessions.Manager's atomic temp-file-then-rename Save, an audit trail is
// never rewritten wholesale — it only ever grows, so a single O_APPEND
// handle per day is both simpler and correct: a crash mid-write loses at
// most the last line, never a prior one.
type AuditLog struct {
	dir string
	mu  sync.Mutex

	day  string
	file *os.File
}

func NewAuditLog(dir string) (*AuditLog, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &AuditLog{dir: dir}, nil
}

// Append writes record as one JSON line, rolling to a new file at the UTC
// day boundary. Failures are logged, never returned — an ethics veto must
// never be blocked on disk I/O succeeding.
func (a *AuditLog) Append(record Record) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	day := record.CreatedAt.Format("2006-01-02")
	if day != a.day || a.file == nil {
		if a.file != nil {
			a.file.Close()
		}
		path := filepath.Join(a.dir, "ethics-"+day+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Warn("ethics: failed to open audit log", "path", path, "error", err)
			return
		}
		a.file = f
		a.day = day
	}

	line, err := json.Marshal(record)
	if err != nil {
		slog.Warn("ethics: failed to marshal audit record", "error", err)
		return
	}
	line = append(line, '\n')
	if _, err := a.file.Write(line); err != nil {
		slog.Warn("ethics: failed to write audit record", "error", err)
	}
}

// Close flushes and closes the current day's file, if any.
func (a *AuditLog) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
