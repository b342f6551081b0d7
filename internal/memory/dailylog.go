package memory

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyLog is the append-only, read-mostly middle tier: one JSONL file
// per UTC day per sovereign, under dir/<sovereignId>/<YYYY-MM-DD>.jsonl.
// Shares AuditLog's roll-at-day-boundary, O_APPEND design (internal/
// ethics/audit.go) since both tiers are "never rewritten, only grows".
type DailyLog struct {
	dir string
	mu  sync.Mutex

	day      string
	sovereign string
	file     *os.File
	now      func() time.Time
}

func NewDailyLog(dir string) (*DailyLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DailyLog{dir: dir, now: time.Now}, nil
}

func (d *DailyLog) Append(sovereignID, sessionKey, role, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	day := now.Format("2006-01-02")
	if day != d.day || sovereignID != d.sovereign || d.file == nil {
		if d.file != nil {
			d.file.Close()
		}
		sdir := filepath.Join(d.dir, sanitize(sovereignID))
		if err := os.MkdirAll(sdir, 0o755); err != nil {
			slog.Warn("memory: failed to create daily log dir", "sovereign", sovereignID, "error", err)
			return
		}
		path := filepath.Join(sdir, day+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Warn("memory: failed to open daily log", "path", path, "error", err)
			return
		}
		d.file = f
		d.day = day
		d.sovereign = sovereignID
	}

	entry := DailyEntry{SovereignID: sovereignID, SessionKey: sessionKey, Role: role, Content: content, At: now}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := d.file.Write(line); err != nil {
		slog.Warn("memory: failed to append daily log entry", "error", err)
	}
}

// Tail reads the last n entries for sovereignID across today and
// yesterday's files (enough for LOAD's context slice without scanning
// the whole history).
func (d *DailyLog) Tail(sovereignID string, n int) []DailyEntry {
	if n <= 0 {
		n = 50
	}
	now := d.now().UTC()
	var all []DailyEntry
	for _, day := range []string{now.Format("2006-01-02"), now.AddDate(0, 0, -1).Format("2006-01-02")} {
		path := filepath.Join(d.dir, sanitize(sovereignID), day+".jsonl")
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var e DailyEntry
			if json.Unmarshal(scanner.Bytes(), &e) == nil {
				all = append(all, e)
			}
		}
		f.Close()
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

func (d *DailyLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
