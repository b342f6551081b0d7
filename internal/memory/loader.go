package memory

import (
	"context"
	"strings"
)

// Loader implements col.MemoryLoader: it resolves LOAD's memory context
// slice from the daily log tail plus matching long-term notes, bounded
// by an approximate token budget (chars/4, mirroring col's own
// estimateCost heuristic; the slice is not re-estimated afterwards).
type Loader struct {
	daily *DailyLog
	notes *NoteStore
}

func NewLoader(daily *DailyLog, notes *NoteStore) *Loader {
	return &Loader{daily: daily, notes: notes}
}

func (l *Loader) ContextSlice(ctx context.Context, sovereignID, domain, conversationKey string, tokenBudget int) string {
	if tokenBudget <= 0 {
		tokenBudget = 2000
	}
	budgetChars := tokenBudget * 4

	var b strings.Builder
	if l.daily != nil {
		for _, e := range l.daily.Tail(sovereignID, 50) {
			if e.SessionKey != "" && e.SessionKey != conversationKey {
				continue
			}
			line := e.Role + ": " + e.Content + "\n"
			if b.Len()+len(line) > budgetChars {
				break
			}
			b.WriteString(line)
		}
	}
	if l.notes != nil {
		for _, note := range l.notes.MatchingDomain(ctx, sovereignID, domain, 20) {
			line := "note[" + note.Key + "]: " + note.Content + "\n"
			if b.Len()+len(line) > budgetChars {
				break
			}
			b.WriteString(line)
		}
	}
	return b.String()
}
