// Package metaagent runs the out-of-band self-improvement loop (spec
// §4.6): OBSERVE, REFLECT, GOAL-SET, ACT, EVALUATE, on a cron schedule
// against an injectable clock. ACT never mutates Sessions, Goals, or the
// ethics log directly — it always goes through the normal col.Pipeline
// so self-initiated changes inherit I1–I5 exactly like any other intent.
package metaagent

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GoalState is a Goal's lifecycle stage.
type GoalState string

const (
	GoalProposed  GoalState = "proposed"
	GoalActive    GoalState = "active"
	GoalAchieved  GoalState = "achieved"
	GoalAbandoned GoalState = "abandoned"
)

// Domains enumerates the 17 areas GOAL-SET may propose a Goal in. This
// is a spec Open Question the original left unresolved; the list below
// partitions the system's own observable surfaces (one domain per
// component this repo actually has a metric for) rather than inventing
// generic SRE categories the Meta-Agent has no signal to act on.
var Domains = []string{
	"routing",
	"policy",
	"sandbox",
	"memory",
	"checkpoint",
	"ethics_tuning",
	"token_budget",
	"performance",
	"reliability",
	"cost",
	"security",
	"channel_health",
	"skill_coverage",
	"observability",
	"capacity",
	"goal_hygiene",
	"documentation",
}

// Goal is one self-improvement objective.
type Goal struct {
	ID          string    `json:"id"`
	Domain      string    `json:"domain"`
	Description string    `json:"description"`
	State       GoalState `json:"state"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// GoalManager persists an append-only goal log (every transition, for
// audit) plus a current-state snapshot keyed by goal id, grounded on the
// same append-only JSONL style as internal/ethics's AuditLog but without
// its day-boundary roll — goals are few enough per tick that a single
// growing file is adequate.
type GoalManager struct {
	mu       sync.Mutex
	logFile  *os.File
	goals    map[string]*Goal
	now      func() time.Time
}

func NewGoalManager(logPath string) (*GoalManager, error) {
	gm := &GoalManager{goals: make(map[string]*Goal), now: time.Now}
	if logPath == "" {
		return gm, nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	gm.logFile = f
	gm.replay()
	return gm, nil
}

// replay reconstructs the in-memory snapshot from the log on startup.
func (gm *GoalManager) replay() {
	if gm.logFile == nil {
		return
	}
	if _, err := gm.logFile.Seek(0, 0); err != nil {
		return
	}
	dec := json.NewDecoder(gm.logFile)
	for {
		var g Goal
		if err := dec.Decode(&g); err != nil {
			break
		}
		gc := g
		gm.goals[g.ID] = &gc
	}
	gm.logFile.Seek(0, 2)
}

func (gm *GoalManager) append(g Goal) {
	if gm.logFile == nil {
		return
	}
	line, err := json.Marshal(g)
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := gm.logFile.Write(line); err != nil {
		slog.Warn("metaagent: failed to append goal log entry", "error", err)
	}
}

// Propose creates a new Goal in GoalProposed state.
func (gm *GoalManager) Propose(domain, description string) Goal {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	now := gm.now().UTC()
	g := Goal{ID: uuid.NewString(), Domain: domain, Description: description, State: GoalProposed, CreatedAt: now, UpdatedAt: now}
	gm.goals[g.ID] = &g
	gm.append(g)
	return g
}

// Transition moves an existing goal to a new state.
func (gm *GoalManager) Transition(id string, state GoalState) (Goal, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	g, ok := gm.goals[id]
	if !ok {
		return Goal{}, false
	}
	g.State = state
	g.UpdatedAt = gm.now().UTC()
	gm.append(*g)
	return *g, true
}

// Unresolved returns every goal still in proposed or active state.
func (gm *GoalManager) Unresolved() []Goal {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	var out []Goal
	for _, g := range gm.goals {
		if g.State == GoalProposed || g.State == GoalActive {
			out = append(out, *g)
		}
	}
	return out
}

func (gm *GoalManager) Close() error {
	if gm.logFile == nil {
		return nil
	}
	return gm.logFile.Close()
}
