package metaagent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/col"
)

// PipelineRunner is the narrow col.Pipeline dependency ACT needs. Using
// the real Pipeline here means an improvement intent goes through STOP,
// CLASSIFY, LOAD, APPLY (ethics + token budget + checkpointing), and
// EXECUTE exactly like any channel-originated intent — the Meta-Agent
// has no side door.
type PipelineRunner interface {
	Run(ctx context.Context, intent col.Intent) col.PipelineResult
}

// Loop drives one OBSERVE/REFLECT/GOAL-SET/ACT/EVALUATE cycle per Tick,
// and Run schedules Tick on a cron expression against an injectable
// clock so tests don't sleep real time.
type Loop struct {
	Runner      PipelineRunner
	Goals       *GoalManager
	Metrics     MetricsSource
	Thresholds  []Threshold
	SovereignID string // identity the Meta-Agent acts under
	Domain      string // default domain for self-initiated intents

	Schedule string // cron expression, default "*/5 * * * *"
	Clock    func() time.Time

	cron gronx.Gronx
}

func NewLoop(runner PipelineRunner, goals *GoalManager, metrics MetricsSource, sovereignID string) *Loop {
	return &Loop{
		Runner:      runner,
		Goals:       goals,
		Metrics:     metrics,
		Thresholds:  DefaultThresholds,
		SovereignID: sovereignID,
		Domain:      "meta",
		Schedule:    "*/5 * * * *",
		Clock:       time.Now,
		cron:        gronx.New(),
	}
}

// RunSummary is EVALUATE's output, one per Tick.
type RunSummary struct {
	At            time.Time
	Before        Metrics
	After         Metrics
	Proposed      []Goal
	ActedOn       []Goal
	UnresolvedEnd int
}

// candidate is REFLECT's output before GOAL-SET turns it into a Goal.
type candidate struct {
	domain string
	action string
}

func reflect(m Metrics, thresholds []Threshold) []candidate {
	var out []candidate
	for _, th := range thresholds {
		if metricValue(m, th.Metric) >= th.Limit {
			out = append(out, candidate{domain: th.Domain, action: th.Action})
		}
	}
	return out
}

// Tick runs exactly one cycle. It never blocks on Schedule — callers
// that want cron-gated execution use Run, which checks IsDue before
// calling Tick.
func (l *Loop) Tick(ctx context.Context) RunSummary {
	before := l.Metrics.Snapshot(ctx)

	candidates := reflect(before, l.Thresholds)

	var proposed []Goal
	for _, c := range candidates {
		proposed = append(proposed, l.Goals.Propose(c.domain, c.action))
	}

	var actedOn []Goal
	for _, g := range proposed {
		acted := l.act(ctx, g)
		actedOn = append(actedOn, acted)
	}

	after := l.Metrics.Snapshot(ctx)

	summary := RunSummary{
		At:            l.Clock().UTC(),
		Before:        before,
		After:         after,
		Proposed:      proposed,
		ActedOn:       actedOn,
		UnresolvedEnd: len(l.Goals.Unresolved()),
	}
	slog.Info("metaagent: tick complete",
		"proposed", len(proposed), "acted_on", len(actedOn), "unresolved", summary.UnresolvedEnd)
	return summary
}

// act transitions a proposed goal to active, runs it through the normal
// COL pipeline, and settles its final state from the pipeline result.
func (l *Loop) act(ctx context.Context, g Goal) Goal {
	g, _ = l.Goals.Transition(g.ID, GoalActive)

	intent := col.Intent{
		SovereignID:     l.SovereignID,
		Domain:          l.Domain,
		ConversationKey: "metaagent:" + g.ID,
		Content:         bus.Content{Text: fmt.Sprintf("[meta goal %s/%s] %s", g.Domain, g.ID, g.Description)},
		PolicyProfile:   "meta",
	}

	result := l.Runner.Run(ctx, intent)

	switch {
	case !result.Apply.Executable:
		g, _ = l.Goals.Transition(g.ID, GoalAbandoned)
	case result.Execute.Err != nil:
		// stays active: worth retrying next tick rather than abandoning
		// on a single transient EXECUTE failure.
	default:
		g, _ = l.Goals.Transition(g.ID, GoalAchieved)
	}
	return g
}

// Run blocks, checking Schedule against Clock() every minute (cron's own
// resolution) and firing Tick when due. It returns when ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := l.cron.IsDue(l.Schedule, l.Clock())
			if err != nil {
				slog.Warn("metaagent: invalid schedule expression", "schedule", l.Schedule, "error", err)
				continue
			}
			if due {
				l.Tick(ctx)
			}
		}
	}
}
