package metaagent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cell0os/core/internal/col"
)

type fakeMetrics struct {
	m Metrics
}

func (f fakeMetrics) Snapshot(ctx context.Context) Metrics { return f.m }

type fakeRunner struct {
	result col.PipelineResult
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context, intent col.Intent) col.PipelineResult {
	f.calls++
	return f.result
}

func newTestLoop(t *testing.T, metrics Metrics, runner *fakeRunner) *Loop {
	t.Helper()
	gm, err := NewGoalManager(filepath.Join(t.TempDir(), "goals.jsonl"))
	if err != nil {
		t.Fatalf("NewGoalManager: %v", err)
	}
	l := NewLoop(runner, gm, fakeMetrics{m: metrics}, "meta-sov")
	return l
}

func TestTickProposesGoalWhenThresholdExceeded(t *testing.T) {
	runner := &fakeRunner{result: col.PipelineResult{Apply: col.ApplyResult{Executable: true}, Execute: col.ExecuteResult{}}}
	l := newTestLoop(t, Metrics{FailureCount: 10}, runner)

	summary := l.Tick(context.Background())
	if len(summary.Proposed) == 0 {
		t.Fatalf("expected at least one proposed goal for high failure count")
	}
	found := false
	for _, g := range summary.Proposed {
		if g.Domain == "reliability" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a reliability-domain goal, got %+v", summary.Proposed)
	}
}

func TestTickProposesNothingBelowThresholds(t *testing.T) {
	runner := &fakeRunner{}
	l := newTestLoop(t, Metrics{}, runner)

	summary := l.Tick(context.Background())
	if len(summary.Proposed) != 0 {
		t.Fatalf("expected no proposed goals, got %+v", summary.Proposed)
	}
	if runner.calls != 0 {
		t.Fatalf("expected no pipeline runs when nothing was proposed")
	}
}

func TestActAbandonsGoalWhenPipelineDenies(t *testing.T) {
	runner := &fakeRunner{result: col.PipelineResult{Apply: col.ApplyResult{Executable: false, Reason: "ethics denied"}}}
	l := newTestLoop(t, Metrics{FailureCount: 10}, runner)

	summary := l.Tick(context.Background())
	if len(summary.ActedOn) == 0 {
		t.Fatalf("expected at least one acted-on goal")
	}
	if summary.ActedOn[0].State != GoalAbandoned {
		t.Fatalf("expected goal to be abandoned when APPLY denies, got %s", summary.ActedOn[0].State)
	}
}

func TestActAchievesGoalOnSuccessfulExecute(t *testing.T) {
	runner := &fakeRunner{result: col.PipelineResult{Apply: col.ApplyResult{Executable: true}, Execute: col.ExecuteResult{Content: "done"}}}
	l := newTestLoop(t, Metrics{FailureCount: 10}, runner)

	summary := l.Tick(context.Background())
	if summary.ActedOn[0].State != GoalAchieved {
		t.Fatalf("expected goal to be achieved, got %s", summary.ActedOn[0].State)
	}
}

func TestGoalManagerSurvivesRestartViaLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goals.jsonl")
	gm1, err := NewGoalManager(path)
	if err != nil {
		t.Fatalf("NewGoalManager: %v", err)
	}
	g := gm1.Propose("performance", "investigate latency")
	gm1.Transition(g.ID, GoalActive)
	gm1.Close()

	gm2, err := NewGoalManager(path)
	if err != nil {
		t.Fatalf("NewGoalManager (reopen): %v", err)
	}
	unresolved := gm2.Unresolved()
	if len(unresolved) != 1 || unresolved[0].State != GoalActive {
		t.Fatalf("expected replayed goal to be active, got %+v", unresolved)
	}
}

func TestWildcardScheduleIsDue(t *testing.T) {
	runner := &fakeRunner{}
	l := newTestLoop(t, Metrics{}, runner)
	l.Schedule = "* * * * *" // due every minute
	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	l.Clock = func() time.Time { return fixed }

	due, err := l.cron.IsDue(l.Schedule, l.Clock())
	if err != nil {
		t.Fatalf("IsDue: %v", err)
	}
	if !due {
		t.Fatalf("expected wildcard schedule to be due at any minute")
	}
}
