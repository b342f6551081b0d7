package metaagent

import "context"

// Metrics is OBSERVE's snapshot: the signals REFLECT compares against
// declared goals and thresholds.
type Metrics struct {
	AvgLatencyMS     float64
	FailureCount     int
	PolicyBlockCount int
	TokenBurn        int
	UnresolvedGoals  int
}

// MetricsSource supplies the OBSERVE snapshot. The gateway/COL layers
// implement this by aggregating their own counters; metaagent has no
// opinion on how they're collected.
type MetricsSource interface {
	Snapshot(ctx context.Context) Metrics
}

// Threshold is one REFLECT comparison: if the named metric meets or
// exceeds Limit, a candidate improvement action is produced for Domain.
type Threshold struct {
	Metric string // "latency_ms", "failures", "policy_blocks", "token_burn", "unresolved_goals"
	Limit  float64
	Domain string
	Action string
}

// DefaultThresholds is the out-of-the-box REFLECT policy that NewLoop
// installs; no config key changes it, only assigning Loop.Thresholds.
var DefaultThresholds = []Threshold{
	{Metric: "latency_ms", Limit: 2000, Domain: "performance", Action: "investigate elevated pipeline latency"},
	{Metric: "failures", Limit: 5, Domain: "reliability", Action: "investigate recent execute failures"},
	{Metric: "policy_blocks", Limit: 10, Domain: "policy", Action: "review policy rules generating frequent denials"},
	{Metric: "token_burn", Limit: 100000, Domain: "cost", Action: "review token budget allocation"},
	{Metric: "unresolved_goals", Limit: 20, Domain: "goal_hygiene", Action: "prune or re-prioritize stale goals"},
}

func metricValue(m Metrics, name string) float64 {
	switch name {
	case "latency_ms":
		return m.AvgLatencyMS
	case "failures":
		return float64(m.FailureCount)
	case "policy_blocks":
		return float64(m.PolicyBlockCount)
	case "token_burn":
		return float64(m.TokenBurn)
	case "unresolved_goals":
		return float64(m.UnresolvedGoals)
	default:
		return 0
	}
}
