package ethics

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/cell0os/core/internal/col"
)

type compiledRule struct {
	spec RuleSpec
	prg  cel.Program
}

// Consensus evaluates every compiled rule against an intent — hard-veto
// rules deny outright, the rest vote by majority — appending a Record to
// the audit log regardless of the verdict.
type Consensus struct {
	rules []compiledRule
	audit *AuditLog
}

var varDecls = cel.Declarations(
	decl("domain", cel.StringType),
	decl("type", cel.StringType),
	decl("sovereign_id", cel.StringType),
	decl("destructive", cel.BoolType),
	decl("checkpointable", cel.BoolType),
	decl("sandbox", cel.StringType),
	decl("policy_count", cel.IntType),
)

func decl(name string, t *cel.Type) cel.EnvOption {
	return cel.Variable(name, t)
}

// NewConsensus compiles specs (DefaultRules plus any operator-supplied
// additions) against a shared CEL environment; every vote is appended to
// audit, which may be nil.
func NewConsensus(specs []RuleSpec, audit *AuditLog) (*Consensus, error) {
	env, err := cel.NewEnv(varDecls)
	if err != nil {
		return nil, err
	}
	rules := make([]compiledRule, 0, len(specs))
	for _, spec := range specs {
		ast, iss := env.Compile(spec.Expression)
		if iss != nil && iss.Err() != nil {
			return nil, iss.Err()
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, err
		}
		rules = append(rules, compiledRule{spec: spec, prg: prg})
	}
	return &Consensus{rules: rules, audit: audit}, nil
}

// varsFor builds the CEL variables for one vote. checkpointable is taken
// as-is from checkpointStoreConfigured, which the caller decides (Evaluate
// passes whether an audit log is configured); neither the checkpoint
// store nor LOAD's policies are consulted for it. Passing false makes the
// destructive_requires_checkpoint_path rule deny every destructive op.
func varsFor(intent col.Intent, load col.LoadResult, checkpointStoreConfigured bool) map[string]any {
	typ := ""
	destructive := false
	for _, p := range load.Policies {
		if p.Type != "" {
			typ = string(p.Type)
		}
		if p.Destructive {
			destructive = true
		}
	}
	return map[string]any{
		"domain":         intent.Domain,
		"type":           typ,
		"sovereign_id":   intent.SovereignID,
		"destructive":    destructive,
		"checkpointable": checkpointStoreConfigured,
		"sandbox":        string(load.Sandbox),
		"policy_count":   int64(len(load.Policies)),
	}
}

// Evaluate implements col.EthicsConsensus: hard-veto rules deny outright
// the moment they fail; the remaining rules vote, and a majority of them
// failing also denies, while a minority failing defers (spec §4.6's
// "6 rules, majority required; any hard-veto rule denies outright"). Every
// rule runs and casts a vote regardless of an earlier veto, so the audit
// record always shows the full ballot.
func (c *Consensus) Evaluate(ctx context.Context, opID string, intent col.Intent, load col.LoadResult) (string, bool, string) {
	vars := varsFor(intent, load, c.audit != nil)
	votes := make([]Vote, 0, len(c.rules))

	var hardVetoReason string
	hardVetoed := false
	majorityTotal, majorityFailed := 0, 0
	var majorityReason string

	for _, r := range c.rules {
		passed, err := evalRule(r, vars)
		if err != nil {
			slog.Warn("ethics: rule evaluation error", "rule", r.spec.Name, "error", err)
		}
		votes = append(votes, Vote{Rule: r.spec.Name, Passed: passed, Reason: failReason(passed, r.spec.Reason)})

		if !r.spec.HardVeto {
			majorityTotal++
		}
		if passed {
			continue
		}
		if r.spec.HardVeto {
			if !hardVetoed {
				hardVetoed = true
				hardVetoReason = r.spec.Reason
			}
			continue
		}
		majorityFailed++
		if majorityReason == "" {
			majorityReason = r.spec.Reason
		}
	}

	decision := DecisionAllow
	reason := ""
	switch {
	case hardVetoed:
		decision = DecisionDeny
		reason = hardVetoReason
	case majorityTotal > 0 && majorityFailed*2 > majorityTotal:
		decision = DecisionDeny
		reason = "majority of consensus rules denied: " + majorityReason
	case majorityFailed > 0:
		decision = DecisionDefer
		reason = majorityReason
	}

	typStr := ""
	for _, p := range load.Policies {
		if p.Type != "" {
			typStr = string(p.Type)
		}
	}

	record := Record{
		ID:          uuid.NewString(),
		OperationID: opID,
		SovereignID: intent.SovereignID,
		Domain:      intent.Domain,
		Type:        typStr,
		Destructive: vars["destructive"].(bool),
		Votes:       votes,
		Decision:    decision,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
	if c.audit != nil {
		c.audit.Append(record)
	}
	return record.ID, record.Allow(), reason
}

func evalRule(r compiledRule, vars map[string]any) (bool, error) {
	out, _, err := r.prg.Eval(vars)
	if err != nil {
		return false, err
	}
	passed, ok := out.Value().(bool)
	return ok && passed, nil
}

func failReason(passed bool, reason string) string {
	if passed {
		return ""
	}
	return reason
}

// Deny appends a deny-decision Record for a rejection COL's Evaluate never
// runs for, because no Intent/LoadResult exists yet — e.g. the gateway
// dropping a message from an unresolved sender before COL ever sees it
// (spec §8 scenario 1: "one ethics entry {decision: deny, reason: unknown
// sovereign}; no message sent on channel").
func (c *Consensus) Deny(sovereignID, domain, reason string) string {
	if c == nil {
		return ""
	}
	record := Record{
		ID:          uuid.NewString(),
		SovereignID: sovereignID,
		Domain:      domain,
		Decision:    DecisionDeny,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
	if c.audit != nil {
		c.audit.Append(record)
	}
	return record.ID
}
