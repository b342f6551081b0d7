package ethics

// DefaultRules is the six-rule baseline every deployment starts with,
// grounded in spec §4.6. Three are hard vetoes — safety invariants around
// destructive ops and meta-agent self-modification that deny outright the
// instant they fail, no vote needed. The other three are majority-counted:
// no single one of them denies on its own, but two or more failing
// together does, and exactly one failing defers rather than allowing.
// NewConsensus compiles exactly the specs it is given, in order: these six
// run only when the caller passes DefaultRules (alone or ahead of its own
// additions).
var DefaultRules = []RuleSpec{
	{
		Name:       "destructive_requires_sandbox",
		Expression: `!destructive || sandbox != "none"`,
		Reason:     "destructive operations must run inside a sandbox",
		HardVeto:   true,
	},
	{
		Name:       "destructive_requires_checkpoint_path",
		Expression: `!destructive || checkpointable`,
		Reason:     "destructive operations require a checkpoint store to be configured",
		HardVeto:   true,
	},
	{
		Name:       "meta_cannot_touch_ethics_domain",
		Expression: `type != "META" || domain != "ethics"`,
		Reason:     "the meta-agent may not modify its own ethics rule set through an ordinary intent",
		HardVeto:   true,
	},
	{
		Name:       "no_empty_domain",
		Expression: `domain != ""`,
		Reason:     "an intent must resolve to a governed domain before executing",
	},
	{
		Name:       "exec_requires_nonempty_sovereign",
		Expression: `type != "SYSTEM_EXEC" || sovereign_id != ""`,
		Reason:     "exec-class intents must carry a resolved sovereign identity",
	},
	{
		Name:       "policy_count_sane",
		Expression: `policy_count < 64`,
		Reason:     "an intent matching an unreasonable number of policies is treated as malformed rather than executed",
	},
}
