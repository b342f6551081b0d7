package col

import "context"

// load resolves applicable policies, required sandbox, and a
// token-bounded memory context slice.
func (p *Pipeline) load(ctx context.Context, opID string, intent Intent, classify ClassifyResult) LoadResult {
	var policies []Policy
	sandbox := SandboxNone
	if p.policies != nil {
		policies, sandbox = p.policies.Resolve(classify.Domain, classify.Type, intent.PolicyProfile)
	}

	const defaultContextBudget = 2000
	var memCtx string
	if p.memory != nil {
		memCtx = p.memory.ContextSlice(ctx, intent.SovereignID, classify.Domain, intent.ConversationKey, defaultContextBudget)
	}

	result := LoadResult{
		Policies:      policies,
		Sandbox:       sandbox,
		MemoryContext: memCtx,
		EstimatedCost: estimateCost(intent, memCtx),
	}
	p.publishPhase(ctx, opID, "load", result)
	return result
}

// estimateCost is the coarse token estimate (chars/4 plus a fixed 64)
// that LOAD hands to APPLY's ledger debit; it is the only estimate the
// pipeline uses.
func estimateCost(intent Intent, memCtx string) int {
	chars := len(intent.CanonicalContent()) + len(memCtx)
	return chars/4 + 64
}
