package col

import "context"

// apply computes executability: token budget debit, ethics consensus,
// and destructive-op checkpointing (I4, I5).
func (p *Pipeline) apply(ctx context.Context, opID, sessionKey string, intent Intent, classify ClassifyResult, load LoadResult) ApplyResult {
	if p.ledger != nil {
		if ok, _ := p.ledger.Debit(sessionKey, load.EstimatedCost); !ok {
			result := ApplyResult{Executable: false, Reason: "token budget exhausted"}
			p.publishPhase(ctx, opID, "apply", result)
			return result
		}
	}

	for _, pol := range load.Policies {
		if pol.Deny {
			p.releaseDebit(sessionKey)
			result := ApplyResult{Executable: false, Reason: "policy denied: " + pol.Name}
			p.publishPhase(ctx, opID, "apply", result)
			return result
		}
	}

	var ethicsID string
	if p.ethics != nil {
		recordID, allow, reason := p.ethics.Evaluate(ctx, opID, intent, load)
		ethicsID = recordID
		if !allow {
			p.releaseDebit(sessionKey)
			result := ApplyResult{Executable: false, Reason: "ethics denied: " + reason, EthicsRecordID: ethicsID}
			p.publishPhase(ctx, opID, "apply", result)
			return result
		}
	}

	var checkpointID string
	if isDestructive(load.Policies) && p.checkpoints != nil {
		id, err := p.checkpoints.Create(ctx, intent.SovereignID, classify.Domain, "pre-destructive-op:"+opID)
		if err == nil {
			checkpointID = id
		}
	}

	result := ApplyResult{
		Executable:     true,
		ResolvedAgent:  classify.Domain,
		CheckpointID:   checkpointID,
		EthicsRecordID: ethicsID,
	}
	p.publishPhase(ctx, opID, "apply", result)
	return result
}

// releaseDebit undoes a successful Debit when APPLY denies an intent
// after already reserving budget for it — EXECUTE never runs for a
// denied intent, so nothing will call Credit on its behalf.
func (p *Pipeline) releaseDebit(sessionKey string) {
	if p.ledger != nil {
		p.ledger.Credit(sessionKey, 0, 0)
	}
}

func isDestructive(policies []Policy) bool {
	for _, pol := range policies {
		if pol.Destructive {
			return true
		}
	}
	return false
}
