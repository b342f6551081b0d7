package col

import (
	"context"

	"github.com/cell0os/core/internal/cerr"
)

// execute dispatches to the agent mesh, streaming partial chunks onto the
// event bus, then appends the final result to the session log and
// credits the token ledger with the actual cost (EXECUTE releases the
// fingerprint lock in the caller after this returns).
func (p *Pipeline) execute(ctx context.Context, opID, sessionKey string, intent Intent, apply ApplyResult) ExecuteResult {
	if p.mesh == nil {
		return ExecuteResult{OperationID: opID, Err: cerr.New(cerr.Internal, "col.no_mesh", "no agent mesh configured")}
	}

	content, actualCost, err := p.mesh.Dispatch(ctx, opID, intent, apply, func(chunk string) {
		p.publishPhase(ctx, opID, "execute", map[string]any{"chunk": chunk})
	})
	result := ExecuteResult{OperationID: opID, Content: content, ActualCost: actualCost, Err: err}

	if p.sessions != nil {
		p.sessions.AppendLog(sessionKey, "assistant", content)
	}
	if p.ledger != nil {
		p.ledger.Credit(sessionKey, 0, actualCost)
	}
	p.publishPhase(ctx, opID, "execute", result)
	return result
}
