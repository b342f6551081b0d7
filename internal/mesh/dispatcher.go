package mesh

import (
	"context"

	"github.com/cell0os/core/internal/cerr"
	"github.com/cell0os/core/internal/col"
)

// Mesh ties Registry, Router, and Fence together into the single
// col.AgentDispatcher the pipeline's EXECUTE phase calls.
type Mesh struct {
	registry *Registry
	router   *Router
	fence    *Fence
	strategy Strategy
}

func NewMesh(registry *Registry, router *Router, fence *Fence, defaultStrategy Strategy) *Mesh {
	if defaultStrategy == "" {
		defaultStrategy = LeastLoaded
	}
	return &Mesh{registry: registry, router: router, fence: fence, strategy: defaultStrategy}
}

// Dispatch implements col.AgentDispatcher.
func (m *Mesh) Dispatch(ctx context.Context, opID string, intent col.Intent, apply col.ApplyResult, onChunk func(string)) (string, int, error) {
	candidates := m.registry.Routable(intent.Domain)
	if len(candidates) == 0 {
		return "", 0, cerr.New(cerr.ProviderDown, "mesh.no_agent", "no online agent available for this domain").
			WithDetails(map[string]any{"domain": intent.Domain})
	}

	sessionKey := col.SessionKey(intent.SovereignID, intent.Domain, intent.ConversationKey)
	chosen := m.router.Select(m.strategy, intent.Domain, apply.ResolvedAgent, sessionKey, candidates)
	token := m.fence.Issue(sessionKey)

	handleIntent := HandleIntent{
		SovereignID:     intent.SovereignID,
		Domain:          intent.Domain,
		ConversationKey: intent.ConversationKey,
		Text:            intent.CanonicalContent(),
		PolicyProfile:   intent.PolicyProfile,
	}

	result := chosen.agent.Handle(ctx, handleIntent, token, onChunk)
	if result.Err != nil {
		m.registry.SetState(chosen.desc.ID, StateDegraded)
		return "", 0, cerr.Wrap(cerr.Internal, "mesh.handle_failed", "agent handler failed", result.Err)
	}
	return result.Content, result.ActualCost, nil
}
