package col

import (
	"context"
	"sync"
	"time"

	"github.com/cell0os/core/internal/bus"
)

// EventPublisher is the narrow event-bus dependency COL needs to stream
// phase transitions (kind=col_event, payload.phase ∈ §4.4).
type EventPublisher interface {
	Publish(kind string, payload any)
}

// SessionKey derives the composite session key spec §3 defines:
// (sovereignId, domain, conversationKey).
func SessionKey(sovereignID, domain, conversationKey string) string {
	return sovereignID + ":" + domain + ":" + conversationKey
}

// Pipeline runs every intent through STOP → CLASSIFY → LOAD → APPLY →
// EXECUTE. One Pipeline serves the whole gateway process; per-session
// ordering is enforced by perSessionLock, cross-session work runs on the
// bounded worker pool.
type Pipeline struct {
	classifier  Classifier
	policies    PolicyLoader
	memory      MemoryLoader
	ethics      EthicsConsensus
	checkpoints Checkpointer
	ledger      TokenLedger
	mesh        AgentDispatcher
	sessions    SessionStore
	events      EventPublisher

	coalesce *coalescer

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sync.Mutex

	workers chan struct{} // bounds cross-session parallelism

	now func() time.Time
}

// Config wires every COL collaborator. Nil fields degrade gracefully
// (e.g. nil EthicsConsensus means no ethics gate — only acceptable in
// tests, never in a real deployment).
type Config struct {
	Classifier    Classifier
	Policies      PolicyLoader
	Memory        MemoryLoader
	Ethics        EthicsConsensus
	Checkpoints   Checkpointer
	Ledger        TokenLedger
	Mesh          AgentDispatcher
	Sessions      SessionStore
	Events        EventPublisher
	MaxConcurrent int // global worker pool size, default 32
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 32
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NewDefaultClassifier(nil)
	}
	return &Pipeline{
		classifier:   classifier,
		policies:     cfg.Policies,
		memory:       cfg.Memory,
		ethics:       cfg.Ethics,
		checkpoints:  cfg.Checkpoints,
		ledger:       cfg.Ledger,
		mesh:         cfg.Mesh,
		sessions:     cfg.Sessions,
		events:       cfg.Events,
		coalesce:     newCoalescer(),
		sessionLocks: make(map[string]*sync.Mutex),
		workers:      make(chan struct{}, cfg.MaxConcurrent),
		now:          time.Now,
	}
}

func (p *Pipeline) publishPhase(_ context.Context, opID, phase string, payload any) {
	if p.events == nil {
		return
	}
	p.events.Publish("col_event", map[string]any{"operationId": opID, "phase": phase, "data": payload})
}

func (p *Pipeline) sessionLock(key string) *sync.Mutex {
	p.sessionLocksMu.Lock()
	defer p.sessionLocksMu.Unlock()
	l, ok := p.sessionLocks[key]
	if !ok {
		l = &sync.Mutex{}
		p.sessionLocks[key] = l
	}
	return l
}

// Run drives one intent through all five phases. Children spawned by a
// PARALLEL marker are run concurrently and joined back in original order.
func (p *Pipeline) Run(ctx context.Context, intent Intent) PipelineResult {
	sessionKey := SessionKey(intent.SovereignID, intent.Domain, intent.ConversationKey)

	// STOP runs before the session lock so a concurrent duplicate attaches
	// to the in-flight call instead of queueing behind it (I3).
	rec, call, leader := p.stop(ctx, intent)
	if !leader {
		<-call.done
		return call.result
	}

	// Per-session FIFO: one pipeline at a time per session key (I3's
	// "exactly one EXECUTE runs" plus spec §4.4's arrival-order guarantee).
	lock := p.sessionLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	p.workers <- struct{}{}
	defer func() { <-p.workers }()

	return p.runLeader(ctx, sessionKey, intent, rec)
}

func (p *Pipeline) runOne(ctx context.Context, sessionKey string, intent Intent) PipelineResult {
	rec, call, leader := p.stop(ctx, intent)
	if !leader {
		<-call.done
		return call.result
	}
	return p.runLeader(ctx, sessionKey, intent, rec)
}

func (p *Pipeline) runLeader(ctx context.Context, sessionKey string, intent Intent, rec OperationRecord) PipelineResult {
	if p.sessions != nil {
		if prior, ok := p.sessions.PriorResult(rec.OperationID); ok {
			p.coalesce.finish(rec.IntentFingerprint, prior)
			return prior
		}
	}

	classify := p.classifyPhase(ctx, rec.OperationID, intent)
	load := p.load(ctx, rec.OperationID, intent, classify)
	apply := p.apply(ctx, rec.OperationID, sessionKey, intent, classify, load)

	result := PipelineResult{
		OperationID: rec.OperationID,
		Stop:        rec,
		Classify:    classify,
		Load:        load,
		Apply:       apply,
	}

	if !apply.Executable {
		p.coalesce.finish(rec.IntentFingerprint, result)
		if p.sessions != nil {
			p.sessions.RecordResult(rec.OperationID, sessionKey, result)
		}
		return result
	}

	if len(intent.Children) > 0 {
		result.Children = p.runChildren(ctx, sessionKey, intent.Children)
		result.Execute = joinChildResults(rec.OperationID, result.Children)
	} else {
		result.Execute = p.execute(ctx, rec.OperationID, sessionKey, intent, apply)
	}

	if p.sessions != nil {
		p.sessions.RecordResult(rec.OperationID, sessionKey, result)
	}
	p.coalesce.finish(rec.IntentFingerprint, result)
	return result
}

func (p *Pipeline) classifyPhase(ctx context.Context, opID string, intent Intent) ClassifyResult {
	result := p.classifier.Classify(ctx, intent)
	p.publishPhase(ctx, opID, "classify", result)
	return result
}

// runChildren executes PARALLEL child pipelines concurrently and returns
// results in original child-index order, reproducible for tests.
func (p *Pipeline) runChildren(ctx context.Context, sessionKey string, children []Intent) []PipelineResult {
	results := make([]PipelineResult, len(children))
	var wg sync.WaitGroup
	for i, child := range children {
		wg.Add(1)
		go func(idx int, c Intent) {
			defer wg.Done()
			p.workers <- struct{}{}
			defer func() { <-p.workers }()
			results[idx] = p.runOne(ctx, sessionKey, c)
		}(i, child)
	}
	wg.Wait()
	return results
}

func joinChildResults(opID string, children []PipelineResult) ExecuteResult {
	combined := make([]string, 0, len(children))
	actual := 0
	var firstErr error
	for _, c := range children {
		combined = append(combined, c.Execute.Content)
		actual += c.Execute.ActualCost
		if firstErr == nil && c.Execute.Err != nil {
			firstErr = c.Execute.Err
		}
	}
	content := ""
	for i, c := range combined {
		if i > 0 {
			content += "\n"
		}
		content += c
	}
	return ExecuteResult{OperationID: opID, Content: content, ActualCost: actual, Err: firstErr}
}

// FromInbound builds an Intent from a normalized channel message. domain
// is the prior session domain, or the result of a fresh CLASSIFY when
// this is the first message on a conversationKey (spec §4.2 step 2).
func FromInbound(msg bus.InboundMessage, sovereignID, domain, policyProfile string) Intent {
	return Intent{
		SovereignID:     sovereignID,
		Domain:          domain,
		ConversationKey: msg.ConversationKey,
		Channel:         msg.Channel,
		Content:         msg.Content,
		PolicyProfile:   policyProfile,
		Source:          &msg,
	}
}
