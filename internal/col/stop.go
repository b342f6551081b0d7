package col

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

// fingerprint computes intentFingerprint = hash(sovereignId, domain,
// canonicalized-content), matching the STOP phase contract.
func fingerprint(sovereignID, domain, canonical string) string {
	h := sha256.New()
	h.Write([]byte(sovereignID))
	h.Write([]byte{0})
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// inflightCall tracks one in-progress pipeline run so concurrent intents
// carrying the same fingerprint coalesce onto it (I3).
type inflightCall struct {
	done   chan struct{}
	result PipelineResult
}

// coalescer is the in-process at-most-one-build lock. redislock.go holds
// a separate Redis-backed DistributedLock; the pipeline always uses this
// coalescer and the two share no interface.
type coalescer struct {
	mu    sync.Mutex
	calls map[string]*inflightCall
}

func newCoalescer() *coalescer {
	return &coalescer{calls: make(map[string]*inflightCall)}
}

// attach returns (call, leader). When leader is true, the caller owns the
// run and must call finish() when done; otherwise the caller should wait
// on call.done and reuse call.result.
func (c *coalescer) attach(key string) (call *inflightCall, leader bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.calls[key]; ok {
		return existing, false
	}
	call = &inflightCall{done: make(chan struct{})}
	c.calls[key] = call
	return call, true
}

func (c *coalescer) finish(key string, result PipelineResult) {
	c.mu.Lock()
	call, ok := c.calls[key]
	delete(c.calls, key)
	c.mu.Unlock()
	if !ok {
		return
	}
	call.result = result
	close(call.done)
}

// stop records the OperationRecord and resolves fingerprint coalescing.
// No reads or writes happen here (I2) beyond the ledger entry itself.
func (p *Pipeline) stop(ctx context.Context, intent Intent) (OperationRecord, *inflightCall, bool) {
	fp := fingerprint(intent.SovereignID, intent.Domain, intent.CanonicalContent())
	rec := OperationRecord{
		OperationID:       uuid.NewString(),
		IntentFingerprint: fp,
		SovereignID:       intent.SovereignID,
		Domain:            intent.Domain,
		CreatedAt:         p.now(),
	}
	p.publishPhase(ctx, rec.OperationID, "stop", rec)
	call, leader := p.coalesce.attach(fp)
	return rec, call, leader
}
