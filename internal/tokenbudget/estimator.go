package tokenbudget

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens in a string. The gateway's SessionManager uses
// it to compact session logs; LOAD's EstimatedCost does not use it.
type Estimator struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the cl100k_base encoding (the common denominator
// across the chat-completion-style providers this gateway fronts). If
// the encoding can't be loaded (offline, no cached BPE ranks) Estimate
// falls back to the chars/4 heuristic col's LOAD phase already uses.
func NewEstimator() *Estimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tokenbudget: failed to load tiktoken encoding, falling back to heuristic estimate", "error", err)
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

func (e *Estimator) Estimate(text string) int {
	e.mu.Lock()
	enc := e.enc
	e.mu.Unlock()
	if enc == nil {
		return len(text)/4 + 1
	}
	return len(enc.Encode(text, nil, nil))
}
