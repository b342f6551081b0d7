package tokenbudget

import "sync"

// account tracks one session's budget, mirroring the per-key map+mutex
// shape of sessions.Manager (vanducng-goclaw/internal/sessions/
// manager.go's AccumulateTokens/SetLastPromptTokens), generalized from
// "accumulate for reporting" to "debit against a hard ceiling".
type account struct {
	limit     int
	spent     int
	estimated int // currently-debited-but-not-yet-credited amount
}

// Ledger implements col.TokenLedger: APPLY debits an estimate before
// EXECUTE runs, EXECUTE credits back the difference once the actual
// cost is known. A session with no configured limit is treated as
// unbounded (debit always succeeds). No config key sets a limit: the
// gateway wiring creates the ledger with defaultLimit 0.
type Ledger struct {
	mu            sync.Mutex
	defaultLimit  int
	accounts      map[string]*account
}

func NewLedger(defaultLimit int) *Ledger {
	return &Ledger{defaultLimit: defaultLimit, accounts: make(map[string]*account)}
}

func (l *Ledger) acct(sessionKey string) *account {
	a, ok := l.accounts[sessionKey]
	if !ok {
		a = &account{limit: l.defaultLimit}
		l.accounts[sessionKey] = a
	}
	return a
}

// Debit implements col.TokenLedger. A limit of 0 means unbounded.
func (l *Ledger) Debit(sessionKey string, estimated int) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.acct(sessionKey)
	if a.limit <= 0 {
		a.estimated += estimated
		return true, -1
	}
	remaining := a.limit - a.spent - a.estimated
	if estimated > remaining {
		return false, remaining
	}
	a.estimated += estimated
	return true, remaining - estimated
}

// Credit implements col.TokenLedger: releases whatever this session has
// outstanding in Debit estimates and books the actual cost instead. I3's
// strict per-session FIFO guarantees at most one op's estimate is ever
// outstanding for a given sessionKey, so Credit always clears it fully
// rather than needing the caller to echo back the exact amount it
// originally debited (col's EXECUTE phase doesn't carry LOAD's
// EstimatedCost that far, so it calls Credit with estimated=0 — that's
// treated as "release whatever is outstanding", not "release zero").
func (l *Ledger) Credit(sessionKey string, estimated, actual int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.acct(sessionKey)
	a.estimated = 0
	a.spent += actual
}

// Remaining reports the current unbudgeted balance for a session (-1 for
// unbounded sessions).
func (l *Ledger) Remaining(sessionKey string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.acct(sessionKey)
	if a.limit <= 0 {
		return -1
	}
	return a.limit - a.spent - a.estimated
}

// SetLimit overrides the per-session budget, e.g. once LOAD resolves a
// domain-specific policy that differs from the ledger's default.
func (l *Ledger) SetLimit(sessionKey string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acct(sessionKey).limit = limit
}
