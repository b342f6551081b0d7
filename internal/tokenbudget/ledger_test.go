package tokenbudget

import "testing"

func TestDebitWithinLimitSucceeds(t *testing.T) {
	l := NewLedger(1000)
	ok, remaining := l.Debit("sess-1", 200)
	if !ok {
		t.Fatalf("expected debit to succeed")
	}
	if remaining != 800 {
		t.Fatalf("expected remaining 800, got %d", remaining)
	}
}

func TestDebitOverLimitFails(t *testing.T) {
	l := NewLedger(100)
	ok, _ := l.Debit("sess-1", 200)
	if ok {
		t.Fatalf("expected debit over limit to fail")
	}
}

func TestUnboundedSessionAlwaysSucceeds(t *testing.T) {
	l := NewLedger(0)
	ok, remaining := l.Debit("sess-1", 1_000_000)
	if !ok {
		t.Fatalf("expected unbounded debit to succeed")
	}
	if remaining != -1 {
		t.Fatalf("expected -1 for unbounded remaining, got %d", remaining)
	}
}

func TestCreditReleasesOutstandingEstimate(t *testing.T) {
	l := NewLedger(1000)
	l.Debit("sess-1", 300)
	l.Credit("sess-1", 0, 250)

	if got := l.Remaining("sess-1"); got != 750 {
		t.Fatalf("expected remaining 750 after credit, got %d", got)
	}
}

func TestDenialReleasesDebitWithoutSpending(t *testing.T) {
	l := NewLedger(1000)
	l.Debit("sess-1", 300)
	l.Credit("sess-1", 0, 0) // denied after debit, nothing actually spent

	if got := l.Remaining("sess-1"); got != 1000 {
		t.Fatalf("expected full budget restored, got %d", got)
	}
}

func TestSetLimitOverridesDefault(t *testing.T) {
	l := NewLedger(1000)
	l.SetLimit("sess-1", 50)
	ok, _ := l.Debit("sess-1", 100)
	if ok {
		t.Fatalf("expected debit to fail against overridden lower limit")
	}
}
