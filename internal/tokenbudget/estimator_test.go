package tokenbudget

import "testing"

func TestEstimateNonEmpty(t *testing.T) {
	e := NewEstimator()
	n := e.Estimate("hello world, this is a test sentence")
	if n <= 0 {
		t.Fatalf("expected a positive token estimate, got %d", n)
	}
}

func TestEstimateEmptyString(t *testing.T) {
	e := NewEstimator()
	n := e.Estimate("")
	if n < 0 {
		t.Fatalf("expected a non-negative estimate for empty input, got %d", n)
	}
}
