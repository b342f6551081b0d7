package col

import (
	"context"
	"regexp"
	"strings"
)

// patternRule is one deterministic classification rule. riskFloor is the
// minimum riskScore a probabilistic provider is never allowed to
// downgrade below (spec §4.4 CLASSIFY).
type patternRule struct {
	pattern   *regexp.Regexp
	typ       IntentType
	riskFloor float64
}

// defaultRules covers the deterministic component of CLASSIFY: content
// features that unambiguously put a floor under risk regardless of what
// an advisory LLM provider thinks.
var defaultRules = []patternRule{
	{regexp.MustCompile(`(?i)\b(rm|delete|drop|truncate|format)\b`), SystemWrite, 0.8},
	{regexp.MustCompile(`(?i)\b(exec|run|spawn|shell|subprocess)\b`), SystemExec, 0.7},
	{regexp.MustCompile(`(?i)\b(write|save|create|update|modify)\b.*\bfile\b`), SystemWrite, 0.5},
	{regexp.MustCompile(`(?i)\b(read|list|show|cat|view)\b`), SystemRead, 0.1},
	{regexp.MustCompile(`(?i)\b(goal|reflect|improve|meta)\b`), Meta, 0.3},
}

// DefaultClassifier is the deterministic pattern-matching CLASSIFY
// implementation. A capability provider may be layered in via
// WithAdvisoryProvider for a probabilistic confidence boost — never a
// risk downgrade below the matched floor.
type DefaultClassifier struct {
	advisory AdvisoryProvider
}

// AdvisoryProvider is an optional LLM-backed classification hint. Its
// output is advisory only: CLASSIFY clamps riskScore to never fall below
// the deterministic floor.
type AdvisoryProvider interface {
	Advise(ctx context.Context, text string) (typ IntentType, riskScore, confidence float64, ok bool)
}

func NewDefaultClassifier(advisory AdvisoryProvider) *DefaultClassifier {
	return &DefaultClassifier{advisory: advisory}
}

func (c *DefaultClassifier) Classify(ctx context.Context, intent Intent) ClassifyResult {
	text := intent.CanonicalContent()
	typ := Communicate
	risk := 0.0
	matched := false
	for _, r := range defaultRules {
		if r.pattern.MatchString(text) {
			typ = r.typ
			if r.riskFloor > risk {
				risk = r.riskFloor
			}
			matched = true
		}
	}
	if !matched && looksLikeQuestion(text) {
		typ = Reason
		risk = 0.05
	}

	confidence := 0.6
	if c.advisory != nil {
		if adviceType, adviceRisk, adviceConf, ok := c.advisory.Advise(ctx, text); ok {
			if !matched {
				typ = adviceType
			}
			if adviceRisk > risk {
				risk = adviceRisk
			}
			confidence = adviceConf
		}
	}
	if risk > 1 {
		risk = 1
	}
	return ClassifyResult{Type: typ, RiskScore: risk, Confidence: confidence, Domain: intent.Domain}
}

func looksLikeQuestion(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasSuffix(t, "?") || strings.HasPrefix(strings.ToLower(t), "why") ||
		strings.HasPrefix(strings.ToLower(t), "how") || strings.HasPrefix(strings.ToLower(t), "what")
}
