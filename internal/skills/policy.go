package skills

import (
	"strings"
	"sync"

	"github.com/cell0os/core/internal/col"
)

// skillGroups map group names to skill names, generalized from the
// teacher's tool groups (internal/tools/policy.go toolGroups).
var skillGroups = map[string][]string{
	"fs":        {"read_file", "write_file", "list_files"},
	"runtime":   {"exec", "script"},
	"messaging": {"send_message"},
}

// skillProfiles mirror the teacher's tool profiles, generalized to
// skills. "full" or an unknown profile means no restriction.
var skillProfiles = map[string][]string{
	"minimal": {},
	"coding":  {"group:fs", "group:runtime"},
	"full":    nil,
}

// Rule is one COL policy rule, loaded from PoliciesDir. Domains/Types/
// Profiles empty means "matches anything" for that dimension.
type Rule struct {
	Name        string   `json:"name"`
	Domains     []string `json:"domains,omitempty"`
	Types       []string `json:"types,omitempty"`
	Profiles    []string `json:"profiles,omitempty"`
	Deny        bool     `json:"deny,omitempty"`
	Destructive bool     `json:"destructive,omitempty"`
	Sandbox     string   `json:"sandbox,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	AllowSkills []string `json:"allow_skills,omitempty"`
	DenySkills  []string `json:"deny_skills,omitempty"`
}

func matchesAny(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == "*" || strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

var sandboxRank = map[col.SandboxClass]int{
	col.SandboxNone:           0,
	col.SandboxFilesystemJail: 1,
	col.SandboxSubprocessJail: 2,
	col.SandboxContainerJail:  3,
}

// PolicyEngine resolves COL LOAD policies and filters the skill set
// presented to agents, reusing one rule set for both. Grounded on the
// teacher's tools.PolicyEngine 7-step allow/deny/alsoAllow evaluation
// (internal/tools/policy.go), generalized from "tool" to "skill" and
// extended with the domain/type/sandbox dimensions COL's LOAD phase
// needs that the teacher's tool-gating never had to model.
type PolicyEngine struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewPolicyEngine(rules []Rule) *PolicyEngine {
	return &PolicyEngine{rules: rules}
}

// SetRules atomically replaces the rule set — used by the fsnotify
// watcher on PoliciesDir changes.
func (p *PolicyEngine) SetRules(rules []Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = rules
}

// Resolve implements col.PolicyLoader.
func (p *PolicyEngine) Resolve(domain string, typ col.IntentType, profile string) ([]col.Policy, col.SandboxClass) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var policies []col.Policy
	sandbox := col.SandboxNone
	for _, r := range p.rules {
		if !matchesAny(r.Domains, domain) || !matchesAny(r.Types, string(typ)) || !matchesAny(r.Profiles, profile) {
			continue
		}
		policies = append(policies, col.Policy{
			Name:        r.Name,
			Domain:      domain,
			Type:        typ,
			Destructive: r.Destructive,
			Deny:        r.Deny,
			Reason:      r.Reason,
		})
		if sc := col.SandboxClass(r.Sandbox); sandboxRank[sc] > sandboxRank[sandbox] {
			sandbox = sc
		}
	}
	return policies, sandbox
}

// FilterSkills expands the profile's skill spec against the full skill
// set, then narrows it by each rule matching this (domain, type,
// profile): AllowSkills intersects, DenySkills subtracts.
func (p *PolicyEngine) FilterSkills(all []string, domain string, typ col.IntentType, profile string) []string {
	allowed := expandSkillSpec(all, skillProfiles[profileOrFull(profile)])

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.rules {
		if !matchesAny(r.Domains, domain) || !matchesAny(r.Types, string(typ)) || !matchesAny(r.Profiles, profile) {
			continue
		}
		if len(r.AllowSkills) > 0 {
			allowed = intersect(allowed, expandSkillSpec(all, r.AllowSkills))
		}
		if len(r.DenySkills) > 0 {
			allowed = subtract(allowed, expandSkillSpec(all, r.DenySkills))
		}
	}
	return allowed
}

func profileOrFull(profile string) string {
	if _, ok := skillProfiles[profile]; ok {
		return profile
	}
	return "full"
}

func expandSkillSpec(all, spec []string) []string {
	if spec == nil {
		return append([]string(nil), all...)
	}
	expanded := make(map[string]bool)
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			for _, m := range skillGroups[strings.TrimPrefix(s, "group:")] {
				expanded[m] = true
			}
		} else {
			expanded[s] = true
		}
	}
	var result []string
	for _, t := range all {
		if expanded[t] {
			result = append(result, t)
		}
	}
	return result
}

func intersect(current, spec []string) []string {
	set := make(map[string]bool, len(spec))
	for _, s := range spec {
		set[s] = true
	}
	var result []string
	for _, t := range current {
		if set[t] {
			result = append(result, t)
		}
	}
	return result
}

func subtract(current, deny []string) []string {
	set := make(map[string]bool, len(deny))
	for _, d := range deny {
		set[d] = true
	}
	var result []string
	for _, t := range current {
		if !set[t] {
			result = append(result, t)
		}
	}
	return result
}
