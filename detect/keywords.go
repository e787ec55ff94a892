package detect

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// KeywordRule matches any of a set of case-insensitive substrings. Rules
// are built once per run and reused across files.
type KeywordRule struct {
	terms   []string
	matcher *ahocorasick.Matcher
}

// NewKeywordRule lowercases and indexes the terms. Blank terms are
// dropped; a rule with no terms never matches.
func NewKeywordRule(terms []string) *KeywordRule {
	norm := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			norm = append(norm, t)
		}
	}
	r := &KeywordRule{terms: norm}
	if len(norm) > 0 {
		r.matcher = ahocorasick.NewStringMatcher(norm)
	}
	return r
}

// Match reports whether value contains any rule term, ignoring case.
func (r *KeywordRule) Match(value string) bool {
	if r == nil || r.matcher == nil || value == "" {
		return false
	}
	return len(r.matcher.MatchThreadSafe([]byte(strings.ToLower(value)))) > 0
}

// Terms returns the normalized term list.
func (r *KeywordRule) Terms() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.terms))
	copy(out, r.terms)
	return out
}

// Heuristics bundles the keyword rules the extractors consult. The rules
// are plain data so deployments can tune them without touching detector
// logic; the zero value matches nothing.
type Heuristics struct {
	EditingSoftware *KeywordRule
	AdminUsers      *KeywordRule
	GenericUsers    *KeywordRule
	PDFCreators     *KeywordRule
	PDFProducers    *KeywordRule
}

// DefaultHeuristics returns the stock rule set.
func DefaultHeuristics() *Heuristics {
	return &Heuristics{
		EditingSoftware: NewKeywordRule([]string{"photoshop", "editor"}),
		AdminUsers:      NewKeywordRule([]string{"admin"}),
		GenericUsers:    NewKeywordRule([]string{"temp", "user"}),
		PDFCreators:     NewKeywordRule([]string{"photoshop"}),
		PDFProducers:    NewKeywordRule([]string{"crack", "keygen", "patch", "converter"}),
	}
}

// RuleNames lists the rule identifiers HeuristicsFromRules accepts.
func RuleNames() []string {
	return []string{"editing_software", "admin_users", "generic_users", "pdf_creators", "pdf_producers"}
}

// HeuristicsFromRules starts from the defaults and replaces every named
// rule with the given terms. Unknown names are ignored; validation happens
// at configuration time.
func HeuristicsFromRules(rules map[string][]string) *Heuristics {
	h := DefaultHeuristics()
	for name, terms := range rules {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "editing_software":
			h.EditingSoftware = NewKeywordRule(terms)
		case "admin_users":
			h.AdminUsers = NewKeywordRule(terms)
		case "generic_users":
			h.GenericUsers = NewKeywordRule(terms)
		case "pdf_creators":
			h.PDFCreators = NewKeywordRule(terms)
		case "pdf_producers":
			h.PDFProducers = NewKeywordRule(terms)
		}
	}
	return h
}

// KnownRuleName reports whether name is a valid rule identifier.
func KnownRuleName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, known := range RuleNames() {
		if name == known {
			return true
		}
	}
	return false
}
