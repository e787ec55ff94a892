// Package utils holds small path helpers shared by the engine and the
// command front end.
package utils

import (
	"path/filepath"
	"regexp"
)

// pattern is one include or exclude rule: always consulted as a glob
// against the base name, and additionally as a regexp against the full
// path when the rule compiles as one.
type pattern struct {
	glob string
	re   *regexp.Regexp
}

func (p pattern) matches(path string) bool {
	if ok, _ := filepath.Match(p.glob, filepath.Base(path)); ok {
		return true
	}
	return p.re != nil && p.re.MatchString(path)
}

// PatternMatcher filters paths with include and exclude rule sets. With no
// include rules every path is a candidate; exclude rules then veto.
type PatternMatcher struct {
	include []pattern
	exclude []pattern
}

func NewPatternMatcher(includePatterns, excludePatterns []string) *PatternMatcher {
	return &PatternMatcher{
		include: compilePatterns(includePatterns),
		exclude: compilePatterns(excludePatterns),
	}
}

// ShouldInclude reports whether path passes both rule sets. A nil matcher
// includes everything.
func (m *PatternMatcher) ShouldInclude(path string) bool {
	if m == nil {
		return true
	}
	if len(m.include) > 0 && !matchAny(m.include, path) {
		return false
	}
	if len(m.exclude) > 0 && matchAny(m.exclude, path) {
		return false
	}
	return true
}

func matchAny(patterns []pattern, path string) bool {
	for _, p := range patterns {
		if p.matches(path) {
			return true
		}
	}
	return false
}

func compilePatterns(rules []string) []pattern {
	patterns := make([]pattern, 0, len(rules))
	for _, rule := range rules {
		p := pattern{glob: rule}
		if re, err := regexp.Compile(rule); err == nil {
			p.re = re
		}
		patterns = append(patterns, p)
	}
	return patterns
}
