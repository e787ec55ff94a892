// Package fuzzy registers similarity digest implementations. Unlike the
// cryptographic digests, a fuzzy hash maps near-identical inputs to
// near-identical outputs, so variants of the same file can be matched
// across batches. Implementations self-register at init.
package fuzzy

import (
	"sort"
	"strings"
)

// Hasher computes one similarity digest over a file's content.
type Hasher interface {
	// Name is the registry key, lower case (for example "tlsh").
	Name() string
	HashFile(path string) (string, error)
}

var registry = map[string]Hasher{}

// Register adds a hasher under its lower-cased name. A later registration
// with the same name replaces the earlier one.
func Register(h Hasher) {
	if h == nil || h.Name() == "" {
		return
	}
	registry[strings.ToLower(h.Name())] = h
}

// Lookup returns the hasher registered under name.
func Lookup(name string) (Hasher, bool) {
	h, ok := registry[strings.ToLower(name)]
	return h, ok
}

// Available returns the registered names in sorted order.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
