// Package hasher computes content digests for analyzed files. All
// requested algorithms run in one pass over the file so large inputs are
// read exactly once.
package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"

	"metasift/logger"
)

const (
	smallBufferSize      = 32 * 1024
	largeBufferSize      = 128 * 1024
	largeBufferThreshold = 256 * 1024

	blake3DigestSize = 32
)

var smallBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, smallBufferSize)
		return &buf
	},
}

var largeBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, largeBufferSize)
		return &buf
	},
}

// digestConstructors maps algorithm names to hash factories. Names are the
// ones accepted in configuration.
var digestConstructors = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"xxh64":  func() hash.Hash { return xxhash.New() },
	"blake3": func() hash.Hash { return blake3.New(blake3DigestSize, nil) },
}

// SupportedAlgorithms lists the accepted digest names, sorted.
func SupportedAlgorithms() []string {
	names := make([]string, 0, len(digestConstructors))
	for name := range digestConstructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported reports whether name is a known digest algorithm.
func Supported(name string) bool {
	_, ok := digestConstructors[name]
	return ok
}

// ComputeHashes digests the file with every requested algorithm in a
// single read pass. Duplicate and unknown names are dropped; a read
// failure logs a warning and returns whatever the algorithms saw up to
// that point. The map is keyed by algorithm name with lower-case hex
// values.
func ComputeHashes(path string, algorithms []string) map[string]string {
	digests := make(map[string]string, len(algorithms))

	file, err := os.Open(path)
	if err != nil {
		logger.Warnf("Failed to open file for hashing %s: %v", path, err)
		return digests
	}
	defer file.Close()

	type digestEntry struct {
		name string
		h    hash.Hash
	}
	entries := make([]digestEntry, 0, len(algorithms))
	seen := make(map[string]struct{}, len(algorithms))
	for _, algo := range algorithms {
		if _, ok := seen[algo]; ok {
			continue
		}
		seen[algo] = struct{}{}
		newHash, ok := digestConstructors[algo]
		if !ok {
			logger.Warnf("Unsupported hash algorithm: %s", algo)
			continue
		}
		entries = append(entries, digestEntry{name: algo, h: newHash()})
	}
	if len(entries) == 0 {
		return digests
	}

	pool := &smallBufferPool
	if info, statErr := file.Stat(); statErr == nil && info.Size() >= largeBufferThreshold {
		pool = &largeBufferPool
	}
	bufPtr := pool.Get().(*[]byte)
	buf := *bufPtr
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for i := range entries {
				// hash.Hash.Write never returns an error
				entries[i].h.Write(chunk)
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger.Warnf("Failed to compute hashes for %s: %v", path, readErr)
			}
			break
		}
	}
	pool.Put(bufPtr)

	for i := range entries {
		digests[entries[i].name] = hex.EncodeToString(entries[i].h.Sum(nil))
	}
	return digests
}
