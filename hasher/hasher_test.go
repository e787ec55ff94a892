package hasher

import (
	"encoding/hex"
	"fmt"
	"os"
	"testing"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"

	"metasift/logger"
)

func init() {
	logger.Init("error")
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "hash-test")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	tmp.WriteString(content)
	tmp.Close()
	return tmp.Name()
}

func TestComputeHashes(t *testing.T) {
	path := writeTemp(t, "hello world")

	hashes := ComputeHashes(path, []string{"md5", "sha1", "sha256", "unknown"})
	if hashes["md5"] != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("md5 mismatch: %s", hashes["md5"])
	}
	if hashes["sha1"] != "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed" {
		t.Errorf("sha1 mismatch: %s", hashes["sha1"])
	}
	if hashes["sha256"] != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("sha256 mismatch: %s", hashes["sha256"])
	}
	if _, ok := hashes["unknown"]; ok {
		t.Errorf("unexpected hash for unknown algorithm")
	}
}

func TestComputeHashesFastAlgorithms(t *testing.T) {
	content := "hello world"
	path := writeTemp(t, content)

	hashes := ComputeHashes(path, []string{"xxh64", "blake3", "xxh64"})
	wantXX := fmt.Sprintf("%016x", xxhash.Sum64String(content))
	if hashes["xxh64"] != wantXX {
		t.Errorf("xxh64 mismatch: got %s want %s", hashes["xxh64"], wantXX)
	}
	sum := blake3.Sum256([]byte(content))
	if hashes["blake3"] != hex.EncodeToString(sum[:]) {
		t.Errorf("blake3 mismatch: got %s", hashes["blake3"])
	}
	if len(hashes) != 2 {
		t.Errorf("duplicate algorithm not deduplicated: %v", hashes)
	}
}

func TestComputeHashesMissingFile(t *testing.T) {
	hashes := ComputeHashes("/nonexistent/file.bin", []string{"md5"})
	if len(hashes) != 0 {
		t.Errorf("expected empty map for unreadable file, got %v", hashes)
	}
}

func TestSupportedAlgorithms(t *testing.T) {
	names := SupportedAlgorithms()
	want := []string{"blake3", "md5", "sha1", "sha256", "xxh64"}
	if len(names) != len(want) {
		t.Fatalf("unexpected algorithm list: %v", names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("unexpected algorithm list: %v", names)
		}
	}
	if !Supported("sha256") || Supported("crc32") {
		t.Error("Supported misclassifies algorithms")
	}
}
