package diag

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type stubProfile string

func (s stubProfile) WriteTo(w io.Writer, debug int) error {
	_, err := io.WriteString(w, string(s))
	return err
}

func globOne(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(pattern)
	if err != nil {
		t.Fatalf("glob %s: %v", pattern, err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match for %s, got %d", pattern, len(matches))
	}
	return matches[0]
}

func TestProbeEmitsStallArtifacts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	analyzed := int64(42)
	dir := t.TempDir()

	controller := NewController(Options{
		StallThreshold:  2 * time.Second,
		Dir:             dir,
		AnalyzedCountFn: func() int64 { return analyzed },
		CurrentFileFn:   func() string { return "/tmp/in/wedged.pdf" },
		DumpFlightRecorder: func(path string) error {
			return os.WriteFile(path, []byte("flight"), 0600)
		},
		NowFn: func() time.Time { return now },
	})
	controller.lastAnalyzed = analyzed
	controller.lastAnalyzedAt = now

	controller.probe(now.Add(3 * time.Second))

	stallPath := globOne(t, filepath.Join(dir, "metasift-stall-*.json"))
	globOne(t, filepath.Join(dir, "metasift-flight-*.out"))

	content, err := os.ReadFile(stallPath)
	if err != nil {
		t.Fatalf("read stall event: %v", err)
	}
	var event map[string]interface{}
	if err := json.Unmarshal(content, &event); err != nil {
		t.Fatalf("decode stall event: %v", err)
	}
	if event["event"] != "analysis_stall_threshold_exceeded" {
		t.Fatalf("unexpected event name: %v", event["event"])
	}
	if event["files_analyzed"] != float64(42) {
		t.Fatalf("unexpected files_analyzed: %v", event["files_analyzed"])
	}
	if event["current_file"] != "/tmp/in/wedged.pdf" {
		t.Fatalf("expected current file in event, got %v", event["current_file"])
	}
}

func TestProbeResetsWhenCounterMoves(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	controller := NewController(Options{
		StallThreshold:  time.Second,
		Dir:             dir,
		AnalyzedCountFn: func() int64 { return 1 },
		NowFn:           func() time.Time { return now },
	})
	controller.lastAnalyzed = 0
	controller.lastAnalyzedAt = now.Add(-time.Minute)

	controller.probe(now)

	if matches, _ := filepath.Glob(filepath.Join(dir, "metasift-*")); len(matches) != 0 {
		t.Fatalf("expected no artifacts while progressing, got %v", matches)
	}
	if controller.lastAnalyzed != 1 {
		t.Fatalf("expected counter to advance, got %d", controller.lastAnalyzed)
	}
	if !controller.lastAnalyzedAt.Equal(now) {
		t.Fatalf("expected progress time to reset, got %v", controller.lastAnalyzedAt)
	}
}

func TestProbeSpacesRepeatDumps(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	controller := NewController(Options{
		StallThreshold:  time.Second,
		Dir:             dir,
		AnalyzedCountFn: func() int64 { return 5 },
		NowFn:           func() time.Time { return now },
	})
	controller.lastAnalyzed = 5
	controller.lastAnalyzedAt = now

	// Stalled well past the threshold; the second probe lands inside the
	// cooldown window and must not dump again.
	controller.probe(now.Add(2 * time.Second))
	controller.probe(now.Add(2500 * time.Millisecond))

	matches, err := filepath.Glob(filepath.Join(dir, "metasift-stall-*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected a single stall artifact, got %d", len(matches))
	}
}

func TestWriteProfileAvailableAndUnavailable(t *testing.T) {
	dir := t.TempDir()
	controller := NewController(Options{
		Dir: dir,
		ProfileLookupFn: func(name string) profileWriter {
			if name == "goroutine" {
				return stubProfile("goroutine-profile")
			}
			return nil
		},
	})

	path, err := controller.writeProfile("goroutine", 0)
	if err != nil {
		t.Fatalf("writeProfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read profile artifact: %v", err)
	}
	if string(data) != "goroutine-profile" {
		t.Fatalf("profile artifact content: %q", string(data))
	}

	if _, err := controller.writeProfile("heap-missing", 0); err == nil {
		t.Fatal("expected error for a profile pprof does not know")
	}
}

func TestCloseWritesGoroutineLeakProfileWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	controller := NewController(Options{
		Dir:           dir,
		GoroutineLeak: true,
		ProfileLookupFn: func(name string) profileWriter {
			if name == "goroutine" {
				return stubProfile("leak-profile")
			}
			return nil
		},
	})

	controller.Close()

	globOne(t, filepath.Join(dir, "metasift-goroutine-profile-*.pprof"))
}
