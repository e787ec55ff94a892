package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"metasift/config"
	"metasift/logger"
	"metasift/output"
)

func newSignalWriter(t *testing.T) (*output.Writer, *output.Metrics) {
	t.Helper()
	cfg := &config.Config{OutputFileName: filepath.Join(t.TempDir(), "cmd-signal.json")}
	metrics := &output.Metrics{StartTime: time.Now().UTC().Format(time.RFC3339)}
	w, err := output.New(cfg, nil, metrics)
	if err != nil {
		t.Fatalf("output init: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, metrics
}

func TestHandleSignalEventCancelsContextAndSetsMetrics(t *testing.T) {
	logger.Init("error")
	w, metrics := newSignalWriter(t)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		handleSignalEvent(cancel, metrics, w, false, "", sigChan)
	}()
	sigChan <- os.Interrupt

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("signal handler did not return")
	}
	if ctx.Err() == nil {
		t.Fatal("expected the batch context to be canceled")
	}

	end, err := time.Parse(time.RFC3339, metrics.EndTime)
	if err != nil {
		t.Fatalf("EndTime %q: %v", metrics.EndTime, err)
	}
	if end.IsZero() {
		t.Fatal("EndTime not stamped")
	}
}

func TestHandleSignalEventFlightDumpIsBestEffort(t *testing.T) {
	logger.Init("error")
	w, metrics := newSignalWriter(t)

	_, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	sigChan <- os.Interrupt

	// No recorder is running, so the shutdown dump must degrade to a no-op
	// instead of failing the handler.
	handleSignalEvent(cancel, metrics, w, true, filepath.Join(t.TempDir(), "flight.out"), sigChan)

	if metrics.EndTime == "" {
		t.Fatal("EndTime not stamped")
	}
}

func TestFuzzyAlgorithmsGate(t *testing.T) {
	cfg := &config.Config{FuzzyHash: false, FuzzyAlgorithms: []string{"tlsh"}}
	if got := fuzzyAlgorithms(cfg); got != nil {
		t.Fatalf("expected nil algorithms when fuzzy hashing is off, got %v", got)
	}

	cfg = &config.Config{FuzzyHash: true, FuzzyAlgorithms: []string{"tlsh"}}
	got := fuzzyAlgorithms(cfg)
	if len(got) != 1 || got[0] != "tlsh" {
		t.Fatalf("expected tlsh, got %v", got)
	}
}

func TestFlightDumpFnGate(t *testing.T) {
	if fn := flightDumpFn(&config.Config{TraceFlight: false}); fn != nil {
		t.Fatal("expected nil dump hook when flight recorder is off")
	}
	if fn := flightDumpFn(&config.Config{TraceFlight: true}); fn == nil {
		t.Fatal("expected dump hook when flight recorder is on")
	}
}
