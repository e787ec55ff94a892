// Package tracing wraps runtime/trace for the analysis pipeline. Built with
// the trace tag it records real tasks and regions (one task per analyzed
// file); without the tag everything but the flight recorder compiles to
// no-ops.
package tracing

import (
	"errors"
	"os"
	"runtime/trace"
	"time"
)

// The flight recorder is independent of the trace build tag: it keeps a
// bounded in-memory window that the stall watchdog dumps on demand.
var flightRecorder *trace.FlightRecorder

// StartFlightRecorder enables the in-memory flight recorder. A second call
// without an intervening stop is an error.
func StartFlightRecorder(maxBytes uint64, minAge time.Duration) error {
	if flightRecorder != nil {
		return errors.New("flight recorder already running")
	}
	flightRecorder = trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MaxBytes: maxBytes,
		MinAge:   minAge,
	})
	return flightRecorder.Start()
}

// StopFlightRecorder stops the flight recorder if it is running.
func StopFlightRecorder() {
	if flightRecorder != nil {
		flightRecorder.Stop()
		flightRecorder = nil
	}
}

// WriteFlightRecorder dumps the current flight window to path. Without a
// running recorder it writes nothing.
func WriteFlightRecorder(path string) error {
	if flightRecorder == nil || !flightRecorder.Enabled() {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = flightRecorder.WriteTo(f)
	return err
}
