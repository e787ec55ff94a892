//go:build trace

package tracing

import (
	"context"
	"os"
	"runtime/trace"
)

var traceOut *os.File

// Start enables runtime tracing and writes trace data to metasift-trace.out
// in the working directory.
func Start() error {
	f, err := os.OpenFile("metasift-trace.out", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	traceOut = f
	return trace.Start(traceOut)
}

// Stop stops runtime tracing and closes the trace file.
func Stop() {
	trace.Stop()
	if traceOut != nil {
		traceOut.Close()
		traceOut = nil
	}
}

// StartTask opens a task span for one file and returns the derived context
// plus its end function.
func StartTask(ctx context.Context, name string) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, name)
	return ctx, task.End
}

// StartRegion opens a region inside the current task.
func StartRegion(ctx context.Context, name string) func() {
	return trace.StartRegion(ctx, name).End
}

// Log attaches a category/message event to the current task.
func Log(ctx context.Context, category, message string) {
	trace.Log(ctx, category, message)
}
