//go:build !trace

package tracing

import "context"

// No-op variants compiled without the trace tag. Task and region ends are
// still callable so the engine never branches on the build flavor.

func Start() error { return nil }

func Stop() {}

func StartTask(ctx context.Context, name string) (context.Context, func()) {
	return ctx, func() {}
}

func StartRegion(ctx context.Context, name string) func() {
	return func() {}
}

func Log(ctx context.Context, category, message string) {}
