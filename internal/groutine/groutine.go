// Package groutine starts named goroutines. The transport serial queue and
// the per-dispatcher workers run as long-lived goroutines; naming them via
// pprof labels makes goroutine dumps legible when a stuck queue is being
// debugged.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go starts a goroutine labeled with name. If parentCtx is nil,
// context.Background() is used.
//
//	groutine.Go(ctx, "transport-queue", func(ctx context.Context) { ... })
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, nameKey, name)
		fn(ctx)
	})
}

// Name retrieves the goroutine name from the context, or "" if unnamed.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(nameKey).(string); ok {
		return v
	}
	return ""
}
