// Package devctx carries per-call flags for bus drivers in a context.
package devctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexDryRun
)

// IsVerbose reports whether drivers should dump raw transfers.
func IsVerbose(ctx context.Context) bool {
	val, ok := ctx.Value(ctxIndexVerbose).(bool)
	return ok && val
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// IsDryRun reports whether state-changing commands should only be printed.
func IsDryRun(ctx context.Context) bool {
	val, ok := ctx.Value(ctxIndexDryRun).(bool)
	return ok && val
}

func SetDryRun(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexDryRun, value)
}
