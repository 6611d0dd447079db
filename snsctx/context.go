package snsctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexPipeline
)

// IsVerbose reports whether drivers should dump raw bus traffic.
func IsVerbose(ctx context.Context) bool {
	val, ok := ctx.Value(ctxIndexVerbose).(bool)
	return ok && val
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// WithPipeline tags the context handed to a source with the pipeline name.
func WithPipeline(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxIndexPipeline, name)
}

// Pipeline returns the name of the pipeline sampling with ctx, if any.
func Pipeline(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(ctxIndexPipeline).(string)
	return name, ok
}
