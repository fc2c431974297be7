package events

import "context"

type correlationKey struct{}

// WithCorrelation tags ctx so events published under it carry the request's correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationFrom returns the id set by WithCorrelation, or "".
func CorrelationFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
