package httputil

import (
	"context"
)

type requestInfoKey struct{}

// RequestInfo describes the HTTP request a call originates from.
type RequestInfo struct {
	RequestID string
	IP        string
	UserAgent string
	Method    string
	Path      string
}

func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the request info stored in ctx, if any.
func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}
