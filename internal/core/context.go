package core

import "context"

type contextKey string

const requestIDKey contextKey = "request-id"

// WithRequestID attaches the HTTP request ID so log lines deeper in the stack can
// be correlated with the access log.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request ID attached to ctx, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
