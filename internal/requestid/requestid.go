// Package requestid carries a request ID from the HTTP edge to outbound webhook calls.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is the header used both for inbound requests and outbound webhook calls.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context. Returns "" when absent.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// Resolve reuses an inbound ID when the caller supplied one, otherwise mints a new one.
func Resolve(ctx context.Context, inbound string) (context.Context, string) {
	id := inbound
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	return WithRequestID(ctx, id), id
}

// Propagate copies the request ID from ctx onto an outbound request.
func Propagate(ctx context.Context, req *http.Request) {
	if id := FromContext(ctx); id != "" {
		req.Header.Set(Header, id)
	}
}
