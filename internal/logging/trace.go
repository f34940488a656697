package logging

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// maxRequestID bounds client-supplied request IDs.
const maxRequestID = 64

// NewRequestID generates a short request ID (16 hex chars).
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// WithRequestID stores id in ctx. An empty or malformed id is replaced by a
// fresh one, so a header value never reaches the logs unchecked.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !validRequestID(id) {
		id = NewRequestID()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request ID in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// ForRequest tags every event with the request ID carried by ctx.
func (l *Logger) ForRequest(ctx context.Context) *Logger {
	c := *l
	c.request = GetRequestID(ctx)
	return &c
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestID {
		return false
	}
	for _, r := range id {
		ok := r == '-' || r == '_' || r == '.' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !ok {
			return false
		}
	}
	return true
}
