package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewRequestID()
		assert.Len(t, id, 16)
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "cli-42")
	assert.Equal(t, "cli-42", GetRequestID(ctx))

	ctx = WithRequestID(ctx, "inner")
	assert.Equal(t, "inner", GetRequestID(ctx))

	assert.Empty(t, GetRequestID(context.Background()))
}

func TestWithRequestIDReplacesBadValues(t *testing.T) {
	for _, bad := range []string{"", "has space", "line\nbreak", strings.Repeat("a", maxRequestID+1)} {
		id := GetRequestID(WithRequestID(context.Background(), bad))
		assert.Len(t, id, 16, "%q", bad)
		assert.NotEqual(t, bad, id)
	}
}

func TestForRequest(t *testing.T) {
	buf := capture(t, LevelInfo)

	base := New("http")
	base.ForRequest(WithRequestID(context.Background(), "req-7")).Info("request", nil)
	base.Info("listening", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"request_id":"req-7"`)
	assert.NotContains(t, lines[1], "request_id")
}
