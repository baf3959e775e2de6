package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAndGetTraceID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	withTrace := SetTraceID(ctx)
	assert.Len(t, GetTraceID(withTrace), 32)
	assert.Empty(t, GetTraceID(ctx), "original context must stay unchanged")
}

func TestWithTraceID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"accepts caller id", "req-7f3a9c21", true},
		{"replaces empty id", "", false},
		{"replaces id with spaces", "bad id value", false},
		{"replaces overlong id", string(make([]byte, 80)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetTraceID(WithTraceID(context.Background(), tt.incoming))
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
				return
			}
			assert.NotEqual(t, tt.incoming, got)
			assert.Len(t, got, 32)
		})
	}
}

func TestGetTraceIDWithInvalidContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TraceIDKey, 123)
	assert.Empty(t, GetTraceID(ctx))
}

func TestGenerateTraceIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateTraceID()
		assert.False(t, seen[id], "duplicate trace ID %s", id)
		seen[id] = true
	}
	assert.Len(t, generateFallbackTraceID(), 32)
}

func TestCaller(t *testing.T) {
	_, ok := GetCaller(context.Background())
	assert.False(t, ok)

	ctx := WithCaller(context.Background(), Caller{Subject: "user-1", Role: "admin"})
	c, ok := GetCaller(ctx)
	assert.True(t, ok)
	assert.Equal(t, "admin", c.Role)
}
