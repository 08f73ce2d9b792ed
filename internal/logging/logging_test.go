package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	l := Default()
	for _, tt := range tests {
		l.SetLevelFromString(tt.in)
		assert.Equal(t, tt.want, l.GetLevel(), "input %q", tt.in)
	}
}

func TestGetLevelString(t *testing.T) {
	Default().SetLevelFromString("warn")
	assert.Equal(t, "warning", GetLevelString())
}

func TestRateLimiterSuppressesWithinInterval(t *testing.T) {
	rl := NewRateLimiter(time.Second)
	base := time.Unix(0, 0)

	assert.True(t, rl.AllowAt("k", base))
	assert.False(t, rl.AllowAt("k", base.Add(500*time.Millisecond)))
	assert.True(t, rl.AllowAt("k", base.Add(1500*time.Millisecond)))
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(time.Minute)
	base := time.Unix(0, 0)

	assert.True(t, rl.AllowAt("a", base))
	assert.True(t, rl.AllowAt("b", base))
}
