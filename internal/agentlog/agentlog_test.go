package agentlog

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelToString(t *testing.T) {
	assert.Equal(t, "NOTICE", levelToString(LevelNotice))
	assert.Equal(t, "CRITICAL", levelToString(LevelCritical))
	assert.Equal(t, "ALERT", levelToString(LevelAlert))
	assert.Equal(t, "EMERGENCY", levelToString(LevelEmergency))
	assert.Equal(t, slog.LevelWarn.String(), levelToString(slog.LevelWarn))
}

func TestReplaceLevelRendersName(t *testing.T) {
	a := slog.Any(slog.LevelKey, LevelCritical)
	out := replaceLevel(nil, a)
	assert.Equal(t, "CRITICAL", out.Value.Any())

	other := slog.String("foo", "bar")
	out = replaceLevel(nil, other)
	assert.Equal(t, other.Value, out.Value)
}

func TestLogfDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Noticef("job", "starting with %d files", 3)
		Errorf(nil, "no object scope")
	})
}
