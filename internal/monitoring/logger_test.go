package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() {
		SetLogger(nil)
		SetDebug(false)
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("batch %d", 3)
	assert.Equal(t, []string{"batch 3"}, *lines)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted %s", "line") })
	assert.Len(t, *lines, 1)
}

func TestDebugf(t *testing.T) {
	lines := capture(t)

	Debugf("hidden %d", 1)
	assert.Empty(t, *lines)
	assert.False(t, DebugEnabled())

	SetDebug(true)
	Debugf("shown %d", 2)
	assert.Equal(t, []string{"debug: shown 2"}, *lines)
}
