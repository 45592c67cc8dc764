package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerDefaults(t *testing.T) {
	l := NewLogger(Config{})
	assert.NotNil(t, l)
}

func TestLoggerWithHubAndTask(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: LevelDebug, JSON: true, Output: &buf})

	hubLog := l.WithHub("main")
	hubLog.Info("starting")
	assert.Contains(t, buf.String(), `"hub":"main"`)

	buf.Reset()
	taskLog := hubLog.WithTask(7)
	taskLog.Info("resumed")
	out := buf.String()
	assert.Contains(t, out, `"hub":"main"`)
	assert.Contains(t, out, `"task":7`)
}

func TestLoggerWithErrorField(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: LevelDebug, JSON: true, Output: &buf})

	errLog := l.WithError(errors.New("boom"))
	errLog.Error("operation failed")
	assert.Contains(t, buf.String(), "boom")
}

func TestLoggerfAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: LevelDebug, JSON: true, Output: &buf})

	l.Infof("poll wait", "deadline_ms", 20)
	assert.Contains(t, buf.String(), `"deadline_ms":20`)
}

func TestNopLoggerDiscards(t *testing.T) {
	l := Nop()
	l.Info("should not panic")
}

func TestGlobalDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(Config{Level: LevelDebug, JSON: true, Output: &buf}))
	Info("global message")
	assert.Contains(t, buf.String(), "global message")
}
