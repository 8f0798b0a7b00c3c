package testutil

import (
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// LogRecord is a captured log entry.
type LogRecord struct {
	Level   logrus.Level
	Message string
	Data    logrus.Fields
}

// LogHook records every entry fired on a logger so tests can assert on
// what was logged.
type LogHook struct {
	mu      sync.Mutex
	records []LogRecord
}

// Levels returns all levels.
func (h *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire stores a copy of the entry.
func (h *LogHook) Fire(entry *logrus.Entry) error {
	data := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, LogRecord{
		Level:   entry.Level,
		Message: entry.Message,
		Data:    data,
	})
	return nil
}

// Records returns the captured entries at the given level.
func (h *LogHook) Records(level logrus.Level) []LogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []LogRecord
	for _, r := range h.records {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

// NewTestLogger returns a silent debug-level logger and the hook that
// captures its output.
func NewTestLogger(t *testing.T) (*logrus.Logger, *LogHook) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)

	hook := &LogHook{}
	logger.AddHook(hook)
	return logger, hook
}
