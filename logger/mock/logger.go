package mocklogger

import (
	"sync"

	"github.com/hugolhafner/ktail/logger"
)

var _ logger.Logger = (*MockLogger)(nil)

type LogEntry struct {
	Level   logger.LogLevel
	Message string
	KV      []any
}

// entryStore is shared between a MockLogger and every logger derived from it
// via With, so assertions on the root see entries logged through children.
// Guarded by its own mutex since commit callbacks may log concurrently.
type entryStore struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (s *entryStore) append(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
}

func (s *entryStore) snapshot() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]LogEntry, len(s.entries))
	copy(copied, s.entries)
	return copied
}

// MockLogger records every entry for later assertions.
type MockLogger struct {
	store *entryStore
	args  []any
}

func New() *MockLogger {
	return &MockLogger{store: &entryStore{}}
}

func (m *MockLogger) Log(level logger.LogLevel, msg string, kv ...any) {
	m.store.append(
		LogEntry{
			Level:   level,
			Message: msg,
			KV:      append(append([]any(nil), m.args...), kv...),
		},
	)
}

func (m *MockLogger) Level() logger.LogLevel {
	return logger.DebugLevel
}

func (m *MockLogger) With(kv ...any) logger.Logger {
	return &MockLogger{
		store: m.store,
		args:  append(append([]any(nil), m.args...), kv...),
	}
}

func (m *MockLogger) Entries() []LogEntry {
	return m.store.snapshot()
}

func (m *MockLogger) Debug(msg string, kv ...any) {
	m.Log(logger.DebugLevel, msg, kv...)
}

func (m *MockLogger) Info(msg string, kv ...any) {
	m.Log(logger.InfoLevel, msg, kv...)
}

func (m *MockLogger) Warn(msg string, kv ...any) {
	m.Log(logger.WarnLevel, msg, kv...)
}

func (m *MockLogger) Error(msg string, kv ...any) {
	m.Log(logger.ErrorLevel, msg, kv...)
}
