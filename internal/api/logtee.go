package api

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

// LogTee forwards every log entry to the WebSocket hub as a "log" push, so
// a UI can mirror the relay's own log stream. The logger is built before
// the server exists, so the tee starts detached; entries logged before
// Attach are dropped.
type LogTee struct {
	mu  sync.RWMutex
	srv *Server
}

func NewLogTee() *LogTee {
	return &LogTee{}
}

// Attach points the tee at a running server. Attach(nil) detaches it.
func (t *LogTee) Attach(s *Server) {
	t.mu.Lock()
	t.srv = s
	t.mu.Unlock()
}

// Hook returns the zap hook to install with zap.Hooks at logger build time.
func (t *LogTee) Hook() func(zapcore.Entry) error {
	return func(e zapcore.Entry) error {
		t.mu.RLock()
		s := t.srv
		t.mu.RUnlock()
		if s == nil {
			return nil
		}
		s.Publish("log", map[string]string{
			"level":  e.Level.String(),
			"logger": e.LoggerName,
			"msg":    e.Message,
		})
		return nil
	}
}
