package logstream

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/irgordon/slipway/internal/core/domain"
)

// Logger is the per-deployment log producer. Every entry goes to both the
// live ring buffer and the batched durable writer.
type Logger struct {
	deploymentID int64
	buffer       *Buffer
	writer       *Writer
}

// NewLogger opens the deployment's buffer in the registry and starts a
// batching writer against the store.
func NewLogger(deploymentID int64, reg *Registry, store Store, procLog *slog.Logger) *Logger {
	return &Logger{
		deploymentID: deploymentID,
		buffer:       reg.Open(deploymentID),
		writer:       NewWriter(deploymentID, store, procLog),
	}
}

func (l *Logger) Debug(content string)   { l.emit(domain.LevelDebug, content) }
func (l *Logger) Info(content string)    { l.emit(domain.LevelInfo, content) }
func (l *Logger) Warning(content string) { l.emit(domain.LevelWarning, content) }
func (l *Logger) Error(content string)   { l.emit(domain.LevelError, content) }

func (l *Logger) Infof(format string, args ...any) {
	l.emit(domain.LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warningf(format string, args ...any) {
	l.emit(domain.LevelWarning, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.emit(domain.LevelError, fmt.Sprintf(format, args...))
}

// Close flushes the durable writer. The ring buffer stays registered so late
// subscribers can still replay it until the orchestrator removes it.
func (l *Logger) Close() {
	l.writer.Close()
}

func (l *Logger) emit(level domain.LogLevel, content string) {
	e := domain.LogEntry{
		DeploymentID: l.deploymentID,
		Level:        level,
		Content:      content,
		Timestamp:    time.Now().UTC(),
	}
	l.buffer.Publish(e)
	l.writer.Append(e)
}
