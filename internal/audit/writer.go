package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapLogger emits decision events through a structured logger.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger creates an audit logger writing to the given zap logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

func (l *ZapLogger) Log(event Event) {
	fields := []zap.Field{
		zap.String("eventId", event.EventID),
		zap.String("check", string(event.Check)),
		zap.String("expressionId", event.ExpressionID),
		zap.String("outcome", string(event.Outcome)),
		zap.String("principal", event.Principal),
	}
	switch event.Outcome {
	case OutcomeFault:
		l.logger.Error("authorization fault", append(fields, zap.String("fault", event.Fault))...)
	case OutcomeDeny:
		l.logger.Warn("authorization denied", fields...)
	default:
		l.logger.Debug("authorization allowed", fields...)
	}
}

func (l *ZapLogger) Close() error { return l.logger.Sync() }

// FileLogger appends JSON events to a rotated file.
type FileLogger struct {
	out     *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileLogger creates a rotating JSON file logger.
func NewFileLogger(filename string, maxSizeMB, maxAgeDays, maxBackups int) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	out := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		LocalTime:  true,
		Compress:   true,
	}
	return &FileLogger{out: out, encoder: json.NewEncoder(out)}, nil
}

func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Encoding a flat struct cannot fail; a write failure must not take the
	// decision path down with it.
	_ = l.encoder.Encode(event)
}

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
