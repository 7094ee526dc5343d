package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger routes whatsmeow logs into slog.
type slogLogger struct {
	module string
	min    slog.Level
}

func newSlogLogger(module, level string) waLog.Logger {
	return &slogLogger{module: module, min: parseLevel(level)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *slogLogger) log(level slog.Level, msg string, args []interface{}) {
	if level < l.min {
		return
	}
	slog.Log(context.Background(), level, fmt.Sprintf(msg, args...), "module", l.module)
}

func (l *slogLogger) Debugf(msg string, args ...interface{}) { l.log(slog.LevelDebug, msg, args) }
func (l *slogLogger) Infof(msg string, args ...interface{})  { l.log(slog.LevelInfo, msg, args) }
func (l *slogLogger) Warnf(msg string, args ...interface{})  { l.log(slog.LevelWarn, msg, args) }
func (l *slogLogger) Errorf(msg string, args ...interface{}) { l.log(slog.LevelError, msg, args) }

func (l *slogLogger) Sub(module string) waLog.Logger {
	return &slogLogger{module: l.module + "/" + module, min: l.min}
}
