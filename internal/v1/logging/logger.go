// Package logging provides the structured, level-filtered logger shared by
// every component in the room fabric. It keeps the singleton + context-key
// pattern the rest of the stack uses, extended with file rotation so the
// error and combined streams can carry independent retention windows.
package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	UserIDKey        contextKey = "user_id"
	RoomIDKey        contextKey = "room_id"
)

// RotationConfig controls the rotation/retention policy for one log stream.
type RotationConfig struct {
	Path       string // empty disables this stream
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// Streams mirrors the per-stream retention enumerated in configuration:
// error (30d), combined (14d). Only these two streams exist; there is no
// http or security stream.
type Streams struct {
	Error    RotationConfig
	Combined RotationConfig
}

// DefaultStreams returns the retention policy named in the configuration
// enumeration, rooted at dir. An empty dir disables file rotation and keeps
// stdout-only logging, which is what tests and local dev want.
func DefaultStreams(dir string) Streams {
	if dir == "" {
		return Streams{}
	}
	return Streams{
		Error:    RotationConfig{Path: dir + "/error.log", MaxSizeMB: 100, MaxAgeDays: 30, MaxBackups: 10, Compress: true},
		Combined: RotationConfig{Path: dir + "/combined.log", MaxSizeMB: 100, MaxAgeDays: 14, MaxBackups: 10, Compress: true},
	}
}

// Initialize sets up the global logger. development toggles human-readable
// console encoding versus production JSON. streams, when non-zero, adds
// rotating file sinks on top of stdout.
func Initialize(development bool, streams Streams) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
		if development {
			encoder = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
		}

		cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), cfg.Level)}
		if streams.Combined.Path != "" {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator(streams.Combined)), zapcore.InfoLevel))
		}
		if streams.Error.Path != "" {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator(streams.Error)), zapcore.ErrorLevel))
		}

		logger = zap.New(zapcore.NewTee(cores...), zap.AddCallerSkip(1))
	})
	return err
}

// rotator adapts a RotationConfig to a lumberjack file writer.
func rotator(c RotationConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    c.MaxSizeMB,
		MaxAge:     c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}

// GetLogger returns the global logger instance, falling back to a bare
// development logger if Initialize was never called (tests).
func GetLogger() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if uid, ok := ctx.Value(UserIDKey).(string); ok {
		fields = append(fields, zap.String("user_id", uid))
	}
	if rid, ok := ctx.Value(RoomIDKey).(string); ok {
		fields = append(fields, zap.String("room_id", rid))
	}
	fields = append(fields, zap.String("service", "roomfabric"))
	return fields
}

// RedactEmail masks the local part of an email address.
func RedactEmail(email string) string {
	if len(email) == 0 {
		return ""
	}
	atIndex := -1
	for i, c := range email {
		if c == '@' {
			atIndex = i
			break
		}
	}
	if atIndex > 0 {
		return "***" + email[atIndex:]
	}
	return "***"
}
