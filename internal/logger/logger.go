package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Format string

const (
	FormatConsole Format = "CONSOLE"
	FormatJSON    Format = "JSON"
)

// Component names used with For.
const (
	ComponentBoot     = "Boot"
	ComponentListener = "Listener"
	ComponentSender   = "Sender"
	ComponentBehavior = "Behavior"
	ComponentEffects  = "Effects"
	ComponentRender   = "Render"
	ComponentRegistry = "Registry"
	ComponentStatus   = "Status"
	ComponentConsole  = "Console"
	ComponentFlood    = "Flood"
)

var once sync.Once

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func parseFormat(format string) Format {
	switch Format(strings.ToUpper(strings.TrimSpace(format))) {
	case FormatJSON:
		return FormatJSON
	default:
		return FormatConsole
	}
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

// New builds a zap logger writing to stderr. Stdout belongs to the terminal
// renderer, so log lines never go there.
func New(level, format string) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch parseFormat(format) {
	case FormatJSON:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(parseLevel(level)))
	return zap.New(core, zap.AddCaller())
}

// Initialize installs the global logger once. Empty arguments fall back to
// LOGGING_LEVEL and LOGGING_FORMAT.
func Initialize(level, format string) {
	once.Do(func() {
		if level == "" {
			level = os.Getenv("LOGGING_LEVEL")
		}
		if format == "" {
			format = os.Getenv("LOGGING_FORMAT")
		}
		l := New(level, format)
		zap.ReplaceGlobals(l)
		l.Debug("Logger initialized", zap.String("level", parseLevel(level).String()), zap.String("format", string(parseFormat(format))))
	})
}

// For returns a sugared logger named after component.
func For(component string) *zap.SugaredLogger {
	return zap.L().Named(component).Sugar()
}

// Sync flushes the global logger.
func Sync() error {
	return zap.L().Sync()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
