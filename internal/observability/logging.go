// Package observability owns process-wide logging. Commands initialize
// CLILogger once at startup; everything else imports and uses it.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the shared logger. It is a nop until InitCLILogger runs, so
// library code can log unconditionally.
var CLILogger = zap.NewNop()

// FileConfig enables rotated log files alongside stderr output.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// InitCLILogger configures CLILogger for the given level. verbose selects
// the human console profile; the default is structured JSON.
func InitCLILogger(level string, verbose bool) {
	CLILogger = newLogger(level, profileFor(verbose), nil)
}

// InitCLILoggerWithFile is InitCLILogger plus a rotated log file sink.
func InitCLILoggerWithFile(level, profile string, file *FileConfig) {
	CLILogger = newLogger(level, profile, file)
}

// Sync flushes buffered log entries. Safe to call on a nop logger.
func Sync() {
	_ = CLILogger.Sync()
}

func profileFor(verbose bool) string {
	if verbose {
		return "console"
	}
	return "structured"
}

func newLogger(level, profile string, file *FileConfig) *zap.Logger {
	lvl := parseLevel(level)

	var encoder zapcore.Encoder
	if strings.EqualFold(profile, "console") {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), lvl),
	}

	if file != nil && file.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		}
		fileEncCfg := zap.NewProductionEncoderConfig()
		fileEncCfg.TimeKey = "ts"
		fileEncCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncCfg),
			zapcore.AddSync(rotator),
			lvl,
		))
	}

	return zap.New(zapcore.NewTee(cores...))
}

func parseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
