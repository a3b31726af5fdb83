// Package logging builds the process logger: structured JSON into the
// log file, warnings and up echoed to stderr so the operator prompts
// stay readable on the console.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newEncoderConfig() zapcore.EncoderConfig {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return encoderCfg
}

// New builds the process logger. level applies to the file sink; the
// stderr echo never goes below warn so log chatter cannot drown the
// operator prompts. An empty file logs to stderr only, at level.
func New(level, file string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	encoderCfg := newEncoderConfig()

	if file == "" {
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), lvl)
		return zap.New(core), nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", file, err)
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), lvl)

	stderrLevel := zapcore.WarnLevel
	if lvl > stderrLevel {
		stderrLevel = lvl
	}
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), stderrLevel)

	return zap.New(zapcore.NewTee(fileCore, consoleCore)), nil
}
