// Package logger provides structured logging for shopauth.
//
// This package wraps Uber's zap logger. Log is a no-op logger until
// InitLogger is called, so packages may log unconditionally.
//
//	logger.InitLogger("debug") // Options: debug, info, warn, error
//
//	logger.Log.Warn("login locked out",
//	    zap.String("email", email),
//	    zap.Int("retry_after", seconds),
//	)
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log = zap.NewNop()

func InitLogger(level string) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	Log = l
}
