// Package logging builds the single zap logger compi's CLI and engine
// packages share, mirroring the teacher's PersistentPreRunE construction
// of a zap.Logger gated by --verbose.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-profile zap logger at warn level, so only
// warnings and errors are shown, dropping to debug level (informational
// lines such as per-task RUN/SKIP decisions included) when verbose is
// set. Callers should defer Sync() on the returned logger's underlying
// *zap.Logger.
func New(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		// Config.Build only fails on a malformed encoder/sink configuration,
		// which New never produces; fall back to a basic logger rather than
		// leave callers with a nil logger.
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// NewNop returns a logger that discards everything, used by tests that
// don't want log noise.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
