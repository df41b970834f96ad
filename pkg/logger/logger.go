package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production logger for env "prod" and a development logger
// otherwise. verbose lowers the level to debug in either mode.
func New(env string, verbose bool) *zap.SugaredLogger {
	var cfg zap.Config
	if env == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return z.Sugar()
}

// Redact keeps a short prefix of a client id for log correlation
func Redact(value string) string {
	if len(value) <= 8 {
		return "***"
	}
	return value[:8] + "..."
}
