// Package logging builds the service logger and redacts secrets before they
// reach it.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a console logger for env "local" and a JSON production
// logger otherwise. Unknown levels fall back to info.
func NewLogger(env, level string) (*zap.Logger, error) {
	var zapConfig zap.Config
	if env == "local" || env == "" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		atomic = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = atomic

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "obra-engine")), nil
}
