package logger

import (
	"go.uber.org/zap"
)

// New builds the process logger. dev and local get the human readable development
// encoder, every other environment logs JSON.
func New(env string) (*zap.Logger, error) {
	if env == "dev" || env == "local" {
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	}
	return zap.NewProduction()
}
