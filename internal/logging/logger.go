package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trogers1052/fund-quotes/internal/config"
)

// NewLogger returns a new logger.
func NewLogger(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	var zcfg zap.Config
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file := filepath.Join(cfg.Path, "fundquotes.log")
		zcfg.OutputPaths = append(zcfg.OutputPaths, file)
		zcfg.ErrorOutputPaths = append(zcfg.ErrorOutputPaths, file)
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
