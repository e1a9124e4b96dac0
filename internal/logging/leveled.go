package logging

import "go.uber.org/zap"

// Leveled adapts a zap logger to retryablehttp.LeveledLogger.
type Leveled struct {
	logger *zap.SugaredLogger
}

// NewLeveled wraps logger for use as a retryablehttp logger.
func NewLeveled(logger *zap.SugaredLogger) *Leveled {
	return &Leveled{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (l *Leveled) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l *Leveled) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

func (l *Leveled) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *Leveled) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}
