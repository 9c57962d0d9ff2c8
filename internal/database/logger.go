package database

import (
	"time"

	"go.uber.org/zap/zapcore"
	"gorm.io/gorm/logger"

	applogger "github.com/charlesng35/usermanager/pkg/logger"
)

// zapWriter forwards gorm's warnings and slow-query reports to the shared zap logger.
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	applogger.WithModule("database").Sugar().Warnf(format, args...)
}

func newGormLogger() logger.Interface {
	level := logger.Silent
	if applogger.Logger().Core().Enabled(zapcore.DebugLevel) {
		level = logger.Warn
	}

	return logger.New(zapWriter{}, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	})
}
