package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "weather-dashboard-service"

// LoggerSettings selects the process logger's level and encoding.
type LoggerSettings struct {
	Level   zapcore.Level
	Console bool
}

// LoggerSettingsFromEnv reads LOG_LEVEL (debug, info, warn, error; info when unset or
// unknown) and LOG_FORMAT (console for the development encoder, JSON otherwise).
func LoggerSettingsFromEnv() LoggerSettings {
	s := LoggerSettings{Level: zap.InfoLevel}
	if lvl, err := zapcore.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); err == nil && lvl <= zap.ErrorLevel {
		s.Level = lvl
	}
	s.Console = strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console")
	return s
}

// NewLogger builds the process logger from the environment.
func NewLogger() (*zap.Logger, error) {
	return BuildLogger(LoggerSettingsFromEnv())
}

// BuildLogger builds a logger that stamps every entry with the service name and an
// ISO8601 "timestamp".
func BuildLogger(s LoggerSettings) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if s.Console {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(s.Level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{"service": serviceName}
	return cfg.Build()
}
